package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"go.bug.st/serial"
)

// Request carries one command line to the goroutine that owns the
// instrument. The reply lines are sent on Reply.
type Request struct {
	Line  string
	Reply chan []string
}

// Open opens the serial port used as the command channel.
func Open(name string, baud int) (serial.Port, error) {
	port, err := serial.Open(name, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", name, err)
	}
	return port, nil
}

// Serve reads command lines from port, hands each to requests and writes
// the reply back. It returns when port is exhausted or ctx is cancelled.
// Closing the port unblocks a pending read.
func Serve(ctx context.Context, port io.ReadWriter, requests chan<- Request) error {
	sc := bufio.NewScanner(port)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" {
			continue
		}

		req := Request{Line: line, Reply: make(chan []string, 1)}
		select {
		case requests <- req:
		case <-ctx.Done():
			return ctx.Err()
		}

		var reply []string
		select {
		case reply = <-req.Reply:
		case <-ctx.Done():
			return ctx.Err()
		}

		if _, err := io.WriteString(port, strings.Join(reply, "\n")+"\n"); err != nil {
			return fmt.Errorf("write reply: %w", err)
		}
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("read command: %w", err)
	}
	return ctx.Err()
}
