// Package console implements the one-letter command channel.
//
// A command is a single letter, optionally followed by an argument. Without
// an argument the value is read ("a"), with one it is set ("a2.5"). Every
// command is echoed and answered with a reply code.
package console

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/sweeney/geiger-sensor/internal/rtc"
)

// Reply codes.
const (
	ReplyOK      = "OK"
	ReplyUnknown = "UNKNOWN - '?' -> help"
	ReplyDenied  = "DENIED"
	ReplyError   = "ERROR"
)

var (
	errDenied = errors.New("denied")
	errArg    = errors.New("invalid argument")
)

// AlarmState is the alarm as shown by the k command.
type AlarmState int

const (
	AlarmOff AlarmState = iota
	AlarmSounding
	AlarmAcknowledged
)

func (s AlarmState) String() string {
	switch s {
	case AlarmSounding:
		return "SOUNDING"
	case AlarmAcknowledged:
		return "ACKNOWLEDGED"
	default:
		return "OFF"
	}
}

// Instrument is what the commands operate on. All methods are called from
// the goroutine that owns the instrument state.
type Instrument interface {
	AlarmLevel() float64
	SetAlarmLevel(level float64) error
	AlarmState() AlarmState
	AcknowledgeAlarm()
	Beep(ms int) error
	TotalDose() float64
	ResetTotalDose(dose float64) error
	SaveTotalDose() error
	FilterFactor() float64
	SetFilterFactor(factor float64) error
	LogInterval() uint16
	SetLogInterval(secs uint16)
	CheckHV() uint32
	SetHV(on bool) error
	DoseRate() float64
	WallClock() rtc.Time
	SetWallClock(t rtc.Time)
	Calibrate() (rtc.Calibration, error)
	LastCalibration() (rtc.Calibration, bool)
}

var help = []string{
	"cmd format: x -> get x",
	"x1 -> set x=1. cmds:",
	"a - alarm level",
	"b - beep emit",
	"d - dose total",
	"f - filter factor",
	"h - high voltage",
	"k - alarm acknowledge",
	"l - logging interval",
	"r - rate dose",
	"s - save dose",
	"t - time",
	"u - tick calibration",
}

// Help returns the help text printed by the ? command.
func Help() []string {
	out := make([]string, len(help))
	copy(out, help)
	return out
}

// Execute runs one command line against inst and returns the lines to send
// back: the echoed command, any output, and the reply code.
func Execute(line string, inst Instrument) []string {
	line = strings.TrimRight(line, "\r\n")
	out := []string{line}

	if line == "" {
		return append(out, ReplyUnknown)
	}
	cmd, arg := line[0], line[1:]
	set := arg != ""

	handler, ok := commands[cmd]
	if !ok {
		return append(out, ReplyUnknown)
	}
	lines, err := handler(inst, set, arg)
	out = append(out, lines...)
	switch {
	case err == nil:
		out = append(out, ReplyOK)
	case errors.Is(err, errDenied):
		out = append(out, ReplyDenied)
	default:
		out = append(out, ReplyError)
	}
	return out
}

type handlerFunc func(inst Instrument, set bool, arg string) ([]string, error)

var commands = map[byte]handlerFunc{
	'a': alarmLevel,
	'b': beep,
	'd': totalDose,
	'f': filterFactor,
	'h': highVoltage,
	'k': acknowledge,
	'l': logInterval,
	'r': doseRate,
	's': save,
	't': wallClock,
	'u': calibrate,
	'?': printHelp,
}

func parseFloat(arg string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(arg), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", errArg, arg)
	}
	return v, nil
}

func parseInt(arg string, bits int) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(arg), 10, bits)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", errArg, arg)
	}
	return v, nil
}

func alarmLevel(inst Instrument, set bool, arg string) ([]string, error) {
	if !set {
		return []string{fmt.Sprintf("%.3f", inst.AlarmLevel())}, nil
	}
	v, err := parseFloat(arg)
	if err != nil {
		return nil, err
	}
	return nil, inst.SetAlarmLevel(v)
}

func beep(inst Instrument, set bool, arg string) ([]string, error) {
	if !set {
		return nil, errDenied
	}
	ms, err := parseInt(arg, 32)
	if err != nil {
		return nil, err
	}
	if ms <= 0 {
		return nil, fmt.Errorf("%w: beep %dms", errArg, ms)
	}
	return nil, inst.Beep(int(ms))
}

func totalDose(inst Instrument, set bool, arg string) ([]string, error) {
	if !set {
		return []string{fmt.Sprintf("%.4fuSv", inst.TotalDose())}, nil
	}
	v, err := parseFloat(arg)
	if err != nil {
		return nil, err
	}
	return nil, inst.ResetTotalDose(v)
}

func filterFactor(inst Instrument, set bool, arg string) ([]string, error) {
	if !set {
		return []string{fmt.Sprintf("%.3f", inst.FilterFactor())}, nil
	}
	v, err := parseFloat(arg)
	if err != nil {
		return nil, err
	}
	return nil, inst.SetFilterFactor(v)
}

func highVoltage(inst Instrument, set bool, arg string) ([]string, error) {
	if !set {
		return []string{strconv.FormatUint(uint64(inst.CheckHV()), 10)}, nil
	}
	switch strings.TrimSpace(arg) {
	case "0":
		return nil, inst.SetHV(false)
	case "1":
		return nil, inst.SetHV(true)
	}
	return nil, fmt.Errorf("%w: hv %q", errArg, arg)
}

func acknowledge(inst Instrument, set bool, arg string) ([]string, error) {
	if !set {
		return []string{inst.AlarmState().String()}, nil
	}
	if strings.TrimSpace(arg) != "1" {
		return nil, fmt.Errorf("%w: ack %q", errArg, arg)
	}
	inst.AcknowledgeAlarm()
	return nil, nil
}

func logInterval(inst Instrument, set bool, arg string) ([]string, error) {
	if !set {
		return []string{strconv.FormatUint(uint64(inst.LogInterval()), 10)}, nil
	}
	v, err := strconv.ParseUint(strings.TrimSpace(arg), 10, 16)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", errArg, arg)
	}
	inst.SetLogInterval(uint16(v))
	return nil, nil
}

func doseRate(inst Instrument, set bool, _ string) ([]string, error) {
	if set {
		return nil, errDenied
	}
	return []string{fmt.Sprintf("%.3fuSv/h", inst.DoseRate())}, nil
}

func save(inst Instrument, set bool, _ string) ([]string, error) {
	if set {
		return nil, errDenied
	}
	return nil, inst.SaveTotalDose()
}

func wallClock(inst Instrument, set bool, arg string) ([]string, error) {
	if !set {
		return []string{inst.WallClock().String()}, nil
	}
	t, err := ParseTime(arg)
	if err != nil {
		return nil, err
	}
	inst.SetWallClock(t)
	return nil, nil
}

// ParseTime parses HH:MM:SS. Hours may exceed 23; minutes and seconds
// must be below 60.
func ParseTime(s string) (rtc.Time, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return rtc.Time{}, fmt.Errorf("%w: time %q", errArg, s)
	}
	h, err := strconv.ParseUint(parts[0], 10, 16)
	if err != nil {
		return rtc.Time{}, fmt.Errorf("%w: hours %q", errArg, parts[0])
	}
	m, err := strconv.ParseUint(parts[1], 10, 8)
	if err != nil || m > 59 {
		return rtc.Time{}, fmt.Errorf("%w: minutes %q", errArg, parts[1])
	}
	sec, err := strconv.ParseUint(parts[2], 10, 8)
	if err != nil || sec > 59 {
		return rtc.Time{}, fmt.Errorf("%w: seconds %q", errArg, parts[2])
	}
	return rtc.Time{Hours: uint16(h), Mins: uint8(m), Secs: uint8(sec)}, nil
}

func calibrate(inst Instrument, set bool, arg string) ([]string, error) {
	if !set {
		c, ok := inst.LastCalibration()
		if !ok {
			return []string{"none"}, nil
		}
		return []string{formatCalibration(c)}, nil
	}
	if strings.TrimSpace(arg) != "0" {
		return nil, errDenied
	}
	c, err := inst.Calibrate()
	if err != nil {
		return nil, err
	}
	return []string{formatCalibration(c)}, nil
}

func formatCalibration(c rtc.Calibration) string {
	return fmt.Sprintf("period=%s ppm=%.1f", c.Period, c.PPM())
}

func printHelp(_ Instrument, set bool, _ string) ([]string, error) {
	if set {
		return nil, errArg
	}
	return Help(), nil
}
