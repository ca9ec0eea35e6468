// Command geiger-sensor counts GM tube pulses, integrates dose and publishes
// readings and events to MQTT.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sweeney/geiger-sensor/internal/config"
	"github.com/sweeney/geiger-sensor/internal/console"
	"github.com/sweeney/geiger-sensor/internal/gpio"
	"github.com/sweeney/geiger-sensor/internal/instrument"
	"github.com/sweeney/geiger-sensor/internal/mqtt"
	"github.com/sweeney/geiger-sensor/internal/rad"
	"github.com/sweeney/geiger-sensor/internal/rtc"
	"github.com/sweeney/geiger-sensor/internal/status"
	"github.com/sweeney/geiger-sensor/internal/web"
)

func main() {
	configPath := flag.String("config", "", "YAML config file (built-in defaults if empty)")
	broker := flag.String("broker", "", "MQTT broker address (overrides config)")
	httpAddr := flag.String("http", "", `HTTP status address (overrides config, "off" disables)`)
	heartbeat := flag.Duration("heartbeat", 0, "Heartbeat interval (overrides config, 0 disables)")
	serialPort := flag.String("serial", "", "Serial device for the command console (overrides config)")
	printDose := flag.Bool("print-dose", false, "Print the stored total dose and exit")

	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "broker":
			cfg.MQTT.Broker = *broker
		case "http":
			cfg.HTTP.Addr = *httpAddr
		case "heartbeat":
			cfg.Heartbeat = config.Duration(*heartbeat)
		case "serial":
			cfg.Serial.Port = *serialPort
		}
	})

	if err := run(cfg, *printDose); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func run(cfg *config.Config, printDose bool) error {
	st, err := cfg.OpenStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if printDose {
		dose, err := st.LoadDose()
		if err != nil {
			return fmt.Errorf("load dose: %w", err)
		}
		fmt.Printf("total dose: %.4fuSv\n", dose)
		return nil
	}

	counter := rad.NewPulseCounter(rtc.RealSleeper)
	hw, err := gpio.NewReal(cfg.GPIO.Chip, cfg.Pins(), gpio.Handlers{
		Pulse:  counter.OnPulseEdge,
		HVEdge: counter.OnHVEdge,
	})
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer hw.Close()

	publisher, err := mqtt.NewRealPublisher(cfg.MQTT.Broker, cfg.MQTT.ClientID)
	if err != nil {
		return fmt.Errorf("init mqtt: %w", err)
	}
	defer publisher.Close()

	httpAddr := cfg.HTTP.Addr
	if httpAddr == "off" {
		httpAddr = ""
	}
	rc := cfg.RadConfig()
	tracker := status.NewTracker(time.Now(), status.Config{
		HeartbeatMs:      cfg.Heartbeat.Std().Milliseconds(),
		SaveIntervalMs:   cfg.Storage.SaveInterval.Std().Milliseconds(),
		DeadTimeUs:       rc.DeadTime * 1e6,
		ConversionFactor: rc.ConversionFactor,
		Storage:          cfg.Storage.Backend,
		Broker:           cfg.MQTT.Broker,
		HTTPPort:         httpAddr,
		WSBroker:         resolveWSBroker(cfg.MQTT.WSBroker, cfg.MQTT.Broker),
	})
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	clock := rtc.NewClock()
	ticker := time.NewTicker(rtc.Nominal)
	defer ticker.Stop()
	ticks := rtc.NewTickSource(clock, ticker.C, rtc.NewRawClock())

	inst := instrument.New(instrument.Options{
		Rad:          rc,
		Filter:       rad.FilterLevel(cfg.Rad.FilterLevel),
		AlarmLevel:   *cfg.Alarm.Level,
		LogInterval:  cfg.Rad.LogInterval,
		SaveInterval: cfg.Storage.SaveInterval.Std(),
	}, instrument.Deps{
		Counter:   counter,
		Clock:     clock,
		Ticks:     ticks,
		Hardware:  hw,
		Store:     st,
		Publisher: publisher,
		Tracker:   tracker,
	})
	if err := inst.Start(); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	tracker.SetMQTTConnected(publisher.IsConnected())
	snap := tracker.Snapshot()
	startupEvent := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startupEvent); err != nil {
		log.Printf("failed to publish startup event: %v", err)
	} else {
		log.Printf("published startup event")
	}

	if httpAddr != "" {
		srv := web.New(httpAddr, tracker)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http status server listening on %s", httpAddr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ticks.Run(ctx)

	requests := make(chan console.Request)
	if cfg.Serial.Port != "" {
		port, err := console.Open(cfg.Serial.Port, cfg.Serial.Baud)
		if err != nil {
			log.Printf("console disabled: %v", err)
		} else {
			defer port.Close()
			go func() {
				if err := console.Serve(ctx, port, requests); err != nil && !errors.Is(err, context.Canceled) {
					log.Printf("console: %v", err)
				}
			}()
			log.Printf("console on %s at %d baud", cfg.Serial.Port, cfg.Serial.Baud)
		}
	}

	var heartbeat <-chan time.Time
	if hb := cfg.Heartbeat.Std(); hb > 0 {
		t := time.NewTicker(hb)
		defer t.Stop()
		heartbeat = t.C
	}

	log.Printf("started: broker=%s storage=%s heartbeat=%v filter=%s alarm=%.3fuSv/h",
		cfg.MQTT.Broker, cfg.Storage.Backend, cfg.Heartbeat.Std(), rad.FilterLevel(cfg.Rad.FilterLevel), *cfg.Alarm.Level)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(inst, publisher, publisher, tracker, time.Now, ticks.Wake(), heartbeat, requests, sigCh)
}

func runLoop(inst *instrument.Instrument, publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, now func() time.Time, wake <-chan struct{}, heartbeat <-chan time.Time, requests <-chan console.Request, sig <-chan os.Signal) error {
	for {
		select {
		case s := <-sig:
			log.Printf("received %v, shutting down", s)
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			if err := inst.Stop(); err != nil {
				log.Printf("stop: %v", err)
			}
			event := mqtt.SystemEvent{
				Timestamp: now(),
				Event:     "SHUTDOWN",
				Reason:    signalName,
				Retained:  true,
			}
			if tracker != nil {
				if mqttStatus != nil {
					tracker.SetMQTTConnected(mqttStatus.IsConnected())
				}
				event.RawPayload = status.FormatStatusEvent(tracker.Snapshot(), "SHUTDOWN", signalName)
			}
			if err := publisher.PublishSystem(event); err != nil {
				log.Printf("failed to publish shutdown event: %v", err)
			} else {
				log.Printf("published shutdown event")
			}
			return nil

		case <-wake:
			inst.Tick()
			if tracker != nil && mqttStatus != nil {
				tracker.SetMQTTConnected(mqttStatus.IsConnected())
			}

		case req := <-requests:
			req.Reply <- console.Execute(req.Line, inst)

		case t := <-heartbeat:
			r := inst.Reading()
			log.Printf("heartbeat: rate=%.3fuSv/h total=%.4fuSv fault=%s", r.DoseRate, r.TotalDose, r.Fault)
			hbEvent := mqtt.SystemEvent{
				Timestamp: t,
				Event:     "HEARTBEAT",
			}
			if tracker != nil {
				if mqttStatus != nil {
					tracker.SetMQTTConnected(mqttStatus.IsConnected())
				}
				if net := readNetworkInfo(); net != nil {
					tracker.SetNetwork(net)
				}
				hbEvent.RawPayload = status.FormatStatusEvent(tracker.Snapshot(), "HEARTBEAT", "")
			}
			if err := publisher.PublishSystem(hbEvent); err != nil {
				log.Printf("heartbeat publish error: %v", err)
			}
		}
	}
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}

// resolveWSBroker converts the ws_broker setting into a concrete URL.
// "=broker" derives ws://host:9001 from the TCP broker address; "off" disables.
func resolveWSBroker(ws, broker string) string {
	if ws == "off" {
		return ""
	}
	if ws != "=broker" {
		return ws
	}
	u, err := url.Parse(broker)
	if err != nil {
		log.Printf("ws-broker: cannot parse broker %q: %v", broker, err)
		return ""
	}
	u.Scheme = "ws"
	u.Host = u.Hostname() + ":9001"
	return u.String()
}
