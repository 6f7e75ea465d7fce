// cmd/controller/main.go
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/standfire/engine-controller/internal/command"
	"github.com/standfire/engine-controller/internal/config"
	"github.com/standfire/engine-controller/internal/drivers"
	"github.com/standfire/engine-controller/internal/engine"
	"github.com/standfire/engine-controller/internal/hardware"
	"github.com/standfire/engine-controller/internal/hardware/rpi"
	"github.com/standfire/engine-controller/internal/heartbeat"
	"github.com/standfire/engine-controller/internal/logsink"
	"github.com/standfire/engine-controller/internal/outbox"
	"github.com/standfire/engine-controller/internal/sampler"
	"github.com/standfire/engine-controller/internal/server"
	"github.com/standfire/engine-controller/internal/state"
)

const consumer = "engine-controller"

func main() {
	if len(os.Args) < 3 {
		log.Fatal("usage: controller <config.json> <log-dir>")
	}
	if err := run(os.Args[1], os.Args[2]); err != nil {
		log.Fatalf("controller: %v", err)
	}
}

func run(cfgPath, logDir string) error {
	// --------------------
	// Load + validate config
	// --------------------

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	// --------------------
	// Log directory + console log
	// --------------------

	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return fmt.Errorf("log directory: %w", err)
	}
	console, err := os.OpenFile(
		filepath.Join(logDir, "console.txt"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644,
	)
	if err != nil {
		return fmt.Errorf("console log: %w", err)
	}
	defer console.Close()
	log.SetOutput(io.MultiWriter(os.Stderr, console))
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	// --------------------
	// Data log sinks
	// --------------------

	var allSinks []*logsink.Sink
	defer func() {
		// Flush partial buffers on the way out, whatever the exit path.
		for _, s := range allSinks {
			if err := s.Close(); err != nil {
				log.Printf("closing log sink: %v", err)
			}
		}
	}()

	sensorSinks := make([][]*logsink.Sink, len(cfg.SensorGroups))
	for gi, g := range cfg.SensorGroups {
		groupDir := filepath.Join(logDir, g.Label)
		if err := os.MkdirAll(groupDir, 0o755); err != nil {
			return fmt.Errorf("log directory for group %s: %w", g.Label, err)
		}
		for _, s := range g.Sensors {
			sink, err := logsink.New(filepath.Join(groupDir, s.Label+".csv"), cfg.LogBufferSize)
			if err != nil {
				return fmt.Errorf("log file for sensor %s: %w", s.Label, err)
			}
			allSinks = append(allSinks, sink)
			sensorSinks[gi] = append(sensorSinks[gi], sink)
		}
	}

	driverDir := filepath.Join(logDir, "drivers")
	if err := os.MkdirAll(driverDir, 0o755); err != nil {
		return fmt.Errorf("driver log directory: %w", err)
	}
	driverSinks := make([]*logsink.Sink, 0, len(cfg.Drivers))
	for _, d := range cfg.Drivers {
		sink, err := logsink.New(filepath.Join(driverDir, d.Label+".csv"), cfg.LogBufferSize)
		if err != nil {
			return fmt.Errorf("log file for driver %s: %w", d.Label, err)
		}
		allSinks = append(allSinks, sink)
		driverSinks = append(driverSinks, sink)
	}

	journal, err := logsink.New(filepath.Join(logDir, "commands.csv"), 1)
	if err != nil {
		return fmt.Errorf("command journal: %w", err)
	}
	allSinks = append(allSinks, journal)

	log.Printf("created log files under %s", logDir)

	// --------------------
	// Hardware
	// --------------------

	chip, err := rpi.Open(consumer)
	if err != nil {
		return fmt.Errorf("GPIO chip: %w", err)
	}
	defer chip.Close()

	clk, err := chip.Output(cfg.SPIClk, false)
	if err != nil {
		return fmt.Errorf("SPI clock pin: %w", err)
	}
	mosi, err := chip.Output(cfg.SPIMosi, false)
	if err != nil {
		return fmt.Errorf("SPI MOSI pin: %w", err)
	}
	miso, err := chip.Input(cfg.SPIMiso)
	if err != nil {
		return fmt.Errorf("SPI MISO pin: %w", err)
	}
	bus, err := hardware.NewBus(cfg.SPIFrequencyClk, clk, mosi, miso)
	if err != nil {
		return err
	}

	adcs := make([]hardware.ADC, 0, len(cfg.AdcCS))
	for _, csPin := range cfg.AdcCS {
		cs, err := chip.Output(csPin, true)
		if err != nil {
			return fmt.Errorf("ADC chip select pin %d: %w", csPin, err)
		}
		adcs = append(adcs, hardware.NewMCP3008(bus, cs))
	}

	driverPins := make([]hardware.Pin, 0, len(cfg.Drivers))
	for _, d := range cfg.Drivers {
		pin, err := chip.Output(d.Pin, false)
		if err != nil {
			return fmt.Errorf("driver pin %d: %w", d.Pin, err)
		}
		driverPins = append(driverPins, pin)
	}

	hbPin, err := chip.Output(cfg.PinHeartbeat, false)
	if err != nil {
		return fmt.Errorf("heartbeat pin: %w", err)
	}

	log.Printf("acquired GPIO handles")

	// --------------------
	// Shared state + control plane
	// --------------------

	store := state.New(cfg)
	out := outbox.New(cfg)
	bank, err := drivers.NewBank(driverPins, driverSinks, store, out)
	if err != nil {
		return err
	}
	eng := engine.New(cfg, bank, store, out)
	dispatch := command.New(cfg, store, bank, eng, out, journal)
	srv := server.New(server.DefaultAddr, out, dispatch)

	samplers := make([]*sampler.Worker, 0, len(cfg.SensorGroups))
	for gi, g := range cfg.SensorGroups {
		w, err := sampler.New(gi, g, adcs, sensorSinks[gi], store, out)
		if err != nil {
			return err
		}
		samplers = append(samplers, w)
	}

	// --------------------
	// Workers
	// --------------------

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	errc := make(chan error, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		out.Run(ctx)
	}()

	for _, w := range samplers {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		drivers.NewStatus(cfg.FrequencyStatus, store, out).Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		heartbeat.New(hbPin).Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Run(ctx); err != nil {
			select {
			case errc <- err:
			default:
			}
			stop()
		}
	}()

	log.Printf("all workers running")

	wg.Wait()
	eng.Wait()

	// --------------------
	// Failsafe: every driver unpowered before the process exits
	// --------------------

	// Raw pin writes: the failsafe must not depend on the outbox or the
	// log pipeline still being alive.
	for id, pin := range driverPins {
		if err := pin.Write(false); err != nil {
			log.Printf("failsafe: driver %d: %v", id, err)
		}
		store.SetDriverLevel(id, false)
	}

	select {
	case err := <-errc:
		return err
	default:
	}
	log.Printf("clean shutdown")
	return nil
}
