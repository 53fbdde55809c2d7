// Command plannerd wires the motion planner core (planner) together with
// its ambient stack (logging, config, the simulated stepper/IO, the
// line-command front end and the status page) into a runnable daemon.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ac3d-labs/motionplan/internal/gcode"
	"github.com/ac3d-labs/motionplan/internal/logging"
	"github.com/ac3d-labs/motionplan/internal/mcuio"
	"github.com/ac3d-labs/motionplan/internal/status"
	"github.com/ac3d-labs/motionplan/internal/stepper"
	"github.com/ac3d-labs/motionplan/planner"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML kinematic configuration file (defaults compiled in if empty)")
	commandFile := flag.String("commands", "", "path to a line-command file to drive the planner with; stdin if empty")
	serialDevice := flag.String("serial", "", "serial device for the simulated MCU link; logging-only if empty")
	serialBaud := flag.Int("baud", 115200, "baud rate for -serial")
	logFile := flag.String("logfile", "", "path to a rotated log file; console-only if empty")
	speedUp := flag.Float64("speedup", 1000, "simulated stepper execution speed-up factor")
	flag.Parse()

	log := logging.New(logging.Options{
		Level:        logging.InfoLevel,
		LogFile:      *logFile,
		SupportColor: true,
		MaxSizeMB:    10,
		MaxBackups:   3,
		MaxAgeDays:   7,
	})
	defer log.Sync()

	cfg := planner.Default()
	if *configPath != "" {
		if err := planner.LoadTOMLInto(*configPath, cfg); err != nil {
			log.Errorf("failed to load config %s: %v", *configPath, err)
			os.Exit(1)
		}
	}

	link, err := mcuio.Open(*serialDevice, *serialBaud, log.Named("mcuio"))
	if err != nil {
		log.Errorf("failed to open serial device %s: %v", *serialDevice, err)
		os.Exit(1)
	}
	defer link.Close()

	collaborators := &planner.Collaborators{
		ManageHeater:     func() {},
		ManageInactivity: func() {},
		UpdateDisplay:    func() {},
		PollInterval:     2 * time.Millisecond,
	}

	idlePolicy := planner.IdlePolicy{DisableOnIdle: [planner.NumAxes]bool{true, true, true, true}}

	p := planner.New(cfg, link, idlePolicy, collaborators, log.Named("planner"))
	p.Init()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Infof("shutting down")
		cancel()
	}()

	consumer := stepper.New(p.Queue(), log.Named("stepper"), *speedUp)
	go consumer.Run(ctx)

	// waitRenderCh lets the backpressure-wait path in the builder nudge the
	// status goroutine into rendering immediately instead of waiting out the
	// rest of the 5-second tick; it's buffered and non-blocking so a burst of
	// waits during one full-queue stall collapses to a single render.
	waitRenderCh := make(chan struct{}, 1)
	p.OnWait(func() {
		select {
		case waitRenderCh <- struct{}{}:
		default:
		}
	})

	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.CheckAxesActivity()
				printStatus(p)
			case <-waitRenderCh:
				printStatus(p)
			}
		}
	}()

	var in *os.File
	if *commandFile != "" {
		f, err := os.Open(*commandFile)
		if err != nil {
			log.Errorf("failed to open command file %s: %v", *commandFile, err)
			os.Exit(1)
		}
		defer f.Close()
		in = f
	} else {
		in = os.Stdin
	}

	driver := gcode.NewDriver(p)
	if err := driver.Run(in); err != nil {
		log.Errorf("command stream error: %v", err)
		os.Exit(1)
	}
}

func printStatus(p *planner.Planner) {
	out, err := status.Render(status.Snapshot{
		SessionID: p.ID,
		Depth:     p.MovesPlanned(),
		Capacity:  planner.BlockBufferSize,
	})
	if err != nil {
		return
	}
	os.Stdout.WriteString(out)
}
