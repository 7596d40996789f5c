package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	apollo "github.com/bluebillshtml/apollodriversarchlinux"
)

// daemonOptions carries the resolved configuration of one daemon run.
type daemonOptions struct {
	ConfigFile string
	PresetDir  string
	Listen     string
	Registers  string
	PIDFile    string
}

// samplePeriod paces the status sampling that feeds the exported metrics.
const samplePeriod = 100 * time.Millisecond

func runDaemon(opts daemonOptions) error {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil)).With("service", "apollod")

	logger.Info("apollod starting", "config", opts.ConfigFile, "listen", opts.Listen)

	var (
		bus apollo.RegisterBus
		err error
	)
	if opts.Registers != "" {
		bus, err = apollo.OpenMappedBus(opts.Registers, apollo.APOLLO_REG_EXTENT)
		if err != nil {
			return fmt.Errorf("register window open: %w", err)
		}
		logger.Info("driving mapped register window", "path", opts.Registers)
	} else {
		bus = apollo.NewSimDevice(nil)
		logger.Info("driving simulated device")
	}

	dev, err := apollo.OpenDevice(bus, nil)
	if err != nil {
		// The device owns the bus only after a successful open.
		_ = bus.Close()

		return fmt.Errorf("device open: %w", err)
	}
	defer func() {
		if err := dev.Close(); err != nil {
			logger.Error("device close failed", "error", err)
		}
	}()

	ctrl := apollo.NewController(dev, apollo.SimCodec{})
	applyStoredSettings(ctrl, opts.ConfigFile, logger)

	metrics, err := newMetrics()
	if err != nil {
		return fmt.Errorf("metrics setup: %w", err)
	}

	quit := make(chan struct{})
	endpoint := startEndpoint(opts.Listen, dev, metrics, logger, quit)
	defer func() {
		close(quit)
		<-endpoint
	}()

	if opts.PIDFile != "" {
		if err := writePIDFile(opts.PIDFile); err != nil {
			logger.Warn("pid file write failed", "path", opts.PIDFile, "error", err)
		} else {
			defer os.Remove(opts.PIDFile)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGUSR1)
	defer signal.Stop(sigChan)

	ticker := time.NewTicker(samplePeriod)
	defer ticker.Stop()

	suspended := false

	logger.Info("apollod running")

	for {
		select {
		case sig := <-sigChan:
			switch sig {
			case syscall.SIGHUP:
				logger.Info("received SIGHUP, reloading configuration", "path", opts.ConfigFile)
				applyStoredSettings(ctrl, opts.ConfigFile, logger)
				metrics.Reloads.Inc()
			case syscall.SIGUSR1:
				if suspended {
					if err := dev.Resume(); err != nil {
						logger.Error("resume failed", "error", err)

						continue
					}
					suspended = false
					logger.Info("device resumed")
				} else {
					if err := dev.Suspend(); err != nil {
						logger.Error("suspend failed", "error", err)

						continue
					}
					suspended = true
					metrics.SuspendCycles.Inc()
					logger.Info("device suspended")
				}
				metrics.SetSuspended(suspended)
			default:
				logger.Info("received signal, shutting down", "signal", sig.String())

				return nil
			}
		case ev := <-dev.Events():
			metrics.HardwareFaults.Inc()
			logger.Error("hardware fault", "status", fmt.Sprintf("0x%02x", ev.Status), "error", ev.Err)
		case <-ticker.C:
			metrics.Sample(dev)
		}
	}
}

// applyStoredSettings loads the settings file on top of the defaults and
// pushes the result to the device. A missing or unreadable file leaves the
// defaults in effect, matching first-boot behavior.
func applyStoredSettings(ctrl *apollo.Controller, path string, logger *slog.Logger) {
	cfg := apollo.DefaultSettings()
	if err := cfg.Load(path); err != nil {
		logger.Warn("settings load failed, using defaults", "path", path, "error", err)
		cfg = apollo.DefaultSettings()
	}

	if err := ctrl.Apply(cfg); err != nil {
		logger.Error("settings apply failed", "error", err)

		return
	}

	logger.Info("settings applied", "path", path)
}

func writePIDFile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}
