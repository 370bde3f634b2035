// go-ospi
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-ospi.
//
// go-ospi is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-ospi is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-ospi; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ZaparooProject/go-ospi"
	"github.com/ZaparooProject/go-ospi/detection"
	serialdetect "github.com/ZaparooProject/go-ospi/detection/serial"
	"github.com/ZaparooProject/go-ospi/transport/gpio"
	serialbus "github.com/ZaparooProject/go-ospi/transport/serial"
	"github.com/ZaparooProject/go-ospi/transport/sim"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// options holds the persistent flags shared by every subcommand
type options struct {
	bus           string
	device        string
	mode          string
	configPath    string
	sessionLogDir string
	cs            string
	sclk          string
	hold          string
	io            []string
	externalClock time.Duration
	retries       int
	verbose       bool
	verify        bool
}

// app is the state of one ospictl invocation
type app struct {
	out  io.Writer
	log  *logrus.Logger
	opts options
	// store backs the simulated flash, so every command in a process sees
	// the same contents
	store *sim.Store
	// openBus is replaced in tests
	openBus func(ctx context.Context, cfg *ospi.Config) (ospi.Bus, error)
}

func newApp(out io.Writer) *app {
	log := logrus.New()
	log.SetOutput(out)
	log.SetLevel(logrus.InfoLevel)
	log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})

	a := &app{out: out, log: log, store: sim.NewStore()}
	a.openBus = a.defaultOpenBus
	return a
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "ospictl",
		Short:         "Issue flash transactions on an OSPI bus",
		Long:          "Write, read, erase and identify flash on a Single, Dual, Quad or Octal SPI bus.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.setup()
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return a.teardown()
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&a.opts.bus, "bus", "sim", "bus binding: sim, gpio or serial")
	f.StringVarP(&a.opts.device, "device", "d", "", "serial port of the bridge (auto-detect if empty)")
	f.StringVarP(&a.opts.mode, "mode", "m", "", "lane mode: single, dual, quad, octal (default from config)")
	f.StringVarP(&a.opts.configPath, "config", "c", "", "JSON configuration file")
	f.StringVar(&a.opts.sessionLogDir, "session-log", "", "write a session log into this directory")
	f.StringVar(&a.opts.cs, "cs", "", "gpio: chip-select pin")
	f.StringVar(&a.opts.sclk, "sclk", "", "gpio: clock pin")
	f.StringVar(&a.opts.hold, "hold", "", "gpio: HOLD pin (optional)")
	f.StringSliceVar(&a.opts.io, "io", nil, "gpio: data pins IO0..IO7, comma separated")
	f.DurationVar(&a.opts.externalClock, "external-clock", 0,
		"gpio: follow an externally driven SCLK, waiting at most this long per edge")
	f.IntVar(&a.opts.retries, "retries", 0, "retry failed writes and reads this many times")
	f.BoolVarP(&a.opts.verbose, "verbose", "v", false, "log every frame")
	f.BoolVar(&a.opts.verify, "verify", false, "read back and compare every write")

	root.AddCommand(
		newWriteCmd(a),
		newReadCmd(a),
		newFastReadCmd(a),
		newEraseCmd(a),
		newIDCmd(a),
		newSelfTestCmd(a),
		newPortsCmd(a),
	)
	return root
}

func (a *app) setup() error {
	if a.opts.verbose {
		a.log.SetLevel(logrus.DebugLevel)
		ospi.SetDebugEnabled(true)
	}
	if a.opts.sessionLogDir != "" {
		path, err := ospi.InitSessionLog(a.opts.sessionLogDir)
		if err != nil {
			return err
		}
		a.log.Infof("session log: %s", path)
	}
	return nil
}

func (a *app) teardown() error {
	if ospi.GetSessionLogPath() == "" {
		return nil
	}
	return ospi.CloseSessionLog()
}

// config builds the bus configuration from --config, the environment and
// the mode and verify flags, in that order.
func (a *app) config() (*ospi.Config, error) {
	var cfg *ospi.Config
	if a.opts.configPath != "" {
		loaded, err := ospi.LoadConfig(a.opts.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = ospi.DefaultConfig()
		if err := cfg.ApplyEnv(); err != nil {
			return nil, err
		}
	}
	if a.opts.mode != "" {
		m, err := ospi.ParseMode(a.opts.mode)
		if err != nil {
			return nil, err
		}
		cfg.DefaultMode = m
	}
	if a.opts.verify {
		cfg.Verify = true
	}
	return cfg, nil
}

// controller opens the selected bus and wraps it in a Controller
func (a *app) controller(ctx context.Context) (*ospi.Controller, error) {
	cfg, err := a.config()
	if err != nil {
		return nil, err
	}
	bus, err := a.openBus(ctx, cfg)
	if err != nil {
		return nil, err
	}
	c, err := ospi.New(bus, ospi.WithConfig(cfg), ospi.WithAbortRelease())
	if err != nil {
		_ = bus.Close()
		return nil, err
	}
	a.log.Debugf("opened %s bus, default mode %s", bus.Type(), cfg.DefaultMode)
	return c, nil
}

func (a *app) defaultOpenBus(ctx context.Context, cfg *ospi.Config) (ospi.Bus, error) {
	switch strings.ToLower(a.opts.bus) {
	case string(ospi.BusSim):
		bus, _ := sim.NewFlashBus(cfg, sim.WithStore(a.store))
		return bus, nil
	case string(ospi.BusGPIO):
		return a.openGPIO(cfg)
	case string(ospi.BusSerial):
		path := a.opts.device
		detected := path == ""
		if detected {
			found, err := a.detectBridge(ctx)
			if err != nil {
				return nil, err
			}
			path = found
		}
		bus, err := serialbus.Open(path)
		if err != nil {
			if detected {
				detection.Forget(serialdetect.Binding, path)
			}
			return nil, err
		}
		return bus, nil
	default:
		return nil, fmt.Errorf("%w: unknown bus %q", ospi.ErrInvalidConfig, a.opts.bus)
	}
}

func (a *app) openGPIO(cfg *ospi.Config) (ospi.Bus, error) {
	if len(a.opts.io) > ospi.MaxLanes {
		return nil, fmt.Errorf("%w: %d io pins, at most %d", ospi.ErrInvalidConfig, len(a.opts.io), ospi.MaxLanes)
	}
	pins := gpio.Pins{CS: a.opts.cs, SCLK: a.opts.sclk, HOLD: a.opts.hold}
	copy(pins.IO[:], a.opts.io)

	var opts []gpio.Option
	if a.opts.externalClock > 0 {
		opts = append(opts, gpio.WithExternalClock(a.opts.externalClock))
	}
	bus, err := gpio.Open(pins, cfg, opts...)
	if err != nil {
		return nil, err
	}
	return bus, nil
}

// detectBridge returns the port of the first bridge that answered the handshake
func (a *app) detectBridge(ctx context.Context) (string, error) {
	a.log.Info("auto-detecting bridge adapters...")
	opts := detection.DefaultOptions()
	opts.Bindings = []string{serialdetect.Binding}
	devices, err := detection.DetectAll(ctx, &opts)
	if err != nil {
		return "", fmt.Errorf("bridge detection: %w", err)
	}
	best, ok := detection.Best(devices)
	if !ok {
		return "", errors.New("no bridge answered the sync handshake; pass --device")
	}
	a.log.Infof("using %s", best)
	return best.Port, nil
}

func (a *app) retryConfig() *ospi.RetryConfig {
	cfg := ospi.DefaultRetryConfig()
	cfg.MaxAttempts = a.opts.retries + 1
	cfg.OnRetry = func(attempt int, err error) {
		a.log.Warnf("attempt %d failed: %v", attempt, err)
	}
	return cfg
}

func closeController(a *app, c *ospi.Controller) {
	if err := c.Close(); err != nil {
		a.log.Warnf("failed to close bus: %v", err)
	}
}
