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

// Package gpio bit-bangs an OSPI bus on host GPIO pins through periph.io.
//
// IO0-IO7, chip select and the optional HOLD line are plain GPIOs. The
// serial clock is either generated here (BitBangClock) or taken from an
// external source such as a logic-analyzer pattern generator (ExternalClock).
package gpio

import (
	"context"
	"fmt"
	"time"

	"github.com/ZaparooProject/go-ospi"
	"github.com/ZaparooProject/go-ospi/internal/syncutil"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

const busName = "gpio"

// Pins names the host GPIOs of a bus as known to gpioreg (e.g. "GPIO17").
// Lanes beyond the widest mode in use may be left empty.
type Pins struct {
	CS   string
	SCLK string
	HOLD string
	IO   [ospi.MaxLanes]string
}

// PinSet is a bus wired to already-resolved pins.
type PinSet struct {
	CS   gpio.PinIO
	SCLK gpio.PinIO
	HOLD gpio.PinIO
	IO   [ospi.MaxLanes]gpio.PinIO
}

// Option configures a Bus
type Option func(*Bus)

// WithExternalClock makes WaitEdge wait for the configured sample edge on
// SCLK instead of generating it. timeout bounds each wait.
func WithExternalClock(timeout time.Duration) Option {
	return func(b *Bus) {
		b.external = true
		b.edgeTimeout = timeout
	}
}

// WithFloatDetect makes SampleLane probe each lane with the pull-up and then
// the pull-down enabled. A lane that follows the pull is reported as HighZ.
func WithFloatDetect() Option {
	return func(b *Bus) {
		b.detectFloat = true
	}
}

// Bus implements ospi.Bus on GPIO pins.
type Bus struct {
	pins        PinSet
	clock       clock
	config      *ospi.Config
	edgeTimeout time.Duration
	mu          syncutil.Mutex
	closed      bool
	external    bool
	detectFloat bool
}

// Open initializes the periph host drivers, looks up every named pin and
// returns a bus driving them.
func Open(pins Pins, cfg *ospi.Config, opts ...Option) (*Bus, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}

	var set PinSet
	var err error
	if set.CS, err = lookup("CS", pins.CS, true); err != nil {
		return nil, err
	}
	if set.SCLK, err = lookup("SCLK", pins.SCLK, true); err != nil {
		return nil, err
	}
	if set.HOLD, err = lookup("HOLD", pins.HOLD, false); err != nil {
		return nil, err
	}
	for i, name := range pins.IO {
		if set.IO[i], err = lookup(fmt.Sprintf("IO%d", i), name, false); err != nil {
			return nil, err
		}
	}
	return New(set, cfg, opts...)
}

func lookup(role, name string, required bool) (gpio.PinIO, error) {
	if name == "" {
		if required {
			return nil, fmt.Errorf("%w: no pin given for %s", ospi.ErrInvalidConfig, role)
		}
		return nil, nil
	}
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("%w: %s pin %q not found", ospi.ErrInvalidConfig, role, name)
	}
	return pin, nil
}

// New creates a bus on resolved pins and puts them in their idle state:
// lanes floating, chip select and HOLD deasserted, SCLK at CPOL.
func New(pins PinSet, cfg *ospi.Config, opts ...Option) (*Bus, error) {
	if pins.CS == nil || pins.SCLK == nil || pins.IO[0] == nil {
		return nil, fmt.Errorf("%w: CS, SCLK and IO0 are required", ospi.ErrInvalidConfig)
	}
	if cfg == nil {
		cfg = ospi.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	b := &Bus{pins: pins, config: cfg.Clone()}
	for _, opt := range opts {
		opt(b)
	}

	if b.external {
		b.clock = &externalClock{pin: pins.SCLK, edge: b.config.SampleEdge(), timeout: b.edgeTimeout}
	} else {
		b.clock = newBitBangClock(pins.SCLK, b.config)
	}
	if err := b.clock.init(); err != nil {
		return nil, ospi.NewBusWriteError("SCLK", busName, err)
	}
	if err := pins.CS.Out(toGPIO(b.config.ChipSelectLevel(false))); err != nil {
		return nil, ospi.NewBusWriteError("CS", busName, err)
	}
	if pins.HOLD != nil {
		if err := pins.HOLD.Out(toGPIO(b.config.HoldLevel(false))); err != nil {
			return nil, ospi.NewBusWriteError("HOLD", busName, err)
		}
	}
	for lane := range pins.IO {
		if err := b.release(lane); err != nil {
			return nil, err
		}
	}
	ospi.Debugf("gpio bus: CS=%s SCLK=%s clock=%s mode=%s", pins.CS, pins.SCLK, b.clock, b.config.SPIMode())
	return b, nil
}

// WaitEdge implements ospi.ClockSource
func (b *Bus) WaitEdge(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ospi.NewBusClosedError("WaitEdge", busName)
	}
	return b.clock.cycle(ctx)
}

// DriveLane implements ospi.LaneIO
func (b *Bus) DriveLane(lane int, level ospi.Level) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	pin, err := b.lane(lane, "DriveLane")
	if err != nil {
		return err
	}
	switch level {
	case ospi.HighZ:
		return b.release(lane)
	case ospi.Low, ospi.High:
		if err := pin.Out(toGPIO(level)); err != nil {
			return ospi.NewBusWriteError("DriveLane", busName, err)
		}
		return nil
	default:
		return fmt.Errorf("%w: cannot drive %s on lane %d", ospi.ErrInvalidFrame, level, lane)
	}
}

// ReleaseLane implements ospi.LaneIO
func (b *Bus) ReleaseLane(lane int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := b.lane(lane, "ReleaseLane"); err != nil {
		return err
	}
	return b.release(lane)
}

// SampleLane implements ospi.LaneIO
func (b *Bus) SampleLane(lane int) (ospi.Level, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	pin, err := b.lane(lane, "SampleLane")
	if err != nil {
		return ospi.Unknown, err
	}
	if !b.detectFloat {
		return fromGPIO(pin.Read()), nil
	}

	if err := pin.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return ospi.Unknown, ospi.NewBusReadError("SampleLane", busName, err)
	}
	up := pin.Read()
	if err := pin.In(gpio.PullDown, gpio.NoEdge); err != nil {
		return ospi.Unknown, ospi.NewBusReadError("SampleLane", busName, err)
	}
	down := pin.Read()
	if err := pin.In(gpio.Float, gpio.NoEdge); err != nil {
		return ospi.Unknown, ospi.NewBusReadError("SampleLane", busName, err)
	}
	if up != down {
		return ospi.HighZ, nil
	}
	return fromGPIO(up), nil
}

// SetChipSelect implements ospi.ChipSelect. The clock is returned to its
// idle level first so the device never sees a stray edge.
func (b *Bus) SetChipSelect(level ospi.Level) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ospi.NewBusClosedError("SetChipSelect", busName)
	}
	if err := b.clock.idle(); err != nil {
		return ospi.NewBusWriteError("SCLK", busName, err)
	}
	if err := b.pins.CS.Out(toGPIO(level)); err != nil {
		return ospi.NewBusWriteError("SetChipSelect", busName, err)
	}
	return nil
}

// SetHold implements ospi.HoldLine
func (b *Bus) SetHold(level ospi.Level) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pins.HOLD == nil {
		return fmt.Errorf("HOLD: %w", ospi.ErrCapabilityUnavailable)
	}
	if err := b.pins.HOLD.Out(toGPIO(level)); err != nil {
		return ospi.NewBusWriteError("SetHold", busName, err)
	}
	return nil
}

// HasCapability implements ospi.BusCapabilityChecker
func (b *Bus) HasCapability(capability ospi.BusCapability) bool {
	return capability == ospi.CapabilityHold && b.pins.HOLD != nil
}

// Close floats the lanes, deasserts chip select and halts the pins.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for lane := range b.pins.IO {
		_ = b.release(lane)
	}
	_ = b.clock.idle()
	if err := b.pins.CS.Out(toGPIO(b.config.ChipSelectLevel(false))); err != nil {
		return fmt.Errorf("failed to deassert CS: %w", err)
	}
	return nil
}

// IsConnected implements ospi.Bus
func (b *Bus) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.closed
}

// Type implements ospi.Bus
func (*Bus) Type() ospi.BusType {
	return ospi.BusGPIO
}

func (b *Bus) lane(lane int, op string) (gpio.PinIO, error) {
	if b.closed {
		return nil, ospi.NewBusClosedError(op, busName)
	}
	if lane < 0 || lane >= ospi.MaxLanes {
		return nil, fmt.Errorf("%w: lane %d", ospi.ErrInvalidFrame, lane)
	}
	pin := b.pins.IO[lane]
	if pin == nil {
		return nil, fmt.Errorf("%w: IO%d is not wired", ospi.ErrCapabilityUnavailable, lane)
	}
	return pin, nil
}

func (b *Bus) release(lane int) error {
	pin := b.pins.IO[lane]
	if pin == nil {
		return nil
	}
	if err := pin.In(gpio.Float, gpio.NoEdge); err != nil {
		return ospi.NewBusWriteError("ReleaseLane", busName, err)
	}
	return nil
}

func toGPIO(level ospi.Level) gpio.Level {
	return level == ospi.High
}

func fromGPIO(level gpio.Level) ospi.Level {
	return ospi.LevelOf(bool(level))
}
