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

// Package sim provides an in-process OSPI bus and a wire-level flash model.
//
// The Bus resolves each lane from what the controller and the attached
// Device drive on it: an undriven lane reads HighZ and two conflicting
// drivers read Unknown. WaitEdge delivers the edge to the device before
// returning, so a transaction runs single-threaded and deterministically.
package sim

import (
	"context"
	"fmt"

	"github.com/ZaparooProject/go-ospi"
	"github.com/ZaparooProject/go-ospi/internal/syncutil"
)

// Wires is the device's view of the bus during a callback.
type Wires interface {
	// Sample returns the resolved level of lane
	Sample(lane int) ospi.Level
	// Drive drives lane from the device side
	Drive(lane int, level ospi.Level)
	// Release stops the device driving lane
	Release(lane int)
}

// Device is a bus peripheral. Callbacks run with the bus locked and must not
// call back into the Bus.
type Device interface {
	// ChipSelect is called whenever the chip-select level changes
	ChipSelect(level ospi.Level, w Wires)
	// Hold is called whenever the HOLD level changes
	Hold(level ospi.Level)
	// Edge is called on every active clock edge
	Edge(w Wires)
}

// Option configures a Bus
type Option func(*Bus)

// WithoutHold builds a bus with no HOLD line wired.
func WithoutHold() Option {
	return func(b *Bus) {
		b.holdWired = false
	}
}

// WithIdleLevels starts chip select and HOLD deasserted under cfg's
// polarity instead of high.
func WithIdleLevels(cfg *ospi.Config) Option {
	return func(b *Bus) {
		b.cs = cfg.ChipSelectLevel(false)
		b.hold = cfg.HoldLevel(false)
	}
}

// Bus is a simulated OSPI signal set with one attached device.
type Bus struct {
	device    Device
	wires     *laneWires
	mu        syncutil.Mutex
	cycle     uint64
	cs        ospi.Level
	hold      ospi.Level
	closed    bool
	holdWired bool
}

// New creates a bus with dev attached. All lanes start floating and chip
// select and HOLD start high. dev may be nil for a bus with nothing on it.
func New(dev Device, opts ...Option) *Bus {
	b := &Bus{
		device:    dev,
		wires:     newLaneWires(),
		cs:        ospi.High,
		hold:      ospi.High,
		holdWired: true,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// WaitEdge implements ospi.ClockSource. It counts the edge and lets the
// device sample and drive before returning.
func (b *Bus) WaitEdge(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ospi.NewBusClosedError("WaitEdge", string(ospi.BusSim))
	}
	b.cycle++
	if b.device != nil {
		b.device.Edge(b.wires)
	}
	return nil
}

// DriveLane implements ospi.LaneIO
func (b *Bus) DriveLane(lane int, level ospi.Level) error {
	if err := checkLane(lane); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ospi.NewBusClosedError("DriveLane", string(ospi.BusSim))
	}
	b.wires.master[lane] = level
	return nil
}

// ReleaseLane implements ospi.LaneIO
func (b *Bus) ReleaseLane(lane int) error {
	return b.DriveLane(lane, ospi.HighZ)
}

// SampleLane implements ospi.LaneIO
func (b *Bus) SampleLane(lane int) (ospi.Level, error) {
	if err := checkLane(lane); err != nil {
		return ospi.Unknown, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ospi.Unknown, ospi.NewBusClosedError("SampleLane", string(ospi.BusSim))
	}
	return b.wires.Sample(lane), nil
}

// SetChipSelect implements ospi.ChipSelect
func (b *Bus) SetChipSelect(level ospi.Level) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ospi.NewBusClosedError("SetChipSelect", string(ospi.BusSim))
	}
	if level == b.cs {
		return nil
	}
	b.cs = level
	if b.device != nil {
		b.device.ChipSelect(level, b.wires)
	}
	return nil
}

// SetHold implements ospi.HoldLine
func (b *Bus) SetHold(level ospi.Level) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.holdWired {
		return ospi.ErrCapabilityUnavailable
	}
	if level == b.hold {
		return nil
	}
	b.hold = level
	if b.device != nil {
		b.device.Hold(level)
	}
	return nil
}

// HasCapability implements ospi.BusCapabilityChecker
func (b *Bus) HasCapability(capability ospi.BusCapability) bool {
	return capability == ospi.CapabilityHold && b.holdWired
}

// Close implements ospi.Bus
func (b *Bus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
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
	return ospi.BusSim
}

// Cycle returns the number of clock edges delivered so far.
func (b *Bus) Cycle() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cycle
}

// ChipSelectLevel returns the current chip-select level.
func (b *Bus) ChipSelectLevel() ospi.Level {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cs
}

// HoldLevel returns the current HOLD level.
func (b *Bus) HoldLevel() ospi.Level {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hold
}

// Lanes returns the resolved level of every lane.
func (b *Bus) Lanes() ospi.LaneVector {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(ospi.LaneVector, ospi.MaxLanes)
	for i := range out {
		out[i] = b.wires.Sample(i)
	}
	return out
}

func checkLane(lane int) error {
	if lane < 0 || lane >= ospi.MaxLanes {
		return fmt.Errorf("%w: lane %d", ospi.ErrInvalidFrame, lane)
	}
	return nil
}

// laneWires holds both drivers of every lane.
type laneWires struct {
	master [ospi.MaxLanes]ospi.Level
	device [ospi.MaxLanes]ospi.Level
}

func newLaneWires() *laneWires {
	w := &laneWires{}
	for i := range ospi.MaxLanes {
		w.master[i] = ospi.HighZ
		w.device[i] = ospi.HighZ
	}
	return w
}

func (w *laneWires) Sample(lane int) ospi.Level {
	m, d := w.master[lane], w.device[lane]
	switch {
	case m == ospi.HighZ:
		return d
	case d == ospi.HighZ, m == d:
		return m
	default:
		return ospi.Unknown
	}
}

func (w *laneWires) Drive(lane int, level ospi.Level) {
	w.device[lane] = level
}

func (w *laneWires) Release(lane int) {
	w.device[lane] = ospi.HighZ
}
