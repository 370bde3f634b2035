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

package ospi

import (
	"context"
	"fmt"

	"github.com/ZaparooProject/go-ospi/internal/syncutil"
)

// ClockSource delivers the active edges of the serial clock.
type ClockSource interface {
	// WaitEdge blocks until the next active clock edge, or ctx is done.
	WaitEdge(ctx context.Context) error
}

// LaneIO drives and samples the data lanes IO0-IO7.
type LaneIO interface {
	// DriveLane drives lane to level until changed or released
	DriveLane(lane int, level Level) error

	// ReleaseLane stops driving lane so the other side may drive it
	ReleaseLane(lane int) error

	// SampleLane reads the current level of lane, which may be HighZ or Unknown
	SampleLane(lane int) (Level, error)
}

// ChipSelect drives the chip-select line. Polarity is applied by the caller.
type ChipSelect interface {
	SetChipSelect(level Level) error
}

// HoldLine drives the optional HOLD line. Polarity is applied by the caller.
type HoldLine interface {
	SetHold(level Level) error
}

// Bus is the full signal set one Controller owns: clock, lanes and chip
// select. Implementations live in the transport packages.
type Bus interface {
	ClockSource
	LaneIO
	ChipSelect

	// Close releases the underlying pins or port
	Close() error

	// IsConnected returns true if the bus can still carry transactions
	IsConnected() bool

	// Type returns the bus binding type
	Type() BusType
}

// BusType represents the kind of bus binding
type BusType string

const (
	// BusSim is the in-process simulated bus.
	BusSim BusType = "sim"
	// BusGPIO bit-bangs the lanes on host GPIO pins.
	BusGPIO BusType = "gpio"
	// BusSerial drives a bit-bang bridge adapter over a serial port.
	BusSerial BusType = "serial"
	// BusMock is the recording bus used in tests.
	BusMock BusType = "mock"
)

// BusCapability names an optional feature of a bus binding
type BusCapability string

const (
	// CapabilityHold indicates the HOLD line is wired up
	CapabilityHold BusCapability = "hold"
)

// BusCapabilityChecker lets a binding report optional capabilities without
// callers having to know its concrete type.
type BusCapabilityChecker interface {
	HasCapability(capability BusCapability) bool
}

// holdLineOf returns the bus's hold line if it has a usable one.
func holdLineOf(bus Bus) (HoldLine, bool) {
	hold, ok := bus.(HoldLine)
	if !ok {
		return nil, false
	}
	if checker, ok := bus.(BusCapabilityChecker); ok && !checker.HasCapability(CapabilityHold) {
		return nil, false
	}
	return hold, true
}

// BusSnapshot is what MockBus saw on one clock edge.
type BusSnapshot struct {
	Lanes      [MaxLanes]Level
	ChipSelect Level
}

// MockBus records every edge and replays scripted samples. It does not model
// a device; use transport/sim for that.
type MockBus struct {
	errorMap  map[string]error
	Edges     []BusSnapshot
	CSHistory []Level
	Holds     []Level
	samples   []LaneVector
	lanes     [MaxLanes]Level
	mu        syncutil.Mutex
	cs        Level
	current   LaneVector
	connected bool
	holdWired bool
}

// NewMockBus creates a new mock bus with all lanes floating and CS high.
func NewMockBus() *MockBus {
	m := &MockBus{
		errorMap:  make(map[string]error),
		cs:        High,
		connected: true,
		holdWired: true,
	}
	for i := range m.lanes {
		m.lanes[i] = HighZ
	}
	return m
}

func (m *MockBus) injected(op string) error {
	if !m.connected {
		return NewBusClosedError(op, "mock")
	}
	return m.errorMap[op]
}

// WaitEdge implements ClockSource
func (m *MockBus) WaitEdge(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("WaitEdge"); err != nil {
		return err
	}
	m.Edges = append(m.Edges, BusSnapshot{Lanes: m.lanes, ChipSelect: m.cs})
	m.current = nil
	if len(m.samples) > 0 {
		m.current = m.samples[0]
		m.samples = m.samples[1:]
	}
	return nil
}

// DriveLane implements LaneIO
func (m *MockBus) DriveLane(lane int, level Level) error {
	if lane < 0 || lane >= MaxLanes {
		return fmt.Errorf("%w: lane %d", ErrInvalidFrame, lane)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("DriveLane"); err != nil {
		return err
	}
	m.lanes[lane] = level
	return nil
}

// ReleaseLane implements LaneIO
func (m *MockBus) ReleaseLane(lane int) error {
	return m.DriveLane(lane, HighZ)
}

// SampleLane implements LaneIO. After an edge it returns the scripted vector
// queued for that edge; lanes outside the vector read HighZ.
func (m *MockBus) SampleLane(lane int) (Level, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("SampleLane"); err != nil {
		return Unknown, err
	}
	if lane < len(m.current) {
		return m.current[lane], nil
	}
	return HighZ, nil
}

// SetChipSelect implements ChipSelect
func (m *MockBus) SetChipSelect(level Level) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("SetChipSelect"); err != nil {
		return err
	}
	m.cs = level
	m.CSHistory = append(m.CSHistory, level)
	return nil
}

// SetHold implements HoldLine
func (m *MockBus) SetHold(level Level) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("SetHold"); err != nil {
		return err
	}
	m.Holds = append(m.Holds, level)
	return nil
}

// HasCapability implements BusCapabilityChecker
func (m *MockBus) HasCapability(capability BusCapability) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return capability == CapabilityHold && m.holdWired
}

// Close implements Bus
func (m *MockBus) Close() error {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
	return nil
}

// IsConnected implements Bus
func (m *MockBus) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Type implements Bus
func (*MockBus) Type() BusType {
	return BusMock
}

// Test helper methods

// QueueSamples appends vectors to be returned by SampleLane, one per edge.
func (m *MockBus) QueueSamples(vectors ...LaneVector) {
	m.mu.Lock()
	m.samples = append(m.samples, vectors...)
	m.mu.Unlock()
}

// SetError makes every call of op ("WaitEdge", "DriveLane", ...) fail.
func (m *MockBus) SetError(op string, err error) {
	m.mu.Lock()
	m.errorMap[op] = err
	m.mu.Unlock()
}

// ClearError removes error injection for op
func (m *MockBus) ClearError(op string) {
	m.mu.Lock()
	delete(m.errorMap, op)
	m.mu.Unlock()
}

// SetHoldWired controls whether the mock reports CapabilityHold.
func (m *MockBus) SetHoldWired(wired bool) {
	m.mu.Lock()
	m.holdWired = wired
	m.mu.Unlock()
}

// ChipSelectLevel returns the current chip-select level.
func (m *MockBus) ChipSelectLevel() Level {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cs
}

// LaneLevel returns the level currently driven on lane.
func (m *MockBus) LaneLevel(lane int) Level {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lanes[lane]
}

// EdgeCount returns how many clock edges have been consumed
func (m *MockBus) EdgeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Edges)
}
