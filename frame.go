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
)

// Address is a transaction address given either as an integer or as a
// pre-split byte sequence. Both forms of the same value frame identically.
type Address struct {
	raw       []byte
	value     uint32
	fromBytes bool
}

// AddressValue returns an Address for v.
func AddressValue(v uint32) Address {
	return Address{value: v}
}

// AddressFromBytes returns an Address assembled from b, most significant
// byte first.
func AddressFromBytes(b []byte) Address {
	return Address{raw: append([]byte(nil), b...), fromBytes: true}
}

// Resolve returns the address as an integer, checking it fits in width bytes.
func (a Address) Resolve(width int) (uint32, error) {
	if a.fromBytes {
		if len(a.raw) > width {
			return 0, fmt.Errorf("%w: %d address bytes for a %d-byte address phase",
				ErrAddressWidth, len(a.raw), width)
		}
		var v uint32
		for _, b := range a.raw {
			v = v<<8 | uint32(b)
		}
		return v, nil
	}
	if width < 4 && a.value>>(8*width) != 0 {
		return 0, fmt.Errorf("%w: 0x%X needs more than %d bytes", ErrAddressWidth, a.value, width)
	}
	return a.value, nil
}

// AddressBytes splits v into width bytes, most significant first.
func AddressBytes(v uint32, width int) []byte {
	out := make([]byte, width)
	for i := range width {
		out[i] = byte(v >> (8 * (width - 1 - i)))
	}
	return out
}

// Frame describes one transaction on the bus.
type Frame struct {
	// Data is the write payload; leave empty for reads and erases
	Data []byte
	// Address is sent after the opcode unless SkipAddress is set
	Address Address
	// AddressBytes overrides the configured address width when non-zero
	AddressBytes int
	// DummyCycles are idle cycles between address and data
	DummyCycles int
	// ReadLength is the number of bytes to sample after the address phase
	ReadLength int
	// Mode selects the lane width for every phase
	Mode Mode
	// Opcode is the command byte
	Opcode byte
	// SkipAddress omits the address phase (e.g. read-ID)
	SkipAddress bool
}

// FrameBuilder sequences the phases of a transaction on a Bus: chip-select,
// command, address, dummy cycles, data, chip-select release. It performs no
// timing of its own; every cycle waits on the bus clock.
//
// A failed transfer leaves chip select in whatever state it reached. Callers
// that need the bus released on every exit path use Controller with
// WithAbortRelease, or call Release themselves.
type FrameBuilder struct {
	bus    Bus
	config *Config
	gate   *holdGate
	trace  *TraceBuffer
}

// NewFrameBuilder creates a frame builder for bus using cfg (DefaultConfig
// when nil).
func NewFrameBuilder(bus Bus, cfg *Config) *FrameBuilder {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &FrameBuilder{
		bus:    bus,
		config: cfg.Clone(),
		gate:   newHoldGate(),
	}
}

// WriteFrame sends opcode, address and data in mode m.
func (fb *FrameBuilder) WriteFrame(ctx context.Context, opcode byte, addr Address, data []byte, m Mode) error {
	_, err := fb.Transfer(ctx, Frame{Opcode: opcode, Address: addr, Data: data, Mode: m})
	return err
}

// ReadFrame sends opcode and address in mode m and samples length bytes.
func (fb *FrameBuilder) ReadFrame(ctx context.Context, opcode byte, addr Address, length int, m Mode) ([]byte, error) {
	return fb.Transfer(ctx, Frame{Opcode: opcode, Address: addr, ReadLength: length, Mode: m})
}

// Transfer runs one complete transaction and returns the sampled bytes, if
// any. Errors carry a trace of the phases that completed.
func (fb *FrameBuilder) Transfer(ctx context.Context, f Frame) ([]byte, error) {
	fb.trace = NewTraceBuffer(string(fb.bus.Type()), 16)
	defer func() { fb.trace = nil }()

	resp, err := fb.transfer(ctx, &f)
	if err != nil {
		return nil, fb.trace.WrapError(err)
	}
	return resp, nil
}

func (fb *FrameBuilder) transfer(ctx context.Context, f *Frame) ([]byte, error) {
	lanes, err := f.Mode.Lanes()
	if err != nil {
		return nil, err
	}
	if len(f.Data) > 0 && f.ReadLength > 0 {
		return nil, fmt.Errorf("%w: frame has both write data and a read length", ErrInvalidFrame)
	}
	if f.ReadLength < 0 || f.DummyCycles < 0 {
		return nil, fmt.Errorf("%w: negative length", ErrInvalidFrame)
	}

	var addrBytes []byte
	if !f.SkipAddress {
		width := f.AddressBytes
		if width == 0 {
			width = fb.config.AddressBytes
		}
		addr, err := f.Address.Resolve(width)
		if err != nil {
			return nil, err
		}
		addrBytes = AddressBytes(addr, width)
	}

	Debugf("ospi: %s frame opcode=0x%02X addr=% X data=%d read=%d dummy=%d",
		f.Mode, f.Opcode, addrBytes, len(f.Data), f.ReadLength, f.DummyCycles)

	if err := fb.setChipSelect(true, f.Mode); err != nil {
		return nil, err
	}
	if err := fb.send(ctx, "cmd", lanes, f.Mode, []byte{f.Opcode}); err != nil {
		return nil, err
	}
	if len(addrBytes) > 0 {
		if err := fb.send(ctx, "addr", lanes, f.Mode, addrBytes); err != nil {
			return nil, err
		}
	}
	if f.DummyCycles > 0 {
		if err := fb.idle(ctx, lanes, f.Mode, f.DummyCycles); err != nil {
			return nil, err
		}
	}

	var resp []byte
	switch {
	case len(f.Data) > 0:
		err = fb.send(ctx, "data", lanes, f.Mode, f.Data)
	case f.ReadLength > 0:
		resp, err = fb.receive(ctx, lanes, f.Mode, f.ReadLength)
	}
	if err != nil {
		return nil, err
	}

	if err := fb.releaseLanes(lanes); err != nil {
		return nil, err
	}
	if err := fb.setChipSelect(false, f.Mode); err != nil {
		return nil, err
	}
	return resp, nil
}

// send drives each byte of data onto the lanes, one vector per clock edge.
func (fb *FrameBuilder) send(ctx context.Context, phase string, lanes []int, m Mode, data []byte) error {
	fb.trace.RecordTX(phase, m, data)
	for _, b := range data {
		vectors, err := SerializeByte(b, m, fb.config.BitOrder)
		if err != nil {
			return err
		}
		for _, vec := range vectors {
			for i, lane := range lanes {
				if err := fb.bus.DriveLane(lane, vec[i]); err != nil {
					return fmt.Errorf("%s phase: %w", phase, err)
				}
			}
			if err := fb.waitEdge(ctx); err != nil {
				return fmt.Errorf("%s phase: %w", phase, err)
			}
		}
	}
	return nil
}

// receive releases the lanes for turnaround and samples length bytes.
func (fb *FrameBuilder) receive(ctx context.Context, lanes []int, m Mode, length int) ([]byte, error) {
	if err := fb.releaseLanes(lanes); err != nil {
		return nil, err
	}
	fb.trace.RecordControl("turn", m)

	d, err := NewDeserializer(m, fb.config.BitOrder)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, length)
	vec := make(LaneVector, len(lanes))
	for len(out) < length {
		if err := fb.waitEdge(ctx); err != nil {
			return nil, fmt.Errorf("data phase after %d of %d bytes: %w", len(out), length, err)
		}
		for i, lane := range lanes {
			level, err := fb.bus.SampleLane(lane)
			if err != nil {
				return nil, fmt.Errorf("data phase: %w", err)
			}
			vec[i] = level
		}
		b, done, err := d.Push(vec)
		if err != nil {
			fb.trace.RecordRX("data", m, out)
			return nil, fmt.Errorf("data phase byte %d: %w", len(out), err)
		}
		if done {
			out = append(out, b)
		}
	}
	fb.trace.RecordRX("data", m, out)
	return out, nil
}

// idle releases the lanes and lets n clock edges pass.
func (fb *FrameBuilder) idle(ctx context.Context, lanes []int, m Mode, n int) error {
	if err := fb.releaseLanes(lanes); err != nil {
		return err
	}
	fb.trace.RecordControl(fmt.Sprintf("dummy%d", n), m)
	for range n {
		if err := fb.waitEdge(ctx); err != nil {
			return fmt.Errorf("dummy phase: %w", err)
		}
	}
	return nil
}

func (fb *FrameBuilder) waitEdge(ctx context.Context) error {
	if err := fb.gate.wait(ctx); err != nil {
		return err
	}
	return fb.bus.WaitEdge(ctx)
}

func (fb *FrameBuilder) releaseLanes(lanes []int) error {
	for _, lane := range lanes {
		if err := fb.bus.ReleaseLane(lane); err != nil {
			return fmt.Errorf("release lane %d: %w", lane, err)
		}
	}
	return nil
}

func (fb *FrameBuilder) setChipSelect(asserted bool, m Mode) error {
	phase := "cs-"
	if asserted {
		phase = "cs+"
	}
	fb.trace.RecordControl(phase, m)
	if err := fb.bus.SetChipSelect(fb.config.ChipSelectLevel(asserted)); err != nil {
		return fmt.Errorf("chip select: %w", err)
	}
	return nil
}

// Release floats every lane and deasserts chip select. It is the reset a
// caller performs after an aborted transaction.
func (fb *FrameBuilder) Release() error {
	all := make([]int, MaxLanes)
	for i := range all {
		all[i] = i
	}
	if err := fb.releaseLanes(all); err != nil {
		return err
	}
	if err := fb.bus.SetChipSelect(fb.config.ChipSelectLevel(false)); err != nil {
		return fmt.Errorf("chip select: %w", err)
	}
	return nil
}
