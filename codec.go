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
	"fmt"
	"math/bits"
	"strings"
)

// BitOrder selects which end of a byte is clocked out first.
type BitOrder int

const (
	// MSBFirst sends bit 7 on the first cycle (lane 0 of that cycle).
	MSBFirst BitOrder = iota
	// LSBFirst sends bit 0 first. Some legacy parts are wired this way.
	LSBFirst
)

// String returns "msb" or "lsb".
func (o BitOrder) String() string {
	if o == LSBFirst {
		return "lsb"
	}
	return "msb"
}

// MarshalText implements encoding.TextMarshaler.
func (o BitOrder) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *BitOrder) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "msb", "msb-first", "msbfirst", "":
		*o = MSBFirst
	case "lsb", "lsb-first", "lsbfirst":
		*o = LSBFirst
	default:
		return fmt.Errorf("%w: unknown bit order %q", ErrInvalidConfig, string(text))
	}
	return nil
}

func (o BitOrder) apply(b byte) byte {
	if o == LSBFirst {
		return bits.Reverse8(b)
	}
	return b
}

// SerializeByte splits b into the lane vectors that carry it in mode m.
// Each vector is driven for exactly one clock cycle, in order. Within a cycle
// lane 0 carries the most significant bit of that cycle's group.
func SerializeByte(b byte, m Mode, order BitOrder) ([]LaneVector, error) {
	bpc, err := m.BitsPerCycle()
	if err != nil {
		return nil, err
	}
	value := order.apply(b)
	cycles := 8 / bpc
	mask := byte(1<<bpc - 1)

	vectors := make([]LaneVector, cycles)
	for c := range cycles {
		shift := 8 - bpc*(c+1)
		group := (value >> shift) & mask
		vec := make(LaneVector, bpc)
		for lane := range bpc {
			vec[lane] = LevelOf(group>>(bpc-1-lane)&1 == 1)
		}
		vectors[c] = vec
	}
	return vectors, nil
}

// SerializeBytes serializes data byte by byte and concatenates the cycles.
func SerializeBytes(data []byte, m Mode, order BitOrder) ([]LaneVector, error) {
	cycles, err := m.CyclesPerByte()
	if err != nil {
		return nil, err
	}
	out := make([]LaneVector, 0, len(data)*cycles)
	for _, b := range data {
		vecs, err := SerializeByte(b, m, order)
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// Accumulate reconstructs one byte from the first 8/BitsPerCycle(m) vectors.
// Vectors past the end of the byte are ignored.
func Accumulate(vectors []LaneVector, m Mode, order BitOrder) (byte, error) {
	d, err := NewDeserializer(m, order)
	if err != nil {
		return 0, err
	}
	for _, vec := range vectors {
		b, done, err := d.Push(vec)
		if err != nil {
			return 0, err
		}
		if done {
			return b, nil
		}
	}
	return 0, fmt.Errorf("%w: got %d of %d cycles", ErrFrameUnderrun, d.cycle, d.cycles)
}

// Deserializer accumulates sampled lane vectors one cycle at a time.
// The zero value is not usable; create one with NewDeserializer.
type Deserializer struct {
	mode   Mode
	order  BitOrder
	bpc    int
	cycles int
	cycle  int
	total  int
	acc    byte
}

// NewDeserializer returns a deserializer for mode m.
func NewDeserializer(m Mode, order BitOrder) (*Deserializer, error) {
	bpc, err := m.BitsPerCycle()
	if err != nil {
		return nil, err
	}
	return &Deserializer{
		mode:   m,
		order:  order,
		bpc:    bpc,
		cycles: 8 / bpc,
	}, nil
}

// Push shifts one sampled vector into the accumulator. When the vector
// completes a byte, Push returns it with done set and starts a new byte.
func (d *Deserializer) Push(vec LaneVector) (b byte, done bool, err error) {
	if len(vec) != d.bpc {
		return 0, false, fmt.Errorf("%w: %s mode expects %d lanes, got %d",
			ErrLaneWidth, d.mode, d.bpc, len(vec))
	}
	var group byte
	for lane, level := range vec {
		if !level.Determinate() {
			return 0, false, &IndeterminateLaneError{Lane: lane, Cycle: d.total, Level: level}
		}
		if level == High {
			group |= 1 << (d.bpc - 1 - lane)
		}
	}
	d.acc = d.acc<<d.bpc | group
	d.cycle++
	d.total++
	if d.cycle < d.cycles {
		return 0, false, nil
	}
	b = d.order.apply(d.acc)
	d.acc = 0
	d.cycle = 0
	return b, true, nil
}

// Pending reports whether a partially accumulated byte is held.
func (d *Deserializer) Pending() bool {
	return d.cycle != 0
}

// Reset discards any partial byte.
func (d *Deserializer) Reset() {
	d.acc = 0
	d.cycle = 0
	d.total = 0
}
