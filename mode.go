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

// Package ospi implements a lane-width-agnostic framing codec for the OSPI
// memory bus (Single, Dual, Quad and Octal SPI).
//
// A transaction is a command byte, a fixed-width address and a data payload,
// each serialized most-significant-bit first across the active data lanes of
// the selected Mode. Concrete bus bindings live in the transport packages.
package ospi

import (
	"fmt"
	"strconv"
	"strings"
)

// Mode selects how many data lanes carry bits on each clock cycle.
type Mode int

const (
	// ModeSingle transfers one bit per cycle on IO0.
	ModeSingle Mode = iota
	// ModeDual transfers two bits per cycle on IO0-IO1.
	ModeDual
	// ModeQuad transfers four bits per cycle on IO0-IO3.
	ModeQuad
	// ModeOctal transfers a whole byte per cycle on IO0-IO7.
	ModeOctal
)

// MaxLanes is the widest lane set any mode uses.
const MaxLanes = 8

// Modes lists every defined mode, narrowest first.
var Modes = []Mode{ModeSingle, ModeDual, ModeQuad, ModeOctal}

var laneCounts = map[Mode]int{
	ModeSingle: 1,
	ModeDual:   2,
	ModeQuad:   4,
	ModeOctal:  8,
}

// Valid reports whether m is one of the four defined modes.
func (m Mode) Valid() bool {
	_, ok := laneCounts[m]
	return ok
}

// String returns the lower-case mode name
func (m Mode) String() string {
	switch m {
	case ModeSingle:
		return "single"
	case ModeDual:
		return "dual"
	case ModeQuad:
		return "quad"
	case ModeOctal:
		return "octal"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// BitsPerCycle returns the number of bits transferred per clock cycle in m.
func (m Mode) BitsPerCycle() (int, error) {
	n, ok := laneCounts[m]
	if !ok {
		return 0, unsupportedMode(m)
	}
	return n, nil
}

// Lanes returns the ordered lane indices that are active in m.
func (m Mode) Lanes() ([]int, error) {
	n, err := m.BitsPerCycle()
	if err != nil {
		return nil, err
	}
	lanes := make([]int, n)
	for i := range lanes {
		lanes[i] = i
	}
	return lanes, nil
}

// CyclesPerByte returns how many clock cycles one byte occupies in m.
func (m Mode) CyclesPerByte() (int, error) {
	n, err := m.BitsPerCycle()
	if err != nil {
		return 0, err
	}
	return 8 / n, nil
}

// LanesFor is the free-function form of Mode.Lanes.
func LanesFor(m Mode) ([]int, error) {
	return m.Lanes()
}

// BitsPerCycle is the free-function form of Mode.BitsPerCycle.
func BitsPerCycle(m Mode) (int, error) {
	return m.BitsPerCycle()
}

// ModeForLaneCount maps a lane count back to its mode.
func ModeForLaneCount(n int) (Mode, error) {
	for m, count := range laneCounts {
		if count == n {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: no mode uses %d lanes", ErrUnsupportedMode, n)
}

// ParseMode parses a mode name ("single", "dual", "quad", "octal") or a lane
// count ("1", "2", "4", "8").
func ParseMode(s string) (Mode, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for _, m := range Modes {
		if m.String() == name {
			return m, nil
		}
	}
	if n, err := strconv.Atoi(name); err == nil {
		return ModeForLaneCount(n)
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedMode, s)
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, unsupportedMode(m)
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

func unsupportedMode(m Mode) error {
	return fmt.Errorf("%w: %d", ErrUnsupportedMode, int(m))
}
