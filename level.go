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

import "strings"

// Level is the state of one wire as seen by the codec.
type Level uint8

const (
	// Low is a driven logic 0.
	Low Level = iota
	// High is a driven logic 1.
	High
	// HighZ is an undriven (floating) wire.
	HighZ
	// Unknown is a contended or otherwise unresolvable wire.
	Unknown
)

// LevelOf converts a bit value to a driven level.
func LevelOf(bit bool) Level {
	if bit {
		return High
	}
	return Low
}

// Determinate reports whether l is a driven 0 or 1.
func (l Level) Determinate() bool {
	return l == Low || l == High
}

// String returns the usual logic-simulator spelling of l.
func (l Level) String() string {
	switch l {
	case Low:
		return "0"
	case High:
		return "1"
	case HighZ:
		return "z"
	default:
		return "x"
	}
}

// LaneVector holds one level per active lane for a single clock cycle.
// Index k is lane k.
type LaneVector []Level

// String renders the vector highest lane first, the way waveform viewers
// print a bus value.
func (v LaneVector) String() string {
	var sb strings.Builder
	for i := len(v) - 1; i >= 0; i-- {
		_, _ = sb.WriteString(v[i].String())
	}
	return sb.String()
}
