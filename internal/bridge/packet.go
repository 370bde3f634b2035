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

package bridge

import (
	"errors"
	"fmt"

	"github.com/ZaparooProject/go-ospi"
)

// Packet errors
var (
	ErrShortPacket = errors.New("bridge packet too short")
	ErrChecksum    = errors.New("bridge packet checksum mismatch")
)

// Packet is a decoded command or reply.
type Packet struct {
	Code byte // command or status
	A    byte
	B    byte
}

// Encode returns the wire form of p.
func (p Packet) Encode() []byte {
	buf := []byte{p.Code, p.A, p.B, 0}
	buf[3] = CheckByte(buf[:3])
	return buf
}

// Decode parses one packet from the start of buf.
func Decode(buf []byte) (Packet, error) {
	if len(buf) < PacketLength {
		return Packet{}, fmt.Errorf("%w: %d bytes", ErrShortPacket, len(buf))
	}
	if CalculateChecksum(buf[:PacketLength]) != 0 {
		return Packet{}, fmt.Errorf("%w: % X", ErrChecksum, buf[:PacketLength])
	}
	return Packet{Code: buf[0], A: buf[1], B: buf[2]}, nil
}

// PackLanes folds lane levels into a levels byte and a floating-lane mask.
// Bit i of each byte describes lane i. Unknown lanes report as floating.
func PackLanes(lanes [ospi.MaxLanes]ospi.Level) (levels, floating byte) {
	for i, l := range lanes {
		switch l {
		case ospi.High:
			levels |= 1 << i
		case ospi.HighZ, ospi.Unknown:
			floating |= 1 << i
		case ospi.Low:
		}
	}
	return levels, floating
}

// UnpackLanes is the inverse of PackLanes.
func UnpackLanes(levels, floating byte) [ospi.MaxLanes]ospi.Level {
	var out [ospi.MaxLanes]ospi.Level
	for i := range out {
		if floating&(1<<i) != 0 {
			out[i] = ospi.HighZ
			continue
		}
		out[i] = ospi.LevelOf(levels&(1<<i) != 0)
	}
	return out
}
