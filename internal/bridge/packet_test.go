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
	"testing"

	"github.com/ZaparooProject/go-ospi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacket_EncodeDecode(t *testing.T) {
	t.Parallel()

	p := Packet{Code: CmdSample, A: 0xAA, B: 0x55}
	buf := p.Encode()
	require.Len(t, buf, PacketLength)

	got, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestDecode_Errors(t *testing.T) {
	t.Parallel()

	_, err := Decode([]byte{CmdClock, 0, 0})
	require.ErrorIs(t, err, ErrShortPacket)

	_, err = Decode([]byte{CmdClock, 0, 0, 0})
	require.ErrorIs(t, err, ErrChecksum)
}

func TestPackLanes(t *testing.T) {
	t.Parallel()

	lanes := [ospi.MaxLanes]ospi.Level{
		ospi.High, ospi.Low, ospi.HighZ, ospi.High,
		ospi.Unknown, ospi.Low, ospi.Low, ospi.High,
	}
	levels, floating := PackLanes(lanes)
	assert.Equal(t, byte(0b10001001), levels)
	assert.Equal(t, byte(0b00010100), floating)

	back := UnpackLanes(levels, floating)
	assert.Equal(t, ospi.HighZ, back[4], "unknown comes back floating")
	assert.Equal(t, ospi.High, back[7])
	assert.Equal(t, ospi.Low, back[1])
}
