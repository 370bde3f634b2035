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

	"github.com/stretchr/testify/assert"
)

func TestCalculateChecksum(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		data []byte
		want byte
	}{
		{name: "empty data", data: []byte{}, want: 0},
		{name: "single byte", data: []byte{0x42}, want: 0x42},
		{name: "overflow handling", data: []byte{0xFF, 0x01}, want: 0x00},
		{name: "drive packet", data: []byte{CmdDrive, 0x0F, 0x05}, want: 0x15},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, CalculateChecksum(tt.data))
		})
	}
}

func TestCheckByte(t *testing.T) {
	t.Parallel()

	data := []byte{CmdDrive, 0x0F, 0x05}
	assert.Equal(t, byte(0xEB), CheckByte(data))
	assert.Zero(t, CalculateChecksum(append(data, CheckByte(data))))
}
