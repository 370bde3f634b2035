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

package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStore_ReadWriteErase(t *testing.T) {
	t.Parallel()

	s := NewStore()
	assert.Equal(t, []byte{0xFF, 0xFF}, s.Read(0x10, 2), "fresh store reads erased")

	s.Write(0x0FFE, []byte{1, 2, 3, 4})
	assert.Equal(t, []byte{1, 2, 3, 4}, s.Read(0x0FFE, 4))
	assert.Equal(t, 4, s.Len())

	s.Erase(0x0010, DefaultSectorSize)
	assert.Equal(t, []byte{0xFF, 0xFF, 3, 4}, s.Read(0x0FFE, 4), "only the first sector is erased")
	assert.Equal(t, byte(3), s.ReadByte(0x1000))
}

func TestStore_AddressWraps(t *testing.T) {
	t.Parallel()

	s := NewStore()
	s.Write(0xFFFFFFFF, []byte{0xAA, 0xBB})
	assert.Equal(t, byte(0xAA), s.ReadByte(0xFFFFFFFF))
	assert.Equal(t, byte(0xBB), s.ReadByte(0))
}
