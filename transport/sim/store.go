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

import "github.com/ZaparooProject/go-ospi/internal/syncutil"

// ErasedByte is what unwritten and erased locations read as.
const ErasedByte = 0xFF

// Store is the memory array of a simulated flash part. It is owned by the
// device model; tests hold the same *Store to seed or inspect contents.
type Store struct {
	data map[uint32]byte
	mu   syncutil.RWMutex
}

// NewStore returns an empty (fully erased) store.
func NewStore() *Store {
	return &Store{data: make(map[uint32]byte)}
}

// Write stores data starting at addr. Addresses wrap at 2^32.
func (s *Store) Write(addr uint32, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, b := range data {
		s.data[addr+uint32(i)] = b //nolint:gosec // wraps intentionally
	}
}

// Read returns n bytes starting at addr.
func (s *Store) Read(addr uint32, n int) []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]byte, n)
	for i := range out {
		out[i] = s.byteAt(addr + uint32(i)) //nolint:gosec // wraps intentionally
	}
	return out
}

// ReadByte returns the byte at addr.
func (s *Store) ReadByte(addr uint32) byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byteAt(addr)
}

func (s *Store) byteAt(addr uint32) byte {
	if b, ok := s.data[addr]; ok {
		return b
	}
	return ErasedByte
}

// Erase resets the size bytes of the block containing addr. size must be a
// power of two.
func (s *Store) Erase(addr, size uint32) {
	base := addr &^ (size - 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	for a := range s.data {
		if a-base < size {
			delete(s.data, a)
		}
	}
}

// Len returns the number of programmed (non-erased) locations.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
