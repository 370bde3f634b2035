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
	"sort"
)

// Operation identifies the kind of transaction an opcode selects.
type Operation int

const (
	// OpWrite programs data at an address.
	OpWrite Operation = iota
	// OpRead reads data from an address.
	OpRead
	// OpErase erases the sector containing an address.
	OpErase
)

// Fixed opcodes that never go through an OpcodeTable.
const (
	// OpcodeFastRead is the fast-read command, followed by dummy cycles.
	OpcodeFastRead byte = 0x0B
	// OpcodeReadID is the JEDEC read-identification command.
	OpcodeReadID byte = 0x9F
)

// String returns the operation name
func (op Operation) String() string {
	switch op {
	case OpWrite:
		return "write"
	case OpRead:
		return "read"
	case OpErase:
		return "erase"
	default:
		return fmt.Sprintf("operation(%d)", int(op))
	}
}

func (op Operation) valid() bool {
	return op >= OpWrite && op <= OpErase
}

// OpcodeKey is one (operation, mode) pair of an OpcodeTable.
type OpcodeKey struct {
	Op   Operation
	Mode Mode
}

// OpcodeTable maps (operation, mode) pairs to command bytes. It is built
// once, validated, and read-only afterwards.
type OpcodeTable struct {
	opcodes map[OpcodeKey]byte
	reverse map[byte]Operation
}

// DefaultOpcodeTable returns the command set used by common octal flash parts.
// Octal read uses 0xEC so that 0x0B stays free for the fixed fast-read command.
func DefaultOpcodeTable() *OpcodeTable {
	table, err := NewOpcodeTable(map[OpcodeKey]byte{
		{OpWrite, ModeSingle}: 0x02,
		{OpWrite, ModeDual}:   0xA2,
		{OpWrite, ModeQuad}:   0x32,
		{OpWrite, ModeOctal}:  0x38,
		{OpRead, ModeSingle}:  0x03,
		{OpRead, ModeDual}:    0xBB,
		{OpRead, ModeQuad}:    0xEB,
		{OpRead, ModeOctal}:   0xEC,
		{OpErase, ModeSingle}: 0x20,
		{OpErase, ModeDual}:   0x20,
		{OpErase, ModeQuad}:   0x20,
		{OpErase, ModeOctal}:  0x20,
	})
	if err != nil {
		panic(fmt.Sprintf("ospi: default opcode table is invalid: %v", err))
	}
	return table
}

// NewOpcodeTable validates entries and builds a table from them.
// Every key must name a defined operation and mode, an opcode may select only
// one operation, and the fixed fast-read and read-ID opcodes are reserved.
func NewOpcodeTable(entries map[OpcodeKey]byte) (*OpcodeTable, error) {
	t := &OpcodeTable{
		opcodes: make(map[OpcodeKey]byte, len(entries)),
		reverse: make(map[byte]Operation, len(entries)),
	}
	for key, opcode := range entries {
		if !key.Op.valid() {
			return nil, fmt.Errorf("%w: unknown operation %d", ErrInvalidConfig, int(key.Op))
		}
		if !key.Mode.Valid() {
			return nil, fmt.Errorf("%w: %s entry: %w", ErrInvalidConfig, key.Op, unsupportedMode(key.Mode))
		}
		if opcode == OpcodeFastRead || opcode == OpcodeReadID {
			return nil, fmt.Errorf("%w: opcode 0x%02X is reserved", ErrInvalidConfig, opcode)
		}
		if prev, ok := t.reverse[opcode]; ok && prev != key.Op {
			return nil, fmt.Errorf("%w: opcode 0x%02X used for both %s and %s",
				ErrInvalidConfig, opcode, prev, key.Op)
		}
		t.opcodes[key] = opcode
		t.reverse[opcode] = key.Op
	}
	return t, nil
}

// Lookup returns the opcode for op in mode m.
func (t *OpcodeTable) Lookup(op Operation, m Mode) (byte, error) {
	if !m.Valid() {
		return 0, unsupportedMode(m)
	}
	opcode, ok := t.opcodes[OpcodeKey{Op: op, Mode: m}]
	if !ok {
		return 0, fmt.Errorf("%w: %s/%s", ErrOpcodeUnmapped, op, m)
	}
	return opcode, nil
}

// Resolve returns the operation an opcode selects.
func (t *OpcodeTable) Resolve(opcode byte) (Operation, bool) {
	op, ok := t.reverse[opcode]
	return op, ok
}

// Keys returns the table's keys sorted by operation then mode.
func (t *OpcodeTable) Keys() []OpcodeKey {
	keys := make([]OpcodeKey, 0, len(t.opcodes))
	for k := range t.opcodes {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Op != keys[j].Op {
			return keys[i].Op < keys[j].Op
		}
		return keys[i].Mode < keys[j].Mode
	})
	return keys
}
