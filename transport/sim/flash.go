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
	"fmt"

	"github.com/ZaparooProject/go-ospi"
	"github.com/ZaparooProject/go-ospi/internal/syncutil"
)

// Flash model defaults
const (
	DefaultSectorSize = 4096
)

// DefaultJEDECID is the manufacturer and device ID the model reports.
var DefaultJEDECID = [ospi.JEDECIDLength]byte{0xC2, 0x80, 0x3A}

// Transaction kinds recorded in the transaction log
const (
	KindWrite    = "write"
	KindRead     = "read"
	KindErase    = "erase"
	KindFastRead = "fast-read"
	KindReadID   = "read-id"
	KindUnknown  = "unknown"
)

type phase int

const (
	phaseIdle phase = iota
	phaseCommand
	phaseAddress
	phaseDummy
	phaseDataIn
	phaseDataOut
	phaseIgnore
)

// Transaction is one frame as the flash decoded it. It is logged when chip
// select is released.
type Transaction struct {
	Err        error
	Kind       string
	Data       []byte
	Address    uint32
	Mode       ospi.Mode
	Opcode     byte
	HasAddress bool
	Dropped    bool
}

// FlashOption configures a VirtualFlash
type FlashOption func(*VirtualFlash)

// WithStore makes the flash use s as its memory array.
func WithStore(s *Store) FlashOption {
	return func(f *VirtualFlash) {
		f.store = s
	}
}

// WithOpcodeTable sets the table used to decode commands.
func WithOpcodeTable(t *ospi.OpcodeTable) FlashOption {
	return func(f *VirtualFlash) {
		f.opcodes = t
	}
}

// WithJEDECID sets the ID returned for the read-ID command.
func WithJEDECID(id [ospi.JEDECIDLength]byte) FlashOption {
	return func(f *VirtualFlash) {
		f.id = id
	}
}

// WithSectorSize sets the erase granularity. size must be a power of two.
func WithSectorSize(size uint32) FlashOption {
	return func(f *VirtualFlash) {
		f.sectorSize = size
	}
}

// VirtualFlash is a wire-level model of an OSPI NOR flash. It infers the
// mode of each frame from how many lanes are driven on the first command
// cycle, then decodes opcode, address and data the same way the controller
// encodes them.
type VirtualFlash struct {
	next        func() byte
	config      *ospi.Config
	store       *Store
	opcodes     *ospi.OpcodeTable
	des         *ospi.Deserializer
	cur         Transaction
	log         []Transaction
	holds       []bool
	addrBuf     []byte
	out         []ospi.LaneVector
	lanes       []int
	mu          syncutil.Mutex
	readAddr    uint32
	sectorSize  uint32
	dummyLeft   int
	floatLane   int
	phase       phase
	id          [ospi.JEDECIDLength]byte
	corruptMask byte
	selected    bool
	held        bool
	dropWrites  bool
}

// NewVirtualFlash creates a flash model using cfg for chip-select and HOLD
// polarity, address width, fast-read dummy cycles and bit order.
func NewVirtualFlash(cfg *ospi.Config, opts ...FlashOption) *VirtualFlash {
	if cfg == nil {
		cfg = ospi.DefaultConfig()
	}
	f := &VirtualFlash{
		config:     cfg.Clone(),
		store:      NewStore(),
		opcodes:    ospi.DefaultOpcodeTable(),
		id:         DefaultJEDECID,
		sectorSize: DefaultSectorSize,
		floatLane:  -1,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// NewFlashBus returns a simulated bus with a fresh VirtualFlash attached.
func NewFlashBus(cfg *ospi.Config, opts ...FlashOption) (*Bus, *VirtualFlash) {
	flash := NewVirtualFlash(cfg, opts...)
	return New(flash, WithIdleLevels(flash.config)), flash
}

// ChipSelect implements Device
func (f *VirtualFlash) ChipSelect(level ospi.Level, w Wires) {
	f.mu.Lock()
	defer f.mu.Unlock()

	asserted := level == f.config.ChipSelectLevel(true)
	switch {
	case asserted && !f.selected:
		f.selected = true
		f.phase = phaseCommand
		f.cur = Transaction{}
		f.addrBuf = f.addrBuf[:0]
		f.out = nil
		f.des = nil
		f.next = nil
	case !asserted && f.selected:
		f.selected = false
		for lane := range ospi.MaxLanes {
			w.Release(lane)
		}
		f.finish()
		f.phase = phaseIdle
	}
}

// Hold implements Device
func (f *VirtualFlash) Hold(level ospi.Level) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.held = level == f.config.HoldLevel(true)
	f.holds = append(f.holds, f.held)
}

// Edge implements Device
func (f *VirtualFlash) Edge(w Wires) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.selected || f.held {
		return
	}

	switch f.phase {
	case phaseCommand:
		f.edgeCommand(w)
	case phaseAddress:
		f.shiftIn(w, f.onAddressByte)
	case phaseDummy:
		f.dummyLeft--
		if f.dummyLeft <= 0 {
			f.phase = phaseDataOut
		}
	case phaseDataIn:
		f.shiftIn(w, func(b byte) { f.cur.Data = append(f.cur.Data, b) })
	case phaseDataOut:
		f.driveNext(w)
	case phaseIdle, phaseIgnore:
	}
}

func (f *VirtualFlash) edgeCommand(w Wires) {
	if f.des == nil {
		driven := 0
		for lane := range ospi.MaxLanes {
			if w.Sample(lane) == ospi.HighZ {
				break
			}
			driven++
		}
		mode, err := ospi.ModeForLaneCount(driven)
		if err != nil {
			f.fail(fmt.Errorf("command cycle drove %d lanes: %w", driven, err))
			return
		}
		f.lanes, _ = mode.Lanes()
		f.des, _ = ospi.NewDeserializer(mode, f.config.BitOrder)
		f.cur.Mode = mode
	}
	f.shiftIn(w, f.onCommand)
}

func (f *VirtualFlash) shiftIn(w Wires, sink func(byte)) {
	vec := make(ospi.LaneVector, len(f.lanes))
	for i, lane := range f.lanes {
		vec[i] = w.Sample(lane)
	}
	b, done, err := f.des.Push(vec)
	if err != nil {
		f.fail(err)
		return
	}
	if done {
		sink(b)
	}
}

func (f *VirtualFlash) onCommand(opcode byte) {
	f.cur.Opcode = opcode
	switch opcode {
	case ospi.OpcodeReadID:
		f.cur.Kind = KindReadID
		id := f.id
		i := 0
		f.next = func() byte {
			b := byte(ErasedByte)
			if i < len(id) {
				b = id[i]
			}
			i++
			return b
		}
		f.phase = phaseDataOut
		return
	case ospi.OpcodeFastRead:
		f.cur.Kind = KindFastRead
		f.phase = phaseAddress
		return
	}

	op, ok := f.opcodes.Resolve(opcode)
	if !ok {
		f.cur.Kind = KindUnknown
		f.fail(fmt.Errorf("%w: 0x%02X", ospi.ErrOpcodeUnmapped, opcode))
		return
	}
	f.cur.Kind = op.String()
	f.phase = phaseAddress
}

func (f *VirtualFlash) onAddressByte(b byte) {
	f.addrBuf = append(f.addrBuf, b)
	if len(f.addrBuf) < f.config.AddressBytes {
		return
	}
	var addr uint32
	for _, ab := range f.addrBuf {
		addr = addr<<8 | uint32(ab)
	}
	f.cur.Address = addr
	f.cur.HasAddress = true

	switch f.cur.Kind {
	case KindWrite:
		f.phase = phaseDataIn
	case KindRead:
		f.startRead(addr)
		f.phase = phaseDataOut
	case KindFastRead:
		f.startRead(addr)
		f.dummyLeft = f.config.FastReadDummyCycles
		f.phase = phaseDummy
		if f.dummyLeft == 0 {
			f.phase = phaseDataOut
		}
	default:
		f.phase = phaseIgnore
	}
}

func (f *VirtualFlash) startRead(addr uint32) {
	f.readAddr = addr
	mask := f.corruptMask
	f.corruptMask = 0
	f.next = func() byte {
		b := f.store.ReadByte(f.readAddr) ^ mask
		mask = 0
		f.readAddr++
		return b
	}
}

func (f *VirtualFlash) driveNext(w Wires) {
	if f.next == nil {
		return
	}
	if len(f.out) == 0 {
		b := f.next()
		f.cur.Data = append(f.cur.Data, b)
		f.out, _ = ospi.SerializeByte(b, f.cur.Mode, f.config.BitOrder)
	}
	vec := f.out[0]
	f.out = f.out[1:]
	for i, lane := range f.lanes {
		w.Drive(lane, vec[i])
	}
	if f.floatLane >= 0 {
		w.Release(f.floatLane)
		f.floatLane = -1
	}
}

func (f *VirtualFlash) fail(err error) {
	if f.cur.Err == nil {
		f.cur.Err = err
	}
	ospi.Debugf("sim flash: %v", err)
	f.phase = phaseIgnore
}

// finish commits the frame that chip select just closed.
func (f *VirtualFlash) finish() {
	if f.cur.Kind == "" && f.cur.Err == nil {
		return
	}
	switch f.cur.Kind {
	case KindWrite:
		if f.des != nil && f.des.Pending() && f.cur.Err == nil {
			f.cur.Err = fmt.Errorf("%w: partial data byte discarded", ospi.ErrFrameUnderrun)
		}
		if !f.cur.HasAddress {
			break
		}
		if f.dropWrites {
			f.cur.Dropped = true
			break
		}
		f.store.Write(f.cur.Address, f.cur.Data)
	case KindErase:
		if f.cur.HasAddress {
			f.store.Erase(f.cur.Address, f.sectorSize)
		}
	}
	f.log = append(f.log, f.cur)
}

// Fault injection

// DropWrites makes the flash accept write frames without storing them.
func (f *VirtualFlash) DropWrites(drop bool) {
	f.mu.Lock()
	f.dropWrites = drop
	f.mu.Unlock()
}

// InjectIndeterminate leaves lane undriven on the first data cycle of the
// next response, so the controller samples HighZ there.
func (f *VirtualFlash) InjectIndeterminate(lane int) {
	f.mu.Lock()
	f.floatLane = lane
	f.mu.Unlock()
}

// CorruptNextRead XORs mask into the first byte of the next read response.
func (f *VirtualFlash) CorruptNextRead(mask byte) {
	f.mu.Lock()
	f.corruptMask = mask
	f.mu.Unlock()
}

// Inspection

// Store returns the memory array.
func (f *VirtualFlash) Store() *Store {
	return f.store
}

// Transactions returns a copy of the transaction log.
func (f *VirtualFlash) Transactions() []Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Transaction, len(f.log))
	copy(out, f.log)
	return out
}

// ClearTransactions empties the transaction log.
func (f *VirtualFlash) ClearTransactions() {
	f.mu.Lock()
	f.log = nil
	f.mu.Unlock()
}

// HoldEvents returns every HOLD change seen, true meaning held.
func (f *VirtualFlash) HoldEvents() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.holds...)
}

// Held reports whether HOLD is currently asserted.
func (f *VirtualFlash) Held() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.held
}

// Selected reports whether chip select is currently asserted.
func (f *VirtualFlash) Selected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.selected
}
