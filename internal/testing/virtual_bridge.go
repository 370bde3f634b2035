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

// Package testing provides test doubles for the serial bridge binding.
//
// VirtualBridge implements io.ReadWriter and answers bridge packets the way
// the adapter firmware does, executing each primitive on a simulated bus so
// a flash model sits at the far end.
package testing

import (
	"context"

	"github.com/ZaparooProject/go-ospi"
	"github.com/ZaparooProject/go-ospi/internal/bridge"
	"github.com/ZaparooProject/go-ospi/internal/syncutil"
	"github.com/ZaparooProject/go-ospi/transport/sim"
)

// VirtualBridge is a wire-level bridge adapter simulator.
type VirtualBridge struct {
	bus           *sim.Bus
	commands      map[byte]int
	rx            []byte
	tx            []byte
	latched       [ospi.MaxLanes]ospi.Level
	mu            syncutil.Mutex
	version       byte
	hold          bool
	corruptNext   bool
	dropNextReply bool
}

// NewVirtualBridge returns a bridge driving bus. hold selects whether the
// bridge advertises a HOLD line.
func NewVirtualBridge(bus *sim.Bus, hold bool) *VirtualBridge {
	v := &VirtualBridge{
		bus:      bus,
		commands: make(map[byte]int),
		version:  bridge.ProtocolVersion,
		hold:     hold,
	}
	for i := range v.latched {
		v.latched[i] = ospi.HighZ
	}
	return v
}

// Write accepts host packets and queues the replies.
func (v *VirtualBridge) Write(data []byte) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.rx = append(v.rx, data...)
	for len(v.rx) >= bridge.PacketLength {
		pkt, err := bridge.Decode(v.rx)
		v.rx = v.rx[bridge.PacketLength:]
		if err != nil {
			v.reply(bridge.Packet{Code: bridge.StatusError})
			continue
		}
		v.commands[pkt.Code]++
		v.reply(v.execute(pkt))
	}
	return len(data), nil
}

// Read returns queued reply bytes. With nothing queued it returns 0, nil,
// which the bus treats as a read timeout.
func (v *VirtualBridge) Read(buf []byte) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	n := copy(buf, v.tx)
	v.tx = v.tx[n:]
	return n, nil
}

func (v *VirtualBridge) reply(p bridge.Packet) {
	if v.dropNextReply {
		v.dropNextReply = false
		return
	}
	out := p.Encode()
	if v.corruptNext {
		v.corruptNext = false
		out[3] ^= 0xFF
	}
	v.tx = append(v.tx, out...)
}

func (v *VirtualBridge) execute(p bridge.Packet) bridge.Packet {
	ok := bridge.Packet{Code: bridge.StatusOK}
	fault := bridge.Packet{Code: bridge.StatusError}

	switch p.Code {
	case bridge.CmdSync:
		var caps byte
		if v.hold {
			caps |= bridge.CapHold
		}
		return bridge.Packet{Code: bridge.StatusOK, A: v.version, B: caps}
	case bridge.CmdDrive:
		for lane := range ospi.MaxLanes {
			if p.A&(1<<lane) == 0 {
				continue
			}
			if v.bus.DriveLane(lane, ospi.LevelOf(p.B&(1<<lane) != 0)) != nil {
				return fault
			}
		}
		return ok
	case bridge.CmdRelease:
		for lane := range ospi.MaxLanes {
			if p.A&(1<<lane) != 0 && v.bus.ReleaseLane(lane) != nil {
				return fault
			}
		}
		return ok
	case bridge.CmdClock:
		if v.bus.WaitEdge(context.Background()) != nil {
			return fault
		}
		copy(v.latched[:], v.bus.Lanes())
		return ok
	case bridge.CmdSample:
		levels, floating := bridge.PackLanes(v.latched)
		return bridge.Packet{Code: bridge.StatusOK, A: levels, B: floating}
	case bridge.CmdCS:
		if v.bus.SetChipSelect(ospi.LevelOf(p.A != 0)) != nil {
			return fault
		}
		return ok
	case bridge.CmdHold:
		if !v.hold {
			return bridge.Packet{Code: bridge.StatusUnsupported}
		}
		if v.bus.SetHold(ospi.LevelOf(p.A != 0)) != nil {
			return fault
		}
		return ok
	default:
		return bridge.Packet{Code: bridge.StatusUnsupported}
	}
}

// Fault injection

// InjectChecksumError corrupts the check byte of the next reply.
func (v *VirtualBridge) InjectChecksumError() {
	v.mu.Lock()
	v.corruptNext = true
	v.mu.Unlock()
}

// DropNextReply swallows the next reply so the host times out.
func (v *VirtualBridge) DropNextReply() {
	v.mu.Lock()
	v.dropNextReply = true
	v.mu.Unlock()
}

// SetVersion changes the protocol version reported on sync.
func (v *VirtualBridge) SetVersion(version byte) {
	v.mu.Lock()
	v.version = version
	v.mu.Unlock()
}

// CommandCount returns how many packets with code cmd were executed.
func (v *VirtualBridge) CommandCount(cmd byte) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.commands[cmd]
}
