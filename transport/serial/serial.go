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

// Package serial drives an OSPI bus through a bit-bang bridge adapter on a
// serial port (a small microcontroller that owns the pins and executes one
// primitive per packet; see internal/bridge for the packet format).
//
// Lane changes are buffered and sent in one packet before the next clock or
// chip-select change, and the lanes latched on a clock edge are fetched once
// per edge, so a byte costs a handful of packets rather than one per lane.
package serial

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/ZaparooProject/go-ospi"
	"github.com/ZaparooProject/go-ospi/internal/bridge"
	"github.com/ZaparooProject/go-ospi/internal/syncutil"
	"go.bug.st/serial"
)

var (
	errNoReply     = errors.New("bridge did not reply")
	errBridgeFault = errors.New("bridge reported a fault")
)

// Bus implements ospi.Bus over a bridge adapter.
type Bus struct {
	conn        io.ReadWriter
	closer      io.Closer
	name        string
	latched     [ospi.MaxLanes]ospi.Level
	mu          syncutil.Mutex
	driveMask   byte
	driveLevels byte
	releaseMask byte
	version     byte
	caps        byte
	latchValid  bool
	hasHold     bool
	closed      bool
}

// Open opens portName at the bridge line rate and syncs with the adapter.
func Open(portName string) (*Bus, error) {
	port, err := serial.Open(portName, &serial.Mode{
		BaudRate: ospi.BridgeBaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}
	if err := port.SetReadTimeout(ospi.BridgeResponseTimeout); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to set serial read timeout: %w", err)
	}

	bus, err := New(port, portName)
	if err != nil {
		_ = port.Close()
		return nil, err
	}
	return bus, nil
}

// New syncs with a bridge on conn. conn is closed by Close if it is an
// io.Closer. A read returning no bytes and no error counts as a timeout, as
// go.bug.st/serial ports do when their read timeout expires.
func New(conn io.ReadWriter, name string) (*Bus, error) {
	b := &Bus{conn: conn, name: name}
	if c, ok := conn.(io.Closer); ok {
		b.closer = c
	}

	var reply bridge.Packet
	var err error
	for attempt := range ospi.BridgeSyncRetries {
		reply, err = b.transact("sync", bridge.Packet{Code: bridge.CmdSync})
		if err == nil {
			break
		}
		ospi.Debugf("serial bus %s: sync attempt %d failed: %v", name, attempt+1, err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to sync with bridge on %s: %w", name, err)
	}
	if reply.A != bridge.ProtocolVersion {
		return nil, fmt.Errorf("%w: bridge protocol version %d, want %d",
			ospi.ErrInvalidConfig, reply.A, bridge.ProtocolVersion)
	}
	b.version = reply.A
	b.caps = reply.B
	b.hasHold = reply.B&bridge.CapHold != 0
	ospi.Debugf("serial bus %s: bridge v%d hold=%v", name, reply.A, b.hasHold)
	return b, nil
}

// WaitEdge implements ospi.ClockSource. Pending lane changes go out first.
func (b *Bus) WaitEdge(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ready("WaitEdge"); err != nil {
		return err
	}
	if err := b.flush(); err != nil {
		return err
	}
	if _, err := b.transact("WaitEdge", bridge.Packet{Code: bridge.CmdClock}); err != nil {
		return err
	}
	b.latchValid = false
	return nil
}

// DriveLane implements ospi.LaneIO
func (b *Bus) DriveLane(lane int, level ospi.Level) error {
	if lane < 0 || lane >= ospi.MaxLanes {
		return fmt.Errorf("%w: lane %d", ospi.ErrInvalidFrame, lane)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ready("DriveLane"); err != nil {
		return err
	}

	bit := byte(1) << lane
	switch level {
	case ospi.HighZ:
		b.releaseMask |= bit
		b.driveMask &^= bit
	case ospi.Low, ospi.High:
		b.driveMask |= bit
		b.releaseMask &^= bit
		if level == ospi.High {
			b.driveLevels |= bit
		} else {
			b.driveLevels &^= bit
		}
	default:
		return fmt.Errorf("%w: cannot drive %s on lane %d", ospi.ErrInvalidFrame, level, lane)
	}
	return nil
}

// ReleaseLane implements ospi.LaneIO
func (b *Bus) ReleaseLane(lane int) error {
	return b.DriveLane(lane, ospi.HighZ)
}

// SampleLane implements ospi.LaneIO. The first sample after an edge fetches
// every latched lane; later samples are answered from that.
func (b *Bus) SampleLane(lane int) (ospi.Level, error) {
	if lane < 0 || lane >= ospi.MaxLanes {
		return ospi.Unknown, fmt.Errorf("%w: lane %d", ospi.ErrInvalidFrame, lane)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ready("SampleLane"); err != nil {
		return ospi.Unknown, err
	}
	if !b.latchValid {
		reply, err := b.transact("SampleLane", bridge.Packet{Code: bridge.CmdSample})
		if err != nil {
			return ospi.Unknown, err
		}
		b.latched = bridge.UnpackLanes(reply.A, reply.B)
		b.latchValid = true
	}
	return b.latched[lane], nil
}

// SetChipSelect implements ospi.ChipSelect
func (b *Bus) SetChipSelect(level ospi.Level) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ready("SetChipSelect"); err != nil {
		return err
	}
	if err := b.flush(); err != nil {
		return err
	}
	_, err := b.transact("SetChipSelect", bridge.Packet{Code: bridge.CmdCS, A: levelByte(level)})
	return err
}

// SetHold implements ospi.HoldLine
func (b *Bus) SetHold(level ospi.Level) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ready("SetHold"); err != nil {
		return err
	}
	if !b.hasHold {
		return fmt.Errorf("HOLD: %w", ospi.ErrCapabilityUnavailable)
	}
	_, err := b.transact("SetHold", bridge.Packet{Code: bridge.CmdHold, A: levelByte(level)})
	return err
}

// HasCapability implements ospi.BusCapabilityChecker
func (b *Bus) HasCapability(capability ospi.BusCapability) bool {
	return capability == ospi.CapabilityHold && b.hasHold
}

// BridgeVersion returns the protocol version from the sync reply.
func (b *Bus) BridgeVersion() byte {
	return b.version
}

// BridgeCapabilities returns the raw capability bits from the sync reply.
func (b *Bus) BridgeCapabilities() byte {
	return b.caps
}

// Close floats every lane and closes the port.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	_, _ = b.transact("Close", bridge.Packet{Code: bridge.CmdRelease, A: 0xFF})
	b.closed = true
	if b.closer != nil {
		if err := b.closer.Close(); err != nil {
			return fmt.Errorf("failed to close serial port: %w", err)
		}
	}
	return nil
}

// IsConnected implements ospi.Bus
func (b *Bus) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.closed
}

// Type implements ospi.Bus
func (*Bus) Type() ospi.BusType {
	return ospi.BusSerial
}

func (b *Bus) ready(op string) error {
	if b.closed {
		return ospi.NewBusClosedError(op, b.name)
	}
	return nil
}

// flush sends buffered lane changes.
func (b *Bus) flush() error {
	if b.releaseMask != 0 {
		if _, err := b.transact("ReleaseLane", bridge.Packet{Code: bridge.CmdRelease, A: b.releaseMask}); err != nil {
			return err
		}
		b.releaseMask = 0
	}
	if b.driveMask != 0 {
		pkt := bridge.Packet{Code: bridge.CmdDrive, A: b.driveMask, B: b.driveLevels & b.driveMask}
		if _, err := b.transact("DriveLane", pkt); err != nil {
			return err
		}
		b.driveMask = 0
	}
	return nil
}

// transact sends one packet and reads its reply.
func (b *Bus) transact(op string, p bridge.Packet) (bridge.Packet, error) {
	out := p.Encode()
	n, err := b.conn.Write(out)
	if err != nil {
		return bridge.Packet{}, ospi.NewBusWriteError(op, b.name, err)
	}
	if n != len(out) {
		return bridge.Packet{}, ospi.NewBusWriteError(op, b.name, io.ErrShortWrite)
	}

	buf := make([]byte, bridge.PacketLength)
	if err := b.readFull(op, buf); err != nil {
		return bridge.Packet{}, err
	}
	reply, err := bridge.Decode(buf)
	if err != nil {
		return bridge.Packet{}, ospi.NewBusReadError(op, b.name, err)
	}

	switch reply.Code {
	case bridge.StatusOK:
		return reply, nil
	case bridge.StatusUnsupported:
		return bridge.Packet{}, fmt.Errorf("%s: %w", op, ospi.ErrCapabilityUnavailable)
	case bridge.StatusError:
		return bridge.Packet{}, ospi.NewBusError(op, b.name, errBridgeFault, ospi.ErrorTypeTransient)
	default:
		return bridge.Packet{}, ospi.NewBusReadError(op, b.name,
			fmt.Errorf("unexpected status 0x%02X", reply.Code))
	}
}

func (b *Bus) readFull(op string, buf []byte) error {
	got := 0
	for got < len(buf) {
		n, err := b.conn.Read(buf[got:])
		if err != nil {
			return ospi.NewBusReadError(op, b.name, err)
		}
		if n == 0 {
			return ospi.NewBusError(op, b.name,
				fmt.Errorf("%w: %w after %d of %d bytes", ospi.ErrClockTimeout, errNoReply, got, len(buf)),
				ospi.ErrorTypeTimeout)
		}
		got += n
	}
	return nil
}

func levelByte(level ospi.Level) byte {
	if level == ospi.High {
		return 1
	}
	return 0
}
