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

// Package bridge is the wire protocol of the serial bit-bang bridge.
//
// The host sends fixed four-byte packets [command, arg0, arg1, check] and
// the bridge answers every packet with [status, val0, val1, check]. The
// check byte makes the four bytes sum to zero.
package bridge

// Commands sent by the host
const (
	CmdSync    = 0xA5 // handshake; reply carries ProtocolVersion and capabilities
	CmdDrive   = 0x01 // arg0: lane mask, arg1: levels of the masked lanes
	CmdRelease = 0x02 // arg0: lane mask to float
	CmdClock   = 0x03 // one clock cycle; the bridge latches all lanes on the sample edge
	CmdSample  = 0x04 // reply val0: latched levels, val1: floating-lane mask
	CmdCS      = 0x05 // arg0: 0 or 1
	CmdHold    = 0x06 // arg0: 0 or 1
)

// Reply status bytes
const (
	StatusOK          = 0x06 // ACK
	StatusUnsupported = 0x15 // NAK: command needs a line the bridge does not have
	StatusError       = 0x18 // CAN: the bridge could not carry out the command
)

// Capability bits in val1 of the sync reply
const (
	CapHold = 1 << 0
)

// ProtocolVersion is returned in val0 of the sync reply.
const ProtocolVersion = 1

// PacketLength is the size of every command and reply packet.
const PacketLength = 4
