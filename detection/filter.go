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

package detection

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// USBID is a USB vendor and product ID pair.
type USBID struct {
	VID uint16
	PID uint16
}

// IsZero reports whether id is unset, as it is for non-USB ports.
func (id USBID) IsZero() bool {
	return id == USBID{}
}

// String returns the usual "VVVV:PPPP" spelling.
func (id USBID) String() string {
	return fmt.Sprintf("%04X:%04X", id.VID, id.PID)
}

// USBIDFromHex builds an ID from the separate hex strings port enumerators
// report, e.g. "0403" and "6014".
func USBIDFromHex(vid, pid string) (USBID, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(vid), 16, 16)
	if err != nil {
		return USBID{}, fmt.Errorf("invalid USB vendor ID %q: %w", vid, err)
	}
	p, err := strconv.ParseUint(strings.TrimSpace(pid), 16, 16)
	if err != nil {
		return USBID{}, fmt.Errorf("invalid USB product ID %q: %w", pid, err)
	}
	return USBID{VID: uint16(v), PID: uint16(p)}, nil
}

// ParseUSBID accepts "0403:6014", "VID:0403 PID:6014" and Windows hardware
// IDs such as `USB\VID_0403&PID_6014\FT1`.
func ParseUSBID(s string) (USBID, error) {
	upper := strings.ToUpper(strings.TrimSpace(s))
	if vid, pid, ok := strings.Cut(upper, ":"); ok && !strings.Contains(upper, "VID") {
		return USBIDFromHex(vid, pid)
	}
	vid, okV := hexAfter(upper, "VID")
	pid, okP := hexAfter(upper, "PID")
	if !okV || !okP {
		return USBID{}, fmt.Errorf("no USB vendor and product ID in %q", s)
	}
	return USBIDFromHex(vid, pid)
}

// hexAfter returns the run of hex digits that follows tag and its separator.
func hexAfter(s, tag string) (string, bool) {
	i := strings.Index(s, tag)
	if i < 0 {
		return "", false
	}
	rest := strings.TrimLeft(s[i+len(tag):], ":_= ")
	end := strings.IndexFunc(rest, func(r rune) bool {
		return (r < '0' || r > '9') && (r < 'A' || r > 'F')
	})
	if end < 0 {
		end = len(rest)
	}
	return rest[:end], end > 0
}

// DefaultBlocklist holds debug probes whose virtual COM ports must not see
// handshake bytes.
func DefaultBlocklist() []USBID {
	return []USBID{
		{VID: 0x1366, PID: 0x0105}, // SEGGER J-Link CDC
		{VID: 0x0483, PID: 0x374B}, // ST-LINK/V2-1 VCP
	}
}

// SamePort reports whether a and b name the same port. Windows COM names
// compare without case and without the `\\.\` prefix; other names compare
// after filepath.Clean.
func SamePort(a, b string) bool {
	return portName(a) == portName(b)
}

func portName(p string) string {
	p = strings.TrimSpace(p)
	trimmed := strings.TrimPrefix(p, `\\.\`)
	if strings.HasPrefix(strings.ToUpper(trimmed), "COM") {
		return strings.ToUpper(trimmed)
	}
	return filepath.Clean(p)
}

// Allows reports whether a passes the blocklist and the ignored ports.
// Detectors call it before probing so filtered ports are never opened.
func (o *Options) Allows(a Adapter) bool {
	for _, ignored := range o.IgnorePorts {
		if ignored != "" && SamePort(a.Port, ignored) {
			return false
		}
	}
	if a.USB.IsZero() {
		return true
	}
	for _, blocked := range o.Blocklist {
		if a.USB == blocked {
			return false
		}
	}
	return true
}

func (o *Options) filter(list []Adapter) []Adapter {
	var out []Adapter
	for _, a := range list {
		if o.Allows(a) {
			out = append(out, a)
		}
	}
	return out
}
