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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUSBID(t *testing.T) {
	t.Parallel()

	ftdi := USBID{VID: 0x0403, PID: 0x6014}
	tests := []struct {
		name    string
		in      string
		want    USBID
		wantErr bool
	}{
		{name: "colon pair", in: "0403:6014", want: ftdi},
		{name: "lower case", in: "10c4:ea60", want: USBID{VID: 0x10C4, PID: 0xEA60}},
		{name: "tagged", in: "VID:0403 PID:6014", want: ftdi},
		{name: "windows hardware id", in: `USB\VID_0403&PID_6014\FT1`, want: ftdi},
		{name: "sysfs style", in: "vid=1a86 pid=7523", want: USBID{VID: 0x1A86, PID: 0x7523}},
		{name: "missing pid", in: "VID_0403", wantErr: true},
		{name: "not hex", in: "zzzz:6014", wantErr: true},
		{name: "too wide", in: "10403:6014", wantErr: true},
		{name: "empty", in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseUSBID(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUSBID(t *testing.T) {
	t.Parallel()
	assert.True(t, USBID{}.IsZero())
	assert.Equal(t, "2E8A:000A", USBID{VID: 0x2E8A, PID: 0x000A}.String())

	id, err := USBIDFromHex(" 2341", "0043 ")
	require.NoError(t, err)
	assert.Equal(t, USBID{VID: 0x2341, PID: 0x0043}, id)

	_, err = USBIDFromHex("2341", "")
	require.Error(t, err)
}

func TestSamePort(t *testing.T) {
	t.Parallel()

	tests := []struct {
		a, b string
		want bool
	}{
		{"/dev/ttyUSB0", "/dev/ttyUSB0", true},
		{"/dev/ttyUSB0", "/dev/../dev/ttyUSB0", true},
		{"/dev/ttyUSB0", "/dev/ttyusb0", false},
		{"/dev/ttyUSB0", "/dev/ttyUSB1", false},
		{"/dev/cu.usbserial-1420", "/dev/cu.usbserial-1420/", true},
		{"COM3", "com3", true},
		{`\\.\COM10`, "COM10", true},
		{"COM1", "COM10", false},
	}
	for _, tt := range tests {
		t.Run(tt.a+"|"+tt.b, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, SamePort(tt.a, tt.b))
		})
	}
}

func TestOptionsAllows(t *testing.T) {
	t.Parallel()

	jlink := Adapter{Port: "/dev/ttyACM0", USB: USBID{VID: 0x1366, PID: 0x0105}}
	ch340 := Adapter{Port: "/dev/ttyUSB0", USB: USBID{VID: 0x1A86, PID: 0x7523}}
	builtin := Adapter{Port: "/dev/ttyS0"}

	opts := DefaultOptions()
	assert.False(t, opts.Allows(jlink), "debuggers are blocked by default")
	assert.True(t, opts.Allows(ch340))
	assert.True(t, opts.Allows(builtin), "ports without USB IDs are never blocked")

	opts.IgnorePorts = []string{"", "/dev/ttyUSB0"}
	assert.False(t, opts.Allows(ch340))
	assert.True(t, opts.Allows(builtin))

	opts.Blocklist = nil
	assert.True(t, opts.Allows(jlink))

	filtered := opts.filter([]Adapter{jlink, ch340, builtin})
	require.Len(t, filtered, 2)
	assert.Equal(t, []string{"/dev/ttyACM0", "/dev/ttyS0"}, []string{filtered[0].Port, filtered[1].Port})
}
