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

//nolint:paralleltest // tests swap the package-level port list and handshake hooks
package serial

import (
	"context"
	"errors"
	"testing"

	"github.com/ZaparooProject/go-ospi/detection"
	"github.com/ZaparooProject/go-ospi/internal/bridge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	ft232h  = detection.USBID{VID: 0x0403, PID: 0x6014}
	unknown = detection.USBID{VID: 0x1234, PID: 0x5678}
)

func testPorts() []detection.Adapter {
	return []detection.Adapter{
		{Binding: Binding, Port: "/dev/ttyUSB0", USB: ft232h, SerialNumber: "FT1"},
		{Binding: Binding, Port: "/dev/ttyUSB1", USB: unknown, Product: "Mystery Gadget"},
		{Binding: Binding, Port: "/dev/ttyS0"},
	}
}

// fakeBridges installs a port list and answers the handshake on the given
// ports with the given capability bits. It returns the ports that were opened.
func fakeBridges(t *testing.T, ports []detection.Adapter, answering map[string]byte) *[]string {
	t.Helper()
	origList, origShake := listPorts, shake
	t.Cleanup(func() {
		listPorts = origList
		shake = origShake
	})

	var opened []string
	listPorts = func() ([]detection.Adapter, error) { return ports, nil }
	shake = func(_ context.Context, port string) (handshake, error) {
		opened = append(opened, port)
		caps, ok := answering[port]
		if !ok {
			return handshake{}, errors.New("no reply")
		}
		return handshake{version: bridge.ProtocolVersion, caps: caps}, nil
	}
	return &opened
}

func TestDetect_PassiveOnlyReadsDescriptors(t *testing.T) {
	opened := fakeBridges(t, testPorts(), map[string]byte{"/dev/ttyUSB0": bridge.CapHold})

	found, err := New().Detect(context.Background(), &detection.Options{Mode: detection.Passive})
	require.NoError(t, err)
	require.Len(t, found, 1)
	a := found[0]
	assert.Equal(t, "/dev/ttyUSB0", a.Port)
	assert.Equal(t, "FTDI FT232H", a.Product, "chip name fills in a missing product string")
	assert.Equal(t, detection.Medium, a.Confidence)
	assert.False(t, a.Answered())
	assert.Empty(t, *opened)
}

func TestDetect_SafeRecordsHandshake(t *testing.T) {
	opened := fakeBridges(t, testPorts(), map[string]byte{"/dev/ttyUSB0": bridge.CapHold})

	found, err := New().Detect(context.Background(), &detection.Options{Mode: detection.Safe})
	require.NoError(t, err)
	require.Len(t, found, 1)
	a := found[0]
	assert.Equal(t, detection.High, a.Confidence)
	assert.Equal(t, int(bridge.ProtocolVersion), a.ProtocolVersion)
	assert.True(t, a.Capabilities.Has(detection.CapHold))
	assert.Equal(t, "FT1", a.SerialNumber)
	assert.Equal(t, []string{"/dev/ttyUSB0"}, *opened)
}

func TestDetect_SafeWithoutReply(t *testing.T) {
	fakeBridges(t, testPorts(), nil)

	_, err := New().Detect(context.Background(), &detection.Options{Mode: detection.Safe})
	require.ErrorIs(t, err, detection.ErrNoAdapters)
}

func TestDetect_FullOpensEveryPort(t *testing.T) {
	opened := fakeBridges(t, testPorts(), map[string]byte{"/dev/ttyS0": 0})

	found, err := New().Detect(context.Background(), &detection.Options{Mode: detection.Full})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "/dev/ttyS0", found[0].Port)
	assert.False(t, found[0].Capabilities.Has(detection.CapHold))
	assert.Equal(t, []string{"/dev/ttyUSB0", "/dev/ttyUSB1", "/dev/ttyS0"}, *opened)
}

func TestDetect_FilteredPortsAreNeverOpened(t *testing.T) {
	all := map[string]byte{"/dev/ttyUSB0": 0, "/dev/ttyUSB1": 0, "/dev/ttyS0": 0}
	opened := fakeBridges(t, testPorts(), all)

	opts := &detection.Options{
		Mode:        detection.Full,
		Blocklist:   []detection.USBID{unknown},
		IgnorePorts: []string{"/dev/ttyS0"},
	}
	found, err := New().Detect(context.Background(), opts)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "/dev/ttyUSB0", found[0].Port)
	assert.Equal(t, []string{"/dev/ttyUSB0"}, *opened)
}

func TestDetect_StopsWhenCancelled(t *testing.T) {
	opened := fakeBridges(t, testPorts(), map[string]byte{"/dev/ttyUSB0": 0})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New().Detect(ctx, &detection.Options{Mode: detection.Full})
	require.ErrorIs(t, err, detection.ErrNoAdapters)
	assert.Empty(t, *opened)
}

func TestDetect_EnumerateError(t *testing.T) {
	origList := listPorts
	t.Cleanup(func() { listPorts = origList })
	listPorts = func() ([]detection.Adapter, error) { return nil, errors.New("no sysfs") }

	_, err := New().Detect(context.Background(), &detection.Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no sysfs")
}

func TestDetectAll_FindsSerialBridge(t *testing.T) {
	fakeBridges(t, testPorts(), map[string]byte{"/dev/ttyUSB0": bridge.CapHold})
	detection.ResetCache()
	t.Cleanup(detection.ResetCache)

	opts := detection.DefaultOptions()
	opts.Bindings = []string{Binding}
	found, err := detection.DetectAll(context.Background(), &opts)
	require.NoError(t, err)

	best, ok := detection.Best(found)
	require.True(t, ok)
	assert.Equal(t, "/dev/ttyUSB0", best.Port)
	assert.Contains(t, best.String(), "bridge v1, hold")
}

func TestCapabilities(t *testing.T) {
	assert.Equal(t, detection.CapHold, capabilities(bridge.CapHold))
	assert.Equal(t, detection.Capabilities(0), capabilities(0))
	assert.Equal(t, "serial", New().Binding())
}
