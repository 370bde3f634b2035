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

package serial

import (
	"context"
	"testing"

	"github.com/ZaparooProject/go-ospi"
	"github.com/ZaparooProject/go-ospi/internal/bridge"
	virt "github.com/ZaparooProject/go-ospi/internal/testing"
	"github.com/ZaparooProject/go-ospi/transport/sim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBridgeBus(t *testing.T, hold bool) (*Bus, *virt.VirtualBridge, *sim.VirtualFlash) {
	t.Helper()
	target, flash := sim.NewFlashBus(nil)
	vb := virt.NewVirtualBridge(target, hold)
	bus, err := New(vb, "virtual")
	require.NoError(t, err)
	return bus, vb, flash
}

func TestNew_Sync(t *testing.T) {
	t.Parallel()

	bus, vb, _ := newBridgeBus(t, true)
	assert.True(t, bus.HasCapability(ospi.CapabilityHold))
	assert.Equal(t, ospi.BusSerial, bus.Type())
	assert.Equal(t, 1, vb.CommandCount(bridge.CmdSync))
	assert.Equal(t, byte(bridge.ProtocolVersion), bus.BridgeVersion())
	assert.Equal(t, byte(bridge.CapHold), bus.BridgeCapabilities())
}

func TestNew_VersionMismatch(t *testing.T) {
	t.Parallel()

	vb := virt.NewVirtualBridge(sim.New(nil), false)
	vb.SetVersion(9)
	_, err := New(vb, "virtual")
	require.ErrorIs(t, err, ospi.ErrInvalidConfig)
}

func TestNew_RetriesSync(t *testing.T) {
	t.Parallel()

	vb := virt.NewVirtualBridge(sim.New(nil), false)
	vb.InjectChecksumError()
	_, err := New(vb, "virtual")
	require.NoError(t, err)
	assert.Equal(t, 2, vb.CommandCount(bridge.CmdSync))
}

func TestBus_ControllerRoundTrip(t *testing.T) {
	t.Parallel()

	for _, mode := range ospi.Modes {
		t.Run(mode.String(), func(t *testing.T) {
			t.Parallel()

			bus, _, flash := newBridgeBus(t, true)
			ctrl, err := ospi.New(bus, ospi.WithVerify())
			require.NoError(t, err)
			ctx := context.Background()

			data := []byte{0xDE, 0xAD, 0xBE, 0xEF}
			require.NoError(t, ctrl.Write(ctx, 0x2000, data, mode))
			assert.Equal(t, data, flash.Store().Read(0x2000, 4))

			got, err := ctrl.Read(ctx, 0x2000, 4, mode)
			require.NoError(t, err)
			assert.Equal(t, data, got)
		})
	}
}

func TestBus_FragmentedReplies(t *testing.T) {
	t.Parallel()

	target, flash := sim.NewFlashBus(nil)
	vb := virt.NewVirtualBridge(target, false)
	conn := virt.NewFragmentingConn(vb, virt.JitterConfig{Seed: 7, FragmentMinBytes: 1})
	bus, err := New(conn, "jittery")
	require.NoError(t, err)
	ctrl, err := ospi.New(bus)
	require.NoError(t, err)

	flash.Store().Write(0x10, []byte{0x12, 0x34})
	got, err := ctrl.Read(context.Background(), 0x10, 2, ospi.ModeQuad)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x12, 0x34}, got)
}

func TestBus_SampleFetchedOncePerEdge(t *testing.T) {
	t.Parallel()

	bus, vb, _ := newBridgeBus(t, false)
	require.NoError(t, bus.WaitEdge(context.Background()))
	for lane := range ospi.MaxLanes {
		level, err := bus.SampleLane(lane)
		require.NoError(t, err)
		assert.Equal(t, ospi.HighZ, level)
	}
	assert.Equal(t, 1, vb.CommandCount(bridge.CmdSample))
}

func TestBus_DriveIsBuffered(t *testing.T) {
	t.Parallel()

	bus, vb, _ := newBridgeBus(t, false)
	for lane := range 4 {
		require.NoError(t, bus.DriveLane(lane, ospi.High))
	}
	assert.Zero(t, vb.CommandCount(bridge.CmdDrive))

	require.NoError(t, bus.WaitEdge(context.Background()))
	assert.Equal(t, 1, vb.CommandCount(bridge.CmdDrive))
}

func TestBus_NoHold(t *testing.T) {
	t.Parallel()

	bus, _, _ := newBridgeBus(t, false)
	ctrl, err := ospi.New(bus)
	require.NoError(t, err)
	require.ErrorIs(t, ctrl.Hold(context.Background()), ospi.ErrCapabilityUnavailable)
	require.ErrorIs(t, bus.SetHold(ospi.Low), ospi.ErrCapabilityUnavailable)
}

func TestBus_Hold(t *testing.T) {
	t.Parallel()

	bus, vb, flash := newBridgeBus(t, true)
	ctrl, err := ospi.New(bus)
	require.NoError(t, err)

	require.NoError(t, ctrl.Hold(context.Background()))
	require.NoError(t, ctrl.Resume(context.Background()))
	assert.Equal(t, []bool{true, false}, flash.HoldEvents())
	assert.Equal(t, 2, vb.CommandCount(bridge.CmdHold))
}

func TestBus_ReplyErrors(t *testing.T) {
	t.Parallel()

	bus, vb, _ := newBridgeBus(t, false)

	vb.DropNextReply()
	err := bus.WaitEdge(context.Background())
	require.ErrorIs(t, err, ospi.ErrClockTimeout)
	assert.True(t, ospi.IsRetryable(err))

	vb.InjectChecksumError()
	err = bus.SetChipSelect(ospi.Low)
	require.ErrorIs(t, err, bridge.ErrChecksum)
	require.ErrorIs(t, err, ospi.ErrBusRead)
}

func TestBus_Close(t *testing.T) {
	t.Parallel()

	bus, _, _ := newBridgeBus(t, false)
	require.NoError(t, bus.Close())
	assert.False(t, bus.IsConnected())
	require.ErrorIs(t, bus.WaitEdge(context.Background()), ospi.ErrBusClosed)
	require.NoError(t, bus.Close())
}
