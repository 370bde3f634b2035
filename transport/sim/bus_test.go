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
	"context"
	"testing"

	"github.com/ZaparooProject/go-ospi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoDevice drives a fixed level on lane 0 on every edge and counts events.
type echoDevice struct {
	level    ospi.Level
	edges    int
	csEvents []ospi.Level
	holds    []ospi.Level
}

func (d *echoDevice) ChipSelect(level ospi.Level, _ Wires) { d.csEvents = append(d.csEvents, level) }
func (d *echoDevice) Hold(level ospi.Level)                { d.holds = append(d.holds, level) }
func (d *echoDevice) Edge(w Wires) {
	d.edges++
	w.Drive(0, d.level)
}

func TestBus_LaneResolution(t *testing.T) {
	t.Parallel()

	dev := &echoDevice{level: ospi.High}
	bus := New(dev)
	ctx := context.Background()

	level, err := bus.SampleLane(3)
	require.NoError(t, err)
	assert.Equal(t, ospi.HighZ, level, "undriven lane floats")

	require.NoError(t, bus.DriveLane(3, ospi.Low))
	level, err = bus.SampleLane(3)
	require.NoError(t, err)
	assert.Equal(t, ospi.Low, level)

	require.NoError(t, bus.WaitEdge(ctx))
	level, err = bus.SampleLane(0)
	require.NoError(t, err)
	assert.Equal(t, ospi.High, level, "device drives lane 0")

	require.NoError(t, bus.DriveLane(0, ospi.High))
	level, _ = bus.SampleLane(0)
	assert.Equal(t, ospi.High, level, "agreeing drivers")

	require.NoError(t, bus.DriveLane(0, ospi.Low))
	level, _ = bus.SampleLane(0)
	assert.Equal(t, ospi.Unknown, level, "contention")

	assert.Equal(t, uint64(1), bus.Cycle())
	assert.Equal(t, 1, dev.edges)
}

func TestBus_ChipSelectAndHoldEdgesOnly(t *testing.T) {
	t.Parallel()

	dev := &echoDevice{}
	bus := New(dev)

	require.NoError(t, bus.SetChipSelect(ospi.High))
	require.NoError(t, bus.SetChipSelect(ospi.Low))
	require.NoError(t, bus.SetChipSelect(ospi.Low))
	require.NoError(t, bus.SetChipSelect(ospi.High))
	assert.Equal(t, []ospi.Level{ospi.Low, ospi.High}, dev.csEvents)

	require.NoError(t, bus.SetHold(ospi.Low))
	require.NoError(t, bus.SetHold(ospi.Low))
	assert.Equal(t, []ospi.Level{ospi.Low}, dev.holds)
	assert.Equal(t, ospi.Low, bus.HoldLevel())
}

func TestBus_WithoutHold(t *testing.T) {
	t.Parallel()

	bus := New(nil, WithoutHold())
	assert.False(t, bus.HasCapability(ospi.CapabilityHold))
	require.ErrorIs(t, bus.SetHold(ospi.Low), ospi.ErrCapabilityUnavailable)
}

func TestBus_Closed(t *testing.T) {
	t.Parallel()

	bus := New(nil)
	require.NoError(t, bus.Close())
	assert.False(t, bus.IsConnected())

	err := bus.WaitEdge(context.Background())
	require.ErrorIs(t, err, ospi.ErrBusClosed)
	assert.True(t, ospi.IsFatal(err))
	require.ErrorIs(t, bus.DriveLane(0, ospi.High), ospi.ErrBusClosed)
}

func TestBus_InvalidLane(t *testing.T) {
	t.Parallel()

	bus := New(nil)
	require.ErrorIs(t, bus.DriveLane(8, ospi.High), ospi.ErrInvalidFrame)
	_, err := bus.SampleLane(-1)
	require.ErrorIs(t, err, ospi.ErrInvalidFrame)
}

func TestBus_CancelledContext(t *testing.T) {
	t.Parallel()

	bus := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, bus.WaitEdge(ctx), context.Canceled)
	assert.Zero(t, bus.Cycle())
}

func TestBus_IdleLevelsFollowPolarity(t *testing.T) {
	t.Parallel()
	cfg := ospi.DefaultConfig()
	cfg.CSActiveLow = false
	cfg.HoldActiveLow = false

	dev := &echoDevice{}
	bus := New(dev, WithIdleLevels(cfg))
	assert.Equal(t, ospi.Low, bus.ChipSelectLevel())
	assert.Equal(t, ospi.Low, bus.HoldLevel())

	require.NoError(t, bus.SetChipSelect(ospi.High))
	assert.Equal(t, []ospi.Level{ospi.High}, dev.csEvents)
}
