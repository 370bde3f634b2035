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

package gpio

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ZaparooProject/go-ospi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/physic"
)

type testPins struct {
	cs, sclk, hold *gpiotest.Pin
	io             [ospi.MaxLanes]*gpiotest.Pin
}

func newTestPins(withHold bool) (*testPins, PinSet) {
	tp := &testPins{
		cs:   &gpiotest.Pin{N: "CS", L: gpio.Low},
		sclk: &gpiotest.Pin{N: "SCLK", L: gpio.High, EdgesChan: make(chan gpio.Level, 16)},
	}
	set := PinSet{CS: tp.cs, SCLK: tp.sclk}
	if withHold {
		tp.hold = &gpiotest.Pin{N: "HOLD", L: gpio.Low}
		set.HOLD = tp.hold
	}
	for i := range tp.io {
		tp.io[i] = &gpiotest.Pin{N: fmt.Sprintf("IO%d", i), Num: i}
		set.IO[i] = tp.io[i]
	}
	return tp, set
}

func fastConfig() *ospi.Config {
	cfg := ospi.DefaultConfig()
	cfg.ClockFrequency = physic.GigaHertz
	return cfg
}

func TestNew_IdleState(t *testing.T) {
	t.Parallel()

	tp, set := newTestPins(true)
	bus, err := New(set, fastConfig())
	require.NoError(t, err)

	assert.Equal(t, gpio.High, tp.cs.Read(), "active-low CS starts deasserted")
	assert.Equal(t, gpio.High, tp.hold.Read(), "active-low HOLD starts deasserted")
	assert.Equal(t, gpio.Low, tp.sclk.Read(), "CPOL 0 idles low")
	for i, pin := range tp.io {
		assert.Equal(t, gpio.Float, pin.Pull(), "IO%d floating", i)
	}
	assert.True(t, bus.HasCapability(ospi.CapabilityHold))
	assert.Equal(t, ospi.BusGPIO, bus.Type())
}

func TestNew_RequiresPins(t *testing.T) {
	t.Parallel()

	_, set := newTestPins(false)
	set.SCLK = nil
	_, err := New(set, nil)
	require.ErrorIs(t, err, ospi.ErrInvalidConfig)
}

func TestBitBangClock_SampleLevels(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		cpol, cpha  int
		afterEdge   gpio.Level
		afterSelect gpio.Level
	}{
		{name: "mode 0", cpol: 0, cpha: 0, afterEdge: gpio.High, afterSelect: gpio.Low},
		{name: "mode 1", cpol: 0, cpha: 1, afterEdge: gpio.Low, afterSelect: gpio.Low},
		{name: "mode 2", cpol: 1, cpha: 0, afterEdge: gpio.Low, afterSelect: gpio.High},
		{name: "mode 3", cpol: 1, cpha: 1, afterEdge: gpio.High, afterSelect: gpio.High},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tp, set := newTestPins(false)
			cfg := fastConfig()
			cfg.ClockPolarity = tt.cpol
			cfg.ClockPhase = tt.cpha
			bus, err := New(set, cfg)
			require.NoError(t, err)

			require.NoError(t, bus.WaitEdge(context.Background()))
			assert.Equal(t, tt.afterEdge, tp.sclk.Read())

			require.NoError(t, bus.SetChipSelect(ospi.High))
			assert.Equal(t, tt.afterSelect, tp.sclk.Read())
		})
	}
}

func TestBus_DriveAndRelease(t *testing.T) {
	t.Parallel()

	tp, set := newTestPins(false)
	bus, err := New(set, fastConfig())
	require.NoError(t, err)

	require.NoError(t, bus.DriveLane(3, ospi.High))
	assert.Equal(t, gpio.High, tp.io[3].Read())
	require.NoError(t, bus.DriveLane(3, ospi.Low))
	assert.Equal(t, gpio.Low, tp.io[3].Read())

	require.NoError(t, bus.ReleaseLane(3))
	assert.Equal(t, gpio.Float, tp.io[3].Pull())

	require.ErrorIs(t, bus.DriveLane(3, ospi.Unknown), ospi.ErrInvalidFrame)
	require.ErrorIs(t, bus.DriveLane(9, ospi.High), ospi.ErrInvalidFrame)
}

func TestBus_Sample(t *testing.T) {
	t.Parallel()

	tp, set := newTestPins(false)
	bus, err := New(set, fastConfig())
	require.NoError(t, err)

	require.NoError(t, tp.io[1].Out(gpio.High))
	level, err := bus.SampleLane(1)
	require.NoError(t, err)
	assert.Equal(t, ospi.High, level)
}

func TestBus_SampleFloatDetect(t *testing.T) {
	t.Parallel()

	tp, set := newTestPins(false)
	bus, err := New(set, fastConfig(), WithFloatDetect())
	require.NoError(t, err)

	// Test pins follow the pull resistor, which is what a floating wire does.
	level, err := bus.SampleLane(0)
	require.NoError(t, err)
	assert.Equal(t, ospi.HighZ, level)
	assert.Equal(t, gpio.Float, tp.io[0].Pull(), "pull restored")
}

func TestBus_UnwiredLane(t *testing.T) {
	t.Parallel()

	_, set := newTestPins(false)
	for i := 1; i < ospi.MaxLanes; i++ {
		set.IO[i] = nil
	}
	bus, err := New(set, fastConfig())
	require.NoError(t, err)

	require.ErrorIs(t, bus.DriveLane(1, ospi.High), ospi.ErrCapabilityUnavailable)

	ctrl, err := ospi.New(bus)
	require.NoError(t, err)
	err = ctrl.Write(context.Background(), 0, []byte{0x00}, ospi.ModeDual)
	require.ErrorIs(t, err, ospi.ErrCapabilityUnavailable)
}

func TestBus_SingleModeFrame(t *testing.T) {
	t.Parallel()

	tp, set := newTestPins(true)
	bus, err := New(set, fastConfig())
	require.NoError(t, err)
	ctrl, err := ospi.New(bus)
	require.NoError(t, err)

	// 0x02 00 00 00 00 0x01 ends with a 1 on IO0 before the lanes float.
	require.NoError(t, ctrl.Write(context.Background(), 0, []byte{0x01}, ospi.ModeSingle))
	assert.Equal(t, gpio.High, tp.io[0].Read())
	assert.Equal(t, gpio.Float, tp.io[0].Pull())
	assert.Equal(t, gpio.High, tp.cs.Read(), "CS released")
	assert.Equal(t, gpio.Low, tp.sclk.Read(), "clock idle")
}

func TestBus_Hold(t *testing.T) {
	t.Parallel()

	tp, set := newTestPins(true)
	bus, err := New(set, fastConfig())
	require.NoError(t, err)
	ctrl, err := ospi.New(bus)
	require.NoError(t, err)

	require.NoError(t, ctrl.Hold(context.Background()))
	assert.Equal(t, gpio.Low, tp.hold.Read())
	require.NoError(t, ctrl.Resume(context.Background()))
	assert.Equal(t, gpio.High, tp.hold.Read())

	_, noHold := newTestPins(false)
	bus2, err := New(noHold, fastConfig())
	require.NoError(t, err)
	assert.False(t, bus2.HasCapability(ospi.CapabilityHold))
	require.ErrorIs(t, bus2.SetHold(ospi.Low), ospi.ErrCapabilityUnavailable)
}

func TestExternalClock(t *testing.T) {
	t.Parallel()

	tp, set := newTestPins(false)
	bus, err := New(set, fastConfig(), WithExternalClock(30*time.Millisecond))
	require.NoError(t, err)

	tp.sclk.EdgesChan <- gpio.High
	require.NoError(t, bus.WaitEdge(context.Background()))

	err = bus.WaitEdge(context.Background())
	require.ErrorIs(t, err, ospi.ErrClockTimeout)
	assert.True(t, ospi.IsRetryable(err))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, bus.WaitEdge(ctx), context.Canceled)
}

func TestBus_Close(t *testing.T) {
	t.Parallel()

	tp, set := newTestPins(false)
	bus, err := New(set, fastConfig())
	require.NoError(t, err)
	require.NoError(t, bus.SetChipSelect(ospi.Low))
	require.NoError(t, bus.DriveLane(0, ospi.High))

	require.NoError(t, bus.Close())
	assert.False(t, bus.IsConnected())
	assert.Equal(t, gpio.High, tp.cs.Read())
	assert.Equal(t, gpio.Float, tp.io[0].Pull())
	require.ErrorIs(t, bus.WaitEdge(context.Background()), ospi.ErrBusClosed)
	require.NoError(t, bus.Close(), "second close is a no-op")
}
