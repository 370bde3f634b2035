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
	"time"

	"github.com/ZaparooProject/go-ospi"
	"periph.io/x/conn/v3/gpio"
)

// clock produces or waits for one active SCLK edge per cycle.
type clock interface {
	init() error
	cycle(ctx context.Context) error
	idle() error
	fmt.Stringer
}

// bitBangClock generates SCLK. Each cycle drives the launch level for half a
// period, then the sample level for the other half.
type bitBangClock struct {
	pin    gpio.PinIO
	half   time.Duration
	idleL  gpio.Level
	sample gpio.Level
	level  gpio.Level
}

func newBitBangClock(pin gpio.PinIO, cfg *ospi.Config) *bitBangClock {
	return &bitBangClock{
		pin:    pin,
		half:   cfg.ClockFrequency.Period() / 2,
		idleL:  cfg.IdleClock(),
		sample: cfg.SampleEdge() == gpio.RisingEdge,
	}
}

func (c *bitBangClock) init() error {
	c.level = c.idleL
	return c.pin.Out(c.idleL)
}

func (c *bitBangClock) cycle(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.set(!c.sample); err != nil {
		return ospi.NewBusWriteError("SCLK", busName, err)
	}
	c.pause()
	if err := c.set(c.sample); err != nil {
		return ospi.NewBusWriteError("SCLK", busName, err)
	}
	c.pause()
	return nil
}

func (c *bitBangClock) idle() error {
	return c.set(c.idleL)
}

func (c *bitBangClock) set(l gpio.Level) error {
	if c.level == l {
		return nil
	}
	if err := c.pin.Out(l); err != nil {
		return err
	}
	c.level = l
	return nil
}

func (c *bitBangClock) pause() {
	if c.half > 0 {
		time.Sleep(c.half)
	}
}

func (c *bitBangClock) String() string {
	return fmt.Sprintf("bit-bang %s half-period", c.half)
}

// externalClock waits for the sample edge on an SCLK input.
type externalClock struct {
	pin     gpio.PinIO
	edge    gpio.Edge
	timeout time.Duration
}

// pollInterval bounds each WaitForEdge call so cancellation is noticed.
const pollInterval = 10 * time.Millisecond

func (c *externalClock) init() error {
	return c.pin.In(gpio.PullNoChange, c.edge)
}

func (c *externalClock) cycle(ctx context.Context) error {
	var deadline time.Time
	if c.timeout > 0 {
		deadline = time.Now().Add(c.timeout)
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if c.pin.WaitForEdge(pollInterval) {
			return nil
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return ospi.NewClockTimeoutError("WaitEdge", busName)
		}
	}
}

func (*externalClock) idle() error {
	return nil
}

func (c *externalClock) String() string {
	return fmt.Sprintf("external %s", c.edge)
}
