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

package ospi

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ZaparooProject/go-ospi/internal/syncutil"
)

// JEDECIDLength is the number of bytes returned by ReadID.
const JEDECIDLength = 3

// Controller issues write, read, erase and fast-read transactions on a Bus.
//
// Transactions run one at a time: each call holds the controller until its
// chip select has been released, so concurrent callers queue instead of
// interleaving frames. Hold and Resume do not wait for that lock; they pause
// and restart the clock of whatever transaction is in flight.
type Controller struct {
	bus          Bus
	config       *Config
	opcodes      *OpcodeTable
	frames       *FrameBuilder
	mu           syncutil.Mutex
	holdMu       syncutil.Mutex
	abortRelease bool
	verify       bool
}

// Option configures a Controller
type Option func(*Controller) error

// WithConfig replaces the default configuration
func WithConfig(cfg *Config) Option {
	return func(c *Controller) error {
		if cfg == nil {
			return fmt.Errorf("%w: nil config", ErrInvalidConfig)
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		c.config = cfg.Clone()
		return nil
	}
}

// WithOpcodeTable replaces the default opcode table
func WithOpcodeTable(table *OpcodeTable) Option {
	return func(c *Controller) error {
		if table == nil {
			return fmt.Errorf("%w: nil opcode table", ErrInvalidConfig)
		}
		c.opcodes = table
		return nil
	}
}

// WithVerify enables read-back verification of every write, whatever the
// configuration passed with WithConfig says.
func WithVerify() Option {
	return func(c *Controller) error {
		c.verify = true
		return nil
	}
}

// WithAbortRelease makes the controller float the lanes and deassert chip
// select whenever a transaction fails, including on context cancellation.
func WithAbortRelease() Option {
	return func(c *Controller) error {
		c.abortRelease = true
		return nil
	}
}

// New creates a controller that owns bus.
func New(bus Bus, opts ...Option) (*Controller, error) {
	if bus == nil {
		return nil, fmt.Errorf("%w: nil bus", ErrInvalidConfig)
	}
	c := &Controller{
		bus:     bus,
		config:  DefaultConfig(),
		opcodes: DefaultOpcodeTable(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.verify {
		c.config.Verify = true
	}
	c.frames = NewFrameBuilder(bus, c.config)
	return c, nil
}

// Bus returns the bus the controller drives
func (c *Controller) Bus() Bus {
	return c.bus
}

// Config returns a copy of the active configuration
func (c *Controller) Config() *Config {
	return c.config.Clone()
}

// DefaultMode returns the configured default mode
func (c *Controller) DefaultMode() Mode {
	return c.config.DefaultMode
}

// Write programs data at addr in mode m. With verification enabled the data
// is read back in the same mode and a *VerifyMismatchError is returned if it
// differs.
func (c *Controller) Write(ctx context.Context, addr uint32, data []byte, m Mode) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	opcode, err := c.opcodes.Lookup(OpWrite, m)
	if err != nil {
		return err
	}
	if err := c.run(ctx, Frame{Opcode: opcode, Address: AddressValue(addr), Data: data, Mode: m}, nil); err != nil {
		return fmt.Errorf("write 0x%08X: %w", addr, err)
	}
	if !c.config.Verify {
		return nil
	}

	readback, err := c.read(ctx, addr, len(data), m)
	if err != nil {
		return fmt.Errorf("verify 0x%08X: %w", addr, err)
	}
	if err := newVerifyMismatch(addr, m, data, readback); err != nil {
		Debugf("ospi: %v", err)
		return err
	}
	return nil
}

// Read returns n bytes starting at addr, read in mode m.
func (c *Controller) Read(ctx context.Context, addr uint32, n int, m Mode) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.read(ctx, addr, n, m)
}

func (c *Controller) read(ctx context.Context, addr uint32, n int, m Mode) ([]byte, error) {
	opcode, err := c.opcodes.Lookup(OpRead, m)
	if err != nil {
		return nil, err
	}
	var resp []byte
	if err := c.run(ctx, Frame{Opcode: opcode, Address: AddressValue(addr), ReadLength: n, Mode: m}, &resp); err != nil {
		return nil, fmt.Errorf("read 0x%08X: %w", addr, err)
	}
	return resp, nil
}

// Erase erases the sector containing addr. The frame has no data phase.
func (c *Controller) Erase(ctx context.Context, addr uint32, m Mode) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	opcode, err := c.opcodes.Lookup(OpErase, m)
	if err != nil {
		return err
	}
	if err := c.run(ctx, Frame{Opcode: opcode, Address: AddressValue(addr), Mode: m}, nil); err != nil {
		return fmt.Errorf("erase 0x%08X: %w", addr, err)
	}
	return nil
}

// FastRead reads n bytes with the fixed fast-read opcode and the configured
// dummy cycles. It does not consult the opcode table.
func (c *Controller) FastRead(ctx context.Context, addr uint32, n int, m Mode) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var resp []byte
	f := Frame{
		Opcode:      OpcodeFastRead,
		Address:     AddressValue(addr),
		DummyCycles: c.config.FastReadDummyCycles,
		ReadLength:  n,
		Mode:        m,
	}
	if err := c.run(ctx, f, &resp); err != nil {
		return nil, fmt.Errorf("fast read 0x%08X: %w", addr, err)
	}
	return resp, nil
}

// ReadID returns the JEDEC manufacturer and device ID.
func (c *Controller) ReadID(ctx context.Context, m Mode) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var resp []byte
	f := Frame{Opcode: OpcodeReadID, SkipAddress: true, ReadLength: JEDECIDLength, Mode: m}
	if err := c.run(ctx, f, &resp); err != nil {
		return nil, fmt.Errorf("read ID: %w", err)
	}
	return resp, nil
}

// run executes f and, with abort release enabled, resets the bus on failure.
func (c *Controller) run(ctx context.Context, f Frame, resp *[]byte) error {
	if f.ReadLength < 0 {
		return fmt.Errorf("%w: negative read length %d", ErrInvalidFrame, f.ReadLength)
	}
	out, err := c.frames.Transfer(ctx, f)
	if err != nil {
		if c.abortRelease {
			if relErr := c.frames.Release(); relErr != nil {
				return errors.Join(err, fmt.Errorf("abort release: %w", relErr))
			}
		}
		return err
	}
	if resp != nil {
		*resp = out
	}
	return nil
}

// ResetBus floats every lane and deasserts chip select. Call it before
// reusing a controller whose last transaction failed.
func (c *Controller) ResetBus() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames.Release()
}

// Hold asserts HOLD and pauses clocking until Resume. Holding an already
// held bus does nothing.
func (c *Controller) Hold(ctx context.Context) error {
	hold, ok := holdLineOf(c.bus)
	if !ok {
		return fmt.Errorf("hold: %w", ErrCapabilityUnavailable)
	}
	c.holdMu.Lock()
	defer c.holdMu.Unlock()

	if !c.frames.gate.close() {
		return nil
	}
	if err := hold.SetHold(c.config.HoldLevel(true)); err != nil {
		c.frames.gate.open()
		return fmt.Errorf("hold: %w", err)
	}
	Debugln("ospi: hold asserted")
	return sleepContext(ctx, c.config.HoldSettle)
}

// Resume deasserts HOLD and lets a paused transaction continue. Resuming a
// bus that is not held does nothing.
func (c *Controller) Resume(ctx context.Context) error {
	hold, ok := holdLineOf(c.bus)
	if !ok {
		return fmt.Errorf("resume: %w", ErrCapabilityUnavailable)
	}
	c.holdMu.Lock()
	defer c.holdMu.Unlock()

	if !c.frames.gate.isHeld() {
		return nil
	}
	if err := hold.SetHold(c.config.HoldLevel(false)); err != nil {
		return fmt.Errorf("resume: %w", err)
	}
	err := sleepContext(ctx, c.config.HoldSettle)
	c.frames.gate.open()
	Debugln("ospi: hold released")
	return err
}

// Held reports whether the bus is currently on hold
func (c *Controller) Held() bool {
	return c.frames.gate.isHeld()
}

// Close closes the underlying bus
func (c *Controller) Close() error {
	if err := c.bus.Close(); err != nil {
		return fmt.Errorf("failed to close bus: %w", err)
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
