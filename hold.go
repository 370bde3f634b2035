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

	"github.com/ZaparooProject/go-ospi/internal/syncutil"
)

// holdGate pauses clocking while HOLD is asserted. The frame builder passes
// through it before every edge, so a hold taken from another goroutine
// freezes an in-flight transaction without touching chip select.
type holdGate struct {
	release chan struct{}
	mu      syncutil.Mutex
	held    bool
}

func newHoldGate() *holdGate {
	return &holdGate{}
}

// close marks the gate held. It reports false if it already was.
func (g *holdGate) close() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.held {
		return false
	}
	g.held = true
	g.release = make(chan struct{})
	return true
}

// open releases any waiters. It reports false if the gate was not held.
func (g *holdGate) open() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.held {
		return false
	}
	g.held = false
	close(g.release)
	return true
}

func (g *holdGate) isHeld() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.held
}

// wait blocks while the gate is held.
func (g *holdGate) wait(ctx context.Context) error {
	g.mu.Lock()
	if !g.held {
		g.mu.Unlock()
		return nil
	}
	ch := g.release
	g.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
