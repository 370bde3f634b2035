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
	"slices"
	"strings"
	"time"

	"github.com/ZaparooProject/go-ospi/internal/syncutil"
)

type portKey struct {
	binding string
	port    string
}

type seenAdapter struct {
	seen    time.Time
	adapter Adapter
}

// adapterCache remembers adapters per port. A binding's entries are
// replaced as a whole after each scan, so a port that disappeared drops out
// with the next scan rather than at its TTL.
type adapterCache struct {
	now     func() time.Time
	entries map[portKey]seenAdapter
	mu      syncutil.RWMutex
}

func newAdapterCache() *adapterCache {
	return &adapterCache{
		now:     time.Now,
		entries: make(map[portKey]seenAdapter),
	}
}

var adapters = newAdapterCache()

// lookup returns binding's adapters sorted by port. It misses when nothing
// is cached, when any entry is older than ttl, or when answered is set and
// an entry never answered a handshake: a passive listing must not stand in
// for a safe scan.
func (c *adapterCache) lookup(binding string, answered bool, ttl time.Duration) ([]Adapter, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.now()
	var out []Adapter
	for key, e := range c.entries {
		if key.binding != binding {
			continue
		}
		if now.Sub(e.seen) > ttl || (answered && !e.adapter.Answered()) {
			return nil, false
		}
		out = append(out, e.adapter)
	}
	if len(out) == 0 {
		return nil, false
	}
	slices.SortFunc(out, func(a, b Adapter) int { return strings.Compare(a.Port, b.Port) })
	return out, true
}

// replace drops binding's entries and records found in their place.
func (c *adapterCache) replace(binding string, found []Adapter) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.entries {
		if key.binding == binding {
			delete(c.entries, key)
		}
	}
	now := c.now()
	for _, a := range found {
		c.entries[portKey{binding: binding, port: a.Port}] = seenAdapter{adapter: a, seen: now}
	}
}

func (c *adapterCache) forget(binding, port string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if key.binding == binding && SamePort(key.port, port) {
			delete(c.entries, key)
		}
	}
}

func (c *adapterCache) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[portKey]seenAdapter)
}

// Forget drops the cached adapter on port, for example after opening it
// failed. Once a binding has no cached adapters left, DetectAll scans it
// again.
func Forget(binding, port string) {
	adapters.forget(binding, port)
}

// ResetCache drops every cached adapter.
func ResetCache() {
	adapters.reset()
}
