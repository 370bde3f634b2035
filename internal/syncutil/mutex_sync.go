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

//go:build !deadlock

// Package syncutil holds the locks shared by the controller, the bus
// bindings and the flash model. Normal builds use package sync; building
// with -tags=deadlock swaps in go-deadlock so a hung Hold or a bus binding
// that never returns shows up as a report instead of a stuck test.
package syncutil

import "sync"

// Mutex is a sync.Mutex unless built with -tags=deadlock.
//
//nolint:gocritic // embedded so callers get Lock and Unlock directly
type Mutex struct {
	sync.Mutex
}

// RWMutex is a sync.RWMutex unless built with -tags=deadlock.
//
//nolint:gocritic // embedded so callers get RLock and RUnlock directly
type RWMutex struct {
	sync.RWMutex
}
