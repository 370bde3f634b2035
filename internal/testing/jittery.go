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

package testing

import (
	"io"
	"math/rand/v2"
	"time"
)

// JitterConfig configures FragmentingConn.
type JitterConfig struct {
	MaxLatency       time.Duration
	FragmentMinBytes int
	Seed             uint64
}

// DefaultJitterConfig fragments every read without adding latency.
func DefaultJitterConfig() JitterConfig {
	return JitterConfig{FragmentMinBytes: 1}
}

// FragmentingConn wraps an io.ReadWriter and hands reads back in random
// pieces after a random delay, the way a USB-UART bridge (FTDI, CH340)
// delivers bytes. Nothing read from the backend is lost.
type FragmentingConn struct {
	backend io.ReadWriter
	rng     *rand.Rand
	readBuf []byte
	config  JitterConfig
}

// NewFragmentingConn wraps backend.
func NewFragmentingConn(backend io.ReadWriter, config JitterConfig) *FragmentingConn {
	seed := config.Seed
	if seed == 0 {
		seed = rand.Uint64() //nolint:gosec // Test code, not crypto
	}
	if config.FragmentMinBytes < 1 {
		config.FragmentMinBytes = 1
	}
	return &FragmentingConn{
		backend: backend,
		config:  config,
		rng:     rand.New(rand.NewPCG(seed, seed^0xDEADBEEF)), //nolint:gosec // Test code, not crypto
	}
}

// Write passes through unchanged.
func (j *FragmentingConn) Write(data []byte) (int, error) {
	return j.backend.Write(data) //nolint:wrapcheck // Pass-through wrapper
}

// Read returns between FragmentMinBytes and len(buf) buffered bytes.
func (j *FragmentingConn) Read(buf []byte) (int, error) {
	if j.config.MaxLatency > 0 {
		if delay := time.Duration(j.rng.Int64N(int64(j.config.MaxLatency) + 1)); delay > 0 {
			time.Sleep(delay)
		}
	}

	if len(j.readBuf) == 0 {
		tmp := make([]byte, 256)
		n, err := j.backend.Read(tmp)
		if err != nil || n == 0 {
			return 0, err //nolint:wrapcheck // Pass-through wrapper
		}
		j.readBuf = append(j.readBuf, tmp[:n]...)
	}

	toReturn := min(len(j.readBuf), len(buf))
	if toReturn > j.config.FragmentMinBytes {
		toReturn = j.config.FragmentMinBytes + j.rng.IntN(toReturn-j.config.FragmentMinBytes+1)
	}
	copy(buf, j.readBuf[:toReturn])
	j.readBuf = j.readBuf[toReturn:]
	return toReturn, nil
}
