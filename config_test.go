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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 8, cfg.WordWidth)
	assert.Equal(t, 4, cfg.AddressBytes)
	assert.Equal(t, 8, cfg.FastReadDummyCycles)
	assert.Equal(t, ModeSingle, cfg.DefaultMode)
	assert.Equal(t, MSBFirst, cfg.BitOrder)
	assert.Equal(t, 10*physic.MegaHertz, cfg.ClockFrequency)
	assert.True(t, cfg.CSActiveLow)
	assert.True(t, cfg.HoldActiveLow)
	assert.False(t, cfg.Verify)
}

func TestConfigPolarity(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()

	assert.Equal(t, Low, cfg.ChipSelectLevel(true))
	assert.Equal(t, High, cfg.ChipSelectLevel(false))
	assert.Equal(t, Low, cfg.HoldLevel(true))
	assert.Equal(t, High, cfg.HoldLevel(false))

	cfg.CSActiveLow = false
	cfg.HoldActiveLow = false
	assert.Equal(t, High, cfg.ChipSelectLevel(true))
	assert.Equal(t, Low, cfg.ChipSelectLevel(false))
	assert.Equal(t, High, cfg.HoldLevel(true))
}

func TestConfigClockMode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		cpol, cpha int
		mode       spi.Mode
		idle       gpio.Level
		edge       gpio.Edge
	}{
		{cpol: 0, cpha: 0, mode: spi.Mode0, idle: gpio.Low, edge: gpio.RisingEdge},
		{cpol: 0, cpha: 1, mode: spi.Mode1, idle: gpio.Low, edge: gpio.FallingEdge},
		{cpol: 1, cpha: 0, mode: spi.Mode2, idle: gpio.High, edge: gpio.FallingEdge},
		{cpol: 1, cpha: 1, mode: spi.Mode3, idle: gpio.High, edge: gpio.RisingEdge},
	}

	for _, tt := range tests {
		cfg := DefaultConfig()
		cfg.ClockPolarity = tt.cpol
		cfg.ClockPhase = tt.cpha
		require.NoError(t, cfg.Validate())
		assert.Equal(t, tt.mode, cfg.SPIMode())
		assert.Equal(t, tt.idle, cfg.IdleClock())
		assert.Equal(t, tt.edge, cfg.SampleEdge())
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		mutate func(*Config)
		name   string
	}{
		{name: "word width", mutate: func(c *Config) { c.WordWidth = 16 }},
		{name: "address bytes zero", mutate: func(c *Config) { c.AddressBytes = 0 }},
		{name: "address bytes five", mutate: func(c *Config) { c.AddressBytes = 5 }},
		{name: "negative dummy", mutate: func(c *Config) { c.FastReadDummyCycles = -1 }},
		{name: "cpol", mutate: func(c *Config) { c.ClockPolarity = 2 }},
		{name: "cpha", mutate: func(c *Config) { c.ClockPhase = -1 }},
		{name: "frequency", mutate: func(c *Config) { c.ClockFrequency = 0 }},
		{name: "hold settle", mutate: func(c *Config) { c.HoldSettle = -time.Second }},
		{name: "mode", mutate: func(c *Config) { c.DefaultMode = Mode(7) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := DefaultConfig()
			tt.mutate(cfg)
			require.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestConfigClone(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cp := cfg.Clone()
	cp.DefaultMode = ModeOctal
	assert.Equal(t, ModeSingle, cfg.DefaultMode)
}

func TestParseConfig(t *testing.T) {
	t.Parallel()

	cfg, err := ParseConfig([]byte(`{
		"clock_frequency": "20MHz",
		"clock_polarity": 1,
		"clock_phase": 1,
		"cs_active_low": false,
		"default_mode": "quad",
		"bit_order": "lsb",
		"address_bytes": 3,
		"fast_read_dummy_cycles": 6,
		"hold_settle": "5us",
		"verify": true
	}`))
	require.NoError(t, err)

	assert.Equal(t, 20*physic.MegaHertz, cfg.ClockFrequency)
	assert.Equal(t, 1, cfg.ClockPolarity)
	assert.Equal(t, 1, cfg.ClockPhase)
	assert.False(t, cfg.CSActiveLow)
	assert.True(t, cfg.HoldActiveLow, "absent fields keep their defaults")
	assert.Equal(t, ModeQuad, cfg.DefaultMode)
	assert.Equal(t, LSBFirst, cfg.BitOrder)
	assert.Equal(t, 3, cfg.AddressBytes)
	assert.Equal(t, 6, cfg.FastReadDummyCycles)
	assert.Equal(t, 5*time.Microsecond, cfg.HoldSettle)
	assert.True(t, cfg.Verify)
}

func TestParseConfigErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		json string
	}{
		{name: "syntax", json: `{`},
		{name: "mode", json: `{"default_mode": "hex"}`},
		{name: "bit order", json: `{"bit_order": "middle"}`},
		{name: "frequency", json: `{"clock_frequency": "fast"}`},
		{name: "hold settle", json: `{"hold_settle": "soon"}`},
		{name: "word width", json: `{"word_width": 9}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseConfig([]byte(tt.json))
			require.Error(t, err)
		})
	}
}

func TestLoadConfigAppliesEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ospi.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"default_mode": "dual"}`), 0o600))

	t.Setenv("OSPI_MODE", "octal")
	t.Setenv("OSPI_CS_ACTIVE_LOW", "false")
	t.Setenv("OSPI_CLOCK_FREQUENCY", "1MHz")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ModeOctal, cfg.DefaultMode)
	assert.False(t, cfg.CSActiveLow)
	assert.Equal(t, physic.MegaHertz, cfg.ClockFrequency)
}

func TestLoadConfigMissingFile(t *testing.T) {
	t.Parallel()
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config")
}

func TestApplyEnvErrors(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{key: "OSPI_MODE", value: "12"},
		{key: "OSPI_CS_ACTIVE_LOW", value: "maybe"},
		{key: "OSPI_CLOCK_FREQUENCY", value: "quick"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			require.Error(t, DefaultConfig().ApplyEnv())
		})
	}
}
