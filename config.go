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
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

// Configuration defaults
const (
	DefaultWordWidth           = 8
	DefaultAddressBytes        = 4
	DefaultFastReadDummyCycles = 8
	DefaultHoldSettle          = time.Microsecond
	DefaultClockFrequency      = 10 * physic.MegaHertz
)

// Config is the bus and protocol configuration shared by the frame builder,
// the controller and the bus bindings.
type Config struct {
	// ClockFrequency is the serial clock rate. Bindings that generate the
	// clock themselves derive their half-period from it.
	ClockFrequency physic.Frequency
	// HoldSettle is how long Hold and Resume wait after toggling HOLD
	HoldSettle time.Duration
	// WordWidth is the number of bits per transfer unit. Only 8 is supported.
	WordWidth int
	// AddressBytes is the width of the address phase, most significant byte first
	AddressBytes int
	// FastReadDummyCycles is the number of idle cycles between address and data in FastRead
	FastReadDummyCycles int
	// ClockPolarity is CPOL: the idle level of SCLK (0 or 1)
	ClockPolarity int
	// ClockPhase is CPHA: 0 samples on the leading edge, 1 on the trailing edge
	ClockPhase int
	// DefaultMode is the mode used when the caller does not pick one
	DefaultMode Mode
	// BitOrder selects MSB-first (canonical) or LSB-first serialization
	BitOrder BitOrder
	// CSActiveLow asserts chip select by driving it low
	CSActiveLow bool
	// HoldActiveLow asserts HOLD by driving it low
	HoldActiveLow bool
	// Verify reads back every write and compares
	Verify bool
}

// DefaultConfig returns the configuration of a typical octal flash part:
// 32-bit addresses, active-low CS and HOLD, SPI mode 0, MSB first.
func DefaultConfig() *Config {
	return &Config{
		WordWidth:           DefaultWordWidth,
		ClockFrequency:      DefaultClockFrequency,
		CSActiveLow:         true,
		HoldActiveLow:       true,
		DefaultMode:         ModeSingle,
		BitOrder:            MSBFirst,
		AddressBytes:        DefaultAddressBytes,
		FastReadDummyCycles: DefaultFastReadDummyCycles,
		HoldSettle:          DefaultHoldSettle,
	}
}

// Validate checks the configuration for values the codec cannot honor
func (c *Config) Validate() error {
	switch {
	case c.WordWidth != DefaultWordWidth:
		return fmt.Errorf("%w: word_width %d (only 8 is supported)", ErrInvalidConfig, c.WordWidth)
	case c.AddressBytes < 1 || c.AddressBytes > 4:
		return fmt.Errorf("%w: address_bytes %d out of range 1-4", ErrInvalidConfig, c.AddressBytes)
	case c.FastReadDummyCycles < 0:
		return fmt.Errorf("%w: negative fast_read_dummy_cycles", ErrInvalidConfig)
	case c.ClockPolarity != 0 && c.ClockPolarity != 1:
		return fmt.Errorf("%w: clock_polarity must be 0 or 1", ErrInvalidConfig)
	case c.ClockPhase != 0 && c.ClockPhase != 1:
		return fmt.Errorf("%w: clock_phase must be 0 or 1", ErrInvalidConfig)
	case c.ClockFrequency <= 0:
		return fmt.Errorf("%w: clock_frequency must be positive", ErrInvalidConfig)
	case c.HoldSettle < 0:
		return fmt.Errorf("%w: negative hold_settle", ErrInvalidConfig)
	}
	if !c.DefaultMode.Valid() {
		return fmt.Errorf("%w: default_mode: %w", ErrInvalidConfig, unsupportedMode(c.DefaultMode))
	}
	return nil
}

// Clone returns a copy of c
func (c *Config) Clone() *Config {
	cp := *c
	return &cp
}

// SPIMode returns the periph SPI mode matching ClockPolarity and ClockPhase.
func (c *Config) SPIMode() spi.Mode {
	switch {
	case c.ClockPolarity == 0 && c.ClockPhase == 0:
		return spi.Mode0
	case c.ClockPolarity == 0:
		return spi.Mode1
	case c.ClockPhase == 0:
		return spi.Mode2
	default:
		return spi.Mode3
	}
}

// IdleClock returns the SCLK level between transactions (CPOL).
func (c *Config) IdleClock() gpio.Level {
	return c.ClockPolarity == 1
}

// SampleEdge returns the SCLK transition on which data is sampled. Modes 0
// and 3 sample on the rising edge, modes 1 and 2 on the falling edge.
func (c *Config) SampleEdge() gpio.Edge {
	if c.ClockPolarity == c.ClockPhase {
		return gpio.RisingEdge
	}
	return gpio.FallingEdge
}

// ChipSelectLevel returns the CS level for the asserted or deasserted state.
func (c *Config) ChipSelectLevel(asserted bool) Level {
	return LevelOf(asserted != c.CSActiveLow)
}

// HoldLevel returns the HOLD level for the asserted or deasserted state.
func (c *Config) HoldLevel(asserted bool) Level {
	return LevelOf(asserted != c.HoldActiveLow)
}

// fileConfig is the JSON shape of a configuration file. Pointer fields are
// optional and leave the default in place when absent.
type fileConfig struct {
	WordWidth           *int      `json:"word_width,omitempty"`
	ClockFrequency      *string   `json:"clock_frequency,omitempty"`
	ClockPolarity       *int      `json:"clock_polarity,omitempty"`
	ClockPhase          *int      `json:"clock_phase,omitempty"`
	CSActiveLow         *bool     `json:"cs_active_low,omitempty"`
	HoldActiveLow       *bool     `json:"hold_active_low,omitempty"`
	DefaultMode         *Mode     `json:"default_mode,omitempty"`
	BitOrder            *BitOrder `json:"bit_order,omitempty"`
	AddressBytes        *int      `json:"address_bytes,omitempty"`
	FastReadDummyCycles *int      `json:"fast_read_dummy_cycles,omitempty"`
	HoldSettle          *string   `json:"hold_settle,omitempty"`
	Verify              *bool     `json:"verify,omitempty"`
}

// ParseConfig decodes a JSON configuration on top of DefaultConfig.
func ParseConfig(data []byte) (*Config, error) {
	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	cfg := DefaultConfig()
	if err := fc.apply(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfig reads a JSON configuration file and applies environment
// overrides (see ApplyEnv).
func LoadConfig(path string) (*Config, error) {
	// #nosec G304 -- the path is chosen by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (fc *fileConfig) apply(cfg *Config) error {
	setInt(&cfg.WordWidth, fc.WordWidth)
	setInt(&cfg.ClockPolarity, fc.ClockPolarity)
	setInt(&cfg.ClockPhase, fc.ClockPhase)
	setInt(&cfg.AddressBytes, fc.AddressBytes)
	setInt(&cfg.FastReadDummyCycles, fc.FastReadDummyCycles)
	if fc.CSActiveLow != nil {
		cfg.CSActiveLow = *fc.CSActiveLow
	}
	if fc.HoldActiveLow != nil {
		cfg.HoldActiveLow = *fc.HoldActiveLow
	}
	if fc.Verify != nil {
		cfg.Verify = *fc.Verify
	}
	if fc.DefaultMode != nil {
		cfg.DefaultMode = *fc.DefaultMode
	}
	if fc.BitOrder != nil {
		cfg.BitOrder = *fc.BitOrder
	}
	if fc.ClockFrequency != nil {
		if err := cfg.ClockFrequency.Set(*fc.ClockFrequency); err != nil {
			return fmt.Errorf("%w: clock_frequency: %w", ErrInvalidConfig, err)
		}
	}
	if fc.HoldSettle != nil {
		d, err := time.ParseDuration(*fc.HoldSettle)
		if err != nil {
			return fmt.Errorf("%w: hold_settle: %w", ErrInvalidConfig, err)
		}
		cfg.HoldSettle = d
	}
	return nil
}

func setInt(dst, src *int) {
	if src != nil {
		*dst = *src
	}
}

// ApplyEnv overrides fields from OSPI_MODE, OSPI_CS_ACTIVE_LOW and
// OSPI_CLOCK_FREQUENCY when they are set.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("OSPI_MODE"); v != "" {
		m, err := ParseMode(v)
		if err != nil {
			return fmt.Errorf("OSPI_MODE: %w", err)
		}
		c.DefaultMode = m
	}
	if v := os.Getenv("OSPI_CS_ACTIVE_LOW"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: OSPI_CS_ACTIVE_LOW: %w", ErrInvalidConfig, err)
		}
		c.CSActiveLow = b
	}
	if v := os.Getenv("OSPI_CLOCK_FREQUENCY"); v != "" {
		if err := c.ClockFrequency.Set(v); err != nil {
			return fmt.Errorf("%w: OSPI_CLOCK_FREQUENCY: %w", ErrInvalidConfig, err)
		}
	}
	return c.Validate()
}
