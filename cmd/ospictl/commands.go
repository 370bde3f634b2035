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

package main

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/ZaparooProject/go-ospi"
	"github.com/ZaparooProject/go-ospi/detection"
	"github.com/spf13/cobra"
)

func parseAddress(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return uint32(v), nil
}

func parseLength(s string) (int, error) {
	n, err := strconv.ParseUint(s, 0, 31)
	if err != nil {
		return 0, fmt.Errorf("invalid length %q: %w", s, err)
	}
	return int(n), nil
}

// parseHexData joins args and decodes them, ignoring spaces, colons and a
// leading 0x.
func parseHexData(args []string) ([]byte, error) {
	s := strings.Join(args, "")
	s = strings.TrimPrefix(strings.ToLower(s), "0x")
	s = strings.NewReplacer(" ", "", ":", "").Replace(s)
	data, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex data: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: no data to write", ospi.ErrInvalidFrame)
	}
	return data, nil
}

func newWriteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "write ADDR HEX...",
		Short: "Program bytes at an address",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := parseAddress(args[0])
			if err != nil {
				return err
			}
			data, err := parseHexData(args[1:])
			if err != nil {
				return err
			}
			c, err := a.controller(cmd.Context())
			if err != nil {
				return err
			}
			defer closeController(a, c)

			m := c.DefaultMode()
			if a.opts.retries > 0 {
				err = ospi.RetryWrite(cmd.Context(), c, a.retryConfig(), addr, data, m)
			} else {
				err = c.Write(cmd.Context(), addr, data, m)
			}
			if err != nil {
				return err
			}
			a.log.Infof("wrote %d bytes at 0x%08X (%s)", len(data), addr, m)
			return nil
		},
	}
}

func newReadCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "read ADDR LEN",
		Short: "Read bytes and print a hex dump",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, n, err := parseRange(args)
			if err != nil {
				return err
			}
			c, err := a.controller(cmd.Context())
			if err != nil {
				return err
			}
			defer closeController(a, c)

			var data []byte
			if a.opts.retries > 0 {
				data, err = ospi.RetryRead(cmd.Context(), c, a.retryConfig(), addr, n, c.DefaultMode())
			} else {
				data, err = c.Read(cmd.Context(), addr, n, c.DefaultMode())
			}
			if err != nil {
				return err
			}
			hexDump(a.out, addr, data, bytesPerRow(terminalWidth(a.out)))
			return nil
		},
	}
}

func newFastReadCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "fast-read ADDR LEN",
		Short: "Read with the fast-read opcode and dummy cycles",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, n, err := parseRange(args)
			if err != nil {
				return err
			}
			c, err := a.controller(cmd.Context())
			if err != nil {
				return err
			}
			defer closeController(a, c)

			data, err := c.FastRead(cmd.Context(), addr, n, c.DefaultMode())
			if err != nil {
				return err
			}
			hexDump(a.out, addr, data, bytesPerRow(terminalWidth(a.out)))
			return nil
		},
	}
}

func parseRange(args []string) (uint32, int, error) {
	addr, err := parseAddress(args[0])
	if err != nil {
		return 0, 0, err
	}
	n, err := parseLength(args[1])
	if err != nil {
		return 0, 0, err
	}
	return addr, n, nil
}

func newEraseCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "erase ADDR",
		Short: "Erase the sector containing an address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := parseAddress(args[0])
			if err != nil {
				return err
			}
			c, err := a.controller(cmd.Context())
			if err != nil {
				return err
			}
			defer closeController(a, c)

			if err := c.Erase(cmd.Context(), addr, c.DefaultMode()); err != nil {
				return err
			}
			a.log.Infof("erased sector at 0x%08X", addr)
			return nil
		},
	}
}

func newIDCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "id",
		Short: "Print the JEDEC ID",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.controller(cmd.Context())
			if err != nil {
				return err
			}
			defer closeController(a, c)

			id, err := c.ReadID(cmd.Context(), c.DefaultMode())
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(a.out, "JEDEC ID: % X\n", id)
			return nil
		},
	}
}

// selfTestPattern returns n bytes that differ per mode and per position
func selfTestPattern(m ospi.Mode, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i*17) ^ byte(m+1)*0x5A
	}
	return out
}

func newSelfTestCmd(a *app) *cobra.Command {
	var base string
	cmd := &cobra.Command{
		Use:   "selftest",
		Short: "Erase a sector and round-trip a pattern in every mode",
		Long: "Erases the sector at --addr, then writes a pattern in each mode and reads it back\n" +
			"in the same mode, in single mode and with fast read. Destroys the sector's contents.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr, err := parseAddress(base)
			if err != nil {
				return err
			}
			c, err := a.controller(cmd.Context())
			if err != nil {
				return err
			}
			defer closeController(a, c)
			return runSelfTest(cmd, a, c, addr)
		},
	}
	cmd.Flags().StringVar(&base, "addr", "0x0", "sector to use")
	return cmd
}

const selfTestChunk = 16

func runSelfTest(cmd *cobra.Command, a *app, c *ospi.Controller, base uint32) error {
	ctx := cmd.Context()
	if err := c.Erase(ctx, base, ospi.ModeSingle); err != nil {
		return fmt.Errorf("selftest erase: %w", err)
	}

	failures := 0
	for i, m := range ospi.Modes {
		addr := base + uint32(i*selfTestChunk)
		want := selfTestPattern(m, selfTestChunk)
		status := "ok"
		if err := checkMode(cmd, c, addr, m, want); err != nil {
			status = "FAIL: " + err.Error()
			failures++
		}
		_, _ = fmt.Fprintf(a.out, "%-6s 0x%08X %s\n", m, addr, status)
	}
	if id, err := c.ReadID(ctx, ospi.ModeSingle); err == nil {
		_, _ = fmt.Fprintf(a.out, "JEDEC ID: % X\n", id)
	} else {
		a.log.Warnf("read ID: %v", err)
	}
	if failures > 0 {
		return fmt.Errorf("selftest: %d of %d modes failed", failures, len(ospi.Modes))
	}
	return nil
}

func checkMode(cmd *cobra.Command, c *ospi.Controller, addr uint32, m ospi.Mode, want []byte) error {
	ctx := cmd.Context()
	if err := c.Write(ctx, addr, want, m); err != nil {
		return err
	}
	reads := []struct {
		read func() ([]byte, error)
		name string
	}{
		{name: "read", read: func() ([]byte, error) { return c.Read(ctx, addr, len(want), m) }},
		{name: "single read", read: func() ([]byte, error) { return c.Read(ctx, addr, len(want), ospi.ModeSingle) }},
		{name: "fast read", read: func() ([]byte, error) { return c.FastRead(ctx, addr, len(want), m) }},
	}
	for _, r := range reads {
		got, err := r.read()
		if err != nil {
			return fmt.Errorf("%s: %w", r.name, err)
		}
		if !bytes.Equal(got, want) {
			return fmt.Errorf("%s: got % X, want % X", r.name, got, want)
		}
	}
	return nil
}

func newPortsCmd(a *app) *cobra.Command {
	var passive bool
	cmd := &cobra.Command{
		Use:   "ports",
		Short: "List serial ports that may carry a bridge adapter",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := detection.DefaultOptions()
			opts.CacheTTL = 0
			if passive {
				opts.Mode = detection.Passive
			}
			devices, err := detection.DetectAll(cmd.Context(), &opts)
			if err != nil {
				return err
			}
			for _, d := range devices {
				_, _ = fmt.Fprintln(a.out, d.String())
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&passive, "passive", false, "only read port descriptors, do not open ports")
	return cmd
}
