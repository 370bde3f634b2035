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
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

const defaultTerminalWidth = 80

// terminalWidth returns the column count of w if it is a terminal.
func terminalWidth(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok {
		return defaultTerminalWidth
	}
	fd := int(f.Fd()) // #nosec G115 -- file descriptors fit in int
	if !term.IsTerminal(fd) {
		return defaultTerminalWidth
	}
	width, _, err := term.GetSize(fd)
	if err != nil || width <= 0 {
		return defaultTerminalWidth
	}
	return width
}

// bytesPerRow picks the widest row of 8, 16 or 32 bytes that fits width.
// A row of n bytes takes 14+4n columns.
func bytesPerRow(width int) int {
	for _, n := range []int{32, 16} {
		if 14+4*n <= width {
			return n
		}
	}
	return 8
}

// hexDump writes data as "ADDRESS  HEX  |ASCII|" rows.
func hexDump(w io.Writer, base uint32, data []byte, perRow int) {
	for off := 0; off < len(data); off += perRow {
		end := min(off+perRow, len(data))
		row := data[off:end]

		var ascii strings.Builder
		for _, b := range row {
			if b >= 0x20 && b < 0x7F {
				_ = ascii.WriteByte(b)
			} else {
				_ = ascii.WriteByte('.')
			}
		}
		hexPart := fmt.Sprintf("% X", row)
		pad := strings.Repeat(" ", 3*perRow-1-len(hexPart))
		_, _ = fmt.Fprintf(w, "%08X  %s%s  |%s|\n", base+uint32(off), hexPart, pad, ascii.String())
	}
}
