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
	"errors"
	"fmt"
	"strings"
	"time"
)

// TraceDirection indicates the direction of bus data
type TraceDirection string

const (
	// TraceTX indicates data driven onto the lanes by the controller
	TraceTX TraceDirection = "TX"
	// TraceRX indicates data sampled from the lanes
	TraceRX TraceDirection = "RX"
	// TraceCtl indicates a control-line change (CS, HOLD, turnaround)
	TraceCtl TraceDirection = "CTL"
)

// TraceEntry represents a single phase of a transaction
type TraceEntry struct {
	Timestamp time.Time
	Direction TraceDirection
	Phase     string
	Data      []byte
	Mode      Mode
}

// String formats a trace entry for display
func (e TraceEntry) String() string {
	return fmt.Sprintf("[%s] %s %s/%s: %s",
		e.Timestamp.Format("15:04:05.000"), e.Direction, e.Phase, e.Mode, formatHexBytes(e.Data))
}

// TraceableError wraps an error with the phases of the transaction that
// failed. Use errors.As to get at it:
//
//	var te *ospi.TraceableError
//	if errors.As(err, &te) {
//	    log.Printf("Bus trace:\n%s", te.FormatTrace())
//	}
type TraceableError struct {
	Err   error
	Bus   string
	Trace []TraceEntry
}

// Error implements the error interface
func (e *TraceableError) Error() string {
	return e.Err.Error()
}

// Unwrap returns the underlying error for errors.Is/As compatibility
func (e *TraceableError) Unwrap() error {
	return e.Err
}

// FormatTrace returns a human-readable formatted trace log
func (e *TraceableError) FormatTrace() string {
	if len(e.Trace) == 0 {
		return fmt.Sprintf("[%s] (no trace data)", e.Bus)
	}

	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "[%s] Bus trace (%d entries):\n", e.Bus, len(e.Trace))
	for _, entry := range e.Trace {
		arrow := ">"
		switch entry.Direction {
		case TraceRX:
			arrow = "<"
		case TraceCtl:
			arrow = "|"
		}
		_, _ = fmt.Fprintf(&sb, "  %s %-5s %-6s %s\n", arrow, entry.Phase, entry.Mode, formatHexBytes(entry.Data))
	}
	return sb.String()
}

// formatHexBytes formats a byte slice as space-separated hex values
func formatHexBytes(data []byte) string {
	if len(data) == 0 {
		return "(empty)"
	}
	limit := min(len(data), 32)
	parts := make([]string, limit)
	for i := range limit {
		parts[i] = fmt.Sprintf("%02X", data[i])
	}
	out := strings.Join(parts, " ")
	if len(data) > limit {
		out += fmt.Sprintf(" ... (%d bytes total)", len(data))
	}
	return out
}

// TraceBuffer collects trace entries during one transaction.
// It keeps at most maxSize entries, evicting the oldest.
type TraceBuffer struct {
	bus     string
	entries []TraceEntry
	maxSize int
}

// NewTraceBuffer creates a new trace buffer with the specified capacity
func NewTraceBuffer(bus string, maxSize int) *TraceBuffer {
	if maxSize <= 0 {
		maxSize = 16
	}
	return &TraceBuffer{
		entries: make([]TraceEntry, 0, maxSize),
		maxSize: maxSize,
		bus:     bus,
	}
}

// RecordTX records bytes driven onto the lanes
func (tb *TraceBuffer) RecordTX(phase string, m Mode, data []byte) {
	tb.record(TraceTX, phase, m, data)
}

// RecordRX records bytes sampled from the lanes
func (tb *TraceBuffer) RecordRX(phase string, m Mode, data []byte) {
	tb.record(TraceRX, phase, m, data)
}

// RecordControl records a control-line event such as CS assertion
func (tb *TraceBuffer) RecordControl(phase string, m Mode) {
	tb.record(TraceCtl, phase, m, nil)
}

func (tb *TraceBuffer) record(dir TraceDirection, phase string, m Mode, data []byte) {
	if tb == nil {
		return
	}
	entry := TraceEntry{
		Direction: dir,
		Phase:     phase,
		Mode:      m,
		Data:      append([]byte(nil), data...),
		Timestamp: time.Now(),
	}

	if len(tb.entries) >= tb.maxSize {
		copy(tb.entries, tb.entries[1:])
		tb.entries[len(tb.entries)-1] = entry
	} else {
		tb.entries = append(tb.entries, entry)
	}
}

// Entries returns a copy of the recorded entries.
func (tb *TraceBuffer) Entries() []TraceEntry {
	if tb == nil {
		return nil
	}
	return append([]TraceEntry(nil), tb.entries...)
}

// WrapError wraps an error with the collected trace data.
// Returns nil if err is nil.
func (tb *TraceBuffer) WrapError(err error) error {
	if err == nil {
		return nil
	}
	if tb == nil {
		return err
	}
	return &TraceableError{
		Err:   err,
		Trace: tb.Entries(),
		Bus:   tb.bus,
	}
}

// Clear resets the trace buffer
func (tb *TraceBuffer) Clear() {
	tb.entries = tb.entries[:0]
}

// HasTrace checks if an error contains trace data
func HasTrace(err error) bool {
	var te *TraceableError
	return errors.As(err, &te)
}

// GetTrace extracts trace data from an error, returning nil if not present
func GetTrace(err error) *TraceableError {
	var te *TraceableError
	if errors.As(err, &te) {
		return te
	}
	return nil
}
