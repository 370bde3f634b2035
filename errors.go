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
	"bytes"
	"errors"
	"fmt"
	"io"
	"runtime"
	"syscall"
)

// Error categories for the codec, the frame builder and the bus bindings
var (
	// Codec errors - never retryable, they indicate a caller or driver bug
	ErrUnsupportedMode = errors.New("unsupported mode")
	ErrFrameUnderrun   = errors.New("frame underrun")
	ErrLaneWidth       = errors.New("lane vector width does not match mode")

	// Sampling errors - potentially retryable
	ErrIndeterminateLane = errors.New("indeterminate lane value")
	ErrVerifyMismatch    = errors.New("write verification failed: data mismatch")

	// Configuration errors - not retryable
	ErrCapabilityUnavailable = errors.New("bus capability unavailable")
	ErrOpcodeUnmapped        = errors.New("no opcode mapped for operation")
	ErrAddressWidth          = errors.New("address does not fit address width")
	ErrInvalidConfig         = errors.New("invalid configuration")
	ErrInvalidFrame          = errors.New("invalid frame")

	// Bus errors
	ErrBusClosed    = errors.New("bus is closed")
	ErrBusWrite     = errors.New("bus write failed")
	ErrBusRead      = errors.New("bus read failed")
	ErrClockTimeout = errors.New("timed out waiting for clock edge")
)

// ErrorType represents the category of error for retry logic
type ErrorType int

const (
	// ErrorTypeTransient indicates a potentially retryable error
	ErrorTypeTransient ErrorType = iota
	// ErrorTypePermanent indicates a non-retryable error
	ErrorTypePermanent
	// ErrorTypeTimeout indicates a timeout error (special handling)
	ErrorTypeTimeout
)

// BusError wraps bus-binding errors with additional context
type BusError struct {
	Err       error     // Underlying error
	Op        string    // Operation that failed
	Bus       string    // Bus or port identifier
	Type      ErrorType // Error category
	Retryable bool      // Whether the error is retryable
}

func (e *BusError) Error() string {
	if e.Bus != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Bus, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *BusError) Unwrap() error {
	return e.Err
}

// IndeterminateLaneError reports a sampled lane that was neither 0 nor 1.
type IndeterminateLaneError struct {
	Lane  int
	Cycle int
	Level Level
}

func (e *IndeterminateLaneError) Error() string {
	return fmt.Sprintf("%v: lane %d read %q on cycle %d", ErrIndeterminateLane, e.Lane, e.Level.String(), e.Cycle)
}

// Is makes errors.Is(err, ErrIndeterminateLane) match.
func (*IndeterminateLaneError) Is(target error) bool {
	return target == ErrIndeterminateLane
}

// VerifyMismatchError carries the written and read-back payloads of a failed
// write verification.
type VerifyMismatchError struct {
	Expected []byte
	Actual   []byte
	Address  uint32
	Mode     Mode
}

func (e *VerifyMismatchError) Error() string {
	return fmt.Sprintf("%v at 0x%08X (%s): expected %s, got %s",
		ErrVerifyMismatch, e.Address, e.Mode, formatHexBytes(e.Expected), formatHexBytes(e.Actual))
}

// Is makes errors.Is(err, ErrVerifyMismatch) match.
func (*VerifyMismatchError) Is(target error) bool {
	return target == ErrVerifyMismatch
}

// FirstDifference returns the offset of the first differing byte, or -1.
func (e *VerifyMismatchError) FirstDifference() int {
	n := min(len(e.Expected), len(e.Actual))
	for i := range n {
		if e.Expected[i] != e.Actual[i] {
			return i
		}
	}
	if len(e.Expected) != len(e.Actual) {
		return n
	}
	return -1
}

func newVerifyMismatch(addr uint32, m Mode, expected, actual []byte) error {
	if bytes.Equal(expected, actual) {
		return nil
	}
	return &VerifyMismatchError{
		Address:  addr,
		Mode:     m,
		Expected: bytes.Clone(expected),
		Actual:   bytes.Clone(actual),
	}
}

// IsRetryable returns true if the error is potentially retryable.
// Nothing in this package retries on its own; see Retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var be *BusError
	if errors.As(err, &be) {
		return be.Retryable
	}

	switch {
	case errors.Is(err, ErrIndeterminateLane),
		errors.Is(err, ErrVerifyMismatch),
		errors.Is(err, ErrBusRead),
		errors.Is(err, ErrBusWrite),
		errors.Is(err, ErrClockTimeout):
		return true
	default:
		return false
	}
}

// IsFatal returns true if the error indicates the bus binding is gone and
// no further transactions can succeed on it.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var be *BusError
	if errors.As(err, &be) && be.Type == ErrorTypePermanent {
		return true
	}

	if isDeviceGoneError(err) {
		return true
	}

	switch {
	case errors.Is(err, ErrBusClosed),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrClosedPipe):
		return true
	default:
		return false
	}
}

// Windows error codes for adapter disconnection detection.
const (
	errAccessDenied syscall.Errno = 5   // ERROR_ACCESS_DENIED
	errGenFailure   syscall.Errno = 31  // ERROR_GEN_FAILURE
	errNoSuchDevice syscall.Errno = 433 // ERROR_NO_SUCH_DEVICE
)

// isDeviceGoneError checks for OS-level errors raised when a USB bridge
// or GPIO chip disappears mid-transfer.
func isDeviceGoneError(err error) bool {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false
	}

	//nolint:exhaustive // Only checking specific device-gone errors, not all errno values
	switch errno {
	case syscall.EIO, syscall.ENXIO, syscall.ENODEV:
		return true
	}

	if runtime.GOOS == "windows" {
		//nolint:exhaustive // Only checking specific device-gone errors, not all errno values
		switch errno {
		case errAccessDenied, errGenFailure, errNoSuchDevice:
			return true
		}
	}
	return false
}

// NewBusError creates a bus error with consistent formatting
func NewBusError(op, bus string, err error, errType ErrorType) *BusError {
	return &BusError{
		Op:        op,
		Bus:       bus,
		Err:       err,
		Type:      errType,
		Retryable: errType == ErrorTypeTransient || errType == ErrorTypeTimeout,
	}
}

// NewBusWriteError creates a write error (transient)
func NewBusWriteError(op, bus string, cause error) *BusError {
	return NewBusError(op, bus, fmt.Errorf("%w: %w", ErrBusWrite, cause), ErrorTypeTransient)
}

// NewBusReadError creates a read error (transient)
func NewBusReadError(op, bus string, cause error) *BusError {
	return NewBusError(op, bus, fmt.Errorf("%w: %w", ErrBusRead, cause), ErrorTypeTransient)
}

// NewClockTimeoutError creates a clock timeout error
func NewClockTimeoutError(op, bus string) *BusError {
	return NewBusError(op, bus, ErrClockTimeout, ErrorTypeTimeout)
}

// NewBusClosedError creates a closed-bus error (permanent)
func NewBusClosedError(op, bus string) *BusError {
	return NewBusError(op, bus, ErrBusClosed, ErrorTypePermanent)
}
