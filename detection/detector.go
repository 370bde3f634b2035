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

// Package detection finds bridge adapters attached to the host.
//
// Each bus binding that can be discovered registers a Detector on import.
// DetectAll runs the registered detectors in parallel, filters what they
// report through the blocklist and ignored ports, and remembers adapters per
// port so repeated lookups within CacheTTL do not write to the ports again.
package detection

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/ZaparooProject/go-ospi/internal/syncutil"
)

// Mode is how far detection may go to identify an adapter.
type Mode int

const (
	// Passive reads port descriptors and never opens a port.
	Passive Mode = iota
	// Safe sends the bridge handshake to ports whose USB IDs match a known bridge chip.
	Safe
	// Full sends the handshake to every port that is not filtered out.
	Full
)

// String returns "passive", "safe" or "full".
func (m Mode) String() string {
	switch m {
	case Passive:
		return "passive"
	case Safe:
		return "safe"
	case Full:
		return "full"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Confidence is how sure a detector is that a port carries a bridge.
type Confidence int

const (
	// Low means only that the port exists.
	Low Confidence = iota
	// Medium means the USB IDs belong to a chip bridge boards are built on.
	Medium
	// High means the adapter answered the handshake.
	High
)

// String returns "low", "medium" or "high".
func (c Confidence) String() string {
	switch c {
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	default:
		return "unknown"
	}
}

// Capabilities are the optional lines an adapter reported in its handshake.
type Capabilities uint8

const (
	// CapHold means the adapter has the HOLD line wired.
	CapHold Capabilities = 1 << iota
)

// Has reports whether every bit of want is set.
func (c Capabilities) Has(want Capabilities) bool {
	return c&want == want
}

// String lists the capabilities by name, or "none".
func (c Capabilities) String() string {
	if c.Has(CapHold) {
		return "hold"
	}
	return "none"
}

// Adapter is one port that may carry a bridge adapter.
type Adapter struct {
	// Binding is the bus binding the adapter is used with, e.g. "serial"
	Binding string
	// Port is the OS name of the port, e.g. "/dev/ttyUSB0" or "COM3"
	Port string
	// Product is the USB product string or the bridge chip name
	Product string
	// SerialNumber is the USB serial number, if any
	SerialNumber string
	// USB is the vendor and product ID; zero for non-USB ports
	USB USBID
	// ProtocolVersion is what the handshake reported; 0 if it never answered
	ProtocolVersion int
	// Capabilities are valid only when the adapter answered
	Capabilities Capabilities
	// Confidence is how sure the detector is
	Confidence Confidence
}

// Answered reports whether the adapter answered a handshake.
func (a Adapter) Answered() bool {
	return a.ProtocolVersion > 0
}

// String returns a one-line description for listings and logs.
func (a Adapter) String() string {
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "%s %s", a.Binding, a.Port)
	if !a.USB.IsZero() {
		_, _ = fmt.Fprintf(&sb, " [%s]", a.USB)
	}
	if a.Product != "" {
		_, _ = fmt.Fprintf(&sb, " %s", a.Product)
	}
	if a.Answered() {
		_, _ = fmt.Fprintf(&sb, " bridge v%d, %s", a.ProtocolVersion, a.Capabilities)
	}
	_, _ = fmt.Fprintf(&sb, " (confidence %s)", a.Confidence)
	return sb.String()
}

// Options configures DetectAll.
type Options struct {
	// Bindings limits detection to these detectors (empty means all)
	Bindings []string
	// Blocklist holds USB IDs that are never reported or opened
	Blocklist []USBID
	// IgnorePorts holds port names that are never reported or opened
	IgnorePorts []string
	// Timeout bounds the whole search (0 means no bound beyond ctx)
	Timeout time.Duration
	// CacheTTL is how long results are reused (0 disables the cache)
	CacheTTL time.Duration
	// Mode selects how far detection may go
	Mode Mode
}

// DefaultOptions handshakes likely ports and caches results for 30 seconds.
func DefaultOptions() Options {
	return Options{
		Mode:      Safe,
		Timeout:   5 * time.Second,
		Blocklist: DefaultBlocklist(),
		CacheTTL:  30 * time.Second,
	}
}

// Detector finds adapters for one bus binding.
type Detector interface {
	// Binding returns the bus binding name the detector reports
	Binding() string
	// Detect returns the adapters it found, or ErrNoAdapters
	Detect(ctx context.Context, opts *Options) ([]Adapter, error)
}

// Errors
var (
	// ErrNoAdapters means no detector found anything
	ErrNoAdapters = errors.New("no bridge adapters found")
	// ErrTimeout means detection did not finish in time
	ErrTimeout = errors.New("adapter detection timed out")
	// ErrNoDetectors means no detector is registered for the requested bindings
	ErrNoDetectors = errors.New("no detectors registered")
)

var (
	registryMu syncutil.Mutex
	registry   []Detector
)

// Register adds d to the detectors DetectAll runs. A detector registered
// under a binding that is already present replaces the old one.
func Register(d Detector) {
	registryMu.Lock()
	defer registryMu.Unlock()
	for i, existing := range registry {
		if existing.Binding() == d.Binding() {
			registry[i] = d
			return
		}
	}
	registry = append(registry, d)
}

func detectorsFor(bindings []string) []Detector {
	registryMu.Lock()
	defer registryMu.Unlock()
	var out []Detector
	for _, d := range registry {
		if len(bindings) == 0 || slices.Contains(bindings, d.Binding()) {
			out = append(out, d)
		}
	}
	return out
}

type scan struct {
	err      error
	adapters []Adapter
}

// DetectAll runs the selected detectors and returns every adapter found,
// most confident first. A detector that fails does not hide what the others
// found; its error is returned only when nothing was found at all.
func DetectAll(ctx context.Context, opts *Options) ([]Adapter, error) {
	if opts == nil {
		def := DefaultOptions()
		opts = &def
	}
	detectors := detectorsFor(opts.Bindings)
	if len(detectors) == 0 {
		return nil, fmt.Errorf("%w: %v", ErrNoDetectors, opts.Bindings)
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	scans := make(chan scan, len(detectors))
	for _, d := range detectors {
		go func() { scans <- runDetector(ctx, d, opts) }()
	}

	var found []Adapter
	var errs []error
	for range detectors {
		select {
		case s := <-scans:
			if s.err != nil {
				if ctx.Err() != nil {
					return nil, fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
				}
				errs = append(errs, s.err)
				continue
			}
			found = append(found, s.adapters...)
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
		}
	}

	if len(found) == 0 {
		if len(errs) > 0 {
			return nil, errors.Join(errs...)
		}
		return nil, ErrNoAdapters
	}
	sortAdapters(found)
	return found, nil
}

func runDetector(ctx context.Context, d Detector, opts *Options) scan {
	binding := d.Binding()
	if opts.CacheTTL > 0 {
		if cached, ok := adapters.lookup(binding, opts.Mode != Passive, opts.CacheTTL); ok {
			return scan{adapters: opts.filter(cached)}
		}
	}

	found, err := d.Detect(ctx, opts)
	if err != nil && !errors.Is(err, ErrNoAdapters) {
		return scan{err: fmt.Errorf("%s: %w", binding, err)}
	}
	if opts.CacheTTL > 0 {
		adapters.replace(binding, found)
	}
	return scan{adapters: found}
}

func sortAdapters(list []Adapter) {
	slices.SortStableFunc(list, func(a, b Adapter) int {
		if a.Confidence != b.Confidence {
			return int(b.Confidence) - int(a.Confidence)
		}
		if c := strings.Compare(a.Binding, b.Binding); c != 0 {
			return c
		}
		return strings.Compare(a.Port, b.Port)
	})
}

// Best returns the first adapter in list that answered the handshake.
func Best(list []Adapter) (Adapter, bool) {
	for _, a := range list {
		if a.Confidence == High {
			return a, true
		}
	}
	return Adapter{}, false
}
