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

// Package serial detects bit-bang bridge adapters on serial ports. Importing
// it registers the detector with the detection package.
package serial

import (
	"context"
	"fmt"
	"time"

	"github.com/ZaparooProject/go-ospi"
	"github.com/ZaparooProject/go-ospi/detection"
	"github.com/ZaparooProject/go-ospi/internal/bridge"
	serialbus "github.com/ZaparooProject/go-ospi/transport/serial"
	"go.bug.st/serial/enumerator"
)

// Binding is the binding name detected adapters carry.
const Binding = string(ospi.BusSerial)

const handshakeTimeout = 2 * time.Second

// handshake is what a bridge said in its sync reply.
type handshake struct {
	version byte
	caps    byte
}

// Replaced in tests.
var (
	listPorts = enumeratePorts
	shake     = syncBridge
)

type detector struct{}

// New returns the serial bridge detector.
func New() detection.Detector {
	return detector{}
}

func init() {
	detection.Register(New())
}

// Binding implements detection.Detector
func (detector) Binding() string {
	return Binding
}

// Detect implements detection.Detector. Ports are filtered before they are
// opened; a port that does not answer the handshake is left out.
func (detector) Detect(ctx context.Context, opts *detection.Options) ([]detection.Adapter, error) {
	ports, err := listPorts()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}

	var found []detection.Adapter
	for _, a := range ports {
		if ctx.Err() != nil {
			break
		}
		if !opts.Allows(a) {
			continue
		}
		chip, known := bridgeChips[a.USB]
		if known {
			a.Confidence = detection.Medium
			if a.Product == "" {
				a.Product = chip
			}
		}
		if !known && opts.Mode != detection.Full {
			continue
		}
		if opts.Mode == detection.Passive {
			found = append(found, a)
			continue
		}

		hctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
		reply, err := shake(hctx, a.Port)
		cancel()
		if err != nil {
			ospi.Debugf("detection: %s: %v", a.Port, err)
			continue
		}
		a.ProtocolVersion = int(reply.version)
		a.Capabilities = capabilities(reply.caps)
		a.Confidence = detection.High
		found = append(found, a)
	}

	if len(found) == 0 {
		return nil, detection.ErrNoAdapters
	}
	return found, nil
}

func capabilities(bits byte) detection.Capabilities {
	var c detection.Capabilities
	if bits&bridge.CapHold != 0 {
		c |= detection.CapHold
	}
	return c
}

// bridgeChips are the USB-serial chips bridge boards are built on.
var bridgeChips = map[detection.USBID]string{
	{VID: 0x0403, PID: 0x6001}: "FTDI FT232R",
	{VID: 0x0403, PID: 0x6014}: "FTDI FT232H",
	{VID: 0x10C4, PID: 0xEA60}: "Silicon Labs CP210x",
	{VID: 0x1A86, PID: 0x7523}: "QinHeng CH340",
	{VID: 0x2E8A, PID: 0x000A}: "Raspberry Pi RP2040",
	{VID: 0x2341, PID: 0x0043}: "Arduino Uno",
}

func enumeratePorts() ([]detection.Adapter, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("enumerator: %w", err)
	}
	out := make([]detection.Adapter, 0, len(details))
	for _, pd := range details {
		a := detection.Adapter{Binding: Binding, Port: pd.Name}
		if pd.IsUSB {
			if id, err := detection.USBIDFromHex(pd.VID, pd.PID); err == nil {
				a.USB = id
			}
			a.SerialNumber = pd.SerialNumber
			a.Product = pd.Product
		}
		out = append(out, a)
	}
	return out, nil
}

// syncBridge opens port and performs one handshake. Detection never retries:
// a port that is not a bridge should see as few bytes as possible.
func syncBridge(ctx context.Context, port string) (handshake, error) {
	type opened struct {
		bus *serialbus.Bus
		err error
	}
	done := make(chan opened, 1)
	go func() {
		bus, err := serialbus.Open(port)
		done <- opened{bus: bus, err: err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if o := <-done; o.err == nil {
				_ = o.bus.Close()
			}
		}()
		return handshake{}, fmt.Errorf("handshake: %w", ctx.Err())
	case o := <-done:
		if o.err != nil {
			return handshake{}, o.err
		}
		defer func() { _ = o.bus.Close() }()
		return handshake{version: o.bus.BridgeVersion(), caps: o.bus.BridgeCapabilities()}, nil
	}
}
