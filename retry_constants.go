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

import "time"

// Transaction retry constants used by DefaultRetryConfig.
const (
	// DefaultTransactionRetries is the number of attempts for a retried transaction.
	DefaultTransactionRetries = 3
	// TransactionInitialBackoff is the delay after the first failed attempt.
	TransactionInitialBackoff = 10 * time.Millisecond
	// TransactionMaxBackoff caps the delay between attempts.
	TransactionMaxBackoff = 200 * time.Millisecond
	// TransactionBackoffMultiplier is the exponential backoff multiplier.
	TransactionBackoffMultiplier = 2.0
	// TransactionJitter is the random jitter factor (0.0-1.0).
	TransactionJitter = 0.1
	// TransactionRetryTimeout bounds all attempts of one retried transaction.
	TransactionRetryTimeout = 5 * time.Second
)

// Serial bridge constants.
const (
	// BridgeBaudRate is the line rate of the bit-bang bridge adapter.
	BridgeBaudRate = 115200
	// BridgeResponseTimeout is how long to wait for a bridge reply byte.
	BridgeResponseTimeout = 250 * time.Millisecond
	// BridgeSyncRetries is the number of attempts to sync with a bridge on open.
	BridgeSyncRetries = 3
)
