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
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"time"
)

// RetryConfig configures the caller-level retry policy. The controller never
// retries on its own; wrap Write or Read in Retry to opt in.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (0 = run once, no retry)
	MaxAttempts int
	// InitialBackoff is the delay after the first failure
	InitialBackoff time.Duration
	// MaxBackoff caps the delay between attempts
	MaxBackoff time.Duration
	// BackoffMultiplier is the factor by which the backoff grows
	BackoffMultiplier float64
	// Jitter adds up to this fraction of the backoff at random
	Jitter float64
	// RetryTimeout bounds all attempts together (0 = no bound)
	RetryTimeout time.Duration
	// OnRetry, if set, is called before each retry with the failed attempt
	// number (starting at 1) and its error. A caller can reset the bus here.
	OnRetry func(attempt int, err error)
}

// DefaultRetryConfig returns the policy ospictl uses for --retries.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       DefaultTransactionRetries,
		InitialBackoff:    TransactionInitialBackoff,
		MaxBackoff:        TransactionMaxBackoff,
		BackoffMultiplier: TransactionBackoffMultiplier,
		Jitter:            TransactionJitter,
		RetryTimeout:      TransactionRetryTimeout,
	}
}

// RetryableFunc is one attempt of a retried operation
type RetryableFunc func(ctx context.Context) error

// Retry runs fn until it succeeds, returns an error IsRetryable rejects,
// or the attempts or the timeout run out. The last error is returned.
func Retry(ctx context.Context, config *RetryConfig, fn RetryableFunc) error {
	if config == nil {
		config = DefaultRetryConfig()
	}
	if config.MaxAttempts <= 0 {
		return fn(ctx)
	}

	retryCtx, cancel := setupRetryContext(ctx, config)
	defer cancel()
	return executeWithRetry(retryCtx, config, fn)
}

// RetryWrite writes data through c under the retry policy, resetting the bus
// between attempts so a half-sent frame cannot leak into the next one.
func RetryWrite(ctx context.Context, c *Controller, config *RetryConfig, addr uint32, data []byte, m Mode) error {
	return Retry(ctx, withBusReset(c, config), func(ctx context.Context) error {
		return c.Write(ctx, addr, data, m)
	})
}

// RetryRead reads through c under the retry policy.
func RetryRead(ctx context.Context, c *Controller, config *RetryConfig, addr uint32, n int, m Mode) ([]byte, error) {
	var out []byte
	err := Retry(ctx, withBusReset(c, config), func(ctx context.Context) error {
		data, err := c.Read(ctx, addr, n, m)
		if err != nil {
			return err
		}
		out = data
		return nil
	})
	return out, err
}

func withBusReset(c *Controller, config *RetryConfig) *RetryConfig {
	if config == nil {
		config = DefaultRetryConfig()
	}
	cfg := *config
	next := config.OnRetry
	cfg.OnRetry = func(attempt int, err error) {
		Debugf("ospi: attempt %d failed, resetting bus: %v", attempt, err)
		if resetErr := c.ResetBus(); resetErr != nil {
			Debugf("ospi: bus reset failed: %v", resetErr)
		}
		if next != nil {
			next(attempt, err)
		}
	}
	return &cfg
}

func setupRetryContext(ctx context.Context, config *RetryConfig) (context.Context, context.CancelFunc) {
	if config.RetryTimeout > 0 {
		return context.WithTimeout(ctx, config.RetryTimeout)
	}
	return ctx, func() {}
}

func executeWithRetry(ctx context.Context, config *RetryConfig, fn RetryableFunc) error {
	var lastErr error
	backoff := config.InitialBackoff

	for attempt := range config.MaxAttempts {
		if err := checkContextCancellation(ctx, lastErr); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
		lastErr = err

		if attempt < config.MaxAttempts-1 {
			if config.OnRetry != nil {
				config.OnRetry(attempt+1, err)
			}
			sleep := calculateJitteredSleep(backoff, config.Jitter)
			if err := sleepWithContext(ctx, sleep, lastErr); err != nil {
				return err
			}
			backoff = calculateNextBackoff(backoff, config)
		}
	}

	return lastErr
}

func checkContextCancellation(ctx context.Context, lastErr error) error {
	select {
	case <-ctx.Done():
		if lastErr != nil {
			return lastErr
		}
		return fmt.Errorf("retry context cancelled: %w", ctx.Err())
	default:
		return nil
	}
}

func sleepWithContext(ctx context.Context, sleep time.Duration, lastErr error) error {
	if err := sleepContext(ctx, sleep); err != nil {
		return lastErr
	}
	return nil
}

func calculateNextBackoff(backoff time.Duration, config *RetryConfig) time.Duration {
	next := time.Duration(float64(backoff) * config.BackoffMultiplier)
	if next > config.MaxBackoff {
		return config.MaxBackoff
	}
	return next
}

// calculateJitteredSleep adds up to jitterFactor*baseSleep of random delay
func calculateJitteredSleep(baseSleep time.Duration, jitterFactor float64) time.Duration {
	if jitterFactor <= 0 {
		return baseSleep
	}
	var randBytes [8]byte
	if _, err := rand.Read(randBytes[:]); err != nil {
		return baseSleep
	}
	randFloat := float64(binary.LittleEndian.Uint64(randBytes[:])) / float64(1<<64)
	return baseSleep + time.Duration(randFloat*float64(baseSleep)*jitterFactor)
}
