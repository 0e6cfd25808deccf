// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package backoff implements exponential backoff with jitter, shared by
// the stream reconnect path and the orchestrator retry path.
package backoff

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy describes a retry schedule.
type Policy struct {
	// MaxAttempts is the total attempt budget, including the first try.
	MaxAttempts int

	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration

	// MaxDelay caps the computed delay.
	MaxDelay time.Duration

	// Multiplier grows the delay per attempt. Must be >= 1.
	Multiplier float64

	// Jitter is the random fraction added to each delay, in [0,1].
	// A delay d becomes d + rand(0, d*Jitter).
	Jitter float64
}

// DefaultPolicy returns a conservative schedule.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.2,
	}
}

// Delay computes the wait before retry number attempt (1-based: the
// delay after the first failure is Delay(1)).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if max := float64(p.MaxDelay); p.MaxDelay > 0 && d > max {
		d = max
	}
	if p.Jitter > 0 {
		d += rand.Float64() * d * p.Jitter
	}
	return time.Duration(d)
}

// Retry runs fn until it succeeds, exhausts the attempt budget, the
// error is not retryable, or ctx is canceled.
//
// Inputs:
//
//	ctx - Cancellation signal; honored between attempts.
//	fn - The operation. Receives the 1-based attempt number.
//	retryable - Classifies errors; nil retries everything.
//
// Outputs:
//
//	error - nil on success, ctx.Err() on cancellation, otherwise the
//	  last attempt's error.
func Retry(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error, retryable func(error) bool) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx, attempt); err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		select {
		case <-time.After(p.Delay(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
