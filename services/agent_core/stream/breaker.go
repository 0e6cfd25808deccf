// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package stream

import (
	"fmt"
	"sync"
	"time"
)

// BreakerState is the state of a source's circuit breaker.
type BreakerState int

const (
	// BreakerClosed is normal operation.
	BreakerClosed BreakerState = iota

	// BreakerOpen rejects new attempts until the cool-down elapses.
	BreakerOpen

	// BreakerHalfOpen allows a probe attempt after the cool-down.
	BreakerHalfOpen
)

// String returns a human-readable state name.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "CLOSED"
	case BreakerOpen:
		return "OPEN"
	case BreakerHalfOpen:
		return "HALF_OPEN"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// Breaker trips after a configurable count of consecutive failures,
// rejecting new stream attempts for the source until a cool-down
// elapses. A probe attempt is allowed after the cool-down; its outcome
// decides whether the breaker closes again.
//
// Thread Safety: Breaker is safe for concurrent use.
type Breaker struct {
	mu sync.Mutex

	threshold int
	cooldown  time.Duration

	state       BreakerState
	failures    int
	lastFailure time.Time
}

// NewBreaker creates a breaker with the given trip threshold and
// cool-down. Non-positive inputs fall back to defaults.
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		state:     BreakerClosed,
	}
}

// Allow reports whether a new attempt may start.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed, BreakerHalfOpen:
		return true
	case BreakerOpen:
		if time.Since(b.lastFailure) >= b.cooldown {
			b.state = BreakerHalfOpen
			return true
		}
		return false
	}
	return false
}

// RecordSuccess resets the breaker after a successful attempt.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.state = BreakerClosed
}

// RecordFailure counts a failed attempt, tripping the breaker at the
// threshold. A failed half-open probe re-opens immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = time.Now()

	if b.state == BreakerHalfOpen || b.failures >= b.threshold {
		b.state = BreakerOpen
	}
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
