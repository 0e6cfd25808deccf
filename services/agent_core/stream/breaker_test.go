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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreakerTripsAtThreshold(t *testing.T) {
	b := NewBreaker(3, time.Hour)

	for i := 0; i < 2; i++ {
		b.RecordFailure()
		assert.True(t, b.Allow())
	}
	b.RecordFailure()

	assert.Equal(t, BreakerOpen, b.State())
	assert.False(t, b.Allow())
}

func TestBreakerSuccessResetsStreak(t *testing.T) {
	b := NewBreaker(3, time.Hour)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()

	assert.True(t, b.Allow())
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreakerHalfOpenAfterCooldown(t *testing.T) {
	b := NewBreaker(1, 10*time.Millisecond)

	b.RecordFailure()
	assert.False(t, b.Allow())

	time.Sleep(15 * time.Millisecond)
	assert.True(t, b.Allow())
	assert.Equal(t, BreakerHalfOpen, b.State())
}

func TestBreakerProbeOutcome(t *testing.T) {
	b := NewBreaker(1, time.Millisecond)
	b.RecordFailure()
	time.Sleep(5 * time.Millisecond)

	// Failed probe re-opens immediately.
	assert.True(t, b.Allow())
	b.RecordFailure()
	assert.Equal(t, BreakerOpen, b.State())

	time.Sleep(5 * time.Millisecond)
	// Successful probe closes.
	assert.True(t, b.Allow())
	b.RecordSuccess()
	assert.Equal(t, BreakerClosed, b.State())
	assert.True(t, b.Allow())
}
