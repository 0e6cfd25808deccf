// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireReleaseRoundTrip(t *testing.T) {
	rm := NewResourceManager(map[string]int{"filesystem": 2, "network": 1})
	ctx := context.Background()

	release, err := rm.Acquire(ctx, []string{"filesystem", "network"}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, rm.InUse("filesystem"))
	assert.Equal(t, 1, rm.InUse("network"))

	release()
	assert.Equal(t, 0, rm.InUse("filesystem"))
	assert.Equal(t, 0, rm.InUse("network"))
}

func TestAcquireTimesOutWithExhaustion(t *testing.T) {
	rm := NewResourceManager(map[string]int{"process": 1})
	ctx := context.Background()

	release, err := rm.Acquire(ctx, []string{"process"}, time.Second)
	require.NoError(t, err)
	defer release()

	_, err = rm.Acquire(ctx, []string{"process"}, 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrResourceExhausted)
}

func TestAcquireAllOrNothing(t *testing.T) {
	rm := NewResourceManager(map[string]int{"a": 1, "b": 1})
	ctx := context.Background()

	// Hold "b" so a request for {a, b} cannot complete.
	releaseB, err := rm.Acquire(ctx, []string{"b"}, time.Second)
	require.NoError(t, err)

	_, err = rm.Acquire(ctx, []string{"a", "b"}, 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrResourceExhausted)
	// The partial hold on "a" was rolled back.
	assert.Equal(t, 0, rm.InUse("a"))

	releaseB()

	release, err := rm.Acquire(ctx, []string{"a", "b"}, time.Second)
	require.NoError(t, err)
	release()
}

func TestAcquireDeduplicatesNames(t *testing.T) {
	rm := NewResourceManager(map[string]int{"filesystem": 1})

	release, err := rm.Acquire(context.Background(), []string{"filesystem", "filesystem"}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, rm.InUse("filesystem"))
	release()
}

func TestUnmanagedPoolIsUnlimited(t *testing.T) {
	rm := NewResourceManager(map[string]int{})

	for i := 0; i < 10; i++ {
		release, err := rm.Acquire(context.Background(), []string{"anything"}, time.Millisecond)
		require.NoError(t, err)
		defer release()
	}
	assert.Equal(t, 1.0, rm.Availability("anything"))
}

func TestAvailabilityFraction(t *testing.T) {
	rm := NewResourceManager(map[string]int{"network": 4})
	ctx := context.Background()

	assert.Equal(t, 1.0, rm.Availability("network"))

	r1, _ := rm.Acquire(ctx, []string{"network"}, time.Second)
	r2, _ := rm.Acquire(ctx, []string{"network"}, time.Second)
	assert.Equal(t, 0.5, rm.Availability("network"))

	r1()
	r2()
	assert.Equal(t, 1.0, rm.Availability("network"))
}

func TestAcquireHonorsContextCancellation(t *testing.T) {
	rm := NewResourceManager(map[string]int{"process": 1})
	hold, err := rm.Acquire(context.Background(), []string{"process"}, time.Second)
	require.NoError(t, err)
	defer hold()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := rm.Acquire(ctx, []string{"process"}, time.Hour)
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("acquire did not observe cancellation")
	}
}
