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
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStream(t *testing.T, cfg Config) *Stream {
	t.Helper()
	s := newStream("stream-test", ClassToken, cfg, nil, nil, nil)
	require.NoError(t, s.start())
	return s
}

func smallConfig() Config {
	return Config{BufferSize: 8, HighWatermark: 4, LowWatermark: 2, Overflow: BlockProducer}
}

func TestLifecycleHappyPath(t *testing.T) {
	s := newTestStream(t, smallConfig())
	ctx := context.Background()

	require.NoError(t, s.Publish(ctx, "hello "))
	require.NoError(t, s.Publish(ctx, "world"))
	require.NoError(t, s.Complete())

	// Completion is pending until the consumer drains.
	assert.Equal(t, StateActive, s.State())

	var out string
	for {
		item, err := s.Next(ctx)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		out += item
	}
	assert.Equal(t, "hello world", out)
	assert.Equal(t, StateCompleted, s.State())

	s.Terminate("session closed")
	assert.Equal(t, StateTerminated, s.State())
}

func TestCompleteWithEmptyBufferIsImmediate(t *testing.T) {
	s := newTestStream(t, smallConfig())
	require.NoError(t, s.Complete())
	assert.Equal(t, StateCompleted, s.State())

	_, err := s.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestBackpressureCycle(t *testing.T) {
	s := newTestStream(t, smallConfig())
	ctx := context.Background()

	// Fill to the high watermark: the 4th publish crosses it.
	for i := 0; i < 4; i++ {
		require.NoError(t, s.Publish(ctx, fmt.Sprintf("t%d", i)))
	}
	assert.Equal(t, StateBuffering, s.State())

	// Still above the high mark on the next publish: producer is paused.
	require.NoError(t, s.Publish(ctx, "t4"))
	assert.Equal(t, StateBackpressure, s.State())

	select {
	case sig := <-s.Signals():
		assert.Equal(t, SignalPause, sig)
	default:
		t.Fatal("expected a pause signal on entering backpressure")
	}

	// Drain below the low watermark: back to Active, producer resumed.
	for i := 0; i < 4; i++ {
		_, err := s.Next(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, StateActive, s.State())

	select {
	case sig := <-s.Signals():
		assert.Equal(t, SignalResume, sig)
	default:
		t.Fatal("expected a resume signal on draining")
	}
}

func TestInvalidTransitionLeavesStateUnchanged(t *testing.T) {
	s := newStream("stream-test", ClassToken, smallConfig(), nil, nil, nil)

	// Idle → Error is not a defined edge.
	err := s.Fail(errors.New("early fault"))
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StateIdle, s.State())
}

func TestPublishAfterCompleteRejected(t *testing.T) {
	s := newTestStream(t, smallConfig())
	require.NoError(t, s.Complete())

	err := s.Publish(context.Background(), "late")
	assert.ErrorIs(t, err, ErrStreamClosed)
}

func TestFailThenRecover(t *testing.T) {
	s := newTestStream(t, smallConfig())

	require.NoError(t, s.Fail(errors.New("read timeout")))
	assert.Equal(t, StateError, s.State())
	assert.Equal(t, 1, s.ConsecutiveErrors())

	require.NoError(t, s.recover())
	assert.Equal(t, StateActive, s.State())

	require.NoError(t, s.Publish(context.Background(), "back"))
}

func TestFailThenTerminate(t *testing.T) {
	s := newTestStream(t, smallConfig())

	require.NoError(t, s.Fail(errors.New("permission denied")))
	s.Terminate("fatal fault")
	assert.Equal(t, StateTerminated, s.State())

	// Terminate is idempotent.
	s.Terminate("again")
	assert.Equal(t, StateTerminated, s.State())

	_, err := s.Next(context.Background())
	assert.ErrorIs(t, err, ErrStreamClosed)
}

func TestTransitionHookObservesEdges(t *testing.T) {
	type edge struct{ from, to State }
	var edges []edge
	hook := func(_ string, from, to State, _ string) {
		edges = append(edges, edge{from, to})
	}

	s := newStream("stream-test", ClassToken, smallConfig(), nil, nil, hook)
	require.NoError(t, s.start())
	require.NoError(t, s.Complete())
	s.Terminate("done")

	assert.Equal(t, []edge{
		{StateIdle, StateActive},
		{StateActive, StateCompleted},
		{StateCompleted, StateTerminated},
	}, edges)
}
