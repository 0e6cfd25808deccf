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
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AgentCore/services/agent_core/agenterr"
	"github.com/AleutianAI/AgentCore/services/agent_core/config"
)

func testEngineConfig() config.StreamConfig {
	cfg := config.Default().Stream
	cfg.Retry.BaseDelay = time.Millisecond
	cfg.Retry.MaxDelay = 5 * time.Millisecond
	cfg.BreakerThreshold = 2
	cfg.BreakerCooldown = time.Hour
	return cfg
}

// sliceSource replays fixed elements once.
func sliceSource(items ...string) Source {
	return SourceFunc(func(context.Context) (<-chan Element, error) {
		ch := make(chan Element, len(items))
		for _, it := range items {
			ch <- Element{Data: it}
		}
		close(ch)
		return ch, nil
	})
}

func drain(t *testing.T, s *Stream) string {
	t.Helper()
	var out string
	for {
		item, err := s.Next(context.Background())
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out += item
	}
}

func TestPumpCompletesStream(t *testing.T) {
	e := NewEngine(testEngineConfig())
	s, err := e.Open("model", ClassToken)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- e.Pump(context.Background(), s, "model", sliceSource("a", "b", "c")) }()

	assert.Equal(t, "abc", drain(t, s))
	require.NoError(t, <-done)
	assert.Equal(t, StateCompleted, s.State())
}

func TestPumpReconnectsOnTransientFault(t *testing.T) {
	e := NewEngine(testEngineConfig())
	s, err := e.Open("model", ClassToken)
	require.NoError(t, err)

	var attempts atomic.Int32
	src := SourceFunc(func(context.Context) (<-chan Element, error) {
		n := attempts.Add(1)
		ch := make(chan Element, 2)
		if n == 1 {
			ch <- Element{Data: "partial "}
			ch <- Element{Err: agenterr.Transient("read", errors.New("connection reset"))}
		} else {
			ch <- Element{Data: "full"}
		}
		close(ch)
		return ch, nil
	})

	done := make(chan error, 1)
	go func() { done <- e.Pump(context.Background(), s, "model", src) }()

	assert.Equal(t, "partial full", drain(t, s))
	require.NoError(t, <-done)
	assert.Equal(t, int32(2), attempts.Load())
	assert.Equal(t, StateCompleted, s.State())
}

func TestPumpTerminatesOnFatalFault(t *testing.T) {
	e := NewEngine(testEngineConfig())
	s, err := e.Open("model", ClassToken)
	require.NoError(t, err)

	fatal := agenterr.FatalLocal("open", errors.New("invalid credentials"))
	src := SourceFunc(func(context.Context) (<-chan Element, error) {
		return nil, fatal
	})

	err = e.Pump(context.Background(), s, "model", src)
	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, StateTerminated, s.State())
}

func TestBreakerRejectsAfterRepeatedFailures(t *testing.T) {
	e := NewEngine(testEngineConfig())
	fatal := agenterr.FatalLocal("open", errors.New("unreachable"))
	src := SourceFunc(func(context.Context) (<-chan Element, error) {
		return nil, fatal
	})

	// Two failed pumps trip the threshold-2 breaker.
	for i := 0; i < 2; i++ {
		s, err := e.Open("flaky-source", ClassProgress)
		require.NoError(t, err)
		assert.Error(t, e.Pump(context.Background(), s, "flaky-source", src))
	}

	_, err := e.Open("flaky-source", ClassProgress)
	assert.ErrorIs(t, err, ErrCircuitOpen)

	// Other sources are unaffected.
	_, err = e.Open("healthy-source", ClassProgress)
	assert.NoError(t, err)
}

func TestPumpHonorsCancellation(t *testing.T) {
	e := NewEngine(testEngineConfig())
	s, err := e.Open("model", ClassToken)
	require.NoError(t, err)

	src := SourceFunc(func(ctx context.Context) (<-chan Element, error) {
		ch := make(chan Element)
		go func() { <-ctx.Done(); ch <- Element{Err: ctx.Err()}; close(ch) }()
		return ch, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Pump(ctx, s, "model", src) }()

	cancel()
	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("pump did not observe cancellation")
	}
	assert.Equal(t, StateTerminated, s.State())
}

func TestEngineGetAndRelease(t *testing.T) {
	e := NewEngine(testEngineConfig())
	s, err := e.Open("model", ClassToken)
	require.NoError(t, err)

	got, err := e.Get(s.ID())
	require.NoError(t, err)
	assert.Same(t, s, got)

	e.Release(s.ID())
	_, err = e.Get(s.ID())
	assert.ErrorIs(t, err, ErrStreamNotFound)
}

func TestShutdownTerminatesAllStreams(t *testing.T) {
	e := NewEngine(testEngineConfig())
	s1, _ := e.Open("a", ClassToken)
	s2, _ := e.Open("b", ClassProgress)

	e.Shutdown("shutdown")
	assert.Equal(t, StateTerminated, s1.State())
	assert.Equal(t, StateTerminated, s2.State())
}
