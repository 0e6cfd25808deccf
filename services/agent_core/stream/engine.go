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
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/AleutianAI/AgentCore/services/agent_core/agenterr"
	"github.com/AleutianAI/AgentCore/services/agent_core/backoff"
	"github.com/AleutianAI/AgentCore/services/agent_core/config"
)

// Element is one unit read from a stream source. Err terminates the
// read with a fault; a closed channel terminates it cleanly.
type Element struct {
	Data string
	Err  error
}

// Source opens a readable element channel. Open is called again on
// reconnect after a transient fault.
type Source interface {
	Open(ctx context.Context) (<-chan Element, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context) (<-chan Element, error)

// Open implements Source.
func (f SourceFunc) Open(ctx context.Context) (<-chan Element, error) {
	return f(ctx)
}

// Class names for the two stream classes carried by the engine.
const (
	// ClassToken is the model token stream class (block-producer).
	ClassToken = "token"

	// ClassProgress is the tool progress stream class (drop-oldest).
	ClassProgress = "progress"
)

// Engine owns all live streams, one circuit breaker per source, and
// the reconnect policy.
//
// Thread Safety: Engine is safe for concurrent use.
type Engine struct {
	cfg config.StreamConfig

	mu       sync.Mutex
	streams  map[string]*Stream
	breakers map[string]*Breaker

	logger  *slog.Logger
	metrics *Metrics
	hook    TransitionHook
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger }
}

// WithMetrics attaches stream metrics.
func WithMetrics(m *Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithTransitionHook observes every stream transition (used to feed
// the event emitter).
func WithTransitionHook(hook TransitionHook) EngineOption {
	return func(e *Engine) { e.hook = hook }
}

// NewEngine creates a stream engine.
func NewEngine(cfg config.StreamConfig, opts ...EngineOption) *Engine {
	e := &Engine{
		cfg:      cfg,
		streams:  make(map[string]*Stream),
		breakers: make(map[string]*Breaker),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Open creates a stream for a source and moves it to Active.
//
// Inputs:
//
//	source - Source key for circuit breaking (e.g. model endpoint,
//	  tool name). Consecutive failures on the same key trip the breaker.
//	class - ClassToken or ClassProgress; sizes the buffer.
//
// Outputs:
//
//	*Stream - The live stream.
//	error - ErrCircuitOpen when the source breaker rejects new attempts.
func (e *Engine) Open(source, class string) (*Stream, error) {
	breaker := e.breakerFor(source)
	if !breaker.Allow() {
		return nil, fmt.Errorf("%w: source %s", ErrCircuitOpen, source)
	}

	s := newStream(uuid.NewString(), class, e.classConfig(class), e.logger, e.metrics, e.hook)
	if err := s.start(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.streams[s.ID()] = s
	e.mu.Unlock()

	e.logger.Debug("stream opened",
		"stream_id", s.ID(),
		"source", source,
		"class", class,
	)
	return s, nil
}

// Get returns a live stream by ID.
func (e *Engine) Get(id string) (*Stream, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.streams[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStreamNotFound, id)
	}
	return s, nil
}

// Release forgets a finished stream.
func (e *Engine) Release(id string) {
	e.mu.Lock()
	delete(e.streams, id)
	e.mu.Unlock()
}

// Pump drives a stream from its source until completion, fault
// exhaustion, or cancellation.
//
// Description:
//
//	Reads elements from the source and publishes them into the
//	stream's buffer. A fault (open error or element error) classified
//	transient is retried with backoff up to the configured attempt
//	budget, passing the stream through Error → Active on each
//	reconnect. Fatal faults, exhausted budgets, and cancellation move
//	the stream to Terminated. The source breaker records the final
//	outcome either way.
//
// Outputs:
//
//	error - nil when the stream completed; otherwise the terminal fault.
func (e *Engine) Pump(ctx context.Context, s *Stream, source string, src Source) error {
	breaker := e.breakerFor(source)
	policy := backoff.Policy{
		MaxAttempts: e.cfg.Retry.MaxAttempts,
		BaseDelay:   e.cfg.Retry.BaseDelay,
		MaxDelay:    e.cfg.Retry.MaxDelay,
		Multiplier:  e.cfg.Retry.Multiplier,
		Jitter:      e.cfg.Retry.Jitter,
	}

	err := backoff.Retry(ctx, policy, func(ctx context.Context, attempt int) error {
		if attempt > 1 {
			if err := s.recover(); err != nil {
				return err
			}
			e.logger.Info("stream reconnecting",
				"stream_id", s.ID(),
				"source", source,
				"attempt", attempt,
			)
		}
		return e.pumpOnce(ctx, s, src)
	}, func(err error) bool {
		return agenterr.IsTransient(err) && s.State() == StateError
	})

	if err != nil {
		breaker.RecordFailure()
		reason := fmt.Sprintf("pump failed: %v", err)
		if ctx.Err() != nil {
			reason = "canceled"
		}
		s.Terminate(reason)
		return err
	}
	breaker.RecordSuccess()
	return nil
}

// pumpOnce runs one source session: open, publish until the channel
// closes or errors.
func (e *Engine) pumpOnce(ctx context.Context, s *Stream, src Source) error {
	ch, err := src.Open(ctx)
	if err != nil {
		s.Fail(err)
		return err
	}
	for el := range ch {
		if el.Err != nil {
			s.Fail(el.Err)
			return el.Err
		}
		if err := s.Publish(ctx, el.Data); err != nil {
			s.Fail(err)
			return err
		}
	}
	return s.Complete()
}

// Shutdown terminates every live stream.
func (e *Engine) Shutdown(reason string) {
	e.mu.Lock()
	streams := make([]*Stream, 0, len(e.streams))
	for _, s := range e.streams {
		streams = append(streams, s)
	}
	e.streams = make(map[string]*Stream)
	e.mu.Unlock()

	for _, s := range streams {
		s.Terminate(reason)
	}
}

// breakerFor returns (creating if needed) the breaker for a source key.
func (e *Engine) breakerFor(source string) *Breaker {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.breakers[source]
	if !ok {
		b = NewBreaker(e.cfg.BreakerThreshold, e.cfg.BreakerCooldown)
		e.breakers[source] = b
	}
	return b
}

// classConfig maps a stream class to its buffer sizing.
func (e *Engine) classConfig(class string) Config {
	var cc config.StreamClassConfig
	switch class {
	case ClassToken:
		cc = e.cfg.Token
	default:
		cc = e.cfg.Progress
	}
	overflow := DropOldest
	if cc.Overflow == config.OverflowBlockProducer {
		overflow = BlockProducer
	}
	return Config{
		BufferSize:    cc.BufferSize,
		HighWatermark: cc.HighWatermark,
		LowWatermark:  cc.LowWatermark,
		Overflow:      overflow,
	}
}
