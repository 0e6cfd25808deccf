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
	"io"
	"log/slog"
	"sync"
	"time"
)

// Signal is an explicit flow-control message to the producer.
type Signal int

const (
	// SignalPause tells the producer to stop publishing.
	SignalPause Signal = iota

	// SignalResume tells the producer it may publish again.
	SignalResume
)

// String returns the signal name.
func (s Signal) String() string {
	if s == SignalPause {
		return "pause"
	}
	return "resume"
}

// Config sizes one stream's buffer and watermarks.
type Config struct {
	// BufferSize is the bounded buffer capacity.
	BufferSize int

	// HighWatermark triggers Buffering (and then Backpressure) when
	// occupancy reaches it.
	HighWatermark int

	// LowWatermark returns the stream to Active when occupancy drops
	// below it.
	LowWatermark int

	// Overflow selects the full-buffer strategy.
	Overflow Overflow
}

// TransitionHook observes state transitions (wired to the event
// emitter by the engine owner).
type TransitionHook func(streamID string, from, to State, reason string)

// Stream is one output stream with an explicit lifecycle.
//
// The producer side calls Publish/Complete/Fail; the consumer side
// calls Next. Both sides may run concurrently.
//
// Thread Safety: Stream is safe for concurrent use.
type Stream struct {
	id    string
	class string
	cfg   Config

	machine *machine
	buf     *Buffer

	mu                sync.Mutex
	state             State
	eosPending        bool
	consecutiveErrors int
	lastActivity      time.Time

	signals chan Signal

	logger       *slog.Logger
	metrics      *Metrics
	onTransition TransitionHook
}

func newStream(id, class string, cfg Config, logger *slog.Logger, metrics *Metrics, hook TransitionHook) *Stream {
	return &Stream{
		id:           id,
		class:        class,
		cfg:          cfg,
		machine:      newMachine(),
		buf:          NewBuffer(cfg.BufferSize, cfg.Overflow),
		state:        StateIdle,
		signals:      make(chan Signal, 8),
		logger:       logger,
		metrics:      metrics,
		onTransition: hook,
	}
}

// ID returns the stream identifier.
func (s *Stream) ID() string { return s.id }

// Class returns the stream class ("token", "progress").
func (s *Stream) Class() string { return s.class }

// State returns the current lifecycle state.
func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Signals exposes the producer flow-control channel. Delivery is
// best-effort: a producer that never reads loses signals rather than
// blocking the stream.
func (s *Stream) Signals() <-chan Signal {
	return s.signals
}

// Occupancy returns the current buffer occupancy.
func (s *Stream) Occupancy() int {
	return s.buf.Len()
}

// ConsecutiveErrors returns the current error streak.
func (s *Stream) ConsecutiveErrors() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consecutiveErrors
}

// start moves the stream from Idle to Active once the source opens.
func (s *Stream) start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(StateActive, "source opened")
}

// Publish appends one element from the producer.
//
// Description:
//
//	Only legal while the stream is flowing (Active, Buffering,
//	Backpressure). Crossing the high watermark moves the stream to
//	Buffering; publishing again while still above it moves to
//	Backpressure and emits a pause signal. With BlockProducer the call
//	additionally blocks when the buffer is full.
//
// Outputs:
//
//	error - ErrStreamClosed when the stream is not flowing, or ctx.Err().
func (s *Stream) Publish(ctx context.Context, item string) error {
	s.mu.Lock()
	switch s.state {
	case StateActive, StateBuffering, StateBackpressure:
	default:
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: publish in state %s", ErrStreamClosed, state)
	}
	s.mu.Unlock()

	dropped, err := s.buf.Push(ctx, item)
	if err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.published.WithLabelValues(s.class).Inc()
		if dropped {
			s.metrics.dropped.WithLabelValues(s.class).Inc()
		}
		s.metrics.occupancy.WithLabelValues(s.class).Set(float64(s.buf.Len()))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = time.Now()

	occ := s.buf.Len()
	switch {
	case s.state == StateActive && occ >= s.cfg.HighWatermark:
		s.transitionLocked(StateBuffering, "occupancy above high watermark")
	case s.state == StateBuffering && occ >= s.cfg.HighWatermark:
		if err := s.transitionLocked(StateBackpressure, "consumer falling behind"); err == nil {
			s.sendSignal(SignalPause)
			if s.metrics != nil {
				s.metrics.backpressure.WithLabelValues(s.class).Inc()
			}
		}
	}
	return nil
}

// Next delivers the oldest buffered element to the consumer, waiting
// when the buffer is empty.
//
// Outputs:
//
//	string - The element.
//	error - io.EOF after the stream completes and drains,
//	  ErrStreamClosed if it terminated, or ctx.Err().
func (s *Stream) Next(ctx context.Context) (string, error) {
	item, err := s.buf.Pop(ctx)
	if err != nil {
		if err == ErrBufferClosed {
			if s.State() == StateCompleted {
				return "", io.EOF
			}
			return "", ErrStreamClosed
		}
		return "", err
	}

	if s.metrics != nil {
		s.metrics.occupancy.WithLabelValues(s.class).Set(float64(s.buf.Len()))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = time.Now()

	occ := s.buf.Len()
	if occ < s.cfg.LowWatermark {
		switch s.state {
		case StateBuffering:
			s.transitionLocked(StateActive, "drained below low watermark")
		case StateBackpressure:
			if err := s.transitionLocked(StateActive, "drained below low watermark"); err == nil {
				s.sendSignal(SignalResume)
			}
		}
	}
	s.maybeCompleteLocked()
	return item, nil
}

// Complete signals end-of-stream from the producer.
//
// Description:
//
//	The stream moves to Completed only once the buffer is fully
//	drained; until then the completion is held pending and consumers
//	keep reading.
func (s *Stream) Complete() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateActive, StateBuffering, StateBackpressure:
	default:
		return fmt.Errorf("%w: complete in state %s", ErrStreamClosed, s.state)
	}

	s.eosPending = true
	s.consecutiveErrors = 0
	s.maybeCompleteLocked()
	return nil
}

// maybeCompleteLocked finishes a pending completion once drained.
// Guard: Active → Completed requires an empty buffer.
func (s *Stream) maybeCompleteLocked() {
	if !s.eosPending || s.buf.Len() != 0 {
		return
	}
	switch s.state {
	case StateBuffering, StateBackpressure:
		// Drained to empty; pass through Active on the way out.
		if s.transitionLocked(StateActive, "drained for completion") != nil {
			return
		}
	case StateActive:
	default:
		return
	}
	if s.transitionLocked(StateCompleted, "end of stream") == nil {
		s.buf.Close()
	}
}

// Fail records a read/write fault and moves the stream to Error.
//
// The caller (normally the engine's pump) then either reconnects via
// recover, or terminates.
func (s *Stream) Fail(err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutiveErrors++
	return s.transitionLocked(StateError, fmt.Sprintf("fault: %v", err))
}

// recover moves an errored stream back to Active after a reconnect.
func (s *Stream) recover() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(StateActive, "reconnected")
}

// Terminate finishes the stream. Idempotent.
func (s *Stream) Terminate(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateTerminated {
		return
	}
	if s.transitionLocked(StateTerminated, reason) == nil {
		s.buf.Close()
	}
}

// transitionLocked applies a guarded transition. Invalid transitions
// are rejected and logged; the state is unchanged.
func (s *Stream) transitionLocked(to State, reason string) error {
	from := s.state
	if err := s.machine.validate(from, to); err != nil {
		if s.logger != nil {
			s.logger.Warn("rejected stream transition",
				"stream_id", s.id,
				"from", string(from),
				"to", string(to),
				"reason", reason,
			)
		}
		return err
	}
	s.state = to
	if s.metrics != nil {
		s.metrics.transitions.WithLabelValues(s.class, string(from), string(to)).Inc()
	}
	if s.logger != nil {
		s.logger.Debug("stream transition",
			"stream_id", s.id,
			"from", string(from),
			"to", string(to),
			"reason", reason,
		)
	}
	if s.onTransition != nil {
		s.onTransition(s.id, from, to, reason)
	}
	return nil
}

// sendSignal delivers a flow-control signal without blocking.
func (s *Stream) sendSignal(sig Signal) {
	select {
	case s.signals <- sig:
	default:
		if s.logger != nil {
			s.logger.Warn("producer signal dropped",
				"stream_id", s.id,
				"signal", sig.String(),
			)
		}
	}
}
