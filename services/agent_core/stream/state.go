// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package stream gives every concurrently open output stream (model
// tokens, tool progress) a race-free lifecycle: an explicit state
// machine, a bounded buffer with backpressure, and a circuit breaker
// per source.
package stream

import "fmt"

// State is the lifecycle phase of one stream.
type State string

const (
	// StateIdle means the stream is created but not yet producing.
	StateIdle State = "idle"

	// StateActive means elements are flowing normally.
	StateActive State = "active"

	// StateBuffering means occupancy crossed the high watermark; the
	// consumer is falling behind.
	StateBuffering State = "buffering"

	// StateBackpressure means the producer has been told to pause.
	StateBackpressure State = "backpressure"

	// StateError means a read/write fault occurred; the stream either
	// reconnects (transient) or terminates (fatal).
	StateError State = "error"

	// StateCompleted means the source signaled end-of-stream and the
	// buffer is fully drained.
	StateCompleted State = "completed"

	// StateTerminated is the single terminal state.
	StateTerminated State = "terminated"
)

// AllStates lists every stream state.
func AllStates() []State {
	return []State{
		StateIdle, StateActive, StateBuffering, StateBackpressure,
		StateError, StateCompleted, StateTerminated,
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateTerminated
}

// machine holds the valid transition set for stream lifecycles.
//
// The transition graph:
//
//	IDLE → ACTIVE                  : source opened
//	IDLE → TERMINATED              : canceled before producing
//	ACTIVE → BUFFERING             : occupancy above high watermark
//	ACTIVE → ERROR                 : read/write fault
//	ACTIVE → COMPLETED             : end-of-stream, buffer empty
//	ACTIVE → TERMINATED            : canceled
//	BUFFERING → ACTIVE             : drained below low watermark
//	BUFFERING → BACKPRESSURE       : still above high watermark, producer paused
//	BUFFERING → ERROR              : read/write fault
//	BUFFERING → TERMINATED         : canceled
//	BACKPRESSURE → ACTIVE          : drained below low watermark, producer resumed
//	BACKPRESSURE → ERROR           : read/write fault
//	BACKPRESSURE → TERMINATED      : canceled
//	ERROR → ACTIVE                 : transient fault, reconnected
//	ERROR → TERMINATED             : fatal fault or retries exhausted
//	COMPLETED → TERMINATED         : stream closed
//
// Anything else is rejected.
type machine struct {
	transitions map[State]map[State]bool
}

func newMachine() *machine {
	m := &machine{transitions: make(map[State]map[State]bool)}
	for _, s := range AllStates() {
		m.transitions[s] = make(map[State]bool)
	}

	m.add(StateIdle, StateActive)
	m.add(StateIdle, StateTerminated)

	m.add(StateActive, StateBuffering)
	m.add(StateActive, StateError)
	m.add(StateActive, StateCompleted)
	m.add(StateActive, StateTerminated)

	m.add(StateBuffering, StateActive)
	m.add(StateBuffering, StateBackpressure)
	m.add(StateBuffering, StateError)
	m.add(StateBuffering, StateTerminated)

	m.add(StateBackpressure, StateActive)
	m.add(StateBackpressure, StateError)
	m.add(StateBackpressure, StateTerminated)

	m.add(StateError, StateActive)
	m.add(StateError, StateTerminated)

	m.add(StateCompleted, StateTerminated)

	return m
}

func (m *machine) add(from, to State) {
	m.transitions[from][to] = true
}

// canTransition checks whether from → to is a defined edge.
func (m *machine) canTransition(from, to State) bool {
	if toMap, ok := m.transitions[from]; ok {
		return toMap[to]
	}
	return false
}

// validate returns ErrInvalidTransition for an undefined edge.
func (m *machine) validate(from, to State) error {
	if !m.canTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
