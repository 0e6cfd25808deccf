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

	"github.com/stretchr/testify/assert"
)

func TestValidTransitions(t *testing.T) {
	m := newMachine()

	valid := []struct{ from, to State }{
		{StateIdle, StateActive},
		{StateActive, StateBuffering},
		{StateActive, StateError},
		{StateActive, StateCompleted},
		{StateBuffering, StateActive},
		{StateBuffering, StateBackpressure},
		{StateBackpressure, StateActive},
		{StateBackpressure, StateError},
		{StateError, StateActive},
		{StateError, StateTerminated},
		{StateCompleted, StateTerminated},
	}
	for _, tt := range valid {
		assert.True(t, m.canTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestInvalidTransitions(t *testing.T) {
	m := newMachine()

	invalid := []struct{ from, to State }{
		{StateIdle, StateBuffering},
		{StateIdle, StateCompleted},
		{StateActive, StateIdle},
		{StateBackpressure, StateBuffering},
		{StateBuffering, StateCompleted},
		{StateCompleted, StateActive},
		{StateTerminated, StateActive},
		{StateTerminated, StateTerminated},
		{StateError, StateCompleted},
	}
	for _, tt := range invalid {
		assert.False(t, m.canTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
		assert.ErrorIs(t, m.validate(tt.from, tt.to), ErrInvalidTransition)
	}
}

func TestTerminatedIsTerminal(t *testing.T) {
	m := newMachine()
	for _, to := range AllStates() {
		assert.False(t, m.canTransition(StateTerminated, to))
	}
	assert.True(t, StateTerminated.Terminal())
	assert.False(t, StateCompleted.Terminal())
}
