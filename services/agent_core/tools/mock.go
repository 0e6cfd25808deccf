// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockExecutor is a scriptable executor for testing.
//
// Behaviors are registered per tool name; unscripted tools return
// ErrToolNotFound. Invocations are recorded for assertions.
//
// Thread Safety: MockExecutor is safe for concurrent use.
type MockExecutor struct {
	mu sync.Mutex

	behaviors map[string]*mockBehavior
	calls     []*Invocation
}

type mockBehavior struct {
	output string
	err    error
	delay  time.Duration

	// failuresLeft makes the tool fail this many calls, then succeed.
	// Negative means fail forever.
	failuresLeft int
}

// NewMockExecutor creates an empty mock executor.
func NewMockExecutor() *MockExecutor {
	return &MockExecutor{behaviors: make(map[string]*mockBehavior)}
}

// Script sets a successful response for a tool.
func (m *MockExecutor) Script(tool, output string) *MockExecutor {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.behaviors[tool] = &mockBehavior{output: output}
	return m
}

// ScriptError makes a tool always fail.
func (m *MockExecutor) ScriptError(tool string, err error) *MockExecutor {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.behaviors[tool] = &mockBehavior{err: err, failuresLeft: -1}
	return m
}

// ScriptSlow makes a tool succeed after a delay.
func (m *MockExecutor) ScriptSlow(tool, output string, delay time.Duration) *MockExecutor {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.behaviors[tool] = &mockBehavior{output: output, delay: delay}
	return m
}

// ScriptFlaky makes a tool fail n times with err, then succeed.
func (m *MockExecutor) ScriptFlaky(tool, output string, n int, err error) *MockExecutor {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.behaviors[tool] = &mockBehavior{output: output, err: err, failuresLeft: n}
	return m
}

// Execute implements Executor.
func (m *MockExecutor) Execute(ctx context.Context, invocation *Invocation) (*Result, error) {
	m.mu.Lock()
	m.calls = append(m.calls, invocation)
	behavior, ok := m.behaviors[invocation.Tool]
	var fail bool
	var failErr error
	var output string
	var delay time.Duration
	if ok {
		output = behavior.output
		delay = behavior.delay
		switch {
		case behavior.failuresLeft < 0:
			fail, failErr = true, behavior.err
		case behavior.failuresLeft > 0:
			behavior.failuresLeft--
			fail, failErr = true, behavior.err
		}
	}
	m.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, invocation.Tool)
	}

	start := time.Now()
	failed := func(err error) *Result {
		return &Result{
			InvocationID: invocation.ID,
			Tool:         invocation.Tool,
			Err:          err,
			Duration:     time.Since(start),
		}
	}

	if delay > 0 {
		if timeout := invocation.Timeout; timeout > 0 && delay > timeout {
			// Simulate the execution outliving its deadline.
			select {
			case <-time.After(timeout):
			case <-ctx.Done():
				return failed(ctx.Err()), nil
			}
			return failed(fmt.Errorf("%w: %s after %s", ErrTimeout, invocation.Tool, timeout)), nil
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return failed(ctx.Err()), nil
		}
	}

	if err := ctx.Err(); err != nil {
		return failed(err), nil
	}
	if fail {
		return failed(fmt.Errorf("%w: %s: %w", ErrExecutionFailed, invocation.Tool, failErr)), nil
	}

	return &Result{
		InvocationID: invocation.ID,
		Tool:         invocation.Tool,
		Output:       output,
		Duration:     time.Since(start),
	}, nil
}

// CallCount returns the number of Execute calls, optionally filtered
// by tool name ("" counts all).
func (m *MockExecutor) CallCount(tool string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tool == "" {
		return len(m.calls)
	}
	n := 0
	for _, c := range m.calls {
		if c.Tool == tool {
			n++
		}
	}
	return n
}

// Calls returns a copy of all recorded invocations.
func (m *MockExecutor) Calls() []*Invocation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Invocation, len(m.calls))
	copy(out, m.calls)
	return out
}
