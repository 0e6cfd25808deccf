// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrate executes batches of tool requests under
// dependency, concurrency, and resource constraints: plan into phases,
// run each phase in parallel within quota, retry transient failures,
// and mark dependents of failed requests as skipped.
package orchestrate

import (
	"time"

	"github.com/AleutianAI/AgentCore/services/agent_core/backoff"
)

// Request is one requested tool call with its constraints.
type Request struct {
	// ID identifies the request within its batch.
	ID string `json:"id"`

	// Tool is the tool to execute.
	Tool string `json:"tool"`

	// Arguments are the tool arguments as JSON.
	Arguments string `json:"arguments,omitempty"`

	// DependsOn lists request IDs that must have a recorded result
	// before this request runs.
	DependsOn []string `json:"depends_on,omitempty"`

	// Resources names the resource pools this request must hold while
	// running (all-or-nothing acquisition).
	Resources []string `json:"resources,omitempty"`

	// Priority orders dispatch within a phase (higher first).
	Priority int `json:"priority,omitempty"`

	// Timeout bounds one execution attempt. Zero uses the orchestrator
	// default.
	Timeout time.Duration `json:"timeout,omitempty"`

	// Retry overrides the orchestrator's retry policy. Nil uses the
	// default.
	Retry *backoff.Policy `json:"-"`
}

// Status classifies the final disposition of a request.
type Status string

const (
	// StatusSucceeded means the tool ran and returned a value.
	StatusSucceeded Status = "succeeded"

	// StatusFailed means the tool failed after exhausting retries, or
	// failed fatally.
	StatusFailed Status = "failed"

	// StatusSkipped means a declared dependency failed (or was itself
	// skipped), so the request was never attempted.
	StatusSkipped Status = "skipped"
)

// Result is the recorded outcome of one request.
type Result struct {
	// RequestID links back to the request.
	RequestID string `json:"request_id"`

	// Tool is the tool that was (or would have been) executed.
	Tool string `json:"tool"`

	// Status is the final disposition.
	Status Status `json:"status"`

	// Output is the tool output on success.
	Output string `json:"output,omitempty"`

	// Err is the terminal error for failed requests.
	Err error `json:"-"`

	// Attempts is how many execution attempts ran (0 for skipped).
	Attempts int `json:"attempts"`

	// RetryErrors records the error of each failed attempt that was
	// retried, in order.
	RetryErrors []string `json:"retry_errors,omitempty"`

	// Phase is the zero-based phase index the request ran in.
	Phase int `json:"phase"`

	// Duration is wall time from first dispatch to final outcome.
	Duration time.Duration `json:"duration"`
}

// BatchResult is the outcome of one orchestrated batch.
type BatchResult struct {
	// Results holds one entry per submitted request, keyed by ID.
	Results map[string]*Result `json:"results"`

	// Phases is the planned execution order: request IDs per phase.
	Phases [][]string `json:"phases"`

	// FailFast reports whether a fail-fast abort cut the batch short.
	FailFast bool `json:"fail_fast,omitempty"`

	// Duration is total batch wall time.
	Duration time.Duration `json:"duration"`
}

// Succeeded reports whether every request succeeded.
func (b *BatchResult) Succeeded() bool {
	for _, r := range b.Results {
		if r.Status != StatusSucceeded {
			return false
		}
	}
	return true
}

// FailedCount returns the number of failed requests.
func (b *BatchResult) FailedCount() int {
	n := 0
	for _, r := range b.Results {
		if r.Status == StatusFailed {
			n++
		}
	}
	return n
}
