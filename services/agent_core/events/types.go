// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package events provides the observation surface of the reasoning
// core. Components emit events; external systems subscribe to collect
// logs and metrics without coupling to the engine internals.
//
// Thread Safety:
//
//	All types in this package are designed for concurrent use.
package events

import "time"

// Type identifies the kind of event.
type Type string

const (
	// TypeSessionStart is emitted when a reasoning session begins.
	TypeSessionStart Type = "session_start"

	// TypeSessionEnd is emitted when a session terminates, with the reason.
	TypeSessionEnd Type = "session_end"

	// TypeStepRecorded is emitted when a reasoning step is folded into state.
	TypeStepRecorded Type = "step_recorded"

	// TypeDecisionMade is emitted when the decision engine selects an option.
	TypeDecisionMade Type = "decision_made"

	// TypeToolPhaseStarted is emitted when an orchestration phase dispatches.
	TypeToolPhaseStarted Type = "tool_phase_started"

	// TypeToolPhaseCompleted is emitted when an orchestration phase settles.
	TypeToolPhaseCompleted Type = "tool_phase_completed"

	// TypeStreamStateChanged is emitted on stream state machine transitions.
	TypeStreamStateChanged Type = "stream_state_changed"

	// TypeCheckpointTaken is emitted when state is checkpointed.
	TypeCheckpointTaken Type = "checkpoint_taken"

	// TypeError is emitted when an error is recorded.
	TypeError Type = "error"
)

// Event is one observation of engine behavior.
//
// Thread Safety: treat as immutable after creation.
type Event struct {
	// ID uniquely identifies the event.
	ID string `json:"id"`

	// Type identifies the kind of event.
	Type Type `json:"type"`

	// SessionID links the event to a reasoning session.
	SessionID string `json:"session_id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Iteration is the driver iteration when the event occurred.
	Iteration int `json:"iteration"`

	// Data is one of the typed data structs below.
	Data any `json:"data,omitempty"`
}

// SessionStartData accompanies TypeSessionStart.
type SessionStartData struct {
	// Goal is the top-level goal text.
	Goal string `json:"goal"`
}

// SessionEndData accompanies TypeSessionEnd.
type SessionEndData struct {
	// Reason is the single recorded termination reason.
	Reason string `json:"reason"`

	// Iterations is how many driver iterations ran.
	Iterations int `json:"iterations"`

	// Duration is the total session duration.
	Duration time.Duration `json:"duration"`
}

// StepRecordedData accompanies TypeStepRecorded.
type StepRecordedData struct {
	// Node is the graph node the step came from.
	Node string `json:"node"`

	// Outcome classifies the step result.
	Outcome string `json:"outcome"`

	// Detail carries the result summary or error text.
	Detail string `json:"detail,omitempty"`
}

// DecisionMadeData accompanies TypeDecisionMade.
type DecisionMadeData struct {
	// Node is the decision node.
	Node string `json:"node"`

	// Selected is the chosen option label.
	Selected string `json:"selected"`

	// Confidence is the decision confidence in [0,1].
	Confidence float64 `json:"confidence"`

	// Candidates is how many options were scored.
	Candidates int `json:"candidates"`
}

// ToolPhaseData accompanies TypeToolPhaseStarted and TypeToolPhaseCompleted.
type ToolPhaseData struct {
	// Phase is the zero-based phase index within the batch.
	Phase int `json:"phase"`

	// Requests is how many tool requests the phase holds.
	Requests int `json:"requests"`

	// Succeeded and Failed are populated on completion.
	Succeeded int `json:"succeeded,omitempty"`
	Failed    int `json:"failed,omitempty"`
	Skipped   int `json:"skipped,omitempty"`

	// Duration is populated on completion.
	Duration time.Duration `json:"duration,omitempty"`
}

// StreamStateChangedData accompanies TypeStreamStateChanged.
type StreamStateChangedData struct {
	// StreamID identifies the stream.
	StreamID string `json:"stream_id"`

	// FromState and ToState name the transition endpoints.
	FromState string `json:"from_state"`
	ToState   string `json:"to_state"`

	// Reason explains the transition, when known.
	Reason string `json:"reason,omitempty"`
}

// CheckpointTakenData accompanies TypeCheckpointTaken.
type CheckpointTakenData struct {
	// CheckpointID identifies the checkpoint.
	CheckpointID string `json:"checkpoint_id"`

	// Label describes why it was taken.
	Label string `json:"label,omitempty"`
}

// ErrorData accompanies TypeError.
type ErrorData struct {
	// Error is the error text.
	Error string `json:"error"`

	// Class is the error classification (transient, fatal_local, fatal_global).
	Class string `json:"class"`

	// Source names the component that recorded the error.
	Source string `json:"source,omitempty"`
}
