// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package state implements the versioned record of a reasoning session.
//
// ReasoningState is mutated exclusively by the graph engine driver after
// each node completes (single-writer invariant), so its methods carry no
// locks. The Store, which owns checkpoints and optional persistence, is
// safe for concurrent use.
package state

import (
	"fmt"
	"time"
)

// StepOutcome classifies the result of one reasoning step.
type StepOutcome string

const (
	// OutcomeSuccess means the node completed normally.
	OutcomeSuccess StepOutcome = "success"

	// OutcomeFailure means the node failed; the error is recorded.
	OutcomeFailure StepOutcome = "failure"

	// OutcomeSkipped means the node was skipped (dependency failure).
	OutcomeSkipped StepOutcome = "skipped"

	// OutcomeRetry records a retry attempt preceding a final outcome.
	OutcomeRetry StepOutcome = "retry"
)

// ReasoningStep records one node visit in the session history.
type ReasoningStep struct {
	// Timestamp is when the step completed.
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`

	// Node is the graph node visited.
	Node string `json:"node" yaml:"node"`

	// Input summarizes what the node received.
	Input string `json:"input,omitempty" yaml:"input,omitempty"`

	// Outcome classifies the result.
	Outcome StepOutcome `json:"outcome" yaml:"outcome"`

	// Detail carries the result summary or error text.
	Detail string `json:"detail,omitempty" yaml:"detail,omitempty"`

	// Confidence is the decision confidence attached to this step, when
	// the step came from a decision node. Range [0,1].
	Confidence float64 `json:"confidence,omitempty" yaml:"confidence,omitempty"`
}

// GoalStatus tracks the lifecycle of a goal.
type GoalStatus string

const (
	// GoalPending means the goal has not started.
	GoalPending GoalStatus = "pending"

	// GoalActive means the goal is being pursued.
	GoalActive GoalStatus = "active"

	// GoalDone means the goal was satisfied.
	GoalDone GoalStatus = "done"

	// GoalAbandoned means the goal was given up.
	GoalAbandoned GoalStatus = "abandoned"
)

// Goal is one entry in the goal stack: the top-level goal or a
// decomposed sub-goal.
type Goal struct {
	// ID identifies the goal.
	ID string `json:"id" yaml:"id"`

	// Description is the goal text.
	Description string `json:"description" yaml:"description"`

	// Status is the current lifecycle state.
	Status GoalStatus `json:"status" yaml:"status"`

	// Parent is the ID of the goal this one decomposes, empty for the
	// top-level goal.
	Parent string `json:"parent,omitempty" yaml:"parent,omitempty"`
}

// Fact is one working-memory entry with a relevance score.
type Fact struct {
	// Key identifies the fact.
	Key string `json:"key" yaml:"key"`

	// Value is the fact content.
	Value string `json:"value" yaml:"value"`

	// Relevance scores how useful the fact is. Higher survives eviction.
	Relevance float64 `json:"relevance" yaml:"relevance"`

	// AddedAt orders facts of equal relevance for eviction.
	AddedAt time.Time `json:"added_at" yaml:"added_at"`
}

// ReasoningState is the versioned record of one reasoning session.
//
// Thread Safety: NOT safe for concurrent mutation. Only the driver
// mutates it (single-writer discipline); other components receive
// values the driver folds in.
type ReasoningState struct {
	// SessionID identifies the session.
	SessionID string `json:"session_id" yaml:"session_id"`

	// Steps is the ordered step history.
	Steps []ReasoningStep `json:"steps" yaml:"steps"`

	// Goals is the goal stack, index 0 being the top-level goal.
	Goals []Goal `json:"goals" yaml:"goals"`

	// Memory is the bounded working-memory set keyed by fact key.
	Memory map[string]Fact `json:"memory" yaml:"memory"`

	// MemoryCapacity bounds len(Memory); exceeding it evicts the
	// lowest-relevance (then oldest) fact.
	MemoryCapacity int `json:"memory_capacity" yaml:"memory_capacity"`

	// ActiveStreams registers stream IDs currently open for the session.
	ActiveStreams []string `json:"active_streams,omitempty" yaml:"active_streams,omitempty"`

	// TerminationReason is set exactly once when the session ends.
	TerminationReason string `json:"termination_reason,omitempty" yaml:"termination_reason,omitempty"`

	// CreatedAt is when the session started.
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// NewReasoningState creates an empty state for a session.
//
// Inputs:
//
//	sessionID - Session identifier.
//	memoryCapacity - Working memory bound. Must be positive.
//
// Outputs:
//
//	*ReasoningState - The initialized state.
func NewReasoningState(sessionID string, memoryCapacity int) *ReasoningState {
	return &ReasoningState{
		SessionID:      sessionID,
		Steps:          make([]ReasoningStep, 0, 16),
		Goals:          make([]Goal, 0, 4),
		Memory:         make(map[string]Fact),
		MemoryCapacity: memoryCapacity,
		CreatedAt:      time.Now(),
	}
}

// AppendStep records a completed step.
func (s *ReasoningState) AppendStep(step ReasoningStep) {
	if step.Timestamp.IsZero() {
		step.Timestamp = time.Now()
	}
	s.Steps = append(s.Steps, step)
}

// PushGoal adds a goal to the stack.
func (s *ReasoningState) PushGoal(goal Goal) {
	if goal.Status == "" {
		goal.Status = GoalPending
	}
	s.Goals = append(s.Goals, goal)
}

// SetGoalStatus updates the status of the goal with the given ID.
//
// Outputs:
//
//	error - ErrGoalNotFound if no goal matches.
func (s *ReasoningState) SetGoalStatus(goalID string, status GoalStatus) error {
	for i := range s.Goals {
		if s.Goals[i].ID == goalID {
			s.Goals[i].Status = status
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrGoalNotFound, goalID)
}

// ActiveGoal returns the most recently pushed non-terminal goal.
//
// Outputs:
//
//	*Goal - The active goal, or nil when every goal is done/abandoned.
func (s *ReasoningState) ActiveGoal() *Goal {
	for i := len(s.Goals) - 1; i >= 0; i-- {
		switch s.Goals[i].Status {
		case GoalPending, GoalActive:
			return &s.Goals[i]
		}
	}
	return nil
}

// Remember inserts or updates a working-memory fact, evicting the
// lowest-relevance (then oldest) fact when capacity is exceeded.
func (s *ReasoningState) Remember(key, value string, relevance float64) {
	if existing, ok := s.Memory[key]; ok {
		existing.Value = value
		existing.Relevance = relevance
		s.Memory[key] = existing
		return
	}

	if len(s.Memory) >= s.MemoryCapacity {
		s.evictOne()
	}
	s.Memory[key] = Fact{
		Key:       key,
		Value:     value,
		Relevance: relevance,
		AddedAt:   time.Now(),
	}
}

// evictOne removes the least valuable fact.
func (s *ReasoningState) evictOne() {
	var victim string
	first := true
	for key, fact := range s.Memory {
		if first {
			victim = key
			first = false
			continue
		}
		cur := s.Memory[victim]
		if fact.Relevance < cur.Relevance ||
			(fact.Relevance == cur.Relevance && fact.AddedAt.Before(cur.AddedAt)) {
			victim = key
		}
	}
	delete(s.Memory, victim)
}

// RegisterStream records a newly opened stream for the session.
func (s *ReasoningState) RegisterStream(streamID string) {
	s.ActiveStreams = append(s.ActiveStreams, streamID)
}

// UnregisterStream removes a closed stream.
func (s *ReasoningState) UnregisterStream(streamID string) {
	for i, id := range s.ActiveStreams {
		if id == streamID {
			s.ActiveStreams = append(s.ActiveStreams[:i], s.ActiveStreams[i+1:]...)
			return
		}
	}
}

// StepCount returns the number of recorded steps.
func (s *ReasoningState) StepCount() int {
	return len(s.Steps)
}

// LastStep returns the most recent step, or nil when history is empty.
func (s *ReasoningState) LastStep() *ReasoningStep {
	if len(s.Steps) == 0 {
		return nil
	}
	return &s.Steps[len(s.Steps)-1]
}

// Clone returns a deep copy of the state.
//
// Description:
//
//	Used by checkpointing; the copy shares no mutable structure with
//	the original, so later mutations of the live state cannot leak
//	into a checkpoint.
func (s *ReasoningState) Clone() *ReasoningState {
	clone := &ReasoningState{
		SessionID:         s.SessionID,
		Steps:             make([]ReasoningStep, len(s.Steps)),
		Goals:             make([]Goal, len(s.Goals)),
		Memory:            make(map[string]Fact, len(s.Memory)),
		MemoryCapacity:    s.MemoryCapacity,
		TerminationReason: s.TerminationReason,
		CreatedAt:         s.CreatedAt,
	}
	copy(clone.Steps, s.Steps)
	copy(clone.Goals, s.Goals)
	for k, v := range s.Memory {
		clone.Memory[k] = v
	}
	if len(s.ActiveStreams) > 0 {
		clone.ActiveStreams = make([]string, len(s.ActiveStreams))
		copy(clone.ActiveStreams, s.ActiveStreams)
	}
	return clone
}
