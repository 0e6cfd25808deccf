// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package decide

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Outcome is the eventual result written back into a decision record.
type Outcome string

const (
	// OutcomePending means the chosen action has not finished yet.
	OutcomePending Outcome = "pending"

	// OutcomeSuccess means the chosen action succeeded.
	OutcomeSuccess Outcome = "success"

	// OutcomeFailure means the chosen action failed.
	OutcomeFailure Outcome = "failure"
)

// features are the structural attributes used for similarity matching
// between a pending decision and past records.
type features struct {
	Node    string
	Option  string
	GoalTag string
}

// similarity returns the normalized feature overlap in [0,1].
func similarity(a, b features) float64 {
	matches := 0.0
	if a.Node == b.Node {
		matches++
	}
	if a.Option == b.Option {
		matches++
	}
	if a.GoalTag == b.GoalTag {
		matches++
	}
	return matches / 3.0
}

// Record is one entry in the append-only decision log.
type Record struct {
	// ID identifies the record for outcome write-back.
	ID string `json:"id"`

	// Timestamp is when the decision was made.
	Timestamp time.Time `json:"timestamp"`

	// Node is the decision node the choice was made at.
	Node string `json:"node"`

	// Option is the chosen candidate label.
	Option string `json:"option"`

	// GoalTag names the goal being pursued when deciding.
	GoalTag string `json:"goal_tag,omitempty"`

	// Confidence is the confidence the engine reported.
	Confidence float64 `json:"confidence"`

	// Outcome is filled in after execution.
	Outcome Outcome `json:"outcome"`

	// ActualTime is the measured execution time, once known.
	ActualTime time.Duration `json:"actual_time,omitempty"`
}

func (r *Record) features() features {
	return features{Node: r.Node, Option: r.Option, GoalTag: r.GoalTag}
}

// History is the capped, append-only decision record log.
//
// Records are never mutated except for the one-time outcome write-back;
// when the cap is exceeded the oldest records are pruned.
//
// Thread Safety: safe for concurrent use.
type History struct {
	mu      sync.RWMutex
	records []*Record
	byID    map[string]*Record
	cap     int
}

// NewHistory creates a history bounded to the given record count.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = 1000
	}
	return &History{
		records: make([]*Record, 0, 64),
		byID:    make(map[string]*Record),
		cap:     capacity,
	}
}

// Append records a fresh decision and returns its ID.
func (h *History) Append(node, option, goalTag string, confidence float64) string {
	rec := &Record{
		ID:         uuid.NewString(),
		Timestamp:  time.Now(),
		Node:       node,
		Option:     option,
		GoalTag:    goalTag,
		Confidence: confidence,
		Outcome:    OutcomePending,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, rec)
	h.byID[rec.ID] = rec
	for len(h.records) > h.cap {
		pruned := h.records[0]
		h.records = h.records[1:]
		delete(h.byID, pruned.ID)
	}
	return rec.ID
}

// Resolve writes the eventual outcome back into a record.
//
// Outputs:
//
//	error - ErrRecordNotFound if the record was never appended or has
//	been pruned.
func (h *History) Resolve(recordID string, outcome Outcome, actualTime time.Duration) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	rec, ok := h.byID[recordID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRecordNotFound, recordID)
	}
	rec.Outcome = outcome
	rec.ActualTime = actualTime
	return nil
}

// Len returns the number of retained records.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.records)
}

// successRate computes the recency-weighted success rate of resolved
// records structurally similar to the given features.
//
// Description:
//
//	Each resolved record with similarity >= threshold contributes its
//	outcome (success=1, failure=0) weighted by 0.5^(age/halfLife), so
//	recent evidence dominates stale evidence. With no matching
//	evidence the rate is neutral (0.5) and matched reports zero.
//
// Outputs:
//
//	rate - Weighted success rate in [0,1].
//	matched - Number of records that contributed.
func (h *History) successRate(f features, threshold float64, halfLife time.Duration, now time.Time) (rate float64, matched int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var weightSum, scoreSum float64
	for _, rec := range h.records {
		if rec.Outcome == OutcomePending {
			continue
		}
		if similarity(f, rec.features()) < threshold {
			continue
		}
		weight := 1.0
		if halfLife > 0 {
			age := now.Sub(rec.Timestamp)
			weight = math.Pow(0.5, age.Seconds()/halfLife.Seconds())
		}
		weightSum += weight
		if rec.Outcome == OutcomeSuccess {
			scoreSum += weight
		}
		matched++
	}
	if matched == 0 || weightSum == 0 {
		return 0.5, 0
	}
	return scoreSum / weightSum, matched
}
