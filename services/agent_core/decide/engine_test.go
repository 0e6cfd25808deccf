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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AgentCore/services/agent_core/config"
)

func testDecisionConfig() config.DecisionConfig {
	return config.Default().Decision
}

type fixedAvailability map[string]float64

func (f fixedAvailability) Availability(pool string) float64 {
	if v, ok := f[pool]; ok {
		return v
	}
	return 1.0
}

func TestDecideRejectsEmptyCandidates(t *testing.T) {
	e := NewEngine(testDecisionConfig())
	_, err := e.Decide(Query{Node: "choose"})
	assert.ErrorIs(t, err, ErrNoCandidates)
}

func TestDecideWithoutEvidenceIsNeutral(t *testing.T) {
	e := NewEngine(testDecisionConfig())

	dec, err := e.Decide(Query{
		Node:       "choose_tool",
		Candidates: []Candidate{{Label: "grep"}, {Label: "read_file"}},
	})
	require.NoError(t, err)

	assert.False(t, dec.NoConfidentChoice)
	assert.NotEmpty(t, dec.Selected)
	assert.NotEmpty(t, dec.RecordID)
	assert.GreaterOrEqual(t, dec.Confidence, 0.0)
	assert.LessOrEqual(t, dec.Confidence, 1.0)
	assert.Equal(t, 0, dec.Scores[dec.Selected].Matched)
	assert.Contains(t, dec.Rationale, "no prior evidence")
}

func TestHistoryShiftsTheChoice(t *testing.T) {
	cfg := testDecisionConfig()
	// Exact-match similarity only, so the two options' histories stay
	// separate.
	cfg.SimilarityThreshold = 0.9
	e := NewEngine(cfg)

	for i := 0; i < 5; i++ {
		id := e.History().Append("choose_tool", "grep", "find-bug", 0.8)
		require.NoError(t, e.History().Resolve(id, OutcomeSuccess, time.Second))

		id = e.History().Append("choose_tool", "read_file", "find-bug", 0.8)
		require.NoError(t, e.History().Resolve(id, OutcomeFailure, time.Second))
	}

	dec, err := e.Decide(Query{
		Node:       "choose_tool",
		GoalTag:    "find-bug",
		Candidates: []Candidate{{Label: "read_file"}, {Label: "grep"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "grep", dec.Selected)
	assert.Greater(t, dec.Scores["grep"].History, dec.Scores["read_file"].History)
	assert.Equal(t, 5, dec.Scores["grep"].Matched)
}

func TestRecordOutcomeFeedsBack(t *testing.T) {
	cfg := testDecisionConfig()
	cfg.SimilarityThreshold = 0.9
	e := NewEngine(cfg)

	q := Query{Node: "n", GoalTag: "g", Candidates: []Candidate{{Label: "a"}, {Label: "b"}}}
	first, err := e.Decide(q)
	require.NoError(t, err)
	require.NoError(t, e.RecordOutcome(first.RecordID, false, time.Second))

	// The failed option now carries negative evidence; the other one
	// stays neutral and wins.
	second, err := e.Decide(q)
	require.NoError(t, err)
	assert.NotEqual(t, first.Selected, second.Selected)
}

func TestRecordOutcomeUnknownRecord(t *testing.T) {
	e := NewEngine(testDecisionConfig())
	err := e.RecordOutcome("no-such-record", true, time.Second)
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestTieBreakPrefersLowerTime(t *testing.T) {
	e := NewEngine(testDecisionConfig())

	dec, err := e.Decide(Query{
		Node: "n",
		Candidates: []Candidate{
			{Label: "slow", EstimatedTime: 10 * time.Second},
			{Label: "fast", EstimatedTime: 2 * time.Second},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "fast", dec.Selected)
}

func TestTieBreakPrefersLowerRisk(t *testing.T) {
	// The safe option loses 0.04 of score to a constrained pool, the
	// risky option loses the same 0.04 to its risk penalty: an exact
	// tie, broken toward lower risk.
	e := NewEngine(testDecisionConfig(),
		WithResources(fixedAvailability{"network": 0.8}))

	dec, err := e.Decide(Query{
		Node: "n",
		Candidates: []Candidate{
			{Label: "risky", Risk: 0.2},
			{Label: "safe", Risk: 0, Resources: []string{"network"}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "safe", dec.Selected)
	assert.Contains(t, dec.Rationale, "tie-break")
}

func TestExhaustedPoolPenalizesCandidate(t *testing.T) {
	e := NewEngine(testDecisionConfig(),
		WithResources(fixedAvailability{"process": 0.1}))

	dec, err := e.Decide(Query{
		Node: "n",
		Candidates: []Candidate{
			{Label: "spawn", Resources: []string{"process"}},
			{Label: "inline"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "inline", dec.Selected)
	assert.InDelta(t, 0.1, dec.Scores["spawn"].Resource, 1e-9)
}

func TestTimeBudgetPenalizesSlowCandidates(t *testing.T) {
	e := NewEngine(testDecisionConfig())

	dec, err := e.Decide(Query{
		Node:       "n",
		TimeBudget: 10 * time.Second,
		Candidates: []Candidate{
			{Label: "expensive", EstimatedTime: 9 * time.Second},
			{Label: "cheap", EstimatedTime: time.Second},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "cheap", dec.Selected)
	assert.InDelta(t, 0.1, dec.Scores["expensive"].Time, 1e-9)
}

func TestNoConfidentChoiceBelowFloor(t *testing.T) {
	cfg := testDecisionConfig()
	cfg.ConfidenceFloor = 0.9
	e := NewEngine(cfg)

	dec, err := e.Decide(Query{
		Node:       "n",
		Candidates: []Candidate{{Label: "a", Risk: 0.9}, {Label: "b", Risk: 0.8}},
	})
	require.NoError(t, err)

	assert.True(t, dec.NoConfidentChoice)
	assert.Empty(t, dec.Selected)
	assert.Empty(t, dec.RecordID)
	assert.Less(t, dec.Confidence, 0.9)
	// A declined decision leaves no history record.
	assert.Equal(t, 0, e.History().Len())
}

func TestHistoryCapPrunesOldest(t *testing.T) {
	h := NewHistory(3)
	first := h.Append("n", "a", "", 0.5)
	for i := 0; i < 4; i++ {
		h.Append("n", "a", "", 0.5)
	}

	assert.Equal(t, 3, h.Len())
	assert.ErrorIs(t, h.Resolve(first, OutcomeSuccess, 0), ErrRecordNotFound)
}

func TestSuccessRateRecencyDecay(t *testing.T) {
	h := NewHistory(10)
	halfLife := time.Hour
	now := time.Now()

	oldID := h.Append("n", "a", "g", 0.5)
	require.NoError(t, h.Resolve(oldID, OutcomeSuccess, 0))
	// Age the success by ten half-lives.
	h.byID[oldID].Timestamp = now.Add(-10 * halfLife)

	recentID := h.Append("n", "a", "g", 0.5)
	require.NoError(t, h.Resolve(recentID, OutcomeFailure, 0))
	h.byID[recentID].Timestamp = now

	f := features{Node: "n", Option: "a", GoalTag: "g"}
	rate, matched := h.successRate(f, 0.9, halfLife, now)
	assert.Equal(t, 2, matched)
	// The recent failure outweighs the decayed success.
	assert.Less(t, rate, 0.1)

	// Without decay the same evidence is a coin flip.
	rate, _ = h.successRate(f, 0.9, 0, now)
	assert.InDelta(t, 0.5, rate, 1e-9)
}

func TestPendingRecordsDoNotCount(t *testing.T) {
	h := NewHistory(10)
	h.Append("n", "a", "g", 0.5)

	rate, matched := h.successRate(features{Node: "n", Option: "a", GoalTag: "g"}, 0.9, time.Hour, time.Now())
	assert.Equal(t, 0, matched)
	assert.InDelta(t, 0.5, rate, 1e-9)
}
