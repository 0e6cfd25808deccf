// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package decide implements the decision engine: weighted scoring of
// candidate actions against decision history, resource availability,
// time budget, and risk.
package decide

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/AleutianAI/AgentCore/services/agent_core/config"
)

// Candidate is one option at a decision node.
type Candidate struct {
	// Label identifies the option (typically an outgoing edge label).
	Label string

	// EstimatedTime is the expected execution time.
	EstimatedTime time.Duration

	// Risk is an explicit penalty in [0,1] for options with prior high
	// failure rates or destructive effects.
	Risk float64

	// Resources names the pools the option would draw on.
	Resources []string
}

// Query carries the decision context.
type Query struct {
	// Node is the decision node being evaluated.
	Node string

	// GoalTag names the goal being pursued, for similarity matching.
	GoalTag string

	// TimeBudget is the remaining deadline budget; zero means none.
	TimeBudget time.Duration

	// Candidates are the options. Must be non-empty.
	Candidates []Candidate
}

// Breakdown is the per-criterion score of one candidate. All components
// are in [0,1].
type Breakdown struct {
	History  float64 `json:"history"`
	Resource float64 `json:"resource"`
	Time     float64 `json:"time"`
	Risk     float64 `json:"risk"`
	Total    float64 `json:"total"`

	// Matched is how many historical records informed the history score.
	Matched int `json:"matched"`
}

// Decision is the result of one engine invocation.
type Decision struct {
	// Selected is the chosen candidate label; empty when NoConfidentChoice.
	Selected string

	// Confidence is the engine's certainty in [0,1].
	Confidence float64

	// Rationale explains the choice in human-readable form.
	Rationale string

	// NoConfidentChoice is the distinguished low-confidence result: every
	// candidate scored below the configured floor and the caller must
	// route to a clarification or fallback path instead of acting.
	NoConfidentChoice bool

	// RecordID references the appended history record for outcome
	// write-back; empty when NoConfidentChoice.
	RecordID string

	// Scores maps candidate labels to their criterion breakdown.
	Scores map[string]Breakdown
}

// ResourceAvailability reports the free fraction of a resource pool in
// [0,1]. Satisfied by the orchestrator's ResourceManager.
type ResourceAvailability interface {
	Availability(pool string) float64
}

// unlimitedResources is used when no pool manager is wired.
type unlimitedResources struct{}

func (unlimitedResources) Availability(string) float64 { return 1.0 }

// Engine scores candidates and learns from recorded outcomes.
//
// Thread Safety: safe for concurrent use.
type Engine struct {
	cfg       config.DecisionConfig
	history   *History
	resources ResourceAvailability
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithResources wires the resource availability source.
func WithResources(r ResourceAvailability) Option {
	return func(e *Engine) { e.resources = r }
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a decision engine.
func NewEngine(cfg config.DecisionConfig, opts ...Option) *Engine {
	e := &Engine{
		cfg:       cfg,
		history:   NewHistory(cfg.HistoryCap),
		resources: unlimitedResources{},
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// History exposes the decision record log (transcripts, inspection).
func (e *Engine) History() *History {
	return e.history
}

// Decide scores the candidates and returns a choice.
//
// Description:
//
//	Each candidate gets a weighted sum of four criteria: recency-
//	weighted historical success rate for similar past decisions,
//	resource availability for the pools it would use, estimated time
//	cost against the remaining budget, and an inverted risk penalty.
//	Weights come from configuration and are normalized after summing.
//	Candidates within epsilon of the best tie-break to lower risk,
//	then lower estimated time, then label order. If even the best
//	score is below the confidence floor, the distinguished
//	no-confident-choice result is returned and nothing is recorded.
//
// Inputs:
//
//	q - The decision context. Candidates must be non-empty.
//
// Outputs:
//
//	*Decision - The result; check NoConfidentChoice before acting.
//	error - ErrNoCandidates when q.Candidates is empty.
func (e *Engine) Decide(q Query) (*Decision, error) {
	if len(q.Candidates) == 0 {
		return nil, ErrNoCandidates
	}

	now := e.now()
	scores := make(map[string]Breakdown, len(q.Candidates))
	for _, c := range q.Candidates {
		scores[c.Label] = e.score(q, c, now)
	}

	order := make([]Candidate, len(q.Candidates))
	copy(order, q.Candidates)
	sort.SliceStable(order, func(i, j int) bool {
		return scores[order[i].Label].Total > scores[order[j].Label].Total
	})

	best := order[0]
	bestScore := scores[best.Label].Total

	// Tie-break within epsilon: lower risk, then lower time, then label.
	tieBroken := false
	for _, c := range order[1:] {
		if bestScore-scores[c.Label].Total > e.cfg.Epsilon {
			break
		}
		if c.Risk < best.Risk ||
			(c.Risk == best.Risk && c.EstimatedTime < best.EstimatedTime) ||
			(c.Risk == best.Risk && c.EstimatedTime == best.EstimatedTime && c.Label < best.Label) {
			best = c
			tieBroken = true
		}
	}

	confidence := clamp01(scores[best.Label].Total)
	if confidence < e.cfg.ConfidenceFloor {
		e.logger.Info("no confident choice",
			"node", q.Node,
			"best", best.Label,
			"confidence", confidence,
			"floor", e.cfg.ConfidenceFloor,
		)
		return &Decision{
			Confidence:        confidence,
			NoConfidentChoice: true,
			Rationale: fmt.Sprintf(
				"no candidate reached the confidence floor %.2f (best %q scored %.2f)",
				e.cfg.ConfidenceFloor, best.Label, confidence),
			Scores: scores,
		}, nil
	}

	recordID := e.history.Append(q.Node, best.Label, q.GoalTag, confidence)
	dec := &Decision{
		Selected:   best.Label,
		Confidence: confidence,
		Rationale:  e.rationale(best, scores[best.Label], tieBroken),
		RecordID:   recordID,
		Scores:     scores,
	}

	e.logger.Debug("decision made",
		"node", q.Node,
		"selected", dec.Selected,
		"confidence", dec.Confidence,
		"candidates", len(q.Candidates),
	)
	return dec, nil
}

// RecordOutcome writes the execution result back into the decision
// record referenced by a prior Decide call.
func (e *Engine) RecordOutcome(recordID string, success bool, actualTime time.Duration) error {
	outcome := OutcomeFailure
	if success {
		outcome = OutcomeSuccess
	}
	return e.history.Resolve(recordID, outcome, actualTime)
}

// score computes the weighted criterion breakdown for one candidate.
func (e *Engine) score(q Query, c Candidate, now time.Time) Breakdown {
	f := features{Node: q.Node, Option: c.Label, GoalTag: q.GoalTag}
	histRate, matched := e.history.successRate(f, e.cfg.SimilarityThreshold, e.cfg.RecencyHalfLife, now)

	resource := 1.0
	for _, pool := range c.Resources {
		if avail := e.resources.Availability(pool); avail < resource {
			resource = avail
		}
	}

	timeScore := 1.0
	if q.TimeBudget > 0 && c.EstimatedTime > 0 {
		timeScore = clamp01(1 - float64(c.EstimatedTime)/float64(q.TimeBudget))
	}

	riskScore := clamp01(1 - c.Risk)

	weightSum := e.cfg.HistoryWeight + e.cfg.ResourceWeight + e.cfg.TimeWeight + e.cfg.RiskWeight
	if weightSum <= 0 {
		weightSum = 1
	}
	total := (e.cfg.HistoryWeight*histRate +
		e.cfg.ResourceWeight*resource +
		e.cfg.TimeWeight*timeScore +
		e.cfg.RiskWeight*riskScore) / weightSum

	return Breakdown{
		History:  histRate,
		Resource: resource,
		Time:     timeScore,
		Risk:     riskScore,
		Total:    clamp01(total),
		Matched:  matched,
	}
}

func (e *Engine) rationale(c Candidate, b Breakdown, tieBroken bool) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "selected %q (score %.2f): history %.2f", c.Label, b.Total, b.History)
	if b.Matched > 0 {
		fmt.Fprintf(&sb, " from %d similar decisions", b.Matched)
	} else {
		sb.WriteString(" (no prior evidence)")
	}
	fmt.Fprintf(&sb, ", resources %.2f, time %.2f, risk %.2f", b.Resource, b.Time, b.Risk)
	if tieBroken {
		sb.WriteString("; tie-break preferred lower risk")
	}
	return sb.String()
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
