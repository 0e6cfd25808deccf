// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AgentCore/services/agent_core/config"
	"github.com/AleutianAI/AgentCore/services/agent_core/decide"
	"github.com/AleutianAI/AgentCore/services/agent_core/events"
	"github.com/AleutianAI/AgentCore/services/agent_core/orchestrate"
	"github.com/AleutianAI/AgentCore/services/agent_core/state"
	"github.com/AleutianAI/AgentCore/services/agent_core/stream"
	"github.com/AleutianAI/AgentCore/services/agent_core/telemetry"
)

// Decider chooses among candidates. Satisfied by *decide.Engine.
type Decider interface {
	Decide(q decide.Query) (*decide.Decision, error)
	RecordOutcome(recordID string, success bool, actualTime time.Duration) error
}

// ToolRunner executes tool batches. Satisfied by
// *orchestrate.Orchestrator.
type ToolRunner interface {
	Execute(ctx context.Context, batch []*orchestrate.Request, opts ...orchestrate.ExecOption) (*orchestrate.BatchResult, error)
}

// Streamer opens and drives streams. Satisfied by *stream.Engine.
type Streamer interface {
	Open(source, class string) (*stream.Stream, error)
	Pump(ctx context.Context, s *stream.Stream, source string, src stream.Source) error
	Release(id string)
}

// Outcome summarizes one graph run.
type Outcome struct {
	// EndNode is the node traversal stopped at.
	EndNode string

	// Steps is the total node visits consumed, branches included.
	Steps int

	// ForcedFailure is true when a step or revisit ceiling forced the
	// walk to the designated failure node.
	ForcedFailure bool

	// LimitHit names the exceeded ceiling when ForcedFailure is set.
	LimitHit string
}

// Engine walks a reasoning graph, threading ReasoningState through
// each node visit.
//
// Thread Safety: a single Run owns its ReasoningState (single-writer);
// parallel branches work on clones that are folded back at the join.
type Engine struct {
	cfg     config.GraphConfig
	decider Decider
	tools   ToolRunner
	streams Streamer
	store   *state.Store
	emitter *events.Emitter
	logger  *slog.Logger
	tracer  trace.Tracer
}

// Option configures an Engine.
type Option func(*Engine)

// WithDecider wires the decision engine.
func WithDecider(d Decider) Option {
	return func(e *Engine) { e.decider = d }
}

// WithTools wires the tool orchestrator.
func WithTools(t ToolRunner) Option {
	return func(e *Engine) { e.tools = t }
}

// WithStreams wires the stream engine.
func WithStreams(s Streamer) Option {
	return func(e *Engine) { e.streams = s }
}

// WithStore wires the state store for checkpoints and restores.
func WithStore(s *state.Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithEmitter wires the event emitter.
func WithEmitter(em *events.Emitter) Option {
	return func(e *Engine) { e.emitter = em }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// NewEngine creates a graph engine. Collaborators are optional;
// reaching a node kind whose collaborator is missing fails that node.
func NewEngine(cfg config.GraphConfig, opts ...Option) *Engine {
	e := &Engine{
		cfg:    cfg,
		logger: slog.Default(),
		tracer: otel.Tracer("agentcore/graph"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run walks the graph from Start until an End node, a forced failure,
// or cancellation.
//
// Description:
//
//	Traversal is an explicit worklist with a global step counter and
//	per-node visit counters; exceeding either ceiling forces the walk
//	to the designated failure node instead of looping indefinitely.
//	Node failures route along failure edges, they do not abort the
//	walk. Every node visit appends at least one ReasoningStep.
//
// Inputs:
//
//	ctx - Cancels the walk.
//	g - The graph; validated before anything executes.
//	st - The live session state, mutated by this walk only.
//
// Outputs:
//
//	*Outcome - Where and why the walk stopped.
//	error - Validation error, routing error, or ctx.Err().
func (e *Engine) Run(ctx context.Context, g *Graph, st *state.ReasoningState) (*Outcome, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	start, ok := g.Start()
	if !ok {
		return nil, ErrNoStartNode
	}

	var steps atomic.Int64
	w := &walker{engine: e, graph: g, steps: &steps, visits: make(map[string]int)}
	endNode, err := w.run(ctx, st, start.ID)

	out := &Outcome{
		EndNode:       endNode,
		Steps:         int(steps.Load()),
		ForcedFailure: w.forced,
		LimitHit:      w.limitHit,
	}
	return out, err
}

// walker is one traversal context: the main walk or one parallel
// branch. Branches share the global step counter but keep their own
// visit counters and pending decision.
type walker struct {
	engine *Engine
	graph  *Graph
	steps  *atomic.Int64
	visits map[string]int

	forced   bool
	limitHit string

	// pending tracks the last decision awaiting its outcome write-back.
	pendingRecord string
	pendingSince  time.Time
}

// run walks from a node until an End node or a node with no outgoing
// edges (branch tails).
func (w *walker) run(ctx context.Context, st *state.ReasoningState, from string) (string, error) {
	cur, ok := w.graph.Node(from)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownNode, from)
	}

	for {
		if err := ctx.Err(); err != nil {
			return cur.ID, err
		}

		if limit := w.checkLimits(cur.ID); limit != "" {
			return w.forceFailure(ctx, st, cur, limit)
		}
		w.visits[cur.ID]++
		w.steps.Add(1)

		label, err := w.execNode(ctx, st, cur)
		if err != nil {
			return cur.ID, err
		}

		if cur.Kind == KindEnd {
			return cur.ID, nil
		}

		nextID, routed := w.graph.route(cur.ID, label)
		if !routed {
			if label == LabelSuccess || label == "" {
				// Branch tail: a node with no onward route ends the walk
				// cleanly.
				if len(w.graph.Edges(cur.ID)) == 0 {
					return cur.ID, nil
				}
			}
			return cur.ID, fmt.Errorf("%w: node %s outcome %q", ErrNoRoute, cur.ID, label)
		}

		next, ok := w.graph.Node(nextID)
		if !ok {
			return cur.ID, fmt.Errorf("%w: %s", ErrUnknownNode, nextID)
		}
		cur = next
	}
}

// checkLimits reports which ceiling the next visit would exceed, if any.
func (w *walker) checkLimits(nodeID string) string {
	if int(w.steps.Load()) >= w.engine.cfg.MaxSteps {
		return "max-steps"
	}
	if w.visits[nodeID] >= w.engine.cfg.MaxNodeVisits {
		return "node-visits"
	}
	return ""
}

// forceFailure routes the walk to the designated failure node after a
// ceiling was exceeded. The failure node executes once, outside the
// ceilings.
func (w *walker) forceFailure(ctx context.Context, st *state.ReasoningState, at *Node, limit string) (string, error) {
	w.forced = true
	w.limitHit = limit

	detail := fmt.Sprintf("traversal limit %s exceeded at node %s", limit, at.ID)
	w.recordStep(st, state.ReasoningStep{
		Node:    at.ID,
		Outcome: state.OutcomeFailure,
		Detail:  detail,
	})
	w.engine.logger.Warn("graph traversal limit exceeded",
		"node", at.ID,
		"limit", limit,
		"steps", w.steps.Load(),
	)

	failureID := w.graph.FailureNode()
	if failureID == "" || failureID == at.ID {
		return at.ID, nil
	}
	failure, ok := w.graph.Node(failureID)
	if !ok {
		return at.ID, fmt.Errorf("%w: %s", ErrUnknownNode, failureID)
	}
	w.steps.Add(1)
	if _, err := w.execNode(ctx, st, failure); err != nil {
		return failure.ID, err
	}
	return failure.ID, nil
}

// execNode dispatches on node kind and returns the outcome label used
// for routing.
func (w *walker) execNode(ctx context.Context, st *state.ReasoningState, n *Node) (string, error) {
	ctx, span := w.engine.tracer.Start(ctx, "graph.node",
		trace.WithAttributes(
			attribute.String("node.id", n.ID),
			attribute.String("node.kind", string(n.Kind)),
		))
	defer span.End()

	telemetry.LoggerWithNode(ctx, w.engine.logger, n.ID).Debug("executing node",
		"kind", n.Kind,
		"step", w.steps.Load(),
	)

	switch n.Kind {
	case KindStart:
		return LabelSuccess, nil
	case KindEnd:
		w.recordStep(st, state.ReasoningStep{
			Node:    n.ID,
			Outcome: state.OutcomeSuccess,
			Detail:  "reached end",
		})
		return LabelSuccess, nil
	case KindTool:
		return w.execTool(ctx, st, n)
	case KindDecision:
		return w.execDecision(ctx, st, n)
	case KindCondition:
		return w.execCondition(st, n)
	case KindParallel:
		return w.execParallel(ctx, st, n)
	case KindStream:
		return w.execStream(ctx, st, n)
	case KindVerification:
		return w.execVerification(ctx, st, n)
	default:
		return "", fmt.Errorf("graph: node %s has unknown kind %q", n.ID, n.Kind)
	}
}

// execTool submits the node's batch to the orchestrator and folds every
// result, retries included, into the step history. Failures route the
// failure edge instead of aborting the walk.
func (w *walker) execTool(ctx context.Context, st *state.ReasoningState, n *Node) (string, error) {
	if w.engine.tools == nil {
		return "", fmt.Errorf("%w: tool runner for node %s", ErrMissingCollaborator, n.ID)
	}
	if n.Build == nil {
		return "", fmt.Errorf("graph: tool node %s has no request builder", n.ID)
	}

	batch := n.Build(st)
	if len(batch) == 0 {
		w.recordStep(st, state.ReasoningStep{
			Node:    n.ID,
			Outcome: state.OutcomeSuccess,
			Detail:  "empty batch",
		})
		w.resolvePending(true)
		return LabelSuccess, nil
	}

	result, err := w.engine.tools.Execute(ctx, batch)
	if err != nil {
		// Planning errors (cycles, duplicates) are fatal-local: recorded
		// and routed, never thrown out of the walk.
		w.recordStep(st, state.ReasoningStep{
			Node:    n.ID,
			Outcome: state.OutcomeFailure,
			Detail:  fmt.Sprintf("batch rejected: %v", err),
		})
		w.resolvePending(false)
		return LabelFailure, nil
	}

	for _, phase := range result.Phases {
		for _, id := range phase {
			res := result.Results[id]
			if res == nil {
				continue
			}
			for _, retryErr := range res.RetryErrors {
				w.recordStep(st, state.ReasoningStep{
					Node:    n.ID,
					Input:   res.Tool,
					Outcome: state.OutcomeRetry,
					Detail:  retryErr,
				})
			}
			w.recordStep(st, toolStep(n.ID, res))
		}
	}

	if result.Succeeded() {
		w.resolvePending(true)
		return LabelSuccess, nil
	}
	w.resolvePending(false)
	return LabelFailure, nil
}

// toolStep converts one orchestration result into a reasoning step.
func toolStep(nodeID string, res *orchestrate.Result) state.ReasoningStep {
	step := state.ReasoningStep{Node: nodeID, Input: res.Tool}
	switch res.Status {
	case orchestrate.StatusSucceeded:
		step.Outcome = state.OutcomeSuccess
		step.Detail = res.Output
	case orchestrate.StatusSkipped:
		step.Outcome = state.OutcomeSkipped
		if res.Err != nil {
			step.Detail = res.Err.Error()
		}
	default:
		step.Outcome = state.OutcomeFailure
		if res.Err != nil {
			step.Detail = res.Err.Error()
		}
	}
	return step
}

// execDecision checkpoints, asks the decision engine to pick an edge,
// and records the choice. A no-confident-choice result routes the
// fallback edge.
func (w *walker) execDecision(ctx context.Context, st *state.ReasoningState, n *Node) (string, error) {
	if w.engine.decider == nil {
		return "", fmt.Errorf("%w: decider for node %s", ErrMissingCollaborator, n.ID)
	}

	// Decision points are points of uncertainty: snapshot first so a
	// later verification failure can rewind to here.
	if w.engine.store != nil {
		cp := w.engine.store.Checkpoint(ctx, st, "decision:"+n.ID)
		w.emit(events.TypeCheckpointTaken, &events.CheckpointTakenData{
			CheckpointID: cp.ID,
			Label:        cp.Label,
		})
	}

	candidates := w.candidates(st, n)
	if len(candidates) == 0 {
		return "", fmt.Errorf("graph: decision node %s has no candidates", n.ID)
	}

	goalTag := ""
	if goal := st.ActiveGoal(); goal != nil {
		goalTag = goal.ID
	}

	dec, err := w.engine.decider.Decide(decide.Query{
		Node:       n.ID,
		GoalTag:    goalTag,
		Candidates: candidates,
	})
	if err != nil {
		w.recordStep(st, state.ReasoningStep{
			Node:    n.ID,
			Outcome: state.OutcomeFailure,
			Detail:  err.Error(),
		})
		return LabelFailure, nil
	}

	if dec.NoConfidentChoice {
		w.recordStep(st, state.ReasoningStep{
			Node:       n.ID,
			Outcome:    state.OutcomeFailure,
			Detail:     dec.Rationale,
			Confidence: dec.Confidence,
		})
		return LabelFallback, nil
	}

	w.recordStep(st, state.ReasoningStep{
		Node:       n.ID,
		Outcome:    state.OutcomeSuccess,
		Detail:     dec.Rationale,
		Confidence: dec.Confidence,
	})
	w.emit(events.TypeDecisionMade, &events.DecisionMadeData{
		Node:       n.ID,
		Selected:   dec.Selected,
		Confidence: dec.Confidence,
		Candidates: len(candidates),
	})
	w.pendingRecord = dec.RecordID
	w.pendingSince = time.Now()
	return dec.Selected, nil
}

// candidates derives the option set from the node or its outgoing
// edges.
func (w *walker) candidates(st *state.ReasoningState, n *Node) []decide.Candidate {
	if n.Options != nil {
		return n.Options(st)
	}
	var out []decide.Candidate
	for _, e := range w.graph.Edges(n.ID) {
		switch e.Label {
		case "", LabelFailure, LabelFallback:
			continue
		}
		out = append(out, decide.Candidate{Label: e.Label})
	}
	return out
}

// execCondition evaluates the pure predicate and routes its label.
func (w *walker) execCondition(st *state.ReasoningState, n *Node) (string, error) {
	if n.Predicate == nil {
		return "", fmt.Errorf("graph: condition node %s has no predicate", n.ID)
	}
	label := n.Predicate(st)
	w.recordStep(st, state.ReasoningStep{
		Node:    n.ID,
		Outcome: state.OutcomeSuccess,
		Detail:  "condition: " + label,
	})
	return label, nil
}

// execParallel fans out to the branch entries, each on a cloned state,
// and folds branch steps back in join order.
func (w *walker) execParallel(ctx context.Context, st *state.ReasoningState, n *Node) (string, error) {
	if len(n.Branches) == 0 {
		return "", fmt.Errorf("graph: parallel node %s has no branches", n.ID)
	}

	fanOut := w.engine.cfg.ParallelFanOut
	if fanOut <= 0 {
		fanOut = len(n.Branches)
	}

	type branchOutcome struct {
		entry string
		steps []state.ReasoningStep
		err   error
	}
	outcomes := make([]branchOutcome, len(n.Branches))

	g, branchCtx := errgroup.WithContext(ctx)
	g.SetLimit(fanOut)
	for i, entry := range n.Branches {
		i, entry := i, entry
		g.Go(func() error {
			clone := st.Clone()
			base := clone.StepCount()
			bw := &walker{
				engine: w.engine,
				graph:  w.graph,
				steps:  w.steps,
				visits: make(map[string]int),
			}
			_, err := bw.run(branchCtx, clone, entry)
			outcomes[i] = branchOutcome{
				entry: entry,
				steps: clone.Steps[base:],
				err:   err,
			}
			if err != nil && w.engine.cfg.FailFast {
				return err
			}
			return nil
		})
	}
	joinErr := g.Wait()

	failed := 0
	for _, bo := range outcomes {
		for _, step := range bo.steps {
			st.AppendStep(step)
		}
		if bo.err != nil {
			failed++
			w.recordStep(st, state.ReasoningStep{
				Node:    n.ID,
				Input:   bo.entry,
				Outcome: state.OutcomeFailure,
				Detail:  bo.err.Error(),
			})
		}
	}

	if joinErr != nil && w.engine.cfg.FailFast {
		w.recordStep(st, state.ReasoningStep{
			Node:    n.ID,
			Outcome: state.OutcomeFailure,
			Detail:  fmt.Sprintf("parallel join aborted: %v", joinErr),
		})
		return LabelFailure, nil
	}
	if failed > 0 {
		w.recordStep(st, state.ReasoningStep{
			Node:    n.ID,
			Outcome: state.OutcomeFailure,
			Detail:  fmt.Sprintf("%d of %d branches failed", failed, len(n.Branches)),
		})
		return LabelFailure, nil
	}

	w.recordStep(st, state.ReasoningStep{
		Node:    n.ID,
		Outcome: state.OutcomeSuccess,
		Detail:  fmt.Sprintf("joined %d branches", len(n.Branches)),
	})
	return LabelSuccess, nil
}

// execStream opens a stream, consumes it to completion, and folds the
// collected output into working memory.
func (w *walker) execStream(ctx context.Context, st *state.ReasoningState, n *Node) (string, error) {
	if w.engine.streams == nil {
		return "", fmt.Errorf("%w: stream engine for node %s", ErrMissingCollaborator, n.ID)
	}
	if n.Source == nil {
		return "", fmt.Errorf("graph: stream node %s has no source", n.ID)
	}

	class := n.StreamClass
	if class == "" {
		class = stream.ClassProgress
	}
	s, err := w.engine.streams.Open(n.SourceName, class)
	if err != nil {
		w.recordStep(st, state.ReasoningStep{
			Node:    n.ID,
			Outcome: state.OutcomeFailure,
			Detail:  err.Error(),
		})
		return LabelFailure, nil
	}
	st.RegisterStream(s.ID())
	defer func() {
		st.UnregisterStream(s.ID())
		w.engine.streams.Release(s.ID())
	}()

	pumpDone := make(chan error, 1)
	go func() {
		pumpDone <- w.engine.streams.Pump(ctx, s, n.SourceName, n.Source)
	}()

	var sb strings.Builder
	var readErr error
	for {
		item, err := s.Next(ctx)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				readErr = err
			}
			break
		}
		sb.WriteString(item)
	}
	pumpErr := <-pumpDone

	if readErr != nil || pumpErr != nil {
		cause := readErr
		if cause == nil {
			cause = pumpErr
		}
		w.recordStep(st, state.ReasoningStep{
			Node:    n.ID,
			Outcome: state.OutcomeFailure,
			Detail:  cause.Error(),
		})
		return LabelFailure, nil
	}

	key := n.FoldKey
	if key == "" {
		key = n.ID
	}
	st.Remember(key, sb.String(), 0.8)
	w.recordStep(st, state.ReasoningStep{
		Node:    n.ID,
		Outcome: state.OutcomeSuccess,
		Detail:  fmt.Sprintf("streamed %d bytes", sb.Len()),
	})
	return LabelSuccess, nil
}

// execVerification re-checks an assumption; on failure the most recent
// checkpoint is restored wholesale before routing the failure edge.
func (w *walker) execVerification(ctx context.Context, st *state.ReasoningState, n *Node) (string, error) {
	if n.Verify == nil {
		return "", fmt.Errorf("graph: verification node %s has no check", n.ID)
	}

	if n.Verify(st) {
		w.recordStep(st, state.ReasoningStep{
			Node:    n.ID,
			Outcome: state.OutcomeSuccess,
			Detail:  "verified",
		})
		return LabelSuccess, nil
	}

	detail := "verification failed"
	if w.engine.store != nil {
		if ids := w.engine.store.Checkpoints(st.SessionID); len(ids) > 0 {
			latest := ids[len(ids)-1]
			restored, err := w.engine.store.Restore(latest)
			if err == nil {
				*st = *restored
				detail = "verification failed; restored checkpoint " + latest
			} else {
				detail = fmt.Sprintf("verification failed; restore failed: %v", err)
			}
		}
	}
	w.recordStep(st, state.ReasoningStep{
		Node:    n.ID,
		Outcome: state.OutcomeFailure,
		Detail:  detail,
	})
	return LabelFailure, nil
}

// resolvePending writes the eventual outcome back into the last
// decision record.
func (w *walker) resolvePending(success bool) {
	if w.pendingRecord == "" || w.engine.decider == nil {
		return
	}
	elapsed := time.Since(w.pendingSince)
	if err := w.engine.decider.RecordOutcome(w.pendingRecord, success, elapsed); err != nil {
		w.engine.logger.Warn("decision outcome write-back failed",
			"record_id", w.pendingRecord,
			"error", err,
		)
	}
	w.pendingRecord = ""
}

// recordStep appends a step and mirrors it to the event emitter.
func (w *walker) recordStep(st *state.ReasoningState, step state.ReasoningStep) {
	st.AppendStep(step)
	w.emit(events.TypeStepRecorded, &events.StepRecordedData{
		Node:    step.Node,
		Outcome: string(step.Outcome),
		Detail:  step.Detail,
	})
}

func (w *walker) emit(t events.Type, data any) {
	if w.engine.emitter != nil {
		w.engine.emitter.Emit(t, data)
	}
}
