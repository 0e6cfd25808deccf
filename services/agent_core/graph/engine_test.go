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
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AgentCore/services/agent_core/agenterr"
	"github.com/AleutianAI/AgentCore/services/agent_core/config"
	"github.com/AleutianAI/AgentCore/services/agent_core/decide"
	"github.com/AleutianAI/AgentCore/services/agent_core/events"
	"github.com/AleutianAI/AgentCore/services/agent_core/orchestrate"
	"github.com/AleutianAI/AgentCore/services/agent_core/state"
	"github.com/AleutianAI/AgentCore/services/agent_core/stream"
	"github.com/AleutianAI/AgentCore/services/agent_core/tools"
)

func testGraphConfig() config.GraphConfig {
	return config.GraphConfig{
		MaxSteps:       50,
		MaxNodeVisits:  3,
		ParallelFanOut: 2,
	}
}

func testOrchestrator(exec tools.Executor) *orchestrate.Orchestrator {
	cfg := config.Default().Orchestrator
	cfg.Retry.BaseDelay = time.Millisecond
	cfg.Retry.MaxDelay = 5 * time.Millisecond
	cfg.AcquireTimeout = 100 * time.Millisecond
	return orchestrate.New(cfg, exec)
}

func testStreamEngine() *stream.Engine {
	cfg := config.Default().Stream
	cfg.Progress = config.StreamClassConfig{
		BufferSize:    8,
		HighWatermark: 6,
		LowWatermark:  2,
		Overflow:      config.OverflowDropOldest,
	}
	cfg.Retry.MaxAttempts = 1
	cfg.Retry.BaseDelay = time.Millisecond
	return stream.NewEngine(cfg)
}

func newState() *state.ReasoningState {
	return state.NewReasoningState("sess-1", 16)
}

func toolRequest(id, tool string) func(*state.ReasoningState) []*orchestrate.Request {
	return func(*state.ReasoningState) []*orchestrate.Request {
		return []*orchestrate.Request{{ID: id, Tool: tool}}
	}
}

func outcomes(st *state.ReasoningState, node string) []state.StepOutcome {
	var out []state.StepOutcome
	for _, step := range st.Steps {
		if step.Node == node {
			out = append(out, step.Outcome)
		}
	}
	return out
}

func TestAcyclicGraphVisitsEachNodeOnce(t *testing.T) {
	exec := tools.NewMockExecutor().Script("list_files", "a.go b.go")
	e := NewEngine(testGraphConfig(), WithTools(testOrchestrator(exec)))

	var condCalls atomic.Int64
	g := New()
	mustAdd(t, g, &Node{ID: "start", Kind: KindStart})
	mustAdd(t, g, &Node{ID: "check", Kind: KindCondition, Predicate: func(*state.ReasoningState) string {
		condCalls.Add(1)
		return "proceed"
	}})
	mustAdd(t, g, &Node{ID: "scan", Kind: KindTool, Build: toolRequest("r1", "list_files")})
	mustAdd(t, g, &Node{ID: "end", Kind: KindEnd})
	mustEdge(t, g, "start", "check", "")
	mustEdge(t, g, "check", "scan", "proceed")
	mustEdge(t, g, "scan", "end", LabelSuccess)

	st := newState()
	out, err := e.Run(context.Background(), g, st)
	require.NoError(t, err)

	assert.Equal(t, "end", out.EndNode)
	assert.False(t, out.ForcedFailure)
	assert.Equal(t, int64(1), condCalls.Load())
	assert.Equal(t, 1, exec.CallCount("list_files"))
	assert.Equal(t, []state.StepOutcome{state.OutcomeSuccess}, outcomes(st, "scan"))
}

func TestCyclicGraphForcedToFailureNode(t *testing.T) {
	e := NewEngine(testGraphConfig())

	g := New()
	mustAdd(t, g, &Node{ID: "start", Kind: KindStart})
	mustAdd(t, g, &Node{ID: "loop", Kind: KindCondition, Predicate: func(*state.ReasoningState) string {
		return "again"
	}})
	mustAdd(t, g, &Node{ID: "bail", Kind: KindEnd})
	mustEdge(t, g, "start", "loop", "")
	mustEdge(t, g, "loop", "loop", "again")
	require.NoError(t, g.SetFailureNode("bail"))

	st := newState()
	out, err := e.Run(context.Background(), g, st)
	require.NoError(t, err)

	assert.True(t, out.ForcedFailure)
	assert.Equal(t, "node-visits", out.LimitHit)
	assert.Equal(t, "bail", out.EndNode)
	assert.LessOrEqual(t, out.Steps, testGraphConfig().MaxSteps)
}

func TestGlobalStepCeiling(t *testing.T) {
	cfg := testGraphConfig()
	cfg.MaxSteps = 10
	cfg.MaxNodeVisits = 100
	e := NewEngine(cfg)

	g := New()
	mustAdd(t, g, &Node{ID: "start", Kind: KindStart})
	mustAdd(t, g, &Node{ID: "a", Kind: KindCondition, Predicate: func(*state.ReasoningState) string { return "go" }})
	mustAdd(t, g, &Node{ID: "b", Kind: KindCondition, Predicate: func(*state.ReasoningState) string { return "go" }})
	mustAdd(t, g, &Node{ID: "bail", Kind: KindEnd})
	mustEdge(t, g, "start", "a", "")
	mustEdge(t, g, "a", "b", "go")
	mustEdge(t, g, "b", "a", "go")
	require.NoError(t, g.SetFailureNode("bail"))

	out, err := e.Run(context.Background(), g, newState())
	require.NoError(t, err)
	assert.True(t, out.ForcedFailure)
	assert.Equal(t, "max-steps", out.LimitHit)
}

func TestToolFailureRoutesFailureEdge(t *testing.T) {
	exec := tools.NewMockExecutor().
		ScriptError("flaky_build", agenterr.FatalLocal("build", errors.New("compile error"))).
		Script("cleanup", "cleaned")
	e := NewEngine(testGraphConfig(), WithTools(testOrchestrator(exec)))

	g := New()
	mustAdd(t, g, &Node{ID: "start", Kind: KindStart})
	mustAdd(t, g, &Node{ID: "build", Kind: KindTool, Build: toolRequest("r1", "flaky_build")})
	mustAdd(t, g, &Node{ID: "recover", Kind: KindTool, Build: toolRequest("r2", "cleanup")})
	mustAdd(t, g, &Node{ID: "end", Kind: KindEnd})
	mustEdge(t, g, "start", "build", "")
	mustEdge(t, g, "build", "end", LabelSuccess)
	mustEdge(t, g, "build", "recover", LabelFailure)
	mustEdge(t, g, "recover", "end", LabelSuccess)

	st := newState()
	out, err := e.Run(context.Background(), g, st)
	require.NoError(t, err)

	assert.Equal(t, "end", out.EndNode)
	assert.Equal(t, []state.StepOutcome{state.OutcomeFailure}, outcomes(st, "build"))
	assert.Equal(t, 1, exec.CallCount("cleanup"))
}

func TestToolRetriesFoldedIntoHistory(t *testing.T) {
	glitch := agenterr.Transient("io", errors.New("connection reset"))
	exec := tools.NewMockExecutor().ScriptFlaky("fetch", "payload", 1, glitch)
	e := NewEngine(testGraphConfig(), WithTools(testOrchestrator(exec)))

	g := New()
	mustAdd(t, g, &Node{ID: "start", Kind: KindStart})
	mustAdd(t, g, &Node{ID: "fetch", Kind: KindTool, Build: toolRequest("r1", "fetch")})
	mustAdd(t, g, &Node{ID: "end", Kind: KindEnd})
	mustEdge(t, g, "start", "fetch", "")
	mustEdge(t, g, "fetch", "end", LabelSuccess)

	st := newState()
	_, err := e.Run(context.Background(), g, st)
	require.NoError(t, err)

	assert.Equal(t, []state.StepOutcome{state.OutcomeRetry, state.OutcomeSuccess}, outcomes(st, "fetch"))
}

func TestDecisionFollowsChosenEdgeAndCheckpoints(t *testing.T) {
	store := state.NewStore()
	emitter := events.NewEmitter()
	defer emitter.Close()

	var decisions atomic.Int64
	emitter.Subscribe(func(*events.Event) { decisions.Add(1) }, events.TypeDecisionMade)

	e := NewEngine(testGraphConfig(),
		WithDecider(decide.NewEngine(config.Default().Decision)),
		WithStore(store),
		WithEmitter(emitter),
	)

	g := New()
	mustAdd(t, g, &Node{ID: "start", Kind: KindStart})
	mustAdd(t, g, &Node{ID: "choose", Kind: KindDecision})
	mustAdd(t, g, &Node{ID: "end_a", Kind: KindEnd})
	mustAdd(t, g, &Node{ID: "end_b", Kind: KindEnd})
	mustEdge(t, g, "start", "choose", "")
	mustEdge(t, g, "choose", "end_a", "analyze")
	mustEdge(t, g, "choose", "end_b", "refactor")

	st := newState()
	out, err := e.Run(context.Background(), g, st)
	require.NoError(t, err)

	assert.Contains(t, []string{"end_a", "end_b"}, out.EndNode)
	assert.NotEmpty(t, store.Checkpoints("sess-1"))

	steps := outcomes(st, "choose")
	require.Len(t, steps, 1)
	assert.Equal(t, state.OutcomeSuccess, steps[0])

	emitter.Close()
	assert.Equal(t, int64(1), decisions.Load())
}

func TestDecisionFallbackOnLowConfidence(t *testing.T) {
	cfg := config.Default().Decision
	cfg.ConfidenceFloor = 0.99
	e := NewEngine(testGraphConfig(), WithDecider(decide.NewEngine(cfg)))

	g := New()
	mustAdd(t, g, &Node{ID: "start", Kind: KindStart})
	mustAdd(t, g, &Node{ID: "choose", Kind: KindDecision})
	mustAdd(t, g, &Node{ID: "act", Kind: KindEnd})
	mustAdd(t, g, &Node{ID: "clarify", Kind: KindEnd})
	mustEdge(t, g, "start", "choose", "")
	mustEdge(t, g, "choose", "act", "proceed")
	mustEdge(t, g, "choose", "clarify", LabelFallback)

	st := newState()
	out, err := e.Run(context.Background(), g, st)
	require.NoError(t, err)
	assert.Equal(t, "clarify", out.EndNode)
}

func TestParallelJoinFoldsBranchSteps(t *testing.T) {
	exec := tools.NewMockExecutor().
		Script("lint", "clean").
		Script("vet", "ok")
	e := NewEngine(testGraphConfig(), WithTools(testOrchestrator(exec)))

	g := New()
	mustAdd(t, g, &Node{ID: "start", Kind: KindStart})
	mustAdd(t, g, &Node{ID: "fan", Kind: KindParallel, Branches: []string{"lint", "vet"}})
	mustAdd(t, g, &Node{ID: "lint", Kind: KindTool, Build: toolRequest("r1", "lint")})
	mustAdd(t, g, &Node{ID: "vet", Kind: KindTool, Build: toolRequest("r2", "vet")})
	mustAdd(t, g, &Node{ID: "end", Kind: KindEnd})
	mustEdge(t, g, "start", "fan", "")
	mustEdge(t, g, "fan", "end", LabelSuccess)

	st := newState()
	out, err := e.Run(context.Background(), g, st)
	require.NoError(t, err)

	assert.Equal(t, "end", out.EndNode)
	assert.Equal(t, []state.StepOutcome{state.OutcomeSuccess}, outcomes(st, "lint"))
	assert.Equal(t, []state.StepOutcome{state.OutcomeSuccess}, outcomes(st, "vet"))
	assert.Equal(t, []state.StepOutcome{state.OutcomeSuccess}, outcomes(st, "fan"))
}

func TestParallelBranchFailureRoutesFailureEdge(t *testing.T) {
	exec := tools.NewMockExecutor().
		Script("lint", "clean").
		ScriptError("vet", agenterr.FatalLocal("vet", errors.New("boom")))
	e := NewEngine(testGraphConfig(), WithTools(testOrchestrator(exec)))

	g := New()
	mustAdd(t, g, &Node{ID: "start", Kind: KindStart})
	mustAdd(t, g, &Node{ID: "fan", Kind: KindParallel, Branches: []string{"lint", "vet"}})
	mustAdd(t, g, &Node{ID: "lint", Kind: KindTool, Build: toolRequest("r1", "lint")})
	// The failing branch has no failure edge, so the branch itself
	// reports the failure up to the join.
	mustAdd(t, g, &Node{ID: "vet", Kind: KindTool, Build: toolRequest("r2", "vet")})
	mustAdd(t, g, &Node{ID: "end", Kind: KindEnd})
	mustAdd(t, g, &Node{ID: "end_fail", Kind: KindEnd})
	mustEdge(t, g, "start", "fan", "")
	mustEdge(t, g, "fan", "end", LabelSuccess)
	mustEdge(t, g, "fan", "end_fail", LabelFailure)

	st := newState()
	out, err := e.Run(context.Background(), g, st)
	require.NoError(t, err)

	assert.Equal(t, "end_fail", out.EndNode)
	// The healthy sibling still ran to completion.
	assert.Equal(t, 1, exec.CallCount("lint"))
}

func TestStreamNodeFoldsOutputIntoMemory(t *testing.T) {
	src := stream.SourceFunc(func(ctx context.Context) (<-chan stream.Element, error) {
		ch := make(chan stream.Element, 2)
		ch <- stream.Element{Data: "hello "}
		ch <- stream.Element{Data: "world"}
		close(ch)
		return ch, nil
	})

	e := NewEngine(testGraphConfig(), WithStreams(testStreamEngine()))

	g := New()
	mustAdd(t, g, &Node{ID: "start", Kind: KindStart})
	mustAdd(t, g, &Node{
		ID:          "watch",
		Kind:        KindStream,
		Source:      src,
		SourceName:  "build-log",
		StreamClass: stream.ClassProgress,
		FoldKey:     "build_output",
	})
	mustAdd(t, g, &Node{ID: "end", Kind: KindEnd})
	mustEdge(t, g, "start", "watch", "")
	mustEdge(t, g, "watch", "end", LabelSuccess)

	st := newState()
	out, err := e.Run(context.Background(), g, st)
	require.NoError(t, err)

	assert.Equal(t, "end", out.EndNode)
	assert.Equal(t, "hello world", st.Memory["build_output"].Value)
	assert.Empty(t, st.ActiveStreams)
}

func TestVerificationFailureRestoresCheckpoint(t *testing.T) {
	store := state.NewStore()
	exec := tools.NewMockExecutor().Script("do_work", "done")
	e := NewEngine(testGraphConfig(),
		WithDecider(decide.NewEngine(config.Default().Decision)),
		WithTools(testOrchestrator(exec)),
		WithStore(store),
	)

	g := New()
	mustAdd(t, g, &Node{ID: "start", Kind: KindStart})
	mustAdd(t, g, &Node{ID: "choose", Kind: KindDecision, Options: func(*state.ReasoningState) []decide.Candidate {
		return []decide.Candidate{{Label: "go"}}
	}})
	mustAdd(t, g, &Node{ID: "work", Kind: KindTool, Build: toolRequest("r1", "do_work")})
	mustAdd(t, g, &Node{ID: "verify", Kind: KindVerification, Verify: func(*state.ReasoningState) bool {
		return false
	}})
	mustAdd(t, g, &Node{ID: "end", Kind: KindEnd})
	mustAdd(t, g, &Node{ID: "end_fail", Kind: KindEnd})
	mustEdge(t, g, "start", "choose", "")
	mustEdge(t, g, "choose", "work", "go")
	mustEdge(t, g, "work", "verify", LabelSuccess)
	mustEdge(t, g, "verify", "end", LabelSuccess)
	mustEdge(t, g, "verify", "end_fail", LabelFailure)

	st := newState()
	out, err := e.Run(context.Background(), g, st)
	require.NoError(t, err)

	assert.Equal(t, "end_fail", out.EndNode)
	// The restore rewound to the pre-decision snapshot: the tool step is
	// gone, the verification failure and final end are recorded on the
	// restored state.
	assert.Empty(t, outcomes(st, "work"))
	failures := outcomes(st, "verify")
	require.Len(t, failures, 1)
	assert.Equal(t, state.OutcomeFailure, failures[0])
}

func TestDynamicNodeAppendMidRun(t *testing.T) {
	exec := tools.NewMockExecutor().
		Script("plan", "needs extra step").
		Script("extra", "done")
	e := NewEngine(testGraphConfig(), WithTools(testOrchestrator(exec)))

	g := New()
	mustAdd(t, g, &Node{ID: "start", Kind: KindStart})
	mustAdd(t, g, &Node{ID: "end", Kind: KindEnd})
	mustAdd(t, g, &Node{ID: "expand", Kind: KindTool, Build: func(st *state.ReasoningState) []*orchestrate.Request {
		// Mid-run expansion: the node grafts a follow-up tool node onto
		// the graph before routing happens.
		_ = g.AddNode(&Node{ID: "extra", Kind: KindTool, Build: toolRequest("r2", "extra")})
		_ = g.AddEdge("expand", "extra", LabelSuccess)
		_ = g.AddEdge("extra", "end", LabelSuccess)
		return []*orchestrate.Request{{ID: "r1", Tool: "plan"}}
	}})
	mustEdge(t, g, "start", "expand", "")

	st := newState()
	out, err := e.Run(context.Background(), g, st)
	require.NoError(t, err)

	assert.Equal(t, "end", out.EndNode)
	assert.Equal(t, 1, exec.CallCount("extra"))
}

func TestMissingCollaboratorFailsNode(t *testing.T) {
	e := NewEngine(testGraphConfig())

	g := New()
	mustAdd(t, g, &Node{ID: "start", Kind: KindStart})
	mustAdd(t, g, &Node{ID: "tool", Kind: KindTool, Build: toolRequest("r1", "x")})
	mustAdd(t, g, &Node{ID: "end", Kind: KindEnd})
	mustEdge(t, g, "start", "tool", "")
	mustEdge(t, g, "tool", "end", LabelSuccess)

	_, err := e.Run(context.Background(), g, newState())
	assert.ErrorIs(t, err, ErrMissingCollaborator)
}

func TestNoRouteForOutcome(t *testing.T) {
	e := NewEngine(testGraphConfig())

	g := New()
	mustAdd(t, g, &Node{ID: "start", Kind: KindStart})
	mustAdd(t, g, &Node{ID: "check", Kind: KindCondition, Predicate: func(*state.ReasoningState) string {
		return "unrouted"
	}})
	mustAdd(t, g, &Node{ID: "end", Kind: KindEnd})
	mustEdge(t, g, "start", "check", "")

	_, err := e.Run(context.Background(), g, newState())
	assert.ErrorIs(t, err, ErrNoRoute)
}

func TestRunHonorsCancellation(t *testing.T) {
	e := NewEngine(config.GraphConfig{MaxSteps: 100000, MaxNodeVisits: 100000, ParallelFanOut: 2})

	g := New()
	mustAdd(t, g, &Node{ID: "start", Kind: KindStart})
	mustAdd(t, g, &Node{ID: "loop", Kind: KindCondition, Predicate: func(*state.ReasoningState) string {
		time.Sleep(time.Millisecond)
		return "again"
	}})
	mustAdd(t, g, &Node{ID: "end", Kind: KindEnd})
	mustEdge(t, g, "start", "loop", "")
	mustEdge(t, g, "loop", "loop", "again")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := e.Run(ctx, g, newState())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
