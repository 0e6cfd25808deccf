// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package driver

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AgentCore/services/agent_core/agenterr"
	"github.com/AleutianAI/AgentCore/services/agent_core/config"
	"github.com/AleutianAI/AgentCore/services/agent_core/events"
	"github.com/AleutianAI/AgentCore/services/agent_core/llm"
	"github.com/AleutianAI/AgentCore/services/agent_core/orchestrate"
	"github.com/AleutianAI/AgentCore/services/agent_core/state"
	"github.com/AleutianAI/AgentCore/services/agent_core/tools"
)

func testDriverConfig() config.Config {
	cfg := config.Default()
	cfg.Driver.MaxIterations = 5
	cfg.Driver.IterationTimeout = 5 * time.Second
	cfg.Orchestrator.Retry.BaseDelay = time.Millisecond
	cfg.Orchestrator.Retry.MaxDelay = 5 * time.Millisecond
	cfg.Orchestrator.AcquireTimeout = 100 * time.Millisecond
	cfg.Stream.Retry.MaxAttempts = 2
	cfg.Stream.Retry.BaseDelay = time.Millisecond
	cfg.Stream.BreakerCooldown = time.Hour
	return cfg
}

func newTestDriver(cfg config.Config, client llm.Client, exec tools.Executor) *Driver {
	reg := tools.NewRegistry()
	reg.Register(tools.Definition{
		Name:        "read_file",
		Description: "Read a file",
		Resources:   []string{"filesystem"},
	})
	return New(cfg, client,
		WithOrchestrator(orchestrate.New(cfg.Orchestrator, exec)),
		WithRegistry(reg),
	)
}

func TestCompletesWhenModelDeclaresCompletion(t *testing.T) {
	client := llm.NewMockClient().QueueTextTurn("the answer is 42")
	d := newTestDriver(testDriverConfig(), client, tools.NewMockExecutor())

	st, err := d.Process(context.Background(), "what is the answer")
	require.NoError(t, err)

	assert.Equal(t, ReasonCompleted, st.TerminationReason)
	assert.Equal(t, 1, client.CallCount())

	last := st.LastStep()
	require.NotNil(t, last)
	assert.Equal(t, "session", last.Node)
	assert.Equal(t, state.OutcomeSuccess, last.Outcome)
	assert.Contains(t, last.Detail, ReasonCompleted)

	require.NotEmpty(t, st.Goals)
	assert.Equal(t, state.GoalDone, st.Goals[0].Status)
}

func TestToolCallRoundTrip(t *testing.T) {
	client := llm.NewMockClient().
		QueueToolCallTurn(llm.ToolCall{Name: "read_file", Arguments: llm.MustArgs(map[string]any{"path": "main.go"})}).
		QueueTextTurn("done")
	exec := tools.NewMockExecutor().Script("read_file", "package main")
	d := newTestDriver(testDriverConfig(), client, exec)

	st, err := d.Process(context.Background(), "read main.go")
	require.NoError(t, err)

	assert.Equal(t, ReasonCompleted, st.TerminationReason)
	assert.Equal(t, 1, exec.CallCount("read_file"))
	assert.Equal(t, 2, client.CallCount())

	// The tool result was fed back on the following turn.
	req := client.LastRequest()
	require.NotNil(t, req)
	var toolMsg *llm.Message
	for i := range req.Messages {
		if req.Messages[i].Role == "tool" {
			toolMsg = &req.Messages[i]
		}
	}
	require.NotNil(t, toolMsg)
	require.Len(t, toolMsg.ToolResults, 1)
	assert.Equal(t, "call_0", toolMsg.ToolResults[0].ToolCallID)
	assert.Equal(t, "package main", toolMsg.ToolResults[0].Content)
	assert.False(t, toolMsg.ToolResults[0].IsError)

	// The tools are advertised to the model.
	require.NotEmpty(t, req.Tools)
	assert.Equal(t, "read_file", req.Tools[0].Name)
}

func TestMaxIterationsStopsToolDispatch(t *testing.T) {
	cfg := testDriverConfig()
	cfg.Driver.MaxIterations = 3

	client := llm.NewMockClient()
	for i := 0; i < 4; i++ {
		client.QueueToolCallTurn(llm.ToolCall{Name: "read_file", Arguments: "{}"})
	}
	exec := tools.NewMockExecutor().Script("read_file", "contents")
	d := newTestDriver(cfg, client, exec)

	st, err := d.Process(context.Background(), "never finishes")
	require.NoError(t, err)

	assert.Equal(t, ReasonMaxIterations, st.TerminationReason)
	// The ceiling cuts off both model calls and tool dispatch.
	assert.Equal(t, 3, client.CallCount())
	assert.Equal(t, 3, exec.CallCount("read_file"))

	last := st.LastStep()
	require.NotNil(t, last)
	assert.Contains(t, last.Detail, ReasonMaxIterations)
}

func TestModelStartFailureIsFatal(t *testing.T) {
	client := llm.NewMockClient().WithError(errors.New("quota exhausted"))
	d := newTestDriver(testDriverConfig(), client, tools.NewMockExecutor())

	st, err := d.Process(context.Background(), "anything")
	require.NoError(t, err)

	assert.Equal(t, ReasonFatalError, st.TerminationReason)
	// Partial history is preserved with the failure recorded.
	var sawModelFailure bool
	for _, step := range st.Steps {
		if step.Node == "model" && step.Outcome == state.OutcomeFailure {
			sawModelFailure = true
		}
	}
	assert.True(t, sawModelFailure)
}

func TestTransientStreamFaultReconnects(t *testing.T) {
	client := llm.NewMockClient().
		QueueErrorTurn("partial ", agenterr.Transient("stream", errors.New("connection reset"))).
		QueueTextTurn("recovered fine")
	d := newTestDriver(testDriverConfig(), client, tools.NewMockExecutor())

	st, err := d.Process(context.Background(), "flaky network")
	require.NoError(t, err)

	assert.Equal(t, ReasonCompleted, st.TerminationReason)
	// The reconnect consumed the second queued turn within one iteration.
	assert.Equal(t, 2, client.CallCount())

	// The recorded turn holds only the surviving attempt's text; the
	// prefix streamed before the fault is not duplicated into it.
	var modelText string
	for _, step := range st.Steps {
		if step.Node == "model" && step.Outcome == state.OutcomeSuccess {
			modelText = step.Detail
		}
	}
	assert.Equal(t, "recovered fine", modelText)
	assert.NotContains(t, modelText, "partial")
}

func TestFatalGlobalToolFailureTerminates(t *testing.T) {
	client := llm.NewMockClient().
		QueueToolCallTurn(llm.ToolCall{Name: "read_file", Arguments: "{}"}).
		QueueTextTurn("never reached")
	exec := tools.NewMockExecutor().
		ScriptError("read_file", agenterr.FatalGlobal("store", errors.New("state corruption detected")))
	d := newTestDriver(testDriverConfig(), client, exec)

	st, err := d.Process(context.Background(), "doomed")
	require.NoError(t, err)

	assert.Equal(t, ReasonFatalError, st.TerminationReason)
	assert.Equal(t, 1, client.CallCount())
}

func TestConfidenceFloorTerminates(t *testing.T) {
	cfg := testDriverConfig()
	cfg.Driver.ConfidenceFloor = 0.99

	client := llm.NewMockClient().
		QueueToolCallTurn(llm.ToolCall{Name: "read_file", Arguments: "{}"}).
		QueueToolCallTurn(llm.ToolCall{Name: "read_file", Arguments: "{}"})
	exec := tools.NewMockExecutor().Script("read_file", "contents")
	d := newTestDriver(cfg, client, exec)

	st, err := d.Process(context.Background(), "low confidence")
	require.NoError(t, err)

	assert.Equal(t, ReasonConfidenceFloor, st.TerminationReason)
	assert.Equal(t, 1, client.CallCount())
}

func TestCancellationRecordsReason(t *testing.T) {
	client := llm.NewMockClient().WithDelay(20 * time.Millisecond).
		QueueTextTurn("a very long answer that keeps streaming for a while")
	d := newTestDriver(testDriverConfig(), client, tools.NewMockExecutor())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	st, err := d.Process(ctx, "slow goal")
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, st)
	assert.Equal(t, ReasonCanceled, st.TerminationReason)
}

func TestEmptyInputRejected(t *testing.T) {
	d := newTestDriver(testDriverConfig(), llm.NewMockClient(), tools.NewMockExecutor())
	_, err := d.Process(context.Background(), "   ")
	assert.Error(t, err)
}

func TestSessionEventsEmitted(t *testing.T) {
	client := llm.NewMockClient().QueueTextTurn("done")
	d := newTestDriver(testDriverConfig(), client, tools.NewMockExecutor())

	var mu sync.Mutex
	var seen []events.Type
	d.Emitter().Subscribe(func(e *events.Event) {
		mu.Lock()
		seen = append(seen, e.Type)
		mu.Unlock()
	}, events.TypeSessionStart, events.TypeSessionEnd)

	_, err := d.Process(context.Background(), "emit events")
	require.NoError(t, err)
	require.NoError(t, d.Shutdown(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []events.Type{events.TypeSessionStart, events.TypeSessionEnd}, seen)
}

func TestPhaseEventsBridge(t *testing.T) {
	emitter := events.NewEmitter()

	var mu sync.Mutex
	var phases []*events.ToolPhaseData
	emitter.Subscribe(func(e *events.Event) {
		if data, ok := e.Data.(*events.ToolPhaseData); ok {
			mu.Lock()
			phases = append(phases, data)
			mu.Unlock()
		}
	}, events.TypeToolPhaseStarted, events.TypeToolPhaseCompleted)

	cfg := testDriverConfig()
	exec := tools.NewMockExecutor().Script("t", "ok")
	orch := orchestrate.New(cfg.Orchestrator, exec,
		orchestrate.WithObserver(NewPhaseEvents(emitter)))

	_, err := orch.Execute(context.Background(), []*orchestrate.Request{{ID: "r1", Tool: "t"}})
	require.NoError(t, err)
	emitter.Close()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, phases, 2)
	assert.Equal(t, 1, phases[0].Requests)
	assert.Equal(t, 1, phases[1].Succeeded)
}
