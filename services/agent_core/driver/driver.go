// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package driver runs the top-level reasoning loop: assemble model
// context, stream the response, dispatch requested tools, fold results
// into state, and decide whether to continue.
package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AgentCore/services/agent_core/agenterr"
	"github.com/AleutianAI/AgentCore/services/agent_core/config"
	"github.com/AleutianAI/AgentCore/services/agent_core/decide"
	"github.com/AleutianAI/AgentCore/services/agent_core/events"
	"github.com/AleutianAI/AgentCore/services/agent_core/llm"
	"github.com/AleutianAI/AgentCore/services/agent_core/orchestrate"
	"github.com/AleutianAI/AgentCore/services/agent_core/state"
	"github.com/AleutianAI/AgentCore/services/agent_core/stream"
	"github.com/AleutianAI/AgentCore/services/agent_core/telemetry"
	"github.com/AleutianAI/AgentCore/services/agent_core/tools"
)

// Termination reasons written into the session history. Each session
// records exactly one.
const (
	// ReasonCompleted means the model declared completion with no
	// further tool calls.
	ReasonCompleted = "completed"

	// ReasonMaxIterations means the iteration ceiling was reached.
	ReasonMaxIterations = "max-iterations-reached"

	// ReasonFatalError means an unrecoverable error ended the session.
	ReasonFatalError = "fatal-error"

	// ReasonConfidenceFloor means the decision engine's confidence for
	// continuing dropped below the configured floor.
	ReasonConfidenceFloor = "confidence-floor"

	// ReasonCanceled means the caller canceled the session.
	ReasonCanceled = "canceled"
)

const defaultSystemPrompt = "You are a coding agent. Use the available " +
	"tools to accomplish the goal, then summarize the result."

// maxStepDetail bounds how much model text is folded into one step.
const maxStepDetail = 2000

// Driver owns one-session-at-a-time reasoning loops over the shared
// component set.
//
// Thread Safety: a Driver may run concurrent sessions; each Process
// call owns its own ReasoningState.
type Driver struct {
	cfg    config.Config
	client llm.Client

	orchestrator *orchestrate.Orchestrator
	decider      *decide.Engine
	streams      *stream.Engine
	store        *state.Store
	registry     *tools.Registry
	emitter      *events.Emitter

	systemPrompt string
	logger       *slog.Logger
	tracer       trace.Tracer
}

// Option configures a Driver.
type Option func(*Driver)

// WithOrchestrator wires the tool orchestrator.
func WithOrchestrator(o *orchestrate.Orchestrator) Option {
	return func(d *Driver) { d.orchestrator = o }
}

// WithDecider wires the decision engine.
func WithDecider(e *decide.Engine) Option {
	return func(d *Driver) { d.decider = e }
}

// WithStreams wires the stream engine.
func WithStreams(s *stream.Engine) Option {
	return func(d *Driver) { d.streams = s }
}

// WithStore wires the state store.
func WithStore(s *state.Store) Option {
	return func(d *Driver) { d.store = s }
}

// WithRegistry wires the tool registry advertised to the model.
func WithRegistry(r *tools.Registry) Option {
	return func(d *Driver) { d.registry = r }
}

// WithEmitter wires the event emitter.
func WithEmitter(e *events.Emitter) Option {
	return func(d *Driver) { d.emitter = e }
}

// WithSystemPrompt overrides the system prompt.
func WithSystemPrompt(prompt string) Option {
	return func(d *Driver) { d.systemPrompt = prompt }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Driver) { d.logger = logger }
}

// New creates a driver around a model client. Components not provided
// are created from the configuration; the tool orchestrator has no
// default (a driver without one rejects tool calls as fatal).
func New(cfg config.Config, client llm.Client, opts ...Option) *Driver {
	d := &Driver{
		cfg:          cfg,
		client:       client,
		systemPrompt: defaultSystemPrompt,
		logger:       slog.Default(),
		tracer:       otel.Tracer("agentcore/driver"),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.emitter == nil {
		d.emitter = events.NewEmitter()
	}
	if d.streams == nil {
		d.streams = stream.NewEngine(cfg.Stream,
			stream.WithTransitionHook(func(streamID string, from, to stream.State, reason string) {
				d.emitter.Emit(events.TypeStreamStateChanged, &events.StreamStateChangedData{
					StreamID:  streamID,
					FromState: string(from),
					ToState:   string(to),
					Reason:    reason,
				})
			}),
		)
	}
	if d.decider == nil {
		dopts := []decide.Option{}
		if d.orchestrator != nil {
			dopts = append(dopts, decide.WithResources(d.orchestrator.Resources()))
		}
		d.decider = decide.NewEngine(cfg.Decision, dopts...)
	}
	if d.store == nil {
		d.store = state.NewStore()
	}
	if d.registry == nil {
		d.registry = tools.NewRegistry()
	}
	return d
}

// Emitter returns the event emitter so callers can subscribe.
func (d *Driver) Emitter() *events.Emitter {
	return d.emitter
}

// Process runs the bounded reasoning loop for one input.
//
// Description:
//
//	Each iteration assembles the model context from ReasoningState and
//	the previous tool results, streams the model response through the
//	stream engine while collecting structured tool calls from the side
//	channel, dispatches the calls through the orchestrator, folds every
//	result back into state, and asks the decision engine whether
//	continuing is still warranted. Termination reasons, in priority
//	order: the model completes with no tool calls; the iteration
//	ceiling; an unrecoverable error; the continue-confidence floor;
//	cancellation. Whatever the reason, a final step records it, so the
//	history is self-explanatory even on failure.
//
// Inputs:
//
//	ctx - Cancels the session at the current suspension point.
//	input - The top-level goal text.
//
// Outputs:
//
//	*state.ReasoningState - The completed session state, partial
//	results preserved. Non-nil whenever a session started.
//	error - ctx.Err() on cancellation; nil for recorded terminations.
func (d *Driver) Process(ctx context.Context, input string) (*state.ReasoningState, error) {
	if strings.TrimSpace(input) == "" {
		return nil, errors.New("driver: empty input")
	}

	start := time.Now()
	st := state.NewReasoningState(uuid.NewString(), d.cfg.State.WorkingMemoryCapacity)
	st.PushGoal(state.Goal{ID: "goal-root", Description: input, Status: state.GoalActive})

	d.emitter.SetSessionID(st.SessionID)
	d.emitter.Emit(events.TypeSessionStart, &events.SessionStartData{Goal: input})
	d.logger.Info("session started",
		"session_id", st.SessionID,
		"model", d.client.Model(),
	)

	ctx, span := d.tracer.Start(ctx, "driver.process",
		trace.WithAttributes(attribute.String("session.id", st.SessionID)))
	defer span.End()

	log := telemetry.LoggerWithSession(ctx, d.logger, st.SessionID)
	conversation := []llm.Message{{Role: "user", Content: input}}

	for iteration := 1; iteration <= d.cfg.Driver.MaxIterations; iteration++ {
		d.emitter.SetIteration(iteration)

		iterCtx, cancel := context.WithTimeout(ctx, d.cfg.Driver.IterationTimeout)
		turn, err := d.converse(iterCtx, st, conversation)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return d.terminate(st, ReasonCanceled, iteration, start), ctx.Err()
			}
			st.AppendStep(state.ReasoningStep{
				Node:    "model",
				Outcome: state.OutcomeFailure,
				Detail:  err.Error(),
			})
			d.emitError(err, "model")
			return d.terminate(st, ReasonFatalError, iteration, start), nil
		}

		log.Debug("model turn complete",
			"iteration", iteration,
			"stop_reason", turn.stopReason,
			"tool_calls", len(turn.calls),
		)

		if turn.text != "" {
			st.AppendStep(state.ReasoningStep{
				Node:    "model",
				Outcome: state.OutcomeSuccess,
				Detail:  truncate(turn.text, maxStepDetail),
			})
			conversation = append(conversation, llm.Message{Role: "assistant", Content: turn.text})
		}

		if len(turn.calls) == 0 {
			// Model declared completion; highest-priority termination.
			if goal := st.ActiveGoal(); goal != nil {
				_ = st.SetGoalStatus(goal.ID, state.GoalDone)
			}
			return d.terminate(st, ReasonCompleted, iteration, start), nil
		}

		toolCtx, cancelTools := context.WithTimeout(ctx, d.cfg.Driver.IterationTimeout)
		results, fatal := d.runTools(toolCtx, st, turn.calls)
		cancelTools()
		conversation = append(conversation, llm.Message{Role: "tool", ToolResults: results})
		if fatal != nil {
			d.emitError(fatal, "orchestrator")
			return d.terminate(st, ReasonFatalError, iteration, start), nil
		}
		if ctx.Err() != nil {
			return d.terminate(st, ReasonCanceled, iteration, start), ctx.Err()
		}

		if !d.shouldContinue(st) {
			return d.terminate(st, ReasonConfidenceFloor, iteration, start), nil
		}
	}

	return d.terminate(st, ReasonMaxIterations, d.cfg.Driver.MaxIterations, start), nil
}

// Shutdown terminates live streams and closes the event emitter after
// draining subscriber queues.
func (d *Driver) Shutdown(ctx context.Context) error {
	d.streams.Shutdown("driver shutdown")

	done := make(chan struct{})
	go func() {
		d.emitter.Close()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// modelTurn is one streamed model response.
type modelTurn struct {
	text       string
	calls      []llm.ToolCall
	stopReason string
}

// converse streams one model turn through the stream engine, collecting
// tool calls from the structured side channel.
func (d *Driver) converse(ctx context.Context, st *state.ReasoningState, conversation []llm.Message) (*modelTurn, error) {
	req := &llm.Request{
		SystemPrompt: d.systemPrompt,
		Messages:     conversation,
		Tools:        d.toolDefinitions(),
	}

	turn := &modelTurn{}
	var mu sync.Mutex
	var text *strings.Builder

	// A reconnect re-invokes the model, which generates the turn afresh
	// rather than resuming the broken one. The side channel and the text
	// accumulator reset per source session so a failed attempt leaves no
	// residue; each session writes to its own builder, and only the
	// latest one is read after the pump settles.
	src := stream.SourceFunc(func(ctx context.Context) (<-chan stream.Element, error) {
		chunks, err := d.client.Stream(ctx, req)
		if err != nil {
			return nil, agenterr.FatalGlobal("model stream", err)
		}
		attempt := &strings.Builder{}
		mu.Lock()
		turn.calls = turn.calls[:0]
		turn.stopReason = ""
		text = attempt
		mu.Unlock()

		out := make(chan stream.Element)
		go func() {
			defer close(out)
			for chunk := range chunks {
				switch chunk.Kind {
				case llm.ChunkTextDelta:
					attempt.WriteString(chunk.Text)
					out <- stream.Element{Data: chunk.Text}
				case llm.ChunkToolCall:
					if chunk.ToolCall != nil {
						mu.Lock()
						turn.calls = append(turn.calls, *chunk.ToolCall)
						mu.Unlock()
					}
				case llm.ChunkEndOfTurn:
					mu.Lock()
					turn.stopReason = chunk.StopReason
					mu.Unlock()
				case llm.ChunkError:
					out <- stream.Element{Err: chunk.Err}
					return
				}
			}
		}()
		return out, nil
	})

	source := "model:" + d.client.Name()
	s, err := d.streams.Open(source, stream.ClassToken)
	if err != nil {
		return nil, err
	}
	st.RegisterStream(s.ID())
	defer func() {
		st.UnregisterStream(s.ID())
		d.streams.Release(s.ID())
	}()

	pumpDone := make(chan error, 1)
	go func() {
		pumpDone <- d.streams.Pump(ctx, s, source, src)
	}()

	// Drain the stream for flow control; the recorded text comes from
	// the accumulator of the surviving source session, which excludes
	// anything a failed attempt already streamed.
	var readErr error
	for {
		if _, err := s.Next(ctx); err != nil {
			if !errors.Is(err, io.EOF) {
				readErr = err
			}
			break
		}
	}
	if pumpErr := <-pumpDone; pumpErr != nil {
		return nil, pumpErr
	}
	if readErr != nil {
		return nil, readErr
	}

	mu.Lock()
	defer mu.Unlock()
	if text != nil {
		turn.text = text.String()
	}
	return turn, nil
}

// runTools converts model tool calls into an orchestrated batch, folds
// every result into state, and reports a fatal-global error if one
// surfaced.
func (d *Driver) runTools(ctx context.Context, st *state.ReasoningState, calls []llm.ToolCall) ([]llm.ToolResult, error) {
	if d.orchestrator == nil {
		err := errors.New("driver: model requested tools but no orchestrator is wired")
		st.AppendStep(state.ReasoningStep{
			Node:    "tools",
			Outcome: state.OutcomeFailure,
			Detail:  err.Error(),
		})
		return nil, err
	}

	batch := make([]*orchestrate.Request, 0, len(calls))
	for _, call := range calls {
		batch = append(batch, &orchestrate.Request{
			ID:        call.ID,
			Tool:      call.Name,
			Arguments: call.Arguments,
			Resources: d.registry.Resources(call.Name),
		})
	}

	result, err := d.orchestrator.Execute(ctx, batch)
	if err != nil && result == nil {
		// Planning rejection: fold the failure and feed it back to the
		// model rather than killing the session.
		st.AppendStep(state.ReasoningStep{
			Node:    "tools",
			Outcome: state.OutcomeFailure,
			Detail:  err.Error(),
		})
		feedback := make([]llm.ToolResult, 0, len(calls))
		for _, call := range calls {
			feedback = append(feedback, llm.ToolResult{
				ToolCallID: call.ID,
				Content:    err.Error(),
				IsError:    true,
			})
		}
		return feedback, nil
	}

	var fatal error
	feedback := make([]llm.ToolResult, 0, len(calls))
	for _, call := range calls {
		res := result.Results[call.ID]
		if res == nil {
			continue
		}
		for _, retryErr := range res.RetryErrors {
			st.AppendStep(state.ReasoningStep{
				Node:    "tools",
				Input:   res.Tool,
				Outcome: state.OutcomeRetry,
				Detail:  retryErr,
			})
		}
		st.AppendStep(toolStep(res))

		tr := llm.ToolResult{ToolCallID: call.ID, Content: res.Output}
		if res.Status != orchestrate.StatusSucceeded {
			tr.IsError = true
			if res.Err != nil {
				tr.Content = res.Err.Error()
				if agenterr.IsFatalGlobal(res.Err) {
					fatal = res.Err
				}
			}
		}
		feedback = append(feedback, tr)
	}
	return feedback, fatal
}

// toolStep converts one orchestration result into a reasoning step.
func toolStep(res *orchestrate.Result) state.ReasoningStep {
	step := state.ReasoningStep{Node: "tools", Input: res.Tool}
	switch res.Status {
	case orchestrate.StatusSucceeded:
		step.Outcome = state.OutcomeSuccess
		step.Detail = truncate(res.Output, maxStepDetail)
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

// shouldContinue asks the decision engine whether another iteration is
// warranted, using the recent failure rate as the risk signal.
func (d *Driver) shouldContinue(st *state.ReasoningState) bool {
	goalTag := ""
	if goal := st.ActiveGoal(); goal != nil {
		goalTag = goal.ID
	}

	dec, err := d.decider.Decide(decide.Query{
		Node:    "driver.continue",
		GoalTag: goalTag,
		Candidates: []decide.Candidate{
			{Label: "continue", Risk: recentFailureRate(st, 10)},
		},
	})
	if err != nil {
		d.logger.Warn("continue decision failed", "error", err)
		return true
	}
	if dec.NoConfidentChoice || dec.Confidence < d.cfg.Driver.ConfidenceFloor {
		d.logger.Info("confidence below floor, terminating",
			"confidence", dec.Confidence,
			"floor", d.cfg.Driver.ConfidenceFloor,
		)
		return false
	}
	if dec.RecordID != "" {
		// The loop surviving to the next iteration is the outcome.
		_ = d.decider.RecordOutcome(dec.RecordID, true, 0)
	}
	return true
}

// recentFailureRate returns the failed fraction of the last n steps.
func recentFailureRate(st *state.ReasoningState, n int) float64 {
	steps := st.Steps
	if len(steps) > n {
		steps = steps[len(steps)-n:]
	}
	if len(steps) == 0 {
		return 0
	}
	failed := 0
	for _, s := range steps {
		if s.Outcome == state.OutcomeFailure {
			failed++
		}
	}
	return float64(failed) / float64(len(steps))
}

// terminate writes the single termination reason, the final step, and
// the session-end event, then persists best-effort.
func (d *Driver) terminate(st *state.ReasoningState, reason string, iterations int, start time.Time) *state.ReasoningState {
	st.TerminationReason = reason

	outcome := state.OutcomeFailure
	if reason == ReasonCompleted {
		outcome = state.OutcomeSuccess
	}
	st.AppendStep(state.ReasoningStep{
		Node:    "session",
		Outcome: outcome,
		Detail:  "session terminated: " + reason,
	})

	d.emitter.Emit(events.TypeSessionEnd, &events.SessionEndData{
		Reason:     reason,
		Iterations: iterations,
		Duration:   time.Since(start),
	})
	d.logger.Info("session terminated",
		"session_id", st.SessionID,
		"reason", reason,
		"iterations", iterations,
		"steps", st.StepCount(),
	)

	if d.store != nil {
		saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := d.store.SaveSession(saveCtx, st); err != nil && !errors.Is(err, state.ErrNoPersistence) {
			d.logger.Warn("session save failed", "session_id", st.SessionID, "error", err)
		}
		cancel()
		d.store.Discard(st.SessionID)
	}
	return st
}

func (d *Driver) emitError(err error, source string) {
	d.emitter.Emit(events.TypeError, &events.ErrorData{
		Error:  err.Error(),
		Class:  agenterr.ClassOf(err).String(),
		Source: source,
	})
}

// toolDefinitions advertises the registry to the model.
func (d *Driver) toolDefinitions() []llm.ToolDefinition {
	defs := d.registry.List()
	out := make([]llm.ToolDefinition, 0, len(defs))
	for _, def := range defs {
		out = append(out, llm.ToolDefinition{
			Name:        def.Name,
			Description: def.Description,
			Schema:      def.Schema,
		})
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + fmt.Sprintf("... (%d bytes truncated)", len(s)-n)
}
