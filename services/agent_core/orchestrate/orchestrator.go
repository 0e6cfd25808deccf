// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/AleutianAI/AgentCore/services/agent_core/agenterr"
	"github.com/AleutianAI/AgentCore/services/agent_core/backoff"
	"github.com/AleutianAI/AgentCore/services/agent_core/config"
	"github.com/AleutianAI/AgentCore/services/agent_core/tools"
)

// PhaseObserver is notified at phase boundaries (wired to the event
// emitter by the owner).
type PhaseObserver interface {
	PhaseStarted(phase, requests int)
	PhaseCompleted(phase, succeeded, failed, skipped int, duration time.Duration)
}

// Orchestrator executes request batches under the configured
// concurrency ceiling and resource quotas.
//
// Thread Safety: Orchestrator is safe for concurrent use; independent
// batches may run simultaneously and share the same pools.
type Orchestrator struct {
	cfg       config.OrchestratorConfig
	executor  tools.Executor
	resources *ResourceManager
	global    *semaphore.Weighted

	logger   *slog.Logger
	metrics  *Metrics
	observer PhaseObserver
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithMetrics attaches orchestrator metrics.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithObserver attaches a phase observer.
func WithObserver(obs PhaseObserver) Option {
	return func(o *Orchestrator) { o.observer = obs }
}

// New creates an orchestrator around an executor.
func New(cfg config.OrchestratorConfig, executor tools.Executor, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:       cfg,
		executor:  executor,
		resources: NewResourceManager(cfg.PoolQuotas),
		global:    semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Resources exposes the pool manager (the decision engine queries
// availability through it).
func (o *Orchestrator) Resources() *ResourceManager {
	return o.resources
}

// ExecOption configures one Execute call.
type ExecOption func(*execOptions)

type execOptions struct {
	failFast bool
}

// FailFast aborts the batch at the first phase containing a failure;
// all later requests are marked skipped.
func FailFast() ExecOption {
	return func(e *execOptions) { e.failFast = true }
}

// Execute plans and runs a batch.
//
// Description:
//
//	Planning rejects cyclic batches before anything executes. Phases
//	run strictly in order; requests within a phase run in parallel
//	bounded by the global ceiling and by per-pool quotas (acquired
//	all-or-nothing before dispatch, released on every exit path). A
//	failed request fails alone unless fail-fast is set; its dependents
//	are recorded as skipped, never attempted.
//
// Inputs:
//
//	ctx - Cancels in-flight requests and pending phases.
//	batch - The requests.
//	opts - Per-call policy.
//
// Outputs:
//
//	*BatchResult - One result per request; nil only on planning failure.
//	error - Planning error (ErrDependencyCycle etc.) or ctx.Err().
func (o *Orchestrator) Execute(ctx context.Context, batch []*Request, opts ...ExecOption) (*BatchResult, error) {
	var eo execOptions
	for _, opt := range opts {
		opt(&eo)
	}

	plan, err := BuildPlan(batch)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	out := &BatchResult{
		Results: make(map[string]*Result, len(batch)),
		Phases:  plan.PhaseIDs(),
	}
	var mu sync.Mutex

	for phaseIdx, phase := range plan.Phases {
		if err := ctx.Err(); err != nil {
			o.skipRemaining(out, plan, phaseIdx, err)
			out.Duration = time.Since(start)
			return out, err
		}

		if o.observer != nil {
			o.observer.PhaseStarted(phaseIdx, len(phase))
		}
		phaseStart := time.Now()

		runnable := make([]*Request, 0, len(phase))
		for _, req := range phase {
			if blocked, dep := o.blockedBy(out, req); blocked {
				mu.Lock()
				out.Results[req.ID] = &Result{
					RequestID: req.ID,
					Tool:      req.Tool,
					Status:    StatusSkipped,
					Err:       fmt.Errorf("%w: %s", ErrSkippedDependency, dep),
					Phase:     phaseIdx,
				}
				mu.Unlock()
				continue
			}
			runnable = append(runnable, req)
		}

		g, phaseCtx := errgroup.WithContext(ctx)
		for _, req := range runnable {
			req := req
			g.Go(func() error {
				res := o.runRequest(phaseCtx, req, phaseIdx)
				mu.Lock()
				out.Results[req.ID] = res
				mu.Unlock()
				if eo.failFast && res.Status == StatusFailed {
					// Cancels phaseCtx, aborting in-flight siblings.
					return res.Err
				}
				return nil
			})
		}
		phaseErr := g.Wait()

		succeeded, failed, skipped := o.phaseTally(out, phaseIdx)
		if o.metrics != nil {
			o.metrics.phaseDuration.WithLabelValues(strconv.Itoa(phaseIdx)).
				Observe(time.Since(phaseStart).Seconds())
		}
		if o.observer != nil {
			o.observer.PhaseCompleted(phaseIdx, succeeded, failed, skipped, time.Since(phaseStart))
		}

		if eo.failFast && phaseErr != nil {
			out.FailFast = true
			o.skipRemaining(out, plan, phaseIdx+1, ErrBatchAborted)
			break
		}
	}

	out.Duration = time.Since(start)
	return out, nil
}

// runRequest executes one request with resource acquisition and retry.
func (o *Orchestrator) runRequest(ctx context.Context, req *Request, phaseIdx int) *Result {
	res := &Result{RequestID: req.ID, Tool: req.Tool, Phase: phaseIdx}
	start := time.Now()
	defer func() { res.Duration = time.Since(start) }()

	fail := func(err error) *Result {
		res.Status = StatusFailed
		res.Err = err
		o.countOutcome(StatusFailed)
		return res
	}

	if err := o.global.Acquire(ctx, 1); err != nil {
		return fail(err)
	}
	defer o.global.Release(1)

	release, err := o.resources.Acquire(ctx, req.Resources, o.cfg.AcquireTimeout)
	if err != nil {
		return fail(err)
	}
	defer func() {
		release()
		o.updatePoolGauges(req.Resources)
	}()
	o.updatePoolGauges(req.Resources)

	policy := o.retryPolicy(req)
	var lastOutput string
	err = backoff.Retry(ctx, policy, func(ctx context.Context, attempt int) error {
		res.Attempts = attempt
		if attempt > 1 {
			if o.metrics != nil {
				o.metrics.retries.WithLabelValues(req.Tool).Inc()
			}
			o.logger.Debug("retrying tool request",
				"request_id", req.ID,
				"tool", req.Tool,
				"attempt", attempt,
			)
		}

		attemptErr := o.executeOnce(ctx, req, &lastOutput)
		if attemptErr != nil && attempt < policy.MaxAttempts && o.retryable(attemptErr) {
			res.RetryErrors = append(res.RetryErrors, attemptErr.Error())
		}
		return attemptErr
	}, o.retryable)
	if err != nil {
		return fail(err)
	}

	res.Status = StatusSucceeded
	res.Output = lastOutput
	o.countOutcome(StatusSucceeded)
	return res
}

// executeOnce runs a single attempt through the executor with the
// per-attempt timeout.
func (o *Orchestrator) executeOnce(ctx context.Context, req *Request, output *string) error {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = o.cfg.DefaultTimeout
	}
	attemptCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	toolRes, err := o.executor.Execute(attemptCtx, &tools.Invocation{
		ID:        req.ID,
		Tool:      req.Tool,
		Arguments: req.Arguments,
		Timeout:   timeout,
	})
	if err != nil {
		// Executor-level errors (unknown tool) are fatal-local.
		return agenterr.FatalLocal("execute", err)
	}
	if toolRes.Err != nil {
		return toolRes.Err
	}
	*output = toolRes.Output
	return nil
}

// retryable classifies an attempt error: timeouts and transient I/O
// retry, everything else fails immediately.
func (o *Orchestrator) retryable(err error) bool {
	if errors.Is(err, tools.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return agenterr.IsTransient(err)
}

func (o *Orchestrator) retryPolicy(req *Request) backoff.Policy {
	if req.Retry != nil {
		return *req.Retry
	}
	return backoff.Policy{
		MaxAttempts: o.cfg.Retry.MaxAttempts,
		BaseDelay:   o.cfg.Retry.BaseDelay,
		MaxDelay:    o.cfg.Retry.MaxDelay,
		Multiplier:  o.cfg.Retry.Multiplier,
		Jitter:      o.cfg.Retry.Jitter,
	}
}

// blockedBy reports whether a declared dependency did not succeed.
func (o *Orchestrator) blockedBy(out *BatchResult, req *Request) (bool, string) {
	for _, dep := range req.DependsOn {
		if res, ok := out.Results[dep]; ok && res.Status != StatusSucceeded {
			return true, dep
		}
	}
	return false, ""
}

// skipRemaining records skipped results for every unresolved request
// from the given phase onward.
func (o *Orchestrator) skipRemaining(out *BatchResult, plan *Plan, fromPhase int, cause error) {
	for i := fromPhase; i < len(plan.Phases); i++ {
		for _, req := range plan.Phases[i] {
			if _, done := out.Results[req.ID]; done {
				continue
			}
			out.Results[req.ID] = &Result{
				RequestID: req.ID,
				Tool:      req.Tool,
				Status:    StatusSkipped,
				Err:       cause,
				Phase:     i,
			}
			o.countOutcome(StatusSkipped)
		}
	}
}

func (o *Orchestrator) phaseTally(out *BatchResult, phaseIdx int) (succeeded, failed, skipped int) {
	for _, res := range out.Results {
		if res.Phase != phaseIdx {
			continue
		}
		switch res.Status {
		case StatusSucceeded:
			succeeded++
		case StatusFailed:
			failed++
		case StatusSkipped:
			skipped++
		}
	}
	return
}

func (o *Orchestrator) countOutcome(status Status) {
	if o.metrics != nil {
		o.metrics.requestOutcomes.WithLabelValues(string(status)).Inc()
	}
}

func (o *Orchestrator) updatePoolGauges(resources []string) {
	if o.metrics == nil {
		return
	}
	for _, name := range dedupeSorted(resources) {
		o.metrics.poolUtilization.WithLabelValues(name).Set(float64(o.resources.InUse(name)))
	}
}
