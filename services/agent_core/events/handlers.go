// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package events

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
)

// LoggingHandler creates a handler that logs events.
//
// Inputs:
//
//	logger - The slog logger to use.
//	level - The log level for events.
//
// Outputs:
//
//	Handler - A handler function that logs events.
func LoggingHandler(logger *slog.Logger, level slog.Level) Handler {
	return func(event *Event) {
		attrs := []any{
			slog.String("event_id", event.ID),
			slog.String("event_type", string(event.Type)),
			slog.String("session_id", event.SessionID),
			slog.Int("iteration", event.Iteration),
		}

		switch data := event.Data.(type) {
		case *SessionStartData:
			attrs = append(attrs, slog.String("goal", data.Goal))

		case *SessionEndData:
			attrs = append(attrs,
				slog.String("reason", data.Reason),
				slog.Int("iterations", data.Iterations),
				slog.Duration("duration", data.Duration),
			)

		case *StepRecordedData:
			attrs = append(attrs,
				slog.String("node", data.Node),
				slog.String("outcome", data.Outcome),
			)

		case *DecisionMadeData:
			attrs = append(attrs,
				slog.String("node", data.Node),
				slog.String("selected", data.Selected),
				slog.Float64("confidence", data.Confidence),
				slog.Int("candidates", data.Candidates),
			)

		case *ToolPhaseData:
			attrs = append(attrs,
				slog.Int("phase", data.Phase),
				slog.Int("requests", data.Requests),
			)
			if event.Type == TypeToolPhaseCompleted {
				attrs = append(attrs,
					slog.Int("succeeded", data.Succeeded),
					slog.Int("failed", data.Failed),
					slog.Int("skipped", data.Skipped),
					slog.Duration("duration", data.Duration),
				)
			}

		case *StreamStateChangedData:
			attrs = append(attrs,
				slog.String("stream_id", data.StreamID),
				slog.String("from_state", data.FromState),
				slog.String("to_state", data.ToState),
			)
			if data.Reason != "" {
				attrs = append(attrs, slog.String("reason", data.Reason))
			}

		case *CheckpointTakenData:
			attrs = append(attrs, slog.String("checkpoint_id", data.CheckpointID))

		case *ErrorData:
			attrs = append(attrs,
				slog.String("error", data.Error),
				slog.String("class", data.Class),
			)
			if data.Source != "" {
				attrs = append(attrs, slog.String("source", data.Source))
			}
		}

		logger.Log(context.Background(), level, "agent event", attrs...)
	}
}

// MetricsCollector exports event counts as Prometheus metrics.
//
// Thread Safety: MetricsCollector is safe for concurrent use.
type MetricsCollector struct {
	sessions   prometheus.Counter
	steps      *prometheus.CounterVec
	decisions  prometheus.Counter
	confidence prometheus.Histogram
	toolPhases prometheus.Counter
	errors     *prometheus.CounterVec
}

// NewMetricsCollector creates a collector registered on reg.
func NewMetricsCollector(reg prometheus.Registerer) *MetricsCollector {
	c := &MetricsCollector{
		sessions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agentcore",
			Name:      "sessions_total",
			Help:      "Total reasoning sessions started.",
		}),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentcore",
			Name:      "steps_total",
			Help:      "Total reasoning steps recorded, by outcome.",
		}, []string{"outcome"}),
		decisions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agentcore",
			Name:      "decisions_total",
			Help:      "Total decisions made.",
		}),
		confidence: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "agentcore",
			Name:      "decision_confidence",
			Help:      "Distribution of decision confidence.",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}),
		toolPhases: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agentcore",
			Name:      "tool_phases_total",
			Help:      "Total tool orchestration phases completed.",
		}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentcore",
			Name:      "errors_total",
			Help:      "Total errors recorded, by class.",
		}, []string{"class"}),
	}
	reg.MustRegister(c.sessions, c.steps, c.decisions, c.confidence, c.toolPhases, c.errors)
	return c
}

// Handler returns an event handler feeding the collector.
func (c *MetricsCollector) Handler() Handler {
	return func(event *Event) {
		switch data := event.Data.(type) {
		case *SessionStartData:
			c.sessions.Inc()

		case *StepRecordedData:
			c.steps.WithLabelValues(data.Outcome).Inc()

		case *DecisionMadeData:
			c.decisions.Inc()
			c.confidence.Observe(data.Confidence)

		case *ToolPhaseData:
			if event.Type == TypeToolPhaseCompleted {
				c.toolPhases.Inc()
			}

		case *ErrorData:
			c.errors.WithLabelValues(data.Class).Inc()
		}
	}
}
