// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry provides trace-aware logging helpers for the
// reasoning core.
//
// Components log through log/slog; these helpers inject the OpenTelemetry
// trace context plus core-specific identifiers (session, graph node) so
// log lines correlate with spans in the surrounding system.
package telemetry

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

// LoggerWithTrace returns a logger with trace context injected.
//
// Description:
//
//	Extracts trace_id and span_id from the context and adds them as
//	structured log fields, enabling log/trace correlation downstream.
//
// Inputs:
//
//	ctx - Context containing span context. May be nil or have no active span.
//	logger - Base logger to enhance. May be nil (falls back to slog.Default).
//
// Outputs:
//
//	*slog.Logger - Logger with trace_id and span_id fields when available.
//
// Thread Safety: Safe for concurrent use.
func LoggerWithTrace(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	if ctx == nil {
		return logger
	}

	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return logger
	}

	return logger.With(
		slog.String("trace_id", spanCtx.TraceID().String()),
		slog.String("span_id", spanCtx.SpanID().String()),
	)
}

// LoggerWithSession returns a logger with trace context and session ID.
//
// Inputs:
//
//	ctx - Context containing span context.
//	logger - Base logger to enhance.
//	sessionID - Reasoning session identifier.
//
// Outputs:
//
//	*slog.Logger - Logger with trace_id, span_id, and session_id fields.
//
// Thread Safety: Safe for concurrent use.
func LoggerWithSession(ctx context.Context, logger *slog.Logger, sessionID string) *slog.Logger {
	return LoggerWithTrace(ctx, logger).With(
		slog.String("session_id", sessionID),
	)
}

// LoggerWithNode returns a logger with trace context and graph node ID.
//
// Description:
//
//	Distinguishes log entries produced while executing different nodes
//	of the reasoning graph (e.g. "tool:apply_patch", "decision:route").
//
// Inputs:
//
//	ctx - Context containing span context.
//	logger - Base logger to enhance.
//	nodeID - Identifier of the current graph node.
//
// Outputs:
//
//	*slog.Logger - Logger with trace_id, span_id, and node fields.
//
// Thread Safety: Safe for concurrent use.
func LoggerWithNode(ctx context.Context, logger *slog.Logger, nodeID string) *slog.Logger {
	return LoggerWithTrace(ctx, logger).With(
		slog.String("node", nodeID),
	)
}
