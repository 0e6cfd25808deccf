// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package stream

import "errors"

// Sentinel errors for the stream engine.
var (
	// ErrInvalidTransition indicates a state transition not permitted by
	// the lifecycle graph. The stream state is unchanged.
	ErrInvalidTransition = errors.New("invalid stream state transition")

	// ErrStreamClosed indicates an operation on a completed or
	// terminated stream.
	ErrStreamClosed = errors.New("stream closed")

	// ErrStreamNotFound indicates the stream ID is unknown to the engine.
	ErrStreamNotFound = errors.New("stream not found")

	// ErrCircuitOpen indicates the source's circuit breaker is open and
	// new attempts are rejected until the cool-down elapses.
	ErrCircuitOpen = errors.New("stream source circuit open")

	// ErrBufferClosed indicates a push or pop on a closed buffer.
	ErrBufferClosed = errors.New("stream buffer closed")
)
