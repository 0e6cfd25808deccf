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

import "errors"

// Sentinel errors for orchestration.
var (
	// ErrDependencyCycle indicates the submitted batch declares a
	// dependency cycle. Planning fails fast; nothing executes.
	ErrDependencyCycle = errors.New("dependency cycle in batch")

	// ErrUnknownDependency indicates a request depends on an ID not
	// present in the batch.
	ErrUnknownDependency = errors.New("unknown dependency")

	// ErrDuplicateRequest indicates two requests share an ID.
	ErrDuplicateRequest = errors.New("duplicate request id")

	// ErrResourceExhausted indicates a request could not acquire its
	// declared resources within the queue timeout.
	ErrResourceExhausted = errors.New("resource pool exhausted")

	// ErrSkippedDependency marks requests skipped because a declared
	// dependency failed.
	ErrSkippedDependency = errors.New("skipped: dependency failed")

	// ErrBatchAborted marks requests never attempted because the batch
	// aborted under the fail-fast policy.
	ErrBatchAborted = errors.New("batch aborted by fail-fast")
)
