// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package state

import "errors"

// Sentinel errors for the state package.
var (
	// ErrCheckpointNotFound indicates the checkpoint ID is unknown.
	ErrCheckpointNotFound = errors.New("checkpoint not found")

	// ErrSnapshotNotFound indicates no persisted snapshot exists for the session.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrGoalNotFound indicates the goal ID is unknown.
	ErrGoalNotFound = errors.New("goal not found")

	// ErrNoPersistence indicates a durability operation was requested but
	// no persistence collaborator is configured.
	ErrNoPersistence = errors.New("no persistence configured")

	// ErrCorruptSnapshot indicates a persisted snapshot failed to decode.
	ErrCorruptSnapshot = errors.New("corrupt state snapshot")
)
