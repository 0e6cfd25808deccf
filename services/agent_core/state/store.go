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

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Checkpoint is an immutable snapshot of ReasoningState taken at a
// decision point of uncertainty.
//
// Invariant: never mutated after creation; restoring replaces the live
// state wholesale.
type Checkpoint struct {
	// ID identifies the checkpoint.
	ID string `json:"id"`

	// SessionID is the session the snapshot belongs to.
	SessionID string `json:"session_id"`

	// TakenAt is when the snapshot was taken.
	TakenAt time.Time `json:"taken_at"`

	// Label optionally describes why the checkpoint was taken.
	Label string `json:"label,omitempty"`

	// state is the frozen deep copy; never exposed mutably.
	state *ReasoningState
}

// State returns a deep copy of the checkpointed state.
//
// Returning a copy keeps the checkpoint immutable even if the caller
// mutates the result.
func (c *Checkpoint) State() *ReasoningState {
	return c.state.Clone()
}

// Persistence is the optional durability collaborator (spec'd at the
// boundary only). Absence degrades gracefully to in-memory sessions.
type Persistence interface {
	// Save persists a state snapshot for a session, replacing any
	// previous snapshot.
	Save(ctx context.Context, sessionID string, snapshot []byte) error

	// Load retrieves the latest snapshot for a session.
	// Returns ErrSnapshotNotFound when none exists.
	Load(ctx context.Context, sessionID string) ([]byte, error)

	// Close releases underlying resources.
	Close() error
}

// Store owns checkpoints and optional durable persistence for
// reasoning sessions.
//
// Thread Safety: Store is safe for concurrent use. (The live
// ReasoningState itself stays single-writer; the Store only ever
// handles frozen copies.)
type Store struct {
	mu          sync.RWMutex
	checkpoints map[string]*Checkpoint

	persistence Persistence
	logger      *slog.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithPersistence attaches a durability collaborator.
func WithPersistence(p Persistence) StoreOption {
	return func(s *Store) {
		s.persistence = p
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// NewStore creates a state store.
//
// Inputs:
//
//	opts - Configuration options.
//
// Outputs:
//
//	*Store - The configured store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		checkpoints: make(map[string]*Checkpoint),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Checkpoint freezes the given state into an immutable snapshot.
//
// Description:
//
//	Deep-copies the state so later mutations of the live state cannot
//	affect the snapshot. When persistence is configured the snapshot is
//	also written through; a persistence failure is logged but does not
//	fail the checkpoint (durability is best-effort by design).
//
// Inputs:
//
//	ctx - Context for the write-through.
//	st - The live state to snapshot.
//	label - Optional human-readable reason.
//
// Outputs:
//
//	*Checkpoint - The immutable snapshot.
//
// Thread Safety: Safe for concurrent use.
func (s *Store) Checkpoint(ctx context.Context, st *ReasoningState, label string) *Checkpoint {
	cp := &Checkpoint{
		ID:        uuid.NewString(),
		SessionID: st.SessionID,
		TakenAt:   time.Now(),
		Label:     label,
		state:     st.Clone(),
	}

	s.mu.Lock()
	s.checkpoints[cp.ID] = cp
	s.mu.Unlock()

	if s.persistence != nil {
		if err := s.persist(ctx, cp); err != nil {
			s.logger.Warn("checkpoint write-through failed",
				"checkpoint_id", cp.ID,
				"session_id", cp.SessionID,
				"error", err,
			)
		}
	}

	s.logger.Debug("checkpoint taken",
		"checkpoint_id", cp.ID,
		"session_id", cp.SessionID,
		"label", label,
	)
	return cp
}

// Restore returns the state frozen in a checkpoint.
//
// Description:
//
//	The caller replaces its live state wholesale with the returned
//	copy. Restore is idempotent: restoring the same checkpoint twice
//	yields identical states.
//
// Inputs:
//
//	checkpointID - The checkpoint to restore.
//
// Outputs:
//
//	*ReasoningState - Deep copy of the checkpointed state.
//	error - ErrCheckpointNotFound if the ID is unknown.
//
// Thread Safety: Safe for concurrent use.
func (s *Store) Restore(checkpointID string) (*ReasoningState, error) {
	s.mu.RLock()
	cp, ok := s.checkpoints[checkpointID]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCheckpointNotFound, checkpointID)
	}
	return cp.State(), nil
}

// Checkpoints lists checkpoint IDs for a session, oldest first.
func (s *Store) Checkpoints(sessionID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type entry struct {
		id string
		at time.Time
	}
	var entries []entry
	for id, cp := range s.checkpoints {
		if cp.SessionID == sessionID {
			entries = append(entries, entry{id, cp.TakenAt})
		}
	}
	// Insertion sort; checkpoint counts per session are small.
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].at.Before(entries[j-1].at); j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.id
	}
	return ids
}

// Discard removes all checkpoints for a session.
//
// Called when a session ends or is explicitly discarded.
func (s *Store) Discard(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, cp := range s.checkpoints {
		if cp.SessionID == sessionID {
			delete(s.checkpoints, id)
		}
	}
}

// SaveSession persists the latest state of a session.
//
// Outputs:
//
//	error - ErrNoPersistence when no collaborator is configured.
func (s *Store) SaveSession(ctx context.Context, st *ReasoningState) error {
	if s.persistence == nil {
		return ErrNoPersistence
	}
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return s.persistence.Save(ctx, st.SessionID, data)
}

// LoadSession restores the latest persisted state of a session.
//
// Outputs:
//
//	*ReasoningState - The decoded state.
//	error - ErrNoPersistence, ErrSnapshotNotFound, or ErrCorruptSnapshot.
func (s *Store) LoadSession(ctx context.Context, sessionID string) (*ReasoningState, error) {
	if s.persistence == nil {
		return nil, ErrNoPersistence
	}
	data, err := s.persistence.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	var st ReasoningState
	if err := json.Unmarshal(data, &st); err != nil {
		// Corruption detected on load is fatal-global per the error
		// taxonomy; the caller decides termination.
		return nil, fmt.Errorf("%w: session %s: %v", ErrCorruptSnapshot, sessionID, err)
	}
	return &st, nil
}

// persist writes a checkpoint through to durable storage.
func (s *Store) persist(ctx context.Context, cp *Checkpoint) error {
	data, err := json.Marshal(cp.state)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	return s.persistence.Save(ctx, cp.SessionID, data)
}
