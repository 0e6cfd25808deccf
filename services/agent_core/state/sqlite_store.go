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
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Persistence backed by a local SQLite database.
//
// Thread Safety: Safe for concurrent use; writes are serialized through
// a single connection.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the snapshot database at path and
// initializes the schema.
//
// Inputs:
//
//	ctx - Context for schema initialization.
//	path - Filesystem path of the database file.
//
// Outputs:
//
//	*SQLiteStore - The ready store.
//	error - Open, ping, or schema failure.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	// WAL mode allows concurrent readers alongside the single writer.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot database: %w", err)
	}

	// SQLite does not tolerate multiple concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping snapshot database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		session_id TEXT PRIMARY KEY,
		taken_at   INTEGER NOT NULL,
		data       BLOB NOT NULL
	);`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Save stores the latest snapshot for a session, replacing any
// previous one.
func (s *SQLiteStore) Save(ctx context.Context, sessionID string, snapshot []byte) error {
	const query = `
	INSERT INTO snapshots (session_id, taken_at, data)
	VALUES (?, ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET
		taken_at = excluded.taken_at,
		data = excluded.data`

	_, err := s.db.ExecContext(ctx, query, sessionID, time.Now().Unix(), snapshot)
	if err != nil {
		return fmt.Errorf("failed to save snapshot for session %s: %w", sessionID, err)
	}
	return nil
}

// Load retrieves the latest snapshot for a session.
//
// Outputs:
//
//	[]byte - The raw snapshot.
//	error - ErrSnapshotNotFound when no snapshot exists.
func (s *SQLiteStore) Load(ctx context.Context, sessionID string) ([]byte, error) {
	const query = `SELECT data FROM snapshots WHERE session_id = ?`

	var data []byte
	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: session %s", ErrSnapshotNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot for session %s: %w", sessionID, err)
	}
	return data, nil
}

// Delete removes the snapshot for a session, if any.
func (s *SQLiteStore) Delete(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete snapshot for session %s: %w", sessionID, err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
