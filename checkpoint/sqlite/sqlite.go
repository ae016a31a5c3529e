//
// Copyright (C) 2026 Kestrel Authors. All rights reserved.
//
// kestrel is licensed under the Apache License Version 2.0.
//

// Package sqlite provides the durable SQLite-backed checkpoint store.
// The rowid-backed autoincrement column doubles as the per-thread ordering
// tie-breaker, so "latest" is never decided by wall-clock time alone.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kestrel-research/kestrel/checkpoint"
)

const (
	createCheckpoints = "CREATE TABLE IF NOT EXISTS checkpoints (" +
		"seq INTEGER PRIMARY KEY AUTOINCREMENT, " +
		"thread_id TEXT NOT NULL, " +
		"checkpoint_id TEXT NOT NULL UNIQUE, " +
		"state_json BLOB NOT NULL, " +
		"metadata_json BLOB NOT NULL, " +
		"parent_checkpoint_id TEXT, " +
		"node TEXT, " +
		"created_at TEXT NOT NULL" +
		")"

	createThreadIndex = "CREATE INDEX IF NOT EXISTS idx_checkpoints_thread " +
		"ON checkpoints(thread_id, seq DESC)"

	insertCheckpoint = "INSERT INTO checkpoints (" +
		"thread_id, checkpoint_id, state_json, metadata_json, " +
		"parent_checkpoint_id, node, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)"

	selectLatest = "SELECT seq, checkpoint_id, state_json, metadata_json, " +
		"parent_checkpoint_id, node, created_at FROM checkpoints " +
		"WHERE thread_id = ? ORDER BY seq DESC LIMIT 1"

	selectByID = "SELECT seq, checkpoint_id, state_json, metadata_json, " +
		"parent_checkpoint_id, node, created_at FROM checkpoints " +
		"WHERE thread_id = ? AND checkpoint_id = ? LIMIT 1"

	selectList = "SELECT seq, checkpoint_id, state_json, metadata_json, " +
		"parent_checkpoint_id, node, created_at FROM checkpoints " +
		"WHERE thread_id = ? ORDER BY seq DESC"

	deleteByID     = "DELETE FROM checkpoints WHERE thread_id = ? AND checkpoint_id = ?"
	deleteByThread = "DELETE FROM checkpoints WHERE thread_id = ?"
)

// Store is a SQLite-backed implementation of checkpoint.Store.
// It expects an initialized *sql.DB using a SQLite driver and creates the
// required schema on construction.
type Store struct {
	db *sql.DB

	// Saves for the same thread are serialized so the parent chain stays
	// well formed even when the engine and the HITL controller write
	// concurrently.
	mu sync.Mutex
}

var _ checkpoint.Store = (*Store)(nil)

// New creates a store using the provided DB and ensures the schema exists.
func New(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if _, err := db.Exec(createCheckpoints); err != nil {
		return nil, fmt.Errorf("create checkpoints table: %w", err)
	}
	if _, err := db.Exec(createThreadIndex); err != nil {
		return nil, fmt.Errorf("create thread index: %w", err)
	}
	return &Store{db: db}, nil
}

// Save appends a new checkpoint row. Rows are never updated.
func (s *Store) Save(ctx context.Context, req checkpoint.SaveRequest) (*checkpoint.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	md := checkpoint.NormalizeMetadata(req)
	mdJSON, err := json.Marshal(md)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}

	id := uuid.New().String()
	createdAt := time.Now().UTC()
	state := req.State
	if state == nil {
		state = json.RawMessage("null")
	}

	res, err := s.db.ExecContext(ctx, insertCheckpoint,
		req.ThreadID, id, []byte(state), mdJSON,
		nullable(req.ParentID), nullable(req.Node), createdAt.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("insert checkpoint: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("checkpoint sequence: %w", err)
	}

	return &checkpoint.Checkpoint{
		ThreadID:  req.ThreadID,
		ID:        id,
		Sequence:  seq,
		State:     append(json.RawMessage(nil), state...),
		Metadata:  md,
		ParentID:  req.ParentID,
		Node:      req.Node,
		CreatedAt: createdAt,
	}, nil
}

// Get retrieves a checkpoint by id, or the thread's latest when
// checkpointID is empty.
func (s *Store) Get(ctx context.Context, threadID, checkpointID string) (*checkpoint.Checkpoint, error) {
	var row *sql.Row
	if checkpointID == "" {
		row = s.db.QueryRowContext(ctx, selectLatest, threadID)
	} else {
		row = s.db.QueryRowContext(ctx, selectByID, threadID, checkpointID)
	}
	cp, err := scanCheckpoint(threadID, row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return cp, err
}

// List returns checkpoints newest first, up to limit when limit > 0.
func (s *Store) List(ctx context.Context, threadID string, limit int) ([]*checkpoint.Checkpoint, error) {
	query := selectList
	args := []any{threadID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []*checkpoint.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(threadID, rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

// Delete removes a single checkpoint row.
func (s *Store) Delete(ctx context.Context, threadID, checkpointID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, deleteByID, threadID, checkpointID)
	if err != nil {
		return false, fmt.Errorf("delete checkpoint: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteThread removes every checkpoint for the thread.
func (s *Store) DeleteThread(ctx context.Context, threadID string) (int, error) {
	res, err := s.db.ExecContext(ctx, deleteByThread, threadID)
	if err != nil {
		return 0, fmt.Errorf("delete thread checkpoints: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Close closes the underlying DB.
func (s *Store) Close() error {
	return s.db.Close()
}

func scanCheckpoint(threadID string, scan func(dest ...any) error) (*checkpoint.Checkpoint, error) {
	var (
		seq          int64
		id           string
		stateJSON    []byte
		metadataJSON []byte
		parentID     sql.NullString
		node         sql.NullString
		createdAt    string
	)
	if err := scan(&seq, &id, &stateJSON, &metadataJSON, &parentID, &node, &createdAt); err != nil {
		return nil, err
	}

	var md map[string]any
	if err := json.Unmarshal(metadataJSON, &md); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}

	return &checkpoint.Checkpoint{
		ThreadID:  threadID,
		ID:        id,
		Sequence:  seq,
		State:     json.RawMessage(stateJSON),
		Metadata:  md,
		ParentID:  parentID.String,
		Node:      node.String,
		CreatedAt: ts,
	}, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
