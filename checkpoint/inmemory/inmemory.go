//
// Copyright (C) 2026 Kestrel Authors. All rights reserved.
//
// kestrel is licensed under the Apache License Version 2.0.
//

// Package inmemory provides an in-memory checkpoint store for tests and
// single-process development runs.
package inmemory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kestrel-research/kestrel/checkpoint"
)

// Store is an in-memory implementation of checkpoint.Store.
type Store struct {
	mu      sync.RWMutex
	threads map[string][]*checkpoint.Checkpoint // append order == sequence order
	seqs    map[string]int64
	closed  bool
}

var _ checkpoint.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		threads: make(map[string][]*checkpoint.Checkpoint),
		seqs:    make(map[string]int64),
	}
}

// Save appends a new checkpoint for the request's thread.
func (s *Store) Save(ctx context.Context, req checkpoint.SaveRequest) (*checkpoint.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, checkpoint.ErrClosed
	}

	s.seqs[req.ThreadID]++
	cp := &checkpoint.Checkpoint{
		ThreadID:  req.ThreadID,
		ID:        uuid.New().String(),
		Sequence:  s.seqs[req.ThreadID],
		State:     append([]byte(nil), req.State...),
		Metadata:  checkpoint.NormalizeMetadata(req),
		ParentID:  req.ParentID,
		Node:      req.Node,
		CreatedAt: time.Now(),
	}
	s.threads[req.ThreadID] = append(s.threads[req.ThreadID], cp)
	return cp, nil
}

// Get retrieves a checkpoint by id, or the latest when checkpointID is empty.
func (s *Store) Get(ctx context.Context, threadID, checkpointID string) (*checkpoint.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, checkpoint.ErrClosed
	}

	cps := s.threads[threadID]
	if len(cps) == 0 {
		return nil, nil
	}
	if checkpointID == "" {
		return cps[len(cps)-1], nil
	}
	for _, cp := range cps {
		if cp.ID == checkpointID {
			return cp, nil
		}
	}
	return nil, nil
}

// List returns checkpoints newest first.
func (s *Store) List(ctx context.Context, threadID string, limit int) ([]*checkpoint.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, checkpoint.ErrClosed
	}

	cps := s.threads[threadID]
	out := make([]*checkpoint.Checkpoint, 0, len(cps))
	for i := len(cps) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, cps[i])
	}
	return out, nil
}

// Delete removes a single checkpoint.
func (s *Store) Delete(ctx context.Context, threadID, checkpointID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, checkpoint.ErrClosed
	}

	cps := s.threads[threadID]
	for i, cp := range cps {
		if cp.ID == checkpointID {
			s.threads[threadID] = append(cps[:i:i], cps[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

// DeleteThread removes every checkpoint for the thread.
func (s *Store) DeleteThread(ctx context.Context, threadID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, checkpoint.ErrClosed
	}

	n := len(s.threads[threadID])
	delete(s.threads, threadID)
	delete(s.seqs, threadID)
	return n, nil
}

// Close marks the store closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
