//
// Copyright (C) 2026 Kestrel Authors. All rights reserved.
//
// kestrel is licensed under the Apache License Version 2.0.
//

// Package redis provides a Redis-backed checkpoint store for deployments
// where workflow threads must survive process restarts without a local disk.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/kestrel-research/kestrel/checkpoint"
)

const keyPrefix = "kestrel:ckpt"

// Store persists checkpoints in Redis. Each checkpoint is a JSON value and a
// per-thread sorted set scored by sequence number provides ordering.
type Store struct {
	client redis.UniversalClient

	mu     sync.Mutex
	closed bool
}

var _ checkpoint.Store = (*Store)(nil)

// New creates a store on top of an existing Redis client. The caller owns
// the client's lifecycle unless Close is used.
func New(client redis.UniversalClient) *Store {
	return &Store{client: client}
}

// NewFromURL dials Redis using a redis:// URL.
func NewFromURL(url string) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return New(redis.NewClient(opts)), nil
}

func seqKey(threadID string) string {
	return fmt.Sprintf("%s:%s:seq", keyPrefix, threadID)
}

func indexKey(threadID string) string {
	return fmt.Sprintf("%s:%s:index", keyPrefix, threadID)
}

func checkpointKey(threadID, checkpointID string) string {
	return fmt.Sprintf("%s:%s:cp:%s", keyPrefix, threadID, checkpointID)
}

// record is the stored JSON shape. ThreadID is implicit in the key.
type record struct {
	ID        string          `json:"id"`
	Sequence  int64           `json:"seq"`
	State     json.RawMessage `json:"state"`
	Metadata  map[string]any  `json:"metadata"`
	ParentID  string          `json:"parent_id,omitempty"`
	Node      string          `json:"node,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

func (r *record) toCheckpoint(threadID string) *checkpoint.Checkpoint {
	return &checkpoint.Checkpoint{
		ThreadID:  threadID,
		ID:        r.ID,
		Sequence:  r.Sequence,
		State:     r.State,
		Metadata:  r.Metadata,
		ParentID:  r.ParentID,
		Node:      r.Node,
		CreatedAt: r.CreatedAt,
	}
}

// Save appends a checkpoint. The per-thread INCR keeps sequences monotonic
// across processes sharing the same Redis.
func (s *Store) Save(ctx context.Context, req checkpoint.SaveRequest) (*checkpoint.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, checkpoint.ErrClosed
	}

	seq, err := s.client.Incr(ctx, seqKey(req.ThreadID)).Result()
	if err != nil {
		return nil, fmt.Errorf("next sequence: %w", err)
	}

	state := req.State
	if state == nil {
		state = json.RawMessage("null")
	}
	rec := record{
		ID:        uuid.New().String(),
		Sequence:  seq,
		State:     state,
		Metadata:  checkpoint.NormalizeMetadata(req),
		ParentID:  req.ParentID,
		Node:      req.Node,
		CreatedAt: time.Now().UTC(),
	}
	payload, err := json.Marshal(&rec)
	if err != nil {
		return nil, fmt.Errorf("marshal checkpoint: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, checkpointKey(req.ThreadID, rec.ID), payload, 0)
	pipe.ZAdd(ctx, indexKey(req.ThreadID), redis.Z{Score: float64(seq), Member: rec.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("store checkpoint: %w", err)
	}
	return rec.toCheckpoint(req.ThreadID), nil
}

// Get retrieves a checkpoint by id, or the latest when checkpointID is empty.
func (s *Store) Get(ctx context.Context, threadID, checkpointID string) (*checkpoint.Checkpoint, error) {
	if s.isClosed() {
		return nil, checkpoint.ErrClosed
	}
	if checkpointID == "" {
		ids, err := s.client.ZRevRange(ctx, indexKey(threadID), 0, 0).Result()
		if err != nil {
			return nil, fmt.Errorf("latest checkpoint id: %w", err)
		}
		if len(ids) == 0 {
			return nil, nil
		}
		checkpointID = ids[0]
	}
	return s.fetch(ctx, threadID, checkpointID)
}

// List returns checkpoints newest first, up to limit when limit > 0.
func (s *Store) List(ctx context.Context, threadID string, limit int) ([]*checkpoint.Checkpoint, error) {
	if s.isClosed() {
		return nil, checkpoint.ErrClosed
	}
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	ids, err := s.client.ZRevRange(ctx, indexKey(threadID), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("list checkpoint ids: %w", err)
	}
	out := make([]*checkpoint.Checkpoint, 0, len(ids))
	for _, id := range ids {
		cp, err := s.fetch(ctx, threadID, id)
		if err != nil {
			return nil, err
		}
		if cp != nil {
			out = append(out, cp)
		}
	}
	return out, nil
}

// Delete removes a single checkpoint.
func (s *Store) Delete(ctx context.Context, threadID, checkpointID string) (bool, error) {
	if s.isClosed() {
		return false, checkpoint.ErrClosed
	}
	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, checkpointKey(threadID, checkpointID))
	pipe.ZRem(ctx, indexKey(threadID), checkpointID)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("delete checkpoint: %w", err)
	}
	return del.Val() > 0, nil
}

// DeleteThread removes every checkpoint for the thread along with its
// sequence counter.
func (s *Store) DeleteThread(ctx context.Context, threadID string) (int, error) {
	if s.isClosed() {
		return 0, checkpoint.ErrClosed
	}
	ids, err := s.client.ZRange(ctx, indexKey(threadID), 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("list checkpoint ids: %w", err)
	}
	keys := make([]string, 0, len(ids)+2)
	for _, id := range ids {
		keys = append(keys, checkpointKey(threadID, id))
	}
	keys = append(keys, indexKey(threadID), seqKey(threadID))
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return 0, fmt.Errorf("delete thread keys: %w", err)
	}
	return len(ids), nil
}

// Close marks the store closed and closes the underlying client.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Store) fetch(ctx context.Context, threadID, checkpointID string) (*checkpoint.Checkpoint, error) {
	payload, err := s.client.Get(ctx, checkpointKey(threadID, checkpointID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch checkpoint: %w", err)
	}
	var rec record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	return rec.toCheckpoint(threadID), nil
}
