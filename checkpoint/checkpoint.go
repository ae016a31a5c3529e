//
// Copyright (C) 2026 Kestrel Authors. All rights reserved.
//
// kestrel is licensed under the Apache License Version 2.0.
//

// Package checkpoint defines the append-only state snapshot store.
//
// A checkpoint is immutable once written. Checkpoints sharing a thread id
// form that thread's history; parent links form a lineage chain. "Latest"
// is decided by a per-thread monotonic sequence number assigned by the
// store, never by wall-clock time alone, so two rapid saves can never make
// the latest checkpoint ambiguous.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Metadata keys every store write carries.
const (
	// MetadataKeyNode is the graph node that produced the snapshot.
	MetadataKeyNode = "node"
	// MetadataKeyAwaiting flags a snapshot awaiting an external decision.
	MetadataKeyAwaiting = "awaiting_decision"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("checkpoint store is closed")

// Checkpoint is an immutable snapshot of workflow state.
type Checkpoint struct {
	// ThreadID identifies the logical workflow run.
	ThreadID string `json:"thread_id"`
	// ID is the globally unique checkpoint identifier.
	ID string `json:"checkpoint_id"`
	// Sequence is the store-assigned monotonic ordering within the thread.
	Sequence int64 `json:"sequence"`
	// State is the serialized state snapshot.
	State json.RawMessage `json:"state"`
	// Metadata carries arbitrary key/value pairs. It always includes the
	// originating node name and the awaiting-decision flag.
	Metadata map[string]any `json:"metadata"`
	// ParentID links to the previous checkpoint in the chain, if any.
	ParentID string `json:"parent_checkpoint_id,omitempty"`
	// Node is the graph node that produced this snapshot.
	Node string `json:"node,omitempty"`
	// CreatedAt is the snapshot creation time.
	CreatedAt time.Time `json:"created_at"`
}

// AwaitingDecision reports whether the checkpoint is flagged as paused
// for an external decision.
func (c *Checkpoint) AwaitingDecision() bool {
	v, ok := c.Metadata[MetadataKeyAwaiting].(bool)
	return ok && v
}

// SaveRequest carries everything needed to append a checkpoint.
type SaveRequest struct {
	ThreadID string
	State    json.RawMessage
	Metadata map[string]any
	ParentID string
	Node     string
}

// Store is the checkpoint storage interface. Save always appends; nothing
// ever updates an existing checkpoint. Within a thread, concurrent Save
// calls are serialized by the implementation to keep the parent chain
// well formed. Get with an empty checkpointID returns the latest
// checkpoint for the thread, or nil if the thread has none.
type Store interface {
	// Save appends a new checkpoint and returns it with its assigned
	// id, sequence and creation time.
	Save(ctx context.Context, req SaveRequest) (*Checkpoint, error)
	// Get retrieves a checkpoint by id, or the thread's latest when
	// checkpointID is empty. Returns (nil, nil) when not found.
	Get(ctx context.Context, threadID, checkpointID string) (*Checkpoint, error)
	// List returns up to limit checkpoints for the thread, newest first.
	// limit <= 0 means no limit.
	List(ctx context.Context, threadID string, limit int) ([]*Checkpoint, error)
	// Delete removes a single checkpoint. Returns false when not found.
	Delete(ctx context.Context, threadID, checkpointID string) (bool, error)
	// DeleteThread removes every checkpoint for the thread and returns
	// how many were removed.
	DeleteThread(ctx context.Context, threadID string) (int, error)
	// Close releases resources held by the store.
	Close() error
}

// NormalizeMetadata copies the request metadata and guarantees the node
// name and awaiting-decision flag are present. Stores call this so every
// persisted row carries both keys regardless of the caller.
func NormalizeMetadata(req SaveRequest) map[string]any {
	md := make(map[string]any, len(req.Metadata)+2)
	for k, v := range req.Metadata {
		md[k] = v
	}
	md[MetadataKeyNode] = req.Node
	if _, ok := md[MetadataKeyAwaiting]; !ok {
		md[MetadataKeyAwaiting] = false
	}
	return md
}
