//
// Copyright (C) 2026 Kestrel Authors. All rights reserved.
//
// kestrel is licensed under the Apache License Version 2.0.
//

// Package hitl implements the human-in-the-loop controller: pausing a
// workflow thread for an external decision, injecting approvals, rejections
// or edits, and resuming from the latest checkpoint.
package hitl

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kestrel-research/kestrel/checkpoint"
	"github.com/kestrel-research/kestrel/log"
)

// Stable reasons returned by CanResume, checked in priority order.
const (
	ReasonNoCheckpoint = "no checkpoint"
	ReasonAwaiting     = "awaiting decision"
	ReasonMaxRevisions = "max revisions reached"
	ReasonErrorPresent = "error present"
)

// Fields names the state fields the controller reads and writes. The
// defaults match the research workflow's state shape.
type Fields struct {
	Pause     string
	Feedback  string
	Revisions string
	Plan      string
	Result    string
	Error     string
}

// DefaultFields is the field mapping used when none is supplied.
var DefaultFields = Fields{
	Pause:     "awaiting_human",
	Feedback:  "human_feedback",
	Revisions: "revision_count",
	Plan:      "research_plan",
	Result:    "final_report",
	Error:     "error",
}

// Option configures a Controller.
type Option func(*Controller)

// WithFields overrides the state field mapping.
func WithFields(fields Fields) Option {
	return func(c *Controller) {
		c.fields = fields
	}
}

// Controller layers pause/inject/resume semantics on top of a checkpoint
// store. It never throws on missing checkpoints; absent threads yield nil
// results so callers can branch.
type Controller struct {
	store  checkpoint.Store
	fields Fields
}

// New creates a controller backed by the given store.
func New(store checkpoint.Store, opts ...Option) *Controller {
	c := &Controller{store: store, fields: DefaultFields}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PauseForDecision saves a checkpoint with the pause flag forced true so the
// thread reports as awaiting an external decision.
func (c *Controller) PauseForDecision(ctx context.Context, threadID string, state map[string]any, node string) (*checkpoint.Checkpoint, error) {
	paused := cloneState(state)
	paused[c.fields.Pause] = true
	return c.save(ctx, threadID, paused, node, true)
}

// Checkpoint saves a normal, non-pausing checkpoint.
func (c *Controller) Checkpoint(ctx context.Context, threadID string, state map[string]any, node string) (*checkpoint.Checkpoint, error) {
	return c.save(ctx, threadID, state, node, false)
}

// Resume loads and deserializes the latest state for the thread. It returns
// nil when the thread has no checkpoints.
func (c *Controller) Resume(ctx context.Context, threadID string) (map[string]any, error) {
	_, state, err := c.latest(ctx, threadID)
	return state, err
}

// InjectDecision records an external approval or rejection: it clears the
// pause flag, sets the feedback field, and saves a new checkpoint chained to
// the previous one. A nil result means the thread has no checkpoints.
func (c *Controller) InjectDecision(ctx context.Context, threadID string, approved bool, feedback string) (map[string]any, error) {
	cp, state, err := c.latest(ctx, threadID)
	if err != nil || state == nil {
		return nil, err
	}

	if feedback == "" && !approved {
		feedback = "rejected by reviewer, please revise"
	}
	state[c.fields.Pause] = false
	state[c.fields.Feedback] = feedback

	if _, err := c.saveChained(ctx, threadID, state, cp); err != nil {
		return nil, err
	}
	log.Infow("decision injected", "thread_id", threadID, "approved", approved)
	return state, nil
}

// InjectEdit applies a shallow patch to the plan structure inside the state
// and records that an external reviewer edited it. A nil result means the
// thread has no checkpoints.
func (c *Controller) InjectEdit(ctx context.Context, threadID string, updates map[string]any) (map[string]any, error) {
	cp, state, err := c.latest(ctx, threadID)
	if err != nil || state == nil {
		return nil, err
	}

	plan, _ := state[c.fields.Plan].(map[string]any)
	patched := make(map[string]any, len(plan)+len(updates))
	for k, v := range plan {
		patched[k] = v
	}
	for k, v := range updates {
		patched[k] = v
	}
	state[c.fields.Plan] = patched
	state[c.fields.Feedback] = "edited by external reviewer"

	if _, err := c.saveChained(ctx, threadID, state, cp); err != nil {
		return nil, err
	}
	log.Infow("edit injected", "thread_id", threadID, "fields", len(updates))
	return state, nil
}

// CanResume reports whether the thread can proceed, and if not, why. The
// checks run in a fixed priority order and the reason strings are stable.
func (c *Controller) CanResume(ctx context.Context, threadID string, maxRevisions int) (bool, string, error) {
	_, state, err := c.latest(ctx, threadID)
	if err != nil {
		return false, "", err
	}
	if state == nil {
		return false, ReasonNoCheckpoint, nil
	}
	if paused, _ := state[c.fields.Pause].(bool); paused {
		return false, ReasonAwaiting, nil
	}
	if maxRevisions > 0 && intField(state, c.fields.Revisions) >= maxRevisions {
		return false, ReasonMaxRevisions, nil
	}
	if msg, _ := state[c.fields.Error].(string); msg != "" {
		return false, ReasonErrorPresent, nil
	}
	return true, "", nil
}

// Status is a read-only projection of a thread for external display.
type Status struct {
	ThreadID      string    `json:"thread_id"`
	Node          string    `json:"node"`
	Awaiting      bool      `json:"awaiting_decision"`
	RevisionCount int       `json:"revision_count"`
	HasPlan       bool      `json:"has_plan"`
	HasResult     bool      `json:"has_result"`
	Error         string    `json:"error,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// StatusProjection summarizes the thread without mutating anything. A nil
// result means the thread has no checkpoints.
func (c *Controller) StatusProjection(ctx context.Context, threadID string) (*Status, error) {
	cp, state, err := c.latest(ctx, threadID)
	if err != nil || state == nil {
		return nil, err
	}
	paused, _ := state[c.fields.Pause].(bool)
	errMsg, _ := state[c.fields.Error].(string)
	return &Status{
		ThreadID:      threadID,
		Node:          cp.Node,
		Awaiting:      paused,
		RevisionCount: intField(state, c.fields.Revisions),
		HasPlan:       state[c.fields.Plan] != nil,
		HasResult:     state[c.fields.Result] != nil,
		Error:         errMsg,
		UpdatedAt:     cp.CreatedAt,
	}, nil
}

func (c *Controller) latest(ctx context.Context, threadID string) (*checkpoint.Checkpoint, map[string]any, error) {
	cp, err := c.store.Get(ctx, threadID, "")
	if err != nil {
		return nil, nil, err
	}
	if cp == nil {
		return nil, nil, nil
	}
	var state map[string]any
	if err := json.Unmarshal(cp.State, &state); err != nil {
		return nil, nil, fmt.Errorf("deserialize checkpoint state: %w", err)
	}
	if state == nil {
		state = make(map[string]any)
	}
	return cp, state, nil
}

func (c *Controller) save(ctx context.Context, threadID string, state map[string]any, node string, awaiting bool) (*checkpoint.Checkpoint, error) {
	payload, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("serialize state: %w", err)
	}
	parentID := ""
	if prev, err := c.store.Get(ctx, threadID, ""); err == nil && prev != nil {
		parentID = prev.ID
	}
	return c.store.Save(ctx, checkpoint.SaveRequest{
		ThreadID: threadID,
		State:    payload,
		Node:     node,
		ParentID: parentID,
		Metadata: map[string]any{checkpoint.MetadataKeyAwaiting: awaiting},
	})
}

func (c *Controller) saveChained(ctx context.Context, threadID string, state map[string]any, parent *checkpoint.Checkpoint) (*checkpoint.Checkpoint, error) {
	payload, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("serialize state: %w", err)
	}
	return c.store.Save(ctx, checkpoint.SaveRequest{
		ThreadID: threadID,
		State:    payload,
		Node:     parent.Node,
		ParentID: parent.ID,
		Metadata: map[string]any{checkpoint.MetadataKeyAwaiting: false},
	})
}

func cloneState(state map[string]any) map[string]any {
	clone := make(map[string]any, len(state))
	for k, v := range state {
		clone[k] = v
	}
	return clone
}

// intField reads a numeric field that may arrive as int or, after a JSON
// round trip, float64.
func intField(state map[string]any, key string) int {
	switch v := state[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
