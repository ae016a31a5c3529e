//
// Copyright (C) 2026 Kestrel Authors. All rights reserved.
//
// kestrel is licensed under the Apache License Version 2.0.
//

package hitl

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-research/kestrel/checkpoint/inmemory"
)

func newController(t *testing.T) *Controller {
	t.Helper()
	s := inmemory.New()
	t.Cleanup(func() { s.Close() })
	return New(s)
}

func TestPauseThenApproveThenResume(t *testing.T) {
	c := newController(t)
	ctx := context.Background()

	cp, err := c.PauseForDecision(ctx, "t1", map[string]any{
		"research_plan": map[string]any{"title": "Grid storage"},
	}, "planner")
	require.NoError(t, err)
	require.True(t, cp.AwaitingDecision())

	state, err := c.InjectDecision(ctx, "t1", true, "ok")
	require.NoError(t, err)
	require.NotNil(t, state)

	resumed, err := c.Resume(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, false, resumed["awaiting_human"])
	assert.Equal(t, "ok", resumed["human_feedback"])
}

func TestInjectDecisionDefaultFeedback(t *testing.T) {
	c := newController(t)
	ctx := context.Background()

	_, err := c.PauseForDecision(ctx, "t1", map[string]any{}, "planner")
	require.NoError(t, err)

	state, err := c.InjectDecision(ctx, "t1", false, "")
	require.NoError(t, err)
	assert.Equal(t, "rejected by reviewer, please revise", state["human_feedback"])

	state, err = c.InjectDecision(ctx, "t1", true, "")
	require.NoError(t, err)
	assert.Equal(t, "", state["human_feedback"])
}

func TestInjectDecisionMissingThreadIsNoOp(t *testing.T) {
	c := newController(t)

	state, err := c.InjectDecision(context.Background(), "absent", true, "ok")
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestInjectEditPatchesPlan(t *testing.T) {
	c := newController(t)
	ctx := context.Background()

	_, err := c.PauseForDecision(ctx, "t1", map[string]any{
		"research_plan": map[string]any{"title": "Grid storage", "sections": 4.0},
	}, "planner")
	require.NoError(t, err)

	state, err := c.InjectEdit(ctx, "t1", map[string]any{"title": "Grid-scale storage"})
	require.NoError(t, err)
	require.NotNil(t, state)

	plan := state["research_plan"].(map[string]any)
	assert.Equal(t, "Grid-scale storage", plan["title"])
	assert.Equal(t, 4.0, plan["sections"])
	assert.Equal(t, "edited by external reviewer", state["human_feedback"])
}

func TestResumeMissingThreadReturnsNil(t *testing.T) {
	c := newController(t)

	state, err := c.Resume(context.Background(), "absent")
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestCanResumeReasonPriority(t *testing.T) {
	c := newController(t)
	ctx := context.Background()

	ok, reason, err := c.CanResume(ctx, "t1", 2)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, ReasonNoCheckpoint, reason)

	_, err = c.PauseForDecision(ctx, "t1", map[string]any{
		"revision_count": 2,
		"error":          "boom",
	}, "planner")
	require.NoError(t, err)

	ok, reason, err = c.CanResume(ctx, "t1", 2)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, ReasonAwaiting, reason)

	_, err = c.Checkpoint(ctx, "t1", map[string]any{
		"awaiting_human": false,
		"revision_count": 2,
		"error":          "boom",
	}, "reviewer")
	require.NoError(t, err)

	ok, reason, err = c.CanResume(ctx, "t1", 2)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, ReasonMaxRevisions, reason)

	_, err = c.Checkpoint(ctx, "t1", map[string]any{
		"awaiting_human": false,
		"revision_count": 1,
		"error":          "boom",
	}, "reviewer")
	require.NoError(t, err)

	ok, reason, err = c.CanResume(ctx, "t1", 2)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, ReasonErrorPresent, reason)

	_, err = c.Checkpoint(ctx, "t1", map[string]any{
		"awaiting_human": false,
		"revision_count": 1,
	}, "reviewer")
	require.NoError(t, err)

	ok, reason, err = c.CanResume(ctx, "t1", 2)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, reason)
}

func TestStatusProjection(t *testing.T) {
	c := newController(t)
	ctx := context.Background()

	status, err := c.StatusProjection(ctx, "absent")
	require.NoError(t, err)
	assert.Nil(t, status)

	_, err = c.PauseForDecision(ctx, "t1", map[string]any{
		"research_plan":  map[string]any{"title": "Desalination"},
		"revision_count": 1,
	}, "planner")
	require.NoError(t, err)

	status, err = c.StatusProjection(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, "t1", status.ThreadID)
	assert.Equal(t, "planner", status.Node)
	assert.True(t, status.Awaiting)
	assert.Equal(t, 1, status.RevisionCount)
	assert.True(t, status.HasPlan)
	assert.False(t, status.HasResult)
	assert.Empty(t, status.Error)
	assert.False(t, status.UpdatedAt.IsZero())
}

func TestDecisionCheckpointsChainToParent(t *testing.T) {
	s := inmemory.New()
	t.Cleanup(func() { s.Close() })
	c := New(s)
	ctx := context.Background()

	first, err := c.PauseForDecision(ctx, "t1", map[string]any{}, "planner")
	require.NoError(t, err)

	_, err = c.InjectDecision(ctx, "t1", true, "ok")
	require.NoError(t, err)

	latest, err := s.Get(ctx, "t1", "")
	require.NoError(t, err)
	assert.Equal(t, first.ID, latest.ParentID)
	assert.Equal(t, "planner", latest.Node)
	assert.False(t, latest.AwaitingDecision())
}
