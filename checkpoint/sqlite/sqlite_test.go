//
// Copyright (C) 2026 Kestrel Authors. All rights reserved.
//
// kestrel is licensed under the Apache License Version 2.0.
//

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-research/kestrel/checkpoint"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	s, err := New(db)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAssignsIncreasingSequences(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.Save(ctx, checkpoint.SaveRequest{
		ThreadID: "t1",
		State:    json.RawMessage(`{"topic":"solar"}`),
		Node:     "planner",
	})
	require.NoError(t, err)
	second, err := s.Save(ctx, checkpoint.SaveRequest{
		ThreadID: "t1",
		State:    json.RawMessage(`{"topic":"solar","plan":["a"]}`),
		Node:     "manager",
		ParentID: first.ID,
	})
	require.NoError(t, err)

	require.Greater(t, second.Sequence, first.Sequence)
	require.Equal(t, first.ID, second.ParentID)
	require.NotEqual(t, first.ID, second.ID)
}

func TestGetLatestAndByID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.Save(ctx, checkpoint.SaveRequest{ThreadID: "t1", Node: "planner"})
	require.NoError(t, err)
	second, err := s.Save(ctx, checkpoint.SaveRequest{ThreadID: "t1", Node: "manager", ParentID: first.ID})
	require.NoError(t, err)

	latest, err := s.Get(ctx, "t1", "")
	require.NoError(t, err)
	require.Equal(t, second.ID, latest.ID)
	require.Equal(t, "manager", latest.Node)

	byID, err := s.Get(ctx, "t1", first.ID)
	require.NoError(t, err)
	require.Equal(t, first.ID, byID.ID)
	require.Equal(t, "planner", byID.Metadata[checkpoint.MetadataKeyNode])
}

func TestGetMissingReturnsNil(t *testing.T) {
	s := newTestStore(t)

	cp, err := s.Get(context.Background(), "absent", "")
	require.NoError(t, err)
	require.Nil(t, cp)
}

func TestStateRoundTrips(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	state := json.RawMessage(`{"topic":"dams","research_waves":2}`)
	saved, err := s.Save(ctx, checkpoint.SaveRequest{ThreadID: "t1", State: state, Node: "worker"})
	require.NoError(t, err)

	got, err := s.Get(ctx, "t1", saved.ID)
	require.NoError(t, err)
	require.JSONEq(t, string(state), string(got.State))
	require.False(t, got.AwaitingDecision())
}

func TestAwaitingDecisionMetadataSurvives(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	saved, err := s.Save(ctx, checkpoint.SaveRequest{
		ThreadID: "t1",
		Node:     "planner",
		Metadata: map[string]any{checkpoint.MetadataKeyAwaiting: true},
	})
	require.NoError(t, err)

	got, err := s.Get(ctx, "t1", saved.ID)
	require.NoError(t, err)
	require.True(t, got.AwaitingDecision())
}

func TestListNewestFirstWithLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var ids []string
	for _, node := range []string{"planner", "manager", "worker"} {
		cp, err := s.Save(ctx, checkpoint.SaveRequest{ThreadID: "t1", Node: node})
		require.NoError(t, err)
		ids = append(ids, cp.ID)
	}

	all, err := s.List(ctx, "t1", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, ids[2], all[0].ID)
	require.Equal(t, ids[0], all[2].ID)

	limited, err := s.List(ctx, "t1", 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	require.Equal(t, ids[2], limited[0].ID)
}

func TestDeleteAndDeleteThread(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cp, err := s.Save(ctx, checkpoint.SaveRequest{ThreadID: "t1", Node: "planner"})
	require.NoError(t, err)
	_, err = s.Save(ctx, checkpoint.SaveRequest{ThreadID: "t1", Node: "manager"})
	require.NoError(t, err)

	ok, err := s.Delete(ctx, "t1", cp.ID)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.Delete(ctx, "t1", cp.ID)
	require.NoError(t, err)
	require.False(t, ok)

	n, err := s.DeleteThread(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	latest, err := s.Get(ctx, "t1", "")
	require.NoError(t, err)
	require.Nil(t, latest)
}

func TestThreadsAreIsolated(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Save(ctx, checkpoint.SaveRequest{ThreadID: "t1", Node: "planner"})
	require.NoError(t, err)
	other, err := s.Save(ctx, checkpoint.SaveRequest{ThreadID: "t2", Node: "writer"})
	require.NoError(t, err)

	latest, err := s.Get(ctx, "t2", "")
	require.NoError(t, err)
	require.Equal(t, other.ID, latest.ID)

	list, err := s.List(ctx, "t1", 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
}
