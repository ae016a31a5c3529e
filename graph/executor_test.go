//
// Copyright (C) 2026 Kestrel Authors. All rights reserved.
//
// kestrel is licensed under the Apache License Version 2.0.
//

package graph

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-research/kestrel/checkpoint/inmemory"
)

func setCounter(delta int) NodeFunc {
	return func(ctx context.Context, state State) (State, error) {
		n, _ := state["counter"].(int)
		return State{"counter": n + delta}, nil
	}
}

func TestExecuteLinearGraph(t *testing.T) {
	g, err := NewStateGraph(NewSchema()).
		AddNode("first", setCounter(1)).
		AddNode("second", setCounter(10)).
		AddEdge("first", "second").
		AddEdge("second", End).
		SetEntryPoint("first").
		Compile()
	require.NoError(t, err)

	res, err := NewExecutor(g).Execute(context.Background(), State{}, "")
	require.NoError(t, err)
	assert.Equal(t, 11, res.State["counter"])
	assert.Equal(t, 2, res.Steps)
	assert.False(t, res.Interrupted)
}

func TestExecuteConditionalRouting(t *testing.T) {
	route := func(ctx context.Context, state State) (string, error) {
		if n, _ := state["counter"].(int); n < 3 {
			return "again", nil
		}
		return "done", nil
	}
	g, err := NewStateGraph(NewSchema()).
		AddNode("work", setCounter(1)).
		AddConditionalEdges("work", route, map[string]string{
			"again": "work",
			"done":  End,
		}).
		SetEntryPoint("work").
		Compile()
	require.NoError(t, err)

	res, err := NewExecutor(g).Execute(context.Background(), State{}, "")
	require.NoError(t, err)
	assert.Equal(t, 3, res.State["counter"])
	assert.Equal(t, 3, res.Steps)
}

func TestExecuteEnforcesMaxSteps(t *testing.T) {
	g, err := NewStateGraph(NewSchema()).
		AddNode("loop", setCounter(1)).
		AddEdge("loop", "loop").
		SetEntryPoint("loop").
		Compile()
	require.NoError(t, err)

	_, err = NewExecutor(g, WithMaxSteps(5)).Execute(context.Background(), State{}, "")
	require.ErrorIs(t, err, ErrMaxStepsExceeded)
}

func TestNodeErrorRecordedInState(t *testing.T) {
	boom := errors.New("provider unavailable")
	g, err := NewStateGraph(NewSchema()).
		AddNode("fetch", func(ctx context.Context, state State) (State, error) {
			return nil, boom
		}).
		AddEdge("fetch", End).
		SetEntryPoint("fetch").
		Compile()
	require.NoError(t, err)

	store := inmemory.New()
	res, err := NewExecutor(g, WithCheckpointStore(store)).Execute(context.Background(), State{}, "t1")

	var nodeErr *NodeError
	require.ErrorAs(t, err, &nodeErr)
	assert.Equal(t, "fetch", nodeErr.Node)
	assert.Equal(t, "provider unavailable", res.State[StateKeyError])

	cp, err := store.Get(context.Background(), "t1", "")
	require.NoError(t, err)
	require.NotNil(t, cp)
	var saved map[string]any
	require.NoError(t, json.Unmarshal(cp.State, &saved))
	assert.Equal(t, "provider unavailable", saved[StateKeyError])
}

func TestNodePanicContained(t *testing.T) {
	g, err := NewStateGraph(NewSchema()).
		AddNode("bad", func(ctx context.Context, state State) (State, error) {
			panic("unexpected shape")
		}).
		AddEdge("bad", End).
		SetEntryPoint("bad").
		Compile()
	require.NoError(t, err)

	_, err = NewExecutor(g).Execute(context.Background(), State{}, "")
	var nodeErr *NodeError
	require.ErrorAs(t, err, &nodeErr)
	assert.Contains(t, nodeErr.Error(), "panic")
}

func TestInterruptBeforePausesAndExecuteFromResumes(t *testing.T) {
	g, err := NewStateGraph(NewSchema()).
		AddNode("draft", setCounter(1)).
		AddNode("review", setCounter(100)).
		AddEdge("draft", "review").
		AddEdge("review", End).
		SetEntryPoint("draft").
		InterruptBefore("review").
		Compile()
	require.NoError(t, err)

	store := inmemory.New()
	exec := NewExecutor(g, WithCheckpointStore(store))

	res, err := exec.Execute(context.Background(), State{}, "t1")
	require.NoError(t, err)
	require.True(t, res.Interrupted)
	assert.Equal(t, "review", res.InterruptNode)
	assert.Equal(t, 1, res.State["counter"])
	require.NotNil(t, res.Checkpoint)
	assert.True(t, res.Checkpoint.AwaitingDecision())

	resumed, err := exec.ExecuteFrom(context.Background(), "t1", "review", res.State)
	require.NoError(t, err)
	assert.False(t, resumed.Interrupted)
	assert.Equal(t, 101, resumed.State["counter"])
}

func TestInterruptAfterPausesBeforeSuccessor(t *testing.T) {
	g, err := NewStateGraph(NewSchema()).
		AddNode("draft", setCounter(1)).
		AddNode("review", setCounter(100)).
		AddEdge("draft", "review").
		AddEdge("review", End).
		SetEntryPoint("draft").
		InterruptAfter("draft").
		Compile()
	require.NoError(t, err)

	store := inmemory.New()
	exec := NewExecutor(g, WithCheckpointStore(store))

	res, err := exec.Execute(context.Background(), State{}, "t1")
	require.NoError(t, err)
	require.True(t, res.Interrupted)
	assert.Equal(t, "review", res.InterruptNode)
	assert.Equal(t, 1, res.State["counter"])
	require.NotNil(t, res.Checkpoint)
	assert.True(t, res.Checkpoint.AwaitingDecision())
	assert.Equal(t, "review", res.Checkpoint.Node)

	resumed, err := exec.ExecuteFrom(context.Background(), "t1", res.InterruptNode, res.State)
	require.NoError(t, err)
	assert.False(t, resumed.Interrupted)
	assert.Equal(t, 101, resumed.State["counter"])
}

func TestInterruptAfterLastNodeRunsToCompletion(t *testing.T) {
	g, err := NewStateGraph(NewSchema()).
		AddNode("draft", setCounter(1)).
		AddEdge("draft", End).
		SetEntryPoint("draft").
		InterruptAfter("draft").
		Compile()
	require.NoError(t, err)

	res, err := NewExecutor(g).Execute(context.Background(), State{}, "t1")
	require.NoError(t, err)
	assert.False(t, res.Interrupted)
	assert.Equal(t, 1, res.State["counter"])
}

func TestCheckpointsChainParents(t *testing.T) {
	g, err := NewStateGraph(NewSchema()).
		AddNode("first", setCounter(1)).
		AddNode("second", setCounter(1)).
		AddEdge("first", "second").
		AddEdge("second", End).
		SetEntryPoint("first").
		Compile()
	require.NoError(t, err)

	store := inmemory.New()
	_, err = NewExecutor(g, WithCheckpointStore(store)).Execute(context.Background(), State{}, "t1")
	require.NoError(t, err)

	cps, err := store.List(context.Background(), "t1", 0)
	require.NoError(t, err)
	require.Len(t, cps, 2)
	assert.Equal(t, "second", cps[0].Node)
	assert.Equal(t, cps[1].ID, cps[0].ParentID)
	assert.Empty(t, cps[1].ParentID)
}

func TestCompileRejectsBrokenGraphs(t *testing.T) {
	_, err := NewStateGraph(NewSchema()).
		AddNode("a", setCounter(1)).
		AddEdge("a", End).
		Compile()
	require.ErrorIs(t, err, ErrEntryPointNotSet)

	_, err = NewStateGraph(NewSchema()).
		AddNode("a", setCounter(1)).
		SetEntryPoint("a").
		Compile()
	require.ErrorIs(t, err, ErrNoRoute)

	_, err = NewStateGraph(NewSchema()).
		AddNode("a", setCounter(1)).
		AddEdge("a", "missing").
		SetEntryPoint("a").
		Compile()
	require.Error(t, err)

	_, err = NewStateGraph(NewSchema()).
		AddNode("a", setCounter(1)).
		AddEdge("a", End).
		SetEntryPoint("a").
		InterruptBefore("missing").
		Compile()
	require.Error(t, err)
}

func TestExecuteRespectsContextCancellation(t *testing.T) {
	g, err := NewStateGraph(NewSchema()).
		AddNode("work", setCounter(1)).
		AddEdge("work", End).
		SetEntryPoint("work").
		Compile()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewExecutor(g).Execute(ctx, State{}, "")
	require.ErrorIs(t, err, context.Canceled)
}
