//
// Copyright (C) 2026 Kestrel Authors. All rights reserved.
//
// kestrel is licensed under the Apache License Version 2.0.
//

package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kestrel-research/kestrel/checkpoint"
	"github.com/kestrel-research/kestrel/log"
	"github.com/kestrel-research/kestrel/telemetry"
)

const defaultMaxSteps = 50

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithCheckpointStore enables checkpointing after every step. Without a
// store the executor runs in memory only and cannot be paused or resumed.
func WithCheckpointStore(store checkpoint.Store) ExecutorOption {
	return func(e *Executor) {
		e.store = store
	}
}

// WithMaxSteps caps the number of node executions per run.
func WithMaxSteps(maxSteps int) ExecutorOption {
	return func(e *Executor) {
		if maxSteps > 0 {
			e.maxSteps = maxSteps
		}
	}
}

// Executor runs a compiled graph step by step, merging node updates through
// the schema and checkpointing after each step.
type Executor struct {
	graph    *Graph
	store    checkpoint.Store
	maxSteps int
}

// NewExecutor creates an executor for the graph.
func NewExecutor(g *Graph, opts ...ExecutorOption) *Executor {
	e := &Executor{graph: g, maxSteps: defaultMaxSteps}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Result is the outcome of a run.
type Result struct {
	// State is the final merged state.
	State State
	// Interrupted reports that the run paused before InterruptNode and is
	// awaiting an external decision.
	Interrupted   bool
	InterruptNode string
	// Checkpoint is the last checkpoint written, if a store is configured.
	Checkpoint *checkpoint.Checkpoint
	// Steps is the number of nodes executed.
	Steps int
}

// Execute runs the graph from its entry point. threadID scopes checkpoints;
// it may be empty when no store is configured.
func (e *Executor) Execute(ctx context.Context, initial State, threadID string) (*Result, error) {
	state := e.graph.schema.Init(initial)
	if err := e.graph.schema.Validate(state); err != nil {
		return nil, err
	}
	return e.run(ctx, threadID, e.graph.entryPoint, state, true)
}

// ExecuteFrom runs the graph starting at the given node with the given
// state. The starting node executes without an interrupt check, which is
// how a paused run proceeds once its decision has been injected.
func (e *Executor) ExecuteFrom(ctx context.Context, threadID, nodeID string, state State) (*Result, error) {
	if _, ok := e.graph.nodes[nodeID]; !ok {
		return nil, fmt.Errorf("unknown node %q", nodeID)
	}
	return e.run(ctx, threadID, nodeID, e.graph.schema.Init(state), false)
}

func (e *Executor) run(ctx context.Context, threadID, startNode string, state State, checkInterrupts bool) (*Result, error) {
	res := &Result{}
	current := startNode
	parentID := ""
	if e.store != nil {
		if latest, err := e.store.Get(ctx, threadID, ""); err == nil && latest != nil {
			parentID = latest.ID
		}
	}

	for step := 0; ; step++ {
		if step >= e.maxSteps {
			res.State = state
			return res, fmt.Errorf("%w: %d", ErrMaxStepsExceeded, e.maxSteps)
		}
		if err := ctx.Err(); err != nil {
			res.State = state
			return res, err
		}

		if checkInterrupts && e.graph.InterruptsBefore(current) {
			cp, err := e.saveCheckpoint(ctx, threadID, current, state, parentID, true)
			if err != nil {
				res.State = state
				return res, err
			}
			log.Infow("run paused for decision", "thread_id", threadID, "node", current)
			res.State = state
			res.Interrupted = true
			res.InterruptNode = current
			res.Checkpoint = cp
			return res, nil
		}
		checkInterrupts = true

		node := e.graph.nodes[current]
		update, nodeErr := e.executeNode(ctx, node, state)
		res.Steps++

		if nodeErr != nil {
			state = e.graph.schema.Apply(state, State{StateKeyError: nodeErr.Error()})
			if cp, err := e.saveCheckpoint(ctx, threadID, current, state, parentID, false); err == nil {
				res.Checkpoint = cp
			}
			res.State = state
			return res, &NodeError{Node: current, Err: nodeErr}
		}
		if update != nil {
			state = e.graph.schema.Apply(state, update)
		}
		state[StateKeyCurrentNode] = current

		cp, err := e.saveCheckpoint(ctx, threadID, current, state, parentID, false)
		if err != nil {
			res.State = state
			return res, err
		}
		if cp != nil {
			parentID = cp.ID
			res.Checkpoint = cp
		}

		next, err := e.graph.nextNode(ctx, current, state)
		if err != nil {
			res.State = state
			return res, err
		}
		if next == End {
			res.State = state
			return res, nil
		}
		if e.graph.InterruptsAfter(current) {
			// The pause checkpoint records the successor so a resume
			// re-enters at the node that has not run yet.
			cp, err := e.saveCheckpoint(ctx, threadID, next, state, parentID, true)
			if err != nil {
				res.State = state
				return res, err
			}
			log.Infow("run paused for decision", "thread_id", threadID, "after", current, "node", next)
			res.State = state
			res.Interrupted = true
			res.InterruptNode = next
			res.Checkpoint = cp
			return res, nil
		}
		current = next
	}
}

func (e *Executor) executeNode(ctx context.Context, node *Node, state State) (update State, err error) {
	ctx, span := telemetry.StartSpan(ctx, "graph.node."+node.ID,
		telemetry.String("node.id", node.ID))
	defer span.End()

	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			log.Errorw("node failed", "node", node.ID, "elapsed", time.Since(started), "error", err)
			return
		}
		log.Debugw("node completed", "node", node.ID, "elapsed", time.Since(started))
	}()

	return node.Run(ctx, state.Clone())
}

func (e *Executor) saveCheckpoint(ctx context.Context, threadID, nodeID string, state State, parentID string, awaiting bool) (*checkpoint.Checkpoint, error) {
	if e.store == nil {
		return nil, nil
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}
	return e.store.Save(ctx, checkpoint.SaveRequest{
		ThreadID: threadID,
		State:    payload,
		Node:     nodeID,
		ParentID: parentID,
		Metadata: map[string]any{checkpoint.MetadataKeyAwaiting: awaiting},
	})
}
