//
// Copyright (C) 2026 Kestrel Authors. All rights reserved.
//
// kestrel is licensed under the Apache License Version 2.0.
//

package research

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/kestrel-research/kestrel/checkpoint"
	"github.com/kestrel-research/kestrel/graph"
	"github.com/kestrel-research/kestrel/hitl"
	"github.com/kestrel-research/kestrel/log"
	"github.com/kestrel-research/kestrel/model"
)

// ErrThreadNotFound reports an unknown thread id.
var ErrThreadNotFound = errors.New("thread not found")

// NotResumableError reports why a thread cannot proceed, carrying the
// stable reason string from the HITL controller.
type NotResumableError struct {
	Reason string
}

func (e *NotResumableError) Error() string {
	return fmt.Sprintf("thread cannot resume: %s", e.Reason)
}

// Runner drives research threads end to end: it owns the compiled graph,
// the executor, and the HITL controller, and exposes the operations the
// CLI and HTTP server call.
type Runner struct {
	wf    *Workflow
	exec  *graph.Executor
	ctrl  *hitl.Controller
	store checkpoint.Store
	opts  Options
}

// NewRunner compiles the workflow and wires it to the checkpoint store.
func NewRunner(gen model.Generator, searcher Searcher, store checkpoint.Store, opts Options) (*Runner, error) {
	wf := NewWorkflow(gen, searcher, opts)
	g, err := wf.Build()
	if err != nil {
		return nil, fmt.Errorf("build workflow: %w", err)
	}
	return &Runner{
		wf:    wf,
		exec:  graph.NewExecutor(g, graph.WithCheckpointStore(store)),
		ctrl:  hitl.New(store),
		store: store,
		opts:  opts.withDefaults(),
	}, nil
}

// Start begins a new thread for the topic and runs it until it pauses for
// plan approval, fails, or completes. It returns the new thread id.
func (r *Runner) Start(ctx context.Context, topic string) (string, *hitl.Status, error) {
	if topic == "" {
		return "", nil, errors.New("topic is required")
	}
	threadID := uuid.New().String()
	log.Infow("thread started", "thread_id", threadID, "topic", topic)

	initial := (&State{Topic: topic}).ToGraphState()
	res, runErr := r.exec.Execute(ctx, initial, threadID)
	status, err := r.finish(ctx, threadID, res, runErr)
	return threadID, status, err
}

// Approve records an external decision on a paused thread and continues
// execution. Approval proceeds to the gated node; rejection routes back to
// the node that produces the artifact under review, with the feedback in
// state for it to consume.
func (r *Runner) Approve(ctx context.Context, threadID string, approved bool, feedback string) (*hitl.Status, error) {
	cp, err := r.store.Get(ctx, threadID, "")
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return nil, ErrThreadNotFound
	}
	gateNode := cp.Node

	raw, err := r.ctrl.InjectDecision(ctx, threadID, approved, feedback)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, ErrThreadNotFound
	}

	gs, err := normalize(raw)
	if err != nil {
		return nil, err
	}
	target := gateNode
	if approved {
		// An approval note is informational; it must not trigger the
		// feedback-revision route.
		gs[KeyHumanFeedback] = ""
	} else {
		target = revisionTarget(gateNode)
	}
	log.Infow("thread resuming", "thread_id", threadID, "node", target, "approved", approved)

	res, runErr := r.exec.ExecuteFrom(ctx, threadID, target, gs)
	return r.finish(ctx, threadID, res, runErr)
}

// Resume continues a thread from its latest checkpoint, for example after
// an edit was injected or a process restart. The thread must pass the
// controller's resumability checks.
func (r *Runner) Resume(ctx context.Context, threadID string) (*hitl.Status, error) {
	ok, reason, err := r.ctrl.CanResume(ctx, threadID, r.opts.MaxRevisions)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &NotResumableError{Reason: reason}
	}

	cp, err := r.store.Get(ctx, threadID, "")
	if err != nil {
		return nil, err
	}
	raw, err := r.ctrl.Resume(ctx, threadID)
	if err != nil {
		return nil, err
	}
	gs, err := normalize(raw)
	if err != nil {
		return nil, err
	}

	res, runErr := r.exec.ExecuteFrom(ctx, threadID, cp.Node, gs)
	return r.finish(ctx, threadID, res, runErr)
}

// Edit applies a shallow patch to the paused thread's plan without
// resuming it.
func (r *Runner) Edit(ctx context.Context, threadID string, updates map[string]any) (*hitl.Status, error) {
	raw, err := r.ctrl.InjectEdit(ctx, threadID, updates)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, ErrThreadNotFound
	}
	return r.ctrl.StatusProjection(ctx, threadID)
}

// Status returns the thread's read-only projection, or nil when the thread
// does not exist.
func (r *Runner) Status(ctx context.Context, threadID string) (*hitl.Status, error) {
	return r.ctrl.StatusProjection(ctx, threadID)
}

// Result returns the thread's full typed state from its latest checkpoint.
func (r *Runner) Result(ctx context.Context, threadID string) (*State, error) {
	cp, err := r.store.Get(ctx, threadID, "")
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return nil, ErrThreadNotFound
	}
	return Decode(cp.State)
}

func (r *Runner) finish(ctx context.Context, threadID string, res *graph.Result, runErr error) (*hitl.Status, error) {
	if runErr != nil {
		var nodeErr *graph.NodeError
		if errors.As(runErr, &nodeErr) {
			// The executor already checkpointed the state with its error
			// field set; the thread reports as failed.
			status, err := r.ctrl.StatusProjection(ctx, threadID)
			if err != nil {
				return nil, err
			}
			return status, runErr
		}
		return nil, runErr
	}
	if res.Interrupted {
		if _, err := r.ctrl.PauseForDecision(ctx, threadID, map[string]any(res.State), res.InterruptNode); err != nil {
			return nil, err
		}
	}
	return r.ctrl.StatusProjection(ctx, threadID)
}

// revisionTarget maps a rejected approval gate to the node that must redo
// its work: a rejected plan goes back to the planner, a rejected final
// report goes back to the writer.
func revisionTarget(gate string) string {
	switch gate {
	case NodePlanApproval:
		return NodePlanner
	case NodeFinalReview:
		return NodeWriter
	default:
		return gate
	}
}

// normalize round-trips a decoded checkpoint state through the typed model
// so nodes see consistent value shapes after a resume.
func normalize(raw map[string]any) (graph.State, error) {
	typed, err := FromGraphState(graph.State(raw))
	if err != nil {
		return nil, err
	}
	return typed.ToGraphState(), nil
}
