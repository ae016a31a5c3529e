//
// Copyright (C) 2026 Kestrel Authors. All rights reserved.
//
// kestrel is licensed under the Apache License Version 2.0.
//

package research

import (
	"context"

	"github.com/kestrel-research/kestrel/graph"
)

// Manager decisions.
const (
	decisionResearch = "research"
	decisionWrite    = "write"
)

// Routing functions. Node failures never reach these: the executor
// records the error field, checkpoints, and terminates the run itself.
// Hard caps always win over soft signals: the wave cap forces writing and
// the revision cap forces publishing no matter what the decision
// functions said.

func (w *Workflow) routeAfterPlanner(ctx context.Context, gs graph.State) (string, error) {
	return NodePlanApproval, nil
}

func (w *Workflow) routeAfterManager(ctx context.Context, gs graph.State) (string, error) {
	waves := stateInt(gs, KeyWaves)
	if stateString(gs, KeyManagerDecision) == decisionResearch && waves <= w.opts.MaxWaves {
		return NodeWorker, nil
	}
	return NodeWriter, nil
}

func (w *Workflow) routeAfterWorker(ctx context.Context, gs graph.State) (string, error) {
	return NodeManager, nil
}

func (w *Workflow) routeAfterWriter(ctx context.Context, gs graph.State) (string, error) {
	return NodeReviewer, nil
}

func (w *Workflow) routeAfterReviewer(ctx context.Context, gs graph.State) (string, error) {
	if stateInt(gs, KeyRevisions) >= w.opts.MaxRevisions {
		return NodeFinalReview, nil
	}
	if review := stateReview(gs); review != nil && review.Severity == SeverityMajor {
		return NodeWriter, nil
	}
	return NodeFinalReview, nil
}

func (w *Workflow) routeAfterPublisher(ctx context.Context, gs graph.State) (string, error) {
	if stateString(gs, KeyHumanFeedback) != "" && stateInt(gs, KeyRevisions) < w.opts.MaxRevisions {
		return NodeWriter, nil
	}
	return graph.End, nil
}

// Build compiles the reference workflow graph. The approval gates are
// dedicated pass-through nodes so the wave loop can re-enter the manager
// without pausing again: execution only stops before the plan-approval
// gate and the final-review gate.
func (w *Workflow) Build() (*graph.Graph, error) {
	return graph.NewStateGraph(Schema()).
		AddNode(NodePlanner, w.planNode).
		AddNode(NodePlanApproval, gateNode).
		AddNode(NodeManager, w.manageNode).
		AddNode(NodeWorker, w.researchNode).
		AddNode(NodeWriter, w.writeNode).
		AddNode(NodeReviewer, w.reviewNode).
		AddNode(NodeFinalReview, gateNode).
		AddNode(NodePublisher, w.publishNode).
		AddConditionalEdges(NodePlanner, w.routeAfterPlanner, nil).
		AddEdge(NodePlanApproval, NodeManager).
		AddConditionalEdges(NodeManager, w.routeAfterManager, nil).
		AddConditionalEdges(NodeWorker, w.routeAfterWorker, nil).
		AddConditionalEdges(NodeWriter, w.routeAfterWriter, nil).
		AddConditionalEdges(NodeReviewer, w.routeAfterReviewer, nil).
		AddEdge(NodeFinalReview, NodePublisher).
		AddConditionalEdges(NodePublisher, w.routeAfterPublisher, nil).
		SetEntryPoint(NodePlanner).
		InterruptBefore(NodePlanApproval, NodeFinalReview).
		Compile()
}

// gateNode is a pass-through approval gate; the pause happens before it,
// so by the time it runs the decision has been injected.
func gateNode(ctx context.Context, gs graph.State) (graph.State, error) {
	return graph.State{}, nil
}
