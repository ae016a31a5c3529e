//
// Copyright (C) 2026 Kestrel Authors. All rights reserved.
//
// kestrel is licensed under the Apache License Version 2.0.
//

// Package graph provides a directed workflow execution engine with
// conditional routing, reducer-based state merging, and checkpoint support.
package graph

import (
	"context"
	"fmt"
)

// Special node identifiers for routing.
const (
	// Start is the virtual start node.
	Start = "__start__"
	// End is the virtual end node. Routing to End finishes the run.
	End = "__end__"
)

// NodeFunc executes a node and returns a partial state update. The update
// is merged into the current state through the schema's reducers.
type NodeFunc func(ctx context.Context, state State) (State, error)

// ConditionalFunc inspects the state and returns the routing key for the
// next hop. The key is resolved through the conditional edge's target map
// when one is set, otherwise it is used as the node id directly.
type ConditionalFunc func(ctx context.Context, state State) (string, error)

// Node is a unit of work in the graph.
type Node struct {
	ID   string
	Name string
	Run  NodeFunc
}

// Edge is an unconditional transition between two nodes.
type Edge struct {
	From string
	To   string
}

// ConditionalEdge routes from a node based on the state.
type ConditionalEdge struct {
	From    string
	Route   ConditionalFunc
	Targets map[string]string
}

// Graph is a compiled, validated workflow. Build one with StateGraph.
type Graph struct {
	schema           *Schema
	nodes            map[string]*Node
	edges            map[string]string
	conditionalEdges map[string]*ConditionalEdge
	entryPoint       string
	interruptBefore  map[string]bool
	interruptAfter   map[string]bool
}

// Schema returns the graph's state schema.
func (g *Graph) Schema() *Schema {
	return g.schema
}

// Node returns the node with the given id, or nil.
func (g *Graph) Node(id string) *Node {
	return g.nodes[id]
}

// EntryPoint returns the id of the first node executed.
func (g *Graph) EntryPoint() string {
	return g.entryPoint
}

// InterruptsBefore reports whether execution must pause before the node.
func (g *Graph) InterruptsBefore(nodeID string) bool {
	return g.interruptBefore[nodeID]
}

// InterruptsAfter reports whether execution must pause once the node has
// run and its checkpoint is written.
func (g *Graph) InterruptsAfter(nodeID string) bool {
	return g.interruptAfter[nodeID]
}

// nextNode resolves the transition out of nodeID against the current state.
// It returns End when the run is complete.
func (g *Graph) nextNode(ctx context.Context, nodeID string, state State) (string, error) {
	if cond, ok := g.conditionalEdges[nodeID]; ok {
		key, err := cond.Route(ctx, state)
		if err != nil {
			return "", fmt.Errorf("conditional edge from %q: %w", nodeID, err)
		}
		if len(cond.Targets) > 0 {
			target, ok := cond.Targets[key]
			if !ok {
				return "", fmt.Errorf("conditional edge from %q: unmapped route key %q", nodeID, key)
			}
			return target, nil
		}
		return key, nil
	}
	if to, ok := g.edges[nodeID]; ok {
		return to, nil
	}
	return "", fmt.Errorf("%w: %q", ErrNoRoute, nodeID)
}

// validate checks graph structure at compile time so routing failures
// surface before the first run.
func (g *Graph) validate() error {
	if g.entryPoint == "" {
		return ErrEntryPointNotSet
	}
	if _, ok := g.nodes[g.entryPoint]; !ok {
		return fmt.Errorf("entry point %q is not a node", g.entryPoint)
	}
	for from, to := range g.edges {
		if _, ok := g.nodes[from]; !ok {
			return fmt.Errorf("edge from unknown node %q", from)
		}
		if to != End {
			if _, ok := g.nodes[to]; !ok {
				return fmt.Errorf("edge from %q to unknown node %q", from, to)
			}
		}
	}
	for from, cond := range g.conditionalEdges {
		if _, ok := g.nodes[from]; !ok {
			return fmt.Errorf("conditional edge from unknown node %q", from)
		}
		if _, ok := g.edges[from]; ok {
			return fmt.Errorf("node %q has both an edge and a conditional edge", from)
		}
		for key, target := range cond.Targets {
			if target == End {
				continue
			}
			if _, ok := g.nodes[target]; !ok {
				return fmt.Errorf("conditional edge from %q maps %q to unknown node %q", from, key, target)
			}
		}
	}
	for id := range g.interruptBefore {
		if _, ok := g.nodes[id]; !ok {
			return fmt.Errorf("interrupt declared for unknown node %q", id)
		}
	}
	for id := range g.interruptAfter {
		if _, ok := g.nodes[id]; !ok {
			return fmt.Errorf("interrupt declared for unknown node %q", id)
		}
	}
	for id := range g.nodes {
		_, hasEdge := g.edges[id]
		_, hasCond := g.conditionalEdges[id]
		if !hasEdge && !hasCond {
			return fmt.Errorf("%w: %q", ErrNoRoute, id)
		}
	}
	return nil
}
