//
// Copyright (C) 2026 Kestrel Authors. All rights reserved.
//
// kestrel is licensed under the Apache License Version 2.0.
//

package graph

import "fmt"

// StateGraph is a fluent builder for Graph.
//
// Example:
//
//	g, err := NewStateGraph(schema).
//	    AddNode("plan", planFunc).
//	    AddEdge("plan", End).
//	    SetEntryPoint("plan").
//	    Compile()
type StateGraph struct {
	graph *Graph
	err   error
}

// NewStateGraph creates a builder with the given state schema. A nil schema
// gets an empty one, so every field merges by replacement.
func NewStateGraph(schema *Schema) *StateGraph {
	if schema == nil {
		schema = NewSchema()
	}
	return &StateGraph{
		graph: &Graph{
			schema:           schema,
			nodes:            make(map[string]*Node),
			edges:            make(map[string]string),
			conditionalEdges: make(map[string]*ConditionalEdge),
			interruptBefore:  make(map[string]bool),
			interruptAfter:   make(map[string]bool),
		},
	}
}

// NodeOption configures a node.
type NodeOption func(*Node)

// WithName sets the node's display name.
func WithName(name string) NodeOption {
	return func(n *Node) {
		n.Name = name
	}
}

// AddNode adds a node with the given id and function.
func (sg *StateGraph) AddNode(id string, fn NodeFunc, opts ...NodeOption) *StateGraph {
	node := &Node{ID: id, Name: id, Run: fn}
	for _, opt := range opts {
		opt(node)
	}
	if _, exists := sg.graph.nodes[id]; exists {
		sg.fail("node %q already defined", id)
		return sg
	}
	sg.graph.nodes[id] = node
	return sg
}

// AddEdge adds an unconditional transition. Use End as the target to finish
// the run after the source node.
func (sg *StateGraph) AddEdge(from, to string) *StateGraph {
	if _, exists := sg.graph.edges[from]; exists {
		sg.fail("node %q already has an edge", from)
		return sg
	}
	sg.graph.edges[from] = to
	return sg
}

// AddConditionalEdges adds state-dependent routing from a node. The route
// function's result is looked up in targets when targets is non-empty,
// otherwise it is taken as the next node id.
func (sg *StateGraph) AddConditionalEdges(from string, route ConditionalFunc, targets map[string]string) *StateGraph {
	if _, exists := sg.graph.conditionalEdges[from]; exists {
		sg.fail("node %q already has a conditional edge", from)
		return sg
	}
	sg.graph.conditionalEdges[from] = &ConditionalEdge{From: from, Route: route, Targets: targets}
	return sg
}

// SetEntryPoint sets the node executed first.
func (sg *StateGraph) SetEntryPoint(id string) *StateGraph {
	sg.graph.entryPoint = id
	return sg
}

// InterruptBefore declares nodes the executor pauses in front of, handing
// control back to the caller for an external decision.
func (sg *StateGraph) InterruptBefore(nodeIDs ...string) *StateGraph {
	for _, id := range nodeIDs {
		sg.graph.interruptBefore[id] = true
	}
	return sg
}

// InterruptAfter declares nodes the executor pauses behind: the node runs,
// its checkpoint is written, and the run hands back before the successor.
func (sg *StateGraph) InterruptAfter(nodeIDs ...string) *StateGraph {
	for _, id := range nodeIDs {
		sg.graph.interruptAfter[id] = true
	}
	return sg
}

// Compile validates the graph and returns it.
func (sg *StateGraph) Compile() (*Graph, error) {
	if sg.err != nil {
		return nil, sg.err
	}
	if err := sg.graph.validate(); err != nil {
		return nil, err
	}
	return sg.graph, nil
}

func (sg *StateGraph) fail(format string, args ...any) {
	if sg.err == nil {
		sg.err = &buildError{msg: fmt.Sprintf(format, args...)}
	}
}

type buildError struct {
	msg string
}

func (e *buildError) Error() string {
	return e.msg
}
