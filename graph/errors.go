//
// Copyright (C) 2026 Kestrel Authors. All rights reserved.
//
// kestrel is licensed under the Apache License Version 2.0.
//

package graph

import (
	"errors"
	"fmt"
)

// Errors.
var (
	ErrEntryPointNotSet   = errors.New("entry point not set")
	ErrMaxStepsExceeded   = errors.New("max steps exceeded")
	ErrCheckpointNotFound = errors.New("checkpoint not found")
	ErrNoRoute            = errors.New("no outgoing route from node")
)

// NodeError wraps a failure inside a node function. The executor records
// the message in the state's error field before returning it.
type NodeError struct {
	Node string
	Err  error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %q: %v", e.Node, e.Err)
}

func (e *NodeError) Unwrap() error {
	return e.Err
}
