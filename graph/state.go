//
// Copyright (C) 2026 Kestrel Authors. All rights reserved.
//
// kestrel is licensed under the Apache License Version 2.0.
//

package graph

import (
	"fmt"
	"sync"
)

// Well-known state keys used by the executor.
const (
	// StateKeyError holds the message of the node error that halted the run.
	StateKeyError = "error"
	// StateKeyCurrentNode holds the id of the node being executed.
	StateKeyCurrentNode = "current_node"
)

// State is the shared data that flows between nodes. Nodes return partial
// updates which are merged into the current state through the schema's
// reducers.
type State map[string]any

// Clone creates a shallow copy of the state. Values are shared, so nodes
// must treat received values as read-only and return fresh ones.
func (s State) Clone() State {
	clone := make(State, len(s))
	for k, v := range s {
		clone[k] = v
	}
	return clone
}

// Reducer merges an update into the existing value of a field and returns
// the merged result.
type Reducer func(existing, update any) any

// ReplaceReducer overwrites the existing value with the update.
func ReplaceReducer(existing, update any) any {
	return update
}

// AppendReducer concatenates slices of any element type. Non-slice values
// fall back to replacement.
func AppendReducer(existing, update any) any {
	ex, exOK := existing.([]any)
	up, upOK := update.([]any)
	if !exOK || !upOK {
		if existing == nil {
			return update
		}
		if !upOK {
			return update
		}
		ex = nil
	}
	merged := make([]any, 0, len(ex)+len(up))
	merged = append(merged, ex...)
	merged = append(merged, up...)
	return merged
}

// MergeMapReducer merges map updates key by key, update values winning on
// conflict. Non-map values fall back to replacement.
func MergeMapReducer(existing, update any) any {
	ex, exOK := existing.(map[string]any)
	up, upOK := update.(map[string]any)
	if !exOK || !upOK {
		return update
	}
	merged := make(map[string]any, len(ex)+len(up))
	for k, v := range ex {
		merged[k] = v
	}
	for k, v := range up {
		merged[k] = v
	}
	return merged
}

// Field describes a state field's merge behavior.
type Field struct {
	// Reducer merges updates for the field. Defaults to ReplaceReducer.
	Reducer Reducer
	// Default produces the initial value when the field is absent.
	Default func() any
	// Required fields must be present before execution starts.
	Required bool
}

// Schema defines the fields of a graph's state and how updates merge.
type Schema struct {
	mu     sync.RWMutex
	fields map[string]Field
}

// NewSchema creates an empty schema.
func NewSchema() *Schema {
	return &Schema{fields: make(map[string]Field)}
}

// AddField registers a field. A nil reducer means replacement.
func (s *Schema) AddField(name string, field Field) *Schema {
	s.mu.Lock()
	defer s.mu.Unlock()
	if field.Reducer == nil {
		field.Reducer = ReplaceReducer
	}
	s.fields[name] = field
	return s
}

// Apply merges an update into the current state using the registered
// reducers. Fields outside the schema are replaced.
func (s *Schema) Apply(current, update State) State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := current.Clone()
	for key, updateValue := range update {
		field, ok := s.fields[key]
		if !ok {
			result[key] = updateValue
			continue
		}
		currentValue, present := result[key]
		if !present && field.Default != nil {
			currentValue = field.Default()
		}
		result[key] = field.Reducer(currentValue, updateValue)
	}
	return result
}

// Init fills absent fields that declare defaults.
func (s *Schema) Init(state State) State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := state.Clone()
	for name, field := range s.fields {
		if _, ok := result[name]; !ok && field.Default != nil {
			result[name] = field.Default()
		}
	}
	return result
}

// Validate checks that required fields are present.
func (s *Schema) Validate(state State) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for name, field := range s.fields {
		if field.Required {
			if _, ok := state[name]; !ok {
				return fmt.Errorf("required state field %q is missing", name)
			}
		}
	}
	return nil
}
