//
// Copyright (C) 2026 Kestrel Authors. All rights reserved.
//
// kestrel is licensed under the Apache License Version 2.0.
//

package research

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateRoundTripThroughJSON(t *testing.T) {
	s := &State{
		Topic: "offshore wind",
		Plan: &Plan{
			Title:    "Offshore wind",
			Sections: []PlanSection{{Heading: "Costs", Queries: []string{"offshore wind LCOE"}}},
		},
		Findings:  []Finding{{SourceID: "u1", Content: "x"}},
		Sources:   map[string]Source{"u1": {ID: "u1", URL: "https://example.com"}},
		Waves:     2,
		Revisions: 1,
	}

	payload, err := json.Marshal(s.ToGraphState())
	require.NoError(t, err)

	decoded, err := Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, "offshore wind", decoded.Topic)
	assert.Equal(t, 2, decoded.Waves)
	assert.Equal(t, 1, decoded.Revisions)
	require.NotNil(t, decoded.Plan)
	assert.Equal(t, "Costs", decoded.Plan.Sections[0].Heading)
	assert.Len(t, decoded.Findings, 1)
	assert.Contains(t, decoded.Sources, "u1")
}

func TestAccessorsHandleBothValueShapes(t *testing.T) {
	typed := (&State{
		Topic: "t",
		Plan:  &Plan{Title: "p"},
		Waves: 1,
	}).ToGraphState()
	assert.Equal(t, "p", statePlan(typed).Title)
	assert.Equal(t, 1, stateInt(typed, KeyWaves))

	payload, err := json.Marshal(typed)
	require.NoError(t, err)
	var rawMap map[string]any
	require.NoError(t, json.Unmarshal(payload, &rawMap))

	assert.Equal(t, "p", statePlan(rawMap).Title)
	assert.Equal(t, 1, stateInt(rawMap, KeyWaves))
	assert.Nil(t, stateReview(rawMap))
}

func TestPlanQueriesFlattenInSectionOrder(t *testing.T) {
	p := &Plan{Sections: []PlanSection{
		{Heading: "a", Queries: []string{"q1", "q2"}},
		{Heading: "b", Queries: []string{"q3"}},
	}}
	assert.Equal(t, []string{"q1", "q2", "q3"}, p.Queries())
}
