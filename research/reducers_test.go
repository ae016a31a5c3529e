//
// Copyright (C) 2026 Kestrel Authors. All rights reserved.
//
// kestrel is licensed under the Apache License Version 2.0.
//

package research

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func finding(id, content string, worker string, collected time.Time) Finding {
	return Finding{
		SourceID:    id,
		Content:     content,
		WorkerIDs:   []string{worker},
		OriginURLs:  []string{"https://example.com/" + id},
		CollectedAt: collected,
	}
}

func TestMergeFindingsEmptyIncomingIsIdentity(t *testing.T) {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	existing := []Finding{
		finding("a", "x", "w1", base),
		finding("b", "y", "w1", base.Add(time.Minute)),
	}

	merged := MergeFindings(existing, nil)
	assert.Equal(t, existing, merged)

	merged = MergeFindings(nil, nil)
	assert.Empty(t, merged)
}

func TestMergeFindingsDedupsByIdentity(t *testing.T) {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	merged := MergeFindings(nil, []Finding{finding("a", "x", "w1", base)})
	merged = MergeFindings(merged, []Finding{
		finding("a", "y", "w2", base),
		finding("b", "z", "w2", base.Add(time.Minute)),
	})

	require.Len(t, merged, 2)
	byID := map[string]Finding{}
	for _, f := range merged {
		byID[f.SourceID] = f
	}
	assert.Equal(t, "y", byID["a"].Content)
	assert.ElementsMatch(t, []string{"w1", "w2"}, byID["a"].WorkerIDs)
	assert.Equal(t, []string{"w2"}, byID["b"].WorkerIDs)
}

func TestMergeFindingsKeepsMaxRelevance(t *testing.T) {
	base := time.Now().UTC()
	a := finding("a", "first", "w1", base)
	a.Relevance = 0.9
	b := finding("a", "second", "w2", base)
	b.Relevance = 0.4

	merged := MergeFindings([]Finding{a}, []Finding{b})
	require.Len(t, merged, 1)
	assert.Equal(t, 0.9, merged[0].Relevance)
	assert.Equal(t, "second", merged[0].Content)
}

func TestMergeFindingsSortsByCollectionTime(t *testing.T) {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	merged := MergeFindings(
		[]Finding{finding("late", "x", "w1", base.Add(time.Hour))},
		[]Finding{finding("early", "y", "w2", base)},
	)
	require.Len(t, merged, 2)
	assert.Equal(t, "early", merged[0].SourceID)
	assert.Equal(t, "late", merged[1].SourceID)
}

func TestMergeFindingsKeySetIsOrderIndependent(t *testing.T) {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	b1 := []Finding{finding("a", "a1", "w1", base)}
	b2 := []Finding{finding("a", "a2", "w2", base), finding("b", "b1", "w2", base)}
	b3 := []Finding{finding("c", "c1", "w3", base)}

	keySet := func(batches ...[]Finding) []string {
		var merged []Finding
		for _, b := range batches {
			merged = MergeFindings(merged, b)
		}
		var keys []string
		for _, f := range merged {
			keys = append(keys, f.SourceID)
		}
		sort.Strings(keys)
		return keys
	}

	assert.Equal(t, keySet(b1, b2, b3), keySet(b3, b1, b2))

	// Content of overlapping keys reflects the last-applied batch, so the
	// two orders differ there by design.
	var first []Finding
	for _, b := range [][]Finding{b1, b2} {
		first = MergeFindings(first, b)
	}
	var second []Finding
	for _, b := range [][]Finding{b2, b1} {
		second = MergeFindings(second, b)
	}
	contentOf := func(fs []Finding, id string) string {
		for _, f := range fs {
			if f.SourceID == id {
				return f.Content
			}
		}
		return ""
	}
	assert.Equal(t, "a2", contentOf(first, "a"))
	assert.Equal(t, "a1", contentOf(second, "a"))
}

func TestMergeSourcesOverwriteUnion(t *testing.T) {
	existing := map[string]Source{
		"u1": {ID: "u1", Title: "old"},
		"u2": {ID: "u2", Title: "keep"},
	}
	incoming := map[string]Source{
		"u1": {ID: "u1", Title: "new"},
		"u3": {ID: "u3", Title: "add"},
	}

	merged := MergeSources(existing, incoming)
	require.Len(t, merged, 3)
	assert.Equal(t, "new", merged["u1"].Title)
	assert.Equal(t, "keep", merged["u2"].Title)

	assert.Equal(t, existing, MergeSources(existing, nil))
}

func TestReducersCoercePostCheckpointShapes(t *testing.T) {
	// After a checkpoint round trip, values arrive as []any / map[string]any.
	existing := []any{map[string]any{
		"source_id":    "a",
		"content":      "x",
		"worker_ids":   []any{"w1"},
		"collected_at": "2026-08-01T00:00:00Z",
	}}
	update := []Finding{finding("a", "y", "w2", time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))}

	merged, ok := findingsReducer(existing, update).([]Finding)
	require.True(t, ok)
	require.Len(t, merged, 1)
	assert.Equal(t, "y", merged[0].Content)
	assert.ElementsMatch(t, []string{"w1", "w2"}, merged[0].WorkerIDs)

	sources, ok := sourcesReducer(
		map[string]any{"u1": map[string]any{"id": "u1", "title": "old"}},
		map[string]Source{"u2": {ID: "u2"}},
	).(map[string]Source)
	require.True(t, ok)
	assert.Len(t, sources, 2)
}
