//
// Copyright (C) 2026 Kestrel Authors. All rights reserved.
//
// kestrel is licensed under the Apache License Version 2.0.
//

package research

import (
	"sort"
	"time"

	"github.com/kestrel-research/kestrel/graph"
)

// MergeFindings merges incoming findings into the existing set, keyed by
// source identity. New keys insert with their provenance seeded; existing
// keys union provenance sets, keep the maximum relevance, take the incoming
// content, and refresh the update timestamp. The result is resorted by
// collection time so repeated merges converge to the same order regardless
// of worker interleaving. Merging an empty incoming set returns the
// existing set unchanged.
func MergeFindings(existing, incoming []Finding) []Finding {
	if len(incoming) == 0 {
		return existing
	}

	indexByID := make(map[string]int, len(existing))
	merged := make([]Finding, len(existing))
	copy(merged, existing)
	for i := range merged {
		indexByID[merged[i].SourceID] = i
	}

	now := time.Now().UTC()
	for _, in := range incoming {
		idx, ok := indexByID[in.SourceID]
		if !ok {
			f := in
			f.WorkerIDs = dedupeStrings(in.WorkerIDs)
			f.OriginURLs = dedupeStrings(in.OriginURLs)
			if f.UpdatedAt.IsZero() {
				f.UpdatedAt = now
			}
			merged = append(merged, f)
			indexByID[f.SourceID] = len(merged) - 1
			continue
		}
		cur := &merged[idx]
		cur.WorkerIDs = dedupeStrings(append(cur.WorkerIDs, in.WorkerIDs...))
		cur.OriginURLs = dedupeStrings(append(cur.OriginURLs, in.OriginURLs...))
		if in.Relevance > cur.Relevance {
			cur.Relevance = in.Relevance
		}
		cur.Content = in.Content
		cur.UpdatedAt = now
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].CollectedAt.Before(merged[j].CollectedAt)
	})
	return merged
}

// MergeSources merges the citation registry with a key-wise overwrite
// union: incoming entries win on collision. The registry is an index, not
// evidentiary content, so no provenance tracking applies.
func MergeSources(existing, incoming map[string]Source) map[string]Source {
	if len(incoming) == 0 {
		return existing
	}
	merged := make(map[string]Source, len(existing)+len(incoming))
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range incoming {
		merged[k] = v
	}
	return merged
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func findingsReducer(existing, update any) any {
	ex := coerceFindings(existing)
	up := coerceFindings(update)
	return MergeFindings(ex, up)
}

func sourcesReducer(existing, update any) any {
	ex := coerceSources(existing)
	up := coerceSources(update)
	return MergeSources(ex, up)
}

func coerceFindings(v any) []Finding {
	switch t := v.(type) {
	case nil:
		return nil
	case []Finding:
		return t
	case []any:
		var fs []Finding
		if remarshal(t, &fs) == nil {
			return fs
		}
	}
	return nil
}

func coerceSources(v any) map[string]Source {
	switch t := v.(type) {
	case nil:
		return nil
	case map[string]Source:
		return t
	case map[string]any:
		var m map[string]Source
		if remarshal(t, &m) == nil {
			return m
		}
	}
	return nil
}

// Schema declares the workflow's state fields. Findings and the source
// registry carry custom merge semantics so concurrent worker output
// combines deterministically; every other field is last-write-wins because
// only one node touches it per step.
func Schema() *graph.Schema {
	return graph.NewSchema().
		AddField(KeyTopic, graph.Field{Required: true}).
		AddField(KeyFindings, graph.Field{
			Reducer: findingsReducer,
			Default: func() any { return []Finding(nil) },
		}).
		AddField(KeySources, graph.Field{
			Reducer: sourcesReducer,
			Default: func() any { return map[string]Source(nil) },
		}).
		AddField(KeyWaves, graph.Field{Default: func() any { return 0 }}).
		AddField(KeyRevisions, graph.Field{Default: func() any { return 0 }}).
		AddField(KeyAwaitingHuman, graph.Field{Default: func() any { return false }}).
		AddField(KeyPlan, graph.Field{}).
		AddField(KeyWorkPackages, graph.Field{}).
		AddField(KeyHumanFeedback, graph.Field{}).
		AddField(KeyManagerDecision, graph.Field{}).
		AddField(KeyDraftReport, graph.Field{}).
		AddField(KeyFinalReport, graph.Field{}).
		AddField(KeyReportHTML, graph.Field{}).
		AddField(KeyReview, graph.Field{}).
		AddField(KeyError, graph.Field{})
}
