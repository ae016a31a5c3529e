//
// Copyright (C) 2026 Kestrel Authors. All rights reserved.
//
// kestrel is licensed under the Apache License Version 2.0.
//

package research

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/yuin/goldmark"

	"github.com/kestrel-research/kestrel/fanout"
	"github.com/kestrel-research/kestrel/graph"
	"github.com/kestrel-research/kestrel/log"
	"github.com/kestrel-research/kestrel/model"
	"github.com/kestrel-research/kestrel/search"
)

// Node ids of the reference workflow.
const (
	NodePlanner      = "planner"
	NodePlanApproval = "plan_approval"
	NodeManager      = "manager"
	NodeWorker       = "worker"
	NodeWriter       = "writer"
	NodeReviewer     = "reviewer"
	NodeFinalReview  = "final_review"
	NodePublisher    = "publisher"
)

// Searcher is the retrieval capability workers call. search.Client
// implements it with provider fallback and per-provider breakers.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]search.Result, error)
}

// Options bound the workflow. Hard caps always win over soft signals so
// every thread terminates.
type Options struct {
	MaxWaves         int
	MaxRevisions     int
	MaxWorkers       int
	QueryConcurrency int
	ResultsPerQuery  int
}

// DefaultOptions mirrors the reference workflow's caps.
func DefaultOptions() Options {
	return Options{
		MaxWaves:         3,
		MaxRevisions:     2,
		MaxWorkers:       3,
		// Per-package sub-queries run under a smaller bound than the
		// package fan-out itself.
		QueryConcurrency: 2,
		ResultsPerQuery:  5,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxWaves <= 0 {
		o.MaxWaves = d.MaxWaves
	}
	if o.MaxRevisions <= 0 {
		o.MaxRevisions = d.MaxRevisions
	}
	if o.MaxWorkers <= 0 {
		o.MaxWorkers = d.MaxWorkers
	}
	if o.QueryConcurrency <= 0 {
		o.QueryConcurrency = d.QueryConcurrency
	}
	if o.ResultsPerQuery <= 0 {
		o.ResultsPerQuery = d.ResultsPerQuery
	}
	return o
}

// Workflow wires the reference research pipeline: plan, manage waves of
// fan-out research, write, review, publish, with human approval gates
// before managing and publishing.
type Workflow struct {
	gen      model.Generator
	searcher Searcher
	opts     Options
}

// NewWorkflow creates the workflow with its collaborators.
func NewWorkflow(gen model.Generator, searcher Searcher, opts Options) *Workflow {
	return &Workflow{gen: gen, searcher: searcher, opts: opts.withDefaults()}
}

// planNode asks the generator for a structured research plan.
func (w *Workflow) planNode(ctx context.Context, gs graph.State) (graph.State, error) {
	topic := stateString(gs, KeyTopic)
	feedback := stateString(gs, KeyHumanFeedback)

	prompt := fmt.Sprintf(plannerPrompt, topic)
	if feedback != "" {
		prompt += "\n\nReviewer feedback on the previous plan:\n" + feedback
	}

	var plan Plan
	if err := w.gen.GenerateStructured(ctx, model.Request{
		Prompt:            prompt,
		SystemInstruction: plannerSystem,
	}, &plan); err != nil {
		return nil, fmt.Errorf("plan generation: %w", err)
	}
	if len(plan.Sections) == 0 {
		return nil, fmt.Errorf("plan generation: empty plan for topic %q", topic)
	}
	log.Infow("plan created", "topic", topic, "sections", len(plan.Sections))
	return graph.State{KeyPlan: &plan, KeyHumanFeedback: ""}, nil
}

// gapAnalysis is the manager's structured completeness check.
type gapAnalysis struct {
	Complete   bool     `json:"complete"`
	GapQueries []string `json:"gap_queries,omitempty"`
}

// manageNode dispatches the first research wave unconditionally; later
// waves only when gap analysis reports missing coverage and the wave cap
// is not reached.
func (w *Workflow) manageNode(ctx context.Context, gs graph.State) (graph.State, error) {
	plan := statePlan(gs)
	if plan == nil {
		return nil, fmt.Errorf("manage: no plan in state")
	}
	waves := stateInt(gs, KeyWaves)

	if waves == 0 {
		pkgs := buildWorkPackages(plan.Sections)
		log.Infow("first research wave dispatched", "packages", len(pkgs))
		return graph.State{
			KeyWorkPackages:    pkgs,
			KeyWaves:           waves + 1,
			KeyManagerDecision: decisionResearch,
		}, nil
	}

	if waves >= w.opts.MaxWaves {
		log.Infow("wave cap reached, advancing to writing", "waves", waves)
		return graph.State{KeyManagerDecision: decisionWrite}, nil
	}

	findings := stateFindings(gs)
	var analysis gapAnalysis
	err := w.gen.GenerateStructured(ctx, model.Request{
		Prompt:            fmt.Sprintf(gapPrompt, plan.Title, summarizeFindings(findings)),
		SystemInstruction: gapSystem,
	}, &analysis)
	if err != nil {
		return nil, fmt.Errorf("gap analysis: %w", err)
	}
	if analysis.Complete || len(analysis.GapQueries) == 0 {
		return graph.State{KeyManagerDecision: decisionWrite}, nil
	}

	pkgs := buildWorkPackages([]PlanSection{{Heading: "gap analysis", Queries: analysis.GapQueries}})
	log.Infow("gap wave dispatched", "wave", waves+1, "packages", len(pkgs))
	return graph.State{
		KeyWorkPackages:    pkgs,
		KeyWaves:           waves + 1,
		KeyManagerDecision: decisionResearch,
	}, nil
}

func buildWorkPackages(sections []PlanSection) []WorkPackage {
	now := time.Now().UTC()
	var pkgs []WorkPackage
	for _, s := range sections {
		if len(s.Queries) == 0 {
			continue
		}
		pkgs = append(pkgs, WorkPackage{
			ID:         uuid.New().String(),
			Queries:    s.Queries,
			Status:     WorkPending,
			AssignedAt: &now,
		})
	}
	return pkgs
}

// workerResult is one package's fan-out payload.
type workerResult struct {
	findings []Finding
	sources  map[string]Source
}

// researchNode fans the pending work packages out to concurrent workers
// and folds their outcomes back into findings and the source registry.
// Outcomes are collected in package order, not completion order, so the
// merge is deterministic.
func (w *Workflow) researchNode(ctx context.Context, gs graph.State) (graph.State, error) {
	current := stateWorkPackages(gs)
	if len(current) == 0 {
		return graph.State{KeyWorkPackages: []WorkPackage{}}, nil
	}
	// The state's slice stays untouched; the update owns a copy.
	pkgs := make([]WorkPackage, len(current))
	copy(pkgs, current)
	for i := range pkgs {
		pkgs[i].Status = WorkInProgress
	}

	outcomes := fanout.RunBatch(ctx, pkgs, w.opts.MaxWorkers,
		func(ctx context.Context, pkg WorkPackage) (workerResult, error) {
			return w.runWorkPackage(ctx, pkg)
		})

	var allFindings []Finding
	allSources := make(map[string]Source)
	now := time.Now().UTC()
	for i, outcome := range outcomes {
		pkg := &pkgs[i]
		pkg.CompletedAt = &now
		switch outcome.Status {
		case fanout.StatusFailed:
			pkg.Status = WorkFailed
			pkg.Error = outcome.Error
			log.Warnw("work package failed", "package", pkg.ID, "error", outcome.Error)
		default:
			pkg.Status = WorkCompleted
			allFindings = append(allFindings, outcome.Result.findings...)
			for k, v := range outcome.Result.sources {
				allSources[k] = v
			}
		}
	}
	log.Infow("research wave complete", "packages", len(pkgs), "findings", len(allFindings))
	return graph.State{
		KeyWorkPackages: pkgs,
		KeyFindings:     allFindings,
		KeySources:      allSources,
	}, nil
}

// runWorkPackage executes one package: its queries run concurrently under
// the smaller per-package bound, and results are deduplicated by URL
// before becoming findings.
func (w *Workflow) runWorkPackage(ctx context.Context, pkg WorkPackage) (workerResult, error) {
	queryOutcomes := fanout.RunBatch(ctx, pkg.Queries, w.opts.QueryConcurrency,
		func(ctx context.Context, query string) ([]search.Result, error) {
			results, err := w.searcher.Search(ctx, query, w.opts.ResultsPerQuery)
			if err != nil {
				return nil, err
			}
			if len(results) == 0 {
				return nil, fanout.ErrNoResults
			}
			return results, nil
		})

	seen := make(map[string]bool)
	res := workerResult{sources: make(map[string]Source)}
	now := time.Now().UTC()
	failures := 0
	for _, out := range queryOutcomes {
		if out.Status == fanout.StatusFailed {
			failures++
			continue
		}
		for _, hit := range out.Result {
			if hit.URL == "" || seen[hit.URL] {
				continue
			}
			seen[hit.URL] = true
			res.findings = append(res.findings, Finding{
				SourceID:    hit.URL,
				Content:     strings.TrimSpace(hit.Title + ": " + hit.Snippet),
				Relevance:   hit.RelevanceScore,
				WorkerIDs:   []string{pkg.ID},
				OriginURLs:  []string{hit.URL},
				CollectedAt: now,
				UpdatedAt:   now,
			})
			res.sources[hit.URL] = Source{
				ID:    hit.URL,
				URL:   hit.URL,
				Title: hit.Title,
				Tag:   hit.SourceTag,
			}
		}
	}
	if failures == len(queryOutcomes) {
		return workerResult{}, fmt.Errorf("all %d queries failed", failures)
	}
	if len(res.findings) == 0 {
		return workerResult{}, fanout.ErrNoResults
	}
	return res, nil
}

// writeNode drafts the report from the collected findings, folding in any
// pending reviewer or human feedback, then consumes that feedback.
func (w *Workflow) writeNode(ctx context.Context, gs graph.State) (graph.State, error) {
	plan := statePlan(gs)
	if plan == nil {
		return nil, fmt.Errorf("write: no plan in state")
	}
	findings := stateFindings(gs)

	prompt := fmt.Sprintf(writerPrompt, plan.Title, plan.Objective, summarizeFindings(findings))
	if review := stateReview(gs); review != nil && len(review.Issues) > 0 {
		prompt += "\n\nAddress these review issues:\n- " + strings.Join(review.Issues, "\n- ")
	}
	if feedback := stateString(gs, KeyHumanFeedback); feedback != "" {
		prompt += "\n\nExternal feedback to incorporate:\n" + feedback
	}

	draft, err := w.gen.Generate(ctx, model.Request{
		Prompt:            prompt,
		SystemInstruction: writerSystem,
	})
	if err != nil {
		return nil, fmt.Errorf("draft generation: %w", err)
	}
	log.Infow("draft written", "length", len(draft))
	return graph.State{KeyDraftReport: draft, KeyHumanFeedback: ""}, nil
}

// reviewNode critiques the draft. A major verdict spends one revision.
func (w *Workflow) reviewNode(ctx context.Context, gs graph.State) (graph.State, error) {
	draft := stateString(gs, KeyDraftReport)
	if draft == "" {
		return nil, fmt.Errorf("review: no draft in state")
	}

	var review Review
	if err := w.gen.GenerateStructured(ctx, model.Request{
		Prompt:            fmt.Sprintf(reviewerPrompt, draft),
		SystemInstruction: reviewerSystem,
	}, &review); err != nil {
		return nil, fmt.Errorf("review generation: %w", err)
	}

	update := graph.State{KeyReview: &review}
	if review.Severity == SeverityMajor {
		update[KeyRevisions] = stateInt(gs, KeyRevisions) + 1
	}
	log.Infow("draft reviewed", "severity", review.Severity, "issues", len(review.Issues))
	return update, nil
}

// publishNode finalizes the draft and renders it to HTML with the source
// registry appended as a reference list.
func (w *Workflow) publishNode(ctx context.Context, gs graph.State) (graph.State, error) {
	draft := stateString(gs, KeyDraftReport)
	if draft == "" {
		return nil, fmt.Errorf("publish: no draft in state")
	}

	final := draft + renderReferences(stateSources(gs))
	var html strings.Builder
	if err := goldmark.Convert([]byte(final), &html); err != nil {
		return nil, fmt.Errorf("render report: %w", err)
	}
	log.Infow("report published", "length", len(final))
	return graph.State{
		KeyFinalReport: final,
		KeyReportHTML:  html.String(),
	}, nil
}

func renderReferences(sources map[string]Source) string {
	if len(sources) == 0 {
		return ""
	}
	urls := make([]string, 0, len(sources))
	for url := range sources {
		urls = append(urls, url)
	}
	sort.Strings(urls)

	var b strings.Builder
	b.WriteString("\n\n## References\n\n")
	for _, url := range urls {
		s := sources[url]
		title := s.Title
		if title == "" {
			title = s.URL
		}
		fmt.Fprintf(&b, "- [%s](%s)\n", title, s.URL)
	}
	return b.String()
}

const maxSummarizedFindings = 40

// summarizeFindings flattens findings into prompt material, newest last.
func summarizeFindings(findings []Finding) string {
	if len(findings) == 0 {
		return "(no findings collected yet)"
	}
	if len(findings) > maxSummarizedFindings {
		findings = findings[len(findings)-maxSummarizedFindings:]
	}
	var b strings.Builder
	for _, f := range findings {
		fmt.Fprintf(&b, "- [%s] %s\n", f.SourceID, f.Content)
	}
	return b.String()
}
