//
// Copyright (C) 2026 Kestrel Authors. All rights reserved.
//
// kestrel is licensed under the Apache License Version 2.0.
//

package research

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kestrel-research/kestrel/graph"
)

// State field keys in graph state and checkpoint JSON.
const (
	KeyTopic           = "topic"
	KeyPlan            = "research_plan"
	KeyWorkPackages    = "work_packages"
	KeyFindings        = "research_findings"
	KeySources         = "source_registry"
	KeyWaves           = "research_waves"
	KeyRevisions       = "revision_count"
	KeyAwaitingHuman   = "awaiting_human"
	KeyHumanFeedback   = "human_feedback"
	KeyManagerDecision = "manager_decision"
	KeyDraftReport     = "draft_report"
	KeyFinalReport     = "final_report"
	KeyReportHTML      = "final_report_html"
	KeyReview          = "review"
	KeyError           = graph.StateKeyError
)

// WorkStatus is the lifecycle of a work package.
type WorkStatus string

// Work package statuses.
const (
	WorkPending    WorkStatus = "pending"
	WorkInProgress WorkStatus = "in_progress"
	WorkCompleted  WorkStatus = "completed"
	WorkFailed     WorkStatus = "failed"
)

// PlanSection is one section of the research plan with the queries that
// should fill it.
type PlanSection struct {
	Heading string   `json:"heading"`
	Queries []string `json:"queries"`
}

// Plan is the research plan produced by the planner and approved by a human.
type Plan struct {
	Title     string        `json:"title"`
	Objective string        `json:"objective"`
	Sections  []PlanSection `json:"sections"`
}

// Queries returns every query in the plan, in section order.
func (p *Plan) Queries() []string {
	var out []string
	for _, s := range p.Sections {
		out = append(out, s.Queries...)
	}
	return out
}

// WorkPackage is one independently schedulable batch of queries dispatched
// to the fan-out executor. It is mutated only by the node that dispatched
// it, never by the unit's own execution body.
type WorkPackage struct {
	ID          string     `json:"id"`
	Queries     []string   `json:"queries"`
	Status      WorkStatus `json:"status"`
	DependsOn   []string   `json:"depends_on,omitempty"`
	AssignedAt  *time.Time `json:"assigned_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Finding is one piece of collected evidence, keyed by source identity.
// Provenance tracks every worker and origin URL that contributed it.
type Finding struct {
	SourceID    string    `json:"source_id"`
	Content     string    `json:"content"`
	Relevance   float64   `json:"relevance"`
	WorkerIDs   []string  `json:"worker_ids"`
	OriginURLs  []string  `json:"origin_urls"`
	CollectedAt time.Time `json:"collected_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Source is a citation registry entry.
type Source struct {
	ID    string `json:"id"`
	URL   string `json:"url"`
	Title string `json:"title"`
	Tag   string `json:"tag"`
}

// Review is the reviewer's structured critique of a draft.
type Review struct {
	Severity string   `json:"severity"`
	Summary  string   `json:"summary"`
	Issues   []string `json:"issues,omitempty"`
}

// Severity values a review may carry. Only major reviews trigger a
// revision cycle.
const (
	SeverityMinor = "minor"
	SeverityMajor = "major"
)

// State is the typed view of a workflow thread's shared state.
type State struct {
	Topic         string            `json:"topic"`
	Plan          *Plan             `json:"research_plan,omitempty"`
	WorkPackages  []WorkPackage     `json:"work_packages,omitempty"`
	Findings      []Finding         `json:"research_findings,omitempty"`
	Sources       map[string]Source `json:"source_registry,omitempty"`
	Waves         int               `json:"research_waves"`
	Revisions     int               `json:"revision_count"`
	AwaitingHuman bool              `json:"awaiting_human"`
	HumanFeedback string            `json:"human_feedback,omitempty"`
	DraftReport   string            `json:"draft_report,omitempty"`
	FinalReport   string            `json:"final_report,omitempty"`
	ReportHTML    string            `json:"final_report_html,omitempty"`
	Review        *Review           `json:"review,omitempty"`
	Error         string            `json:"error,omitempty"`
}

// Decode deserializes a checkpoint snapshot into a typed state.
func Decode(raw json.RawMessage) (*State, error) {
	var s State
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode research state: %w", err)
	}
	return &s, nil
}

// ToGraphState converts the typed state into the engine's map form.
func (s *State) ToGraphState() graph.State {
	gs := graph.State{
		KeyTopic:         s.Topic,
		KeyWaves:         s.Waves,
		KeyRevisions:     s.Revisions,
		KeyAwaitingHuman: s.AwaitingHuman,
	}
	if s.Plan != nil {
		gs[KeyPlan] = s.Plan
	}
	if s.WorkPackages != nil {
		gs[KeyWorkPackages] = s.WorkPackages
	}
	if s.Findings != nil {
		gs[KeyFindings] = s.Findings
	}
	if s.Sources != nil {
		gs[KeySources] = s.Sources
	}
	if s.HumanFeedback != "" {
		gs[KeyHumanFeedback] = s.HumanFeedback
	}
	if s.DraftReport != "" {
		gs[KeyDraftReport] = s.DraftReport
	}
	if s.FinalReport != "" {
		gs[KeyFinalReport] = s.FinalReport
	}
	if s.ReportHTML != "" {
		gs[KeyReportHTML] = s.ReportHTML
	}
	if s.Review != nil {
		gs[KeyReview] = s.Review
	}
	if s.Error != "" {
		gs[KeyError] = s.Error
	}
	return gs
}

// FromGraphState extracts the typed state from the engine's map form. It
// tolerates both typed values (during a run) and decoded JSON values
// (after a checkpoint round trip).
func FromGraphState(gs graph.State) (*State, error) {
	payload, err := json.Marshal(gs)
	if err != nil {
		return nil, fmt.Errorf("encode graph state: %w", err)
	}
	return Decode(payload)
}

// Typed accessors used by nodes and routing functions. They accept both
// in-memory typed values and post-checkpoint JSON shapes.

func stateString(gs graph.State, key string) string {
	v, _ := gs[key].(string)
	return v
}

func stateInt(gs graph.State, key string) int {
	switch v := gs[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func statePlan(gs graph.State) *Plan {
	switch v := gs[KeyPlan].(type) {
	case *Plan:
		return v
	case map[string]any:
		var p Plan
		if remarshal(v, &p) == nil {
			return &p
		}
	}
	return nil
}

func stateFindings(gs graph.State) []Finding {
	switch v := gs[KeyFindings].(type) {
	case []Finding:
		return v
	case []any:
		var fs []Finding
		if remarshal(v, &fs) == nil {
			return fs
		}
	}
	return nil
}

func stateSources(gs graph.State) map[string]Source {
	switch v := gs[KeySources].(type) {
	case map[string]Source:
		return v
	case map[string]any:
		var m map[string]Source
		if remarshal(v, &m) == nil {
			return m
		}
	}
	return nil
}

func stateWorkPackages(gs graph.State) []WorkPackage {
	switch v := gs[KeyWorkPackages].(type) {
	case []WorkPackage:
		return v
	case []any:
		var pkgs []WorkPackage
		if remarshal(v, &pkgs) == nil {
			return pkgs
		}
	}
	return nil
}

func stateReview(gs graph.State) *Review {
	switch v := gs[KeyReview].(type) {
	case *Review:
		return v
	case map[string]any:
		var r Review
		if remarshal(v, &r) == nil {
			return &r
		}
	}
	return nil
}

func remarshal(in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(payload, out)
}
