// Package model defines the domain types shared across the orchestrator:
// the turn document and its sections, memory nodes, workflows, interventions,
// and staged knowledge.
package model

import "time"

// Mode gates which tool families a turn may invoke.
type Mode string

const (
	ModeChat Mode = "chat"
	ModeCode Mode = "code"
)

// TurnStatus is the terminal or in-flight status of a turn.
type TurnStatus string

const (
	TurnStatusOK                TurnStatus = "ok"
	TurnStatusCancelled         TurnStatus = "cancelled"
	TurnStatusCancelledPartial  TurnStatus = "cancelled_partial"
	TurnStatusFailed            TurnStatus = "failed"
)

// Route is the Planner's routing decision out of the Strategic Plan (§3).
type Route string

const (
	RouteExecutor      Route = "executor"
	RouteSynthesis     Route = "synthesis"
	RouteClarify       Route = "clarify"
	RouteRefreshContext Route = "refresh_context"
)

// ValidationDecision is the Stage 1.5 / 2.5 helper outcome.
type ValidationDecision string

const (
	ValidationPass    ValidationDecision = "pass"
	ValidationRetry   ValidationDecision = "retry"
	ValidationClarify ValidationDecision = "clarify"
)

// ReviewDecision is the Stage 7 outcome.
type ReviewDecision string

const (
	ReviewApprove ReviewDecision = "APPROVE"
	ReviewRevise  ReviewDecision = "REVISE"
	ReviewRetry   ReviewDecision = "RETRY"
	ReviewFail    ReviewDecision = "FAIL"
)

// ExecutorAction is the action the Executor sub-loop emits each iteration (§4.1).
type ExecutorAction string

const (
	ExecutorActionCommand  ExecutorAction = "COMMAND"
	ExecutorActionAnalyze  ExecutorAction = "ANALYZE"
	ExecutorActionComplete ExecutorAction = "COMPLETE"
	ExecutorActionBlocked  ExecutorAction = "BLOCKED"
)

// TurnDocument is the append-only per-turn record. Sections 0-7 plus a
// turn-summary appendix. No section is ever rewritten (I1); only later
// attempt blocks are appended on retry.
type TurnDocument struct {
	TurnID    int64     `json:"turn_id"`
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`

	Query              QuerySection             `json:"query"`
	AnalysisValidation []ValidationAttempt      `json:"analysis_validation"`
	GatheredContext    []ContextSection         `json:"gathered_context"`
	ContextValidation  []ValidationAttempt      `json:"context_validation"`
	Plans              []StrategicPlan          `json:"plans"`
	ExecutionProgress  []ExecutionBlock         `json:"execution_progress"`
	Synthesis          []SynthesisAttempt       `json:"synthesis"`
	Validation         []ValidationVerdict      `json:"validation"`
	Summary            *TurnSummary             `json:"summary,omitempty"`
}

// QuerySection is §0. Immutable for the life of the turn (I3).
type QuerySection struct {
	RawText             string    `json:"raw_text"`
	Mode                Mode      `json:"mode"`
	ArrivalTime         time.Time `json:"arrival_time"`
	UserPurpose         string    `json:"user_purpose"`
	DataRequirements    DataRequirements `json:"data_requirements"`
	ReferenceResolution ReferenceResolution `json:"reference_resolution"`
}

// DataRequirements are the derived hints from query analysis (Stage 1).
type DataRequirements struct {
	NeedsCurrentPrices   bool     `json:"needs_current_prices"`
	NeedsAvailability    bool     `json:"needs_availability"`
	NeedsCodeExploration bool     `json:"needs_code_exploration"`
	Hints                []string `json:"hints,omitempty"`
}

// ReferenceResolution records whether the query refers to a prior turn by ID.
type ReferenceResolution struct {
	Resolved        bool    `json:"resolved"`
	ReferencedTurn  *int64  `json:"referenced_turn,omitempty"`
	UnresolvedNote  string  `json:"unresolved_note,omitempty"`
}

// ValidationAttempt is one attempt of a §1.5/§2.5 validation helper.
type ValidationAttempt struct {
	Attempt       int                `json:"attempt"`
	Decision      ValidationDecision `json:"decision"`
	Issues        []string           `json:"issues,omitempty"`
	RetryGuidance []string           `json:"retry_guidance,omitempty"`
	At            time.Time          `json:"at"`
}

// ContextSourceType enumerates §2 sub-sections.
type ContextSourceType string

const (
	SourcePreferences      ContextSourceType = "preferences"
	SourcePriorTurnSummary ContextSourceType = "prior_turn_summary"
	SourceCachedResearch   ContextSourceType = "cached_research"
	SourceVisitRecords     ContextSourceType = "visit_records"
	SourceConstraints      ContextSourceType = "constraints"
)

// ContextSection is one §2 sub-section with its provenance meta-block.
type ContextSection struct {
	SourceType    ContextSourceType `json:"source_type"`
	Content       string            `json:"content"`
	Meta          ContextMeta       `json:"meta"`
}

// ContextMeta is the fenced `_meta` YAML block attached to each §2 section.
type ContextMeta struct {
	SourceType    ContextSourceType `yaml:"source_type" json:"source_type"`
	NodeIDs       []string          `yaml:"node_ids" json:"node_ids"`
	ConfidenceAvg float64           `yaml:"confidence_avg" json:"confidence_avg"`
	Provenance    []string          `yaml:"provenance" json:"provenance"`
}

// StrategicPlan is §3, one per planner invocation (initial + RETRY re-entries).
type StrategicPlan struct {
	Attempt        int        `json:"attempt"`
	Goals          []PlanGoal `json:"goals"`
	Approach       string     `json:"approach"`
	SuccessCriteria []string  `json:"success_criteria"`
	Route          Route      `json:"route"`
	MissingItems   []string   `json:"missing_items,omitempty"` // for refresh_context
	RetryMeta      *PlanRetryMeta `json:"retry_meta,omitempty"`
	At             time.Time  `json:"at"`
}

// PlanGoal is a single goal within a strategic plan.
type PlanGoal struct {
	ID           string   `json:"id"`
	Description  string   `json:"description"`
	Priority     int      `json:"priority"`
	DependsOn    []string `json:"depends_on,omitempty"`
}

// PlanRetryMeta carries suggested_fixes from a Stage 7 RETRY back into Stage 3.
type PlanRetryMeta struct {
	SuggestedFixes []string `json:"suggested_fixes"`
}

// ExecutionBlock is one §4 iteration of the Executor-Coordinator loop.
// On retry, new blocks are appended with an incremented Attempt; never replaced.
type ExecutionBlock struct {
	Attempt         int            `json:"attempt"`
	Iteration       int            `json:"iteration"`
	Action          ExecutorAction `json:"action"`
	Command         string         `json:"command,omitempty"`
	ToolSelected    string         `json:"tool_selected,omitempty"`
	Args            map[string]any `json:"args,omitempty"`
	Status          string         `json:"status,omitempty"`
	ResultSummary   string         `json:"result_summary,omitempty"`
	Claims          []Claim        `json:"claims,omitempty"`
	Analysis        string         `json:"analysis,omitempty"`
	TerminationReason string       `json:"termination_reason,omitempty"`
	At              time.Time      `json:"at"`
}

// Claim is a discrete factual assertion extracted from a tool result.
type Claim struct {
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	Source     string    `json:"source"`
	TTL        time.Duration `json:"ttl"`
}

// SynthesisAttempt is §6, appended on each REVISE.
type SynthesisAttempt struct {
	Attempt           int      `json:"attempt"`
	ResponsePreview   string   `json:"response_preview"`
	ValidationChecklist []string `json:"validation_checklist"`
	TerminationReason string   `json:"termination_reason,omitempty"`
	At                time.Time `json:"at"`
}

// ValidationVerdict is §7, appended on each attempt.
type ValidationVerdict struct {
	Attempt        int            `json:"attempt"`
	Decision       ReviewDecision `json:"decision"`
	Confidence     float64        `json:"confidence"`
	Checks         map[string]bool `json:"checks"`
	RevisionHints  []string       `json:"revision_hints,omitempty"`
	SuggestedFixes []string       `json:"suggested_fixes,omitempty"`
	At             time.Time      `json:"at"`
}

// TurnSummary is the appendix C10 appends after the turn is saved. The stage
// pipeline does not read it back when the next turn runs.
type TurnSummary struct {
	Text      string    `json:"text"`
	Keywords  []string  `json:"keywords"`
	GeneratedAt time.Time `json:"generated_at"`
}
