package store

import "time"

// TurnIndexEntry mirrors sqlc.TurnIndexRow at the store package boundary so
// callers don't import core/db/sqlc directly.
type TurnIndexEntry struct {
	TurnID       int64
	SessionID    string
	UserID       string
	StartedAt    time.Time
	CompletedAt  *time.Time
	Status       string
	QualityScore *float64
	TurnDir      string
}

// ResearchIndexEntry mirrors sqlc.ResearchIndexRow.
type ResearchIndexEntry struct {
	TurnID       int64
	PrimaryTopic string
	ContentType  string
	QualityScore float64
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// RenderedSection is one numbered context.md section ready to append: the
// Markdown body plus its `_meta` YAML, already serialized by the caller
// (internal/orchestrator owns section numbering and content). The store wraps
// Meta in the ```yaml fence when it appends the section.
type RenderedSection struct {
	Number int
	Title  string
	Body   string // markdown body, already formatted
	Meta   string // unfenced YAML for the _meta block, or "" if this section carries none
}

// TurnMetadata is metadata.json (§6).
type TurnMetadata struct {
	TurnNumber    int64     `json:"turn_number"`
	SessionID     string    `json:"session_id"`
	Timestamp     time.Time `json:"timestamp"`
	Topic         string    `json:"topic"`
	WorkflowsUsed []string  `json:"workflows_used"`
	ClaimsCount   int       `json:"claims_count"`
	QualityScore  float64   `json:"quality_score"`
	ContentType   string    `json:"content_type"`
	Keywords      []string  `json:"keywords"`
}

// TurnMetrics is metrics.json (§6).
type TurnMetrics struct {
	StageTimings     map[string]time.Duration `json:"stage_timings"`
	TokensIn         int                      `json:"tokens_in"`
	TokensOut        int                      `json:"tokens_out"`
	ToolsUsed        []string                 `json:"tools_used"`
	DecisionsTrail   []string                 `json:"decisions_trail"`
	ValidationOutcome string                  `json:"validation_outcome"`
}
