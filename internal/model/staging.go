package model

import "time"

// StagedKnowledge is a MemoryNode candidate proposed by the Batch Reflector.
// Invisible to the retriever until promoted by repeated re-observation.
type StagedKnowledge struct {
	MemoryNode
	StagedAt       time.Time `json:"staged_at"`
	BatchID        string    `json:"batch_id"`
	PromotionCount int       `json:"promotion_count"`
	SourceTurns    []int64   `json:"source_turns"`
}

// BatchProposal is the raw, schema-constrained output of the MIND-role
// batch-reflection LLM call, before quality gating.
type BatchProposal struct {
	NewFacts    []ProposedFact       `json:"new_facts"`
	Corrections []ProposedCorrection `json:"corrections"`
	Connections []ProposedConnection `json:"connections"`
	OpenQuestions []string           `json:"open_questions"`
}

type ProposedFact struct {
	Content      string      `json:"content"`
	ContentType  ContentType `json:"content_type"`
	CitedTurns   []int64     `json:"cited_turns"`
	Keywords     []string    `json:"keywords"`
}

type ProposedCorrection struct {
	TargetNodeID string  `json:"target_node_id"`
	Content      string  `json:"content"`
	CitedTurns   []int64 `json:"cited_turns"`
}

type ProposedConnection struct {
	Content    string  `json:"content"`
	CitedTurns []int64 `json:"cited_turns"`
}

// SignalAccumulator is the per-user code-only trigger state for the Batch
// Reflector (§4.6), persisted as a single snapshot and reset atomically.
type SignalAccumulator struct {
	UserID          string    `json:"user_id"`
	TurnsSinceBatch int       `json:"turns_since_batch"`
	Urgency         float64   `json:"urgency"`
	RecentTopics    []string  `json:"recent_topics"`
	LastBatchTurn   int64     `json:"last_batch_turn"`
}
