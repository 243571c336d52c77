package store

import (
	"context"
	"errors"

	"basegraph.app/pandora/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// DocumentStore is the append-only per-turn filesystem layer (§6): context.md,
// response.md, metadata.json, metrics.json under users/{user_id}/turns/turn_{NNNNNN}/.
type DocumentStore interface {
	// AppendSection writes or extends context.md with one more numbered
	// section, never rewriting bytes already on disk (I1).
	AppendSection(ctx context.Context, turn TurnRef, section RenderedSection) error

	// WriteTurnSummary appends the turn-summary appendix after save (§6).
	WriteTurnSummary(ctx context.Context, turn TurnRef, summary model.TurnSummary) error

	// WriteResponse writes response.md once, at save time.
	WriteResponse(ctx context.Context, turn TurnRef, responseText string) error

	// WriteMetadata writes metadata.json once, at save time.
	WriteMetadata(ctx context.Context, turn TurnRef, meta TurnMetadata) error

	// WriteMetrics writes metrics.json once, at save time.
	WriteMetrics(ctx context.Context, turn TurnRef, metrics TurnMetrics) error

	// ReadContext reads the full context.md for a turn (used by the Batch
	// Reflector; the stage pipeline does not read an earlier turn's
	// context.md).
	ReadContext(ctx context.Context, turn TurnRef) (string, error)

	// PromoteKnowledge writes a promoted MemoryNode under Knowledge/.
	PromoteKnowledge(ctx context.Context, userID string, node model.MemoryNode) error

	// StageKnowledge writes a StagedKnowledge candidate under Knowledge_staging/,
	// invisible to the retriever (§4.6).
	StageKnowledge(ctx context.Context, userID string, staged model.StagedKnowledge) error

	// WriteReflectorLog writes a per-batch JSON log under Logs/reflector/.
	WriteReflectorLog(ctx context.Context, userID, batchID string, payload any) error
}

// TurnRef identifies a turn's directory on disk.
type TurnRef struct {
	UserID  string
	TurnNum int64
}

// TurnIndexStore wraps turn_index.
type TurnIndexStore interface {
	Insert(ctx context.Context, row TurnIndexEntry) error
	ListBySession(ctx context.Context, sessionID string, limit int32) ([]TurnIndexEntry, error)
}

// ResearchIndexStore wraps research_index.
type ResearchIndexStore interface {
	InsertResearch(ctx context.Context, row ResearchIndexEntry) error
	ListByTopic(ctx context.Context, topic string) ([]ResearchIndexEntry, error)
}

// CalibrationStore wraps calibration.db.
type CalibrationStore interface {
	RecordPredicted(ctx context.Context, turnID int64, predicted float64) error
	RecordObserved(ctx context.Context, turnID int64, observed float64) error
}
