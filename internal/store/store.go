package store

import (
	"context"
	"time"

	"basegraph.app/pandora/core/db/sqlc"
)

// IndexStore provides typed accessors over the turn_index / research_index /
// calibration tables, wrapping a hand-written sqlc.Queries the way the
// teacher's store.Store wraps generated queries.
type IndexStore struct {
	queries *sqlc.Queries
}

func New(queries *sqlc.Queries) *IndexStore {
	return &IndexStore{queries: queries}
}

var _ TurnIndexStore = (*IndexStore)(nil)
var _ ResearchIndexStore = (*IndexStore)(nil)
var _ CalibrationStore = (*IndexStore)(nil)

func (s *IndexStore) Insert(ctx context.Context, row TurnIndexEntry) error {
	return s.queries.InsertTurnIndex(ctx, sqlc.TurnIndexRow{
		TurnID:       row.TurnID,
		SessionID:    row.SessionID,
		UserID:       row.UserID,
		StartedAt:    row.StartedAt,
		CompletedAt:  row.CompletedAt,
		Status:       row.Status,
		QualityScore: row.QualityScore,
		TurnDir:      row.TurnDir,
	})
}

func (s *IndexStore) ListBySession(ctx context.Context, sessionID string, limit int32) ([]TurnIndexEntry, error) {
	rows, err := s.queries.ListTurnIndexBySession(ctx, sessionID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]TurnIndexEntry, len(rows))
	for i, r := range rows {
		out[i] = TurnIndexEntry{
			TurnID:       r.TurnID,
			SessionID:    r.SessionID,
			UserID:       r.UserID,
			StartedAt:    r.StartedAt,
			CompletedAt:  r.CompletedAt,
			Status:       r.Status,
			QualityScore: r.QualityScore,
			TurnDir:      r.TurnDir,
		}
	}
	return out, nil
}

func (s *IndexStore) InsertResearch(ctx context.Context, row ResearchIndexEntry) error {
	return s.queries.InsertResearchIndex(ctx, sqlc.ResearchIndexRow{
		TurnID:       row.TurnID,
		PrimaryTopic: row.PrimaryTopic,
		ContentType:  row.ContentType,
		QualityScore: row.QualityScore,
		CreatedAt:    row.CreatedAt,
		ExpiresAt:    row.ExpiresAt,
	})
}

func (s *IndexStore) ListByTopic(ctx context.Context, topic string) ([]ResearchIndexEntry, error) {
	rows, err := s.queries.ListResearchIndexByTopic(ctx, topic)
	if err != nil {
		return nil, err
	}
	out := make([]ResearchIndexEntry, len(rows))
	for i, r := range rows {
		out[i] = ResearchIndexEntry{
			TurnID:       r.TurnID,
			PrimaryTopic: r.PrimaryTopic,
			ContentType:  r.ContentType,
			QualityScore: r.QualityScore,
			CreatedAt:    r.CreatedAt,
			ExpiresAt:    r.ExpiresAt,
		}
	}
	return out, nil
}

func (s *IndexStore) RecordPredicted(ctx context.Context, turnID int64, predicted float64) error {
	return s.queries.InsertCalibration(ctx, sqlc.CalibrationRow{
		TurnID:           turnID,
		PredictedQuality: predicted,
		RecordedAt:       time.Now().UTC(),
	})
}

func (s *IndexStore) RecordObserved(ctx context.Context, turnID int64, observed float64) error {
	return s.queries.UpdateCalibrationObserved(ctx, turnID, observed)
}
