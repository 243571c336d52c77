package sqlc

import (
	"context"
)

// InsertTurnIndex inserts one turn_index row. Append-only, single writer per
// row (§5): a turn_id is written here exactly once, at save time.
func (q *Queries) InsertTurnIndex(ctx context.Context, row TurnIndexRow) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO turn_index (turn_id, session_id, user_id, started_at, completed_at, status, quality_score, turn_dir)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, row.TurnID, row.SessionID, row.UserID, row.StartedAt, row.CompletedAt, row.Status, row.QualityScore, row.TurnDir)
	return err
}

// ListTurnIndexBySession returns a session's turns, newest first.
func (q *Queries) ListTurnIndexBySession(ctx context.Context, sessionID string, limit int32) ([]TurnIndexRow, error) {
	rows, err := q.db.Query(ctx, `
		SELECT turn_id, session_id, user_id, started_at, completed_at, status, quality_score, turn_dir
		FROM turn_index
		WHERE session_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TurnIndexRow
	for rows.Next() {
		var r TurnIndexRow
		if err := rows.Scan(&r.TurnID, &r.SessionID, &r.UserID, &r.StartedAt, &r.CompletedAt, &r.Status, &r.QualityScore, &r.TurnDir); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// InsertResearchIndex records a turn that produced durable research findings.
func (q *Queries) InsertResearchIndex(ctx context.Context, row ResearchIndexRow) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO research_index (turn_id, primary_topic, content_type, quality_score, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, row.TurnID, row.PrimaryTopic, row.ContentType, row.QualityScore, row.CreatedAt, row.ExpiresAt)
	return err
}

// ListResearchIndexByTopic returns unexpired research entries for a topic,
// best quality first — used by C3 as a secondary signal alongside Typesense.
func (q *Queries) ListResearchIndexByTopic(ctx context.Context, topic string) ([]ResearchIndexRow, error) {
	rows, err := q.db.Query(ctx, `
		SELECT turn_id, primary_topic, content_type, quality_score, created_at, expires_at
		FROM research_index
		WHERE primary_topic = $1 AND expires_at > now()
		ORDER BY quality_score DESC
	`, topic)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ResearchIndexRow
	for rows.Next() {
		var r ResearchIndexRow
		if err := rows.Scan(&r.TurnID, &r.PrimaryTopic, &r.ContentType, &r.QualityScore, &r.CreatedAt, &r.ExpiresAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// InsertCalibration records a predicted-quality observation at save time, with
// the observed half filled in later once ground truth is available.
func (q *Queries) InsertCalibration(ctx context.Context, row CalibrationRow) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO calibration (turn_id, predicted_quality, observed_quality, recorded_at)
		VALUES ($1, $2, $3, $4)
	`, row.TurnID, row.PredictedQuality, row.ObservedQuality, row.RecordedAt)
	return err
}

// UpdateCalibrationObserved fills in the observed_quality half once known.
func (q *Queries) UpdateCalibrationObserved(ctx context.Context, turnID int64, observed float64) error {
	_, err := q.db.Exec(ctx, `
		UPDATE calibration SET observed_quality = $2 WHERE turn_id = $1
	`, turnID, observed)
	return err
}
