package sqlc

import "time"

// TurnIndexRow is one row of turn_index: session_id, ts, quality, path (§6).
type TurnIndexRow struct {
	TurnID      int64
	SessionID   string
	UserID      string
	StartedAt   time.Time
	CompletedAt *time.Time
	Status      string
	QualityScore *float64
	TurnDir     string
}

// ResearchIndexRow is one row of research_index: topic, quality, ts, expires
// (§6). Written only when a research workflow produced durable findings.
type ResearchIndexRow struct {
	TurnID       int64
	PrimaryTopic string
	ContentType  string
	QualityScore float64
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// CalibrationRow is one row of calibration.db: predicted vs. observed
// quality, written only by the Save/Index Pipeline (C10) after a turn closes.
type CalibrationRow struct {
	TurnID            int64
	PredictedQuality  float64
	ObservedQuality   *float64
	RecordedAt        time.Time
}
