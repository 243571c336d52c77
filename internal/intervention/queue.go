// Package intervention implements C6, the Intervention Queue: a per-session
// Redis list of mid-turn messages a user sends while a turn is active,
// polled by the orchestrator before every stage and tool call (§4.5).
package intervention

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"basegraph.app/pandora/internal/model"
)

func keyFor(sessionID string) string {
	return fmt.Sprintf("intervention:%s", sessionID)
}

// Queue injects and drains interventions for active turns.
type Queue struct {
	client *redis.Client
	ttl    time.Duration
}

func NewQueue(client *redis.Client) *Queue {
	return &Queue{client: client, ttl: 24 * time.Hour}
}

// Inject classifies and appends a new intervention for a session's active
// turn. Called from the inbound gateway whenever a message arrives for a
// session that already has a turn in flight.
func (q *Queue) Inject(ctx context.Context, sessionID string, turnID int64, text string) (model.Intervention, error) {
	iv := model.Intervention{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		TurnID:     turnID,
		Kind:       model.ClassifyIntervention(text),
		Text:       text,
		ReceivedAt: time.Now().UTC(),
	}

	raw, err := json.Marshal(iv)
	if err != nil {
		return model.Intervention{}, fmt.Errorf("marshal intervention: %w", err)
	}

	key := keyFor(sessionID)
	pipe := q.client.TxPipeline()
	pipe.RPush(ctx, key, raw)
	pipe.Expire(ctx, key, q.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return model.Intervention{}, fmt.Errorf("enqueue intervention for session %s: %w", sessionID, err)
	}

	slog.InfoContext(ctx, "intervention injected", "session_id", sessionID, "kind", iv.Kind)
	return iv, nil
}

// Poll drains all unconsumed interventions for a session without blocking.
// The orchestrator calls this at every stage boundary and before every tool
// invocation; a returned InterventionCancel means the turn must abort.
func (q *Queue) Poll(ctx context.Context, sessionID string) ([]model.Intervention, error) {
	key := keyFor(sessionID)
	raws, err := q.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("poll interventions for session %s: %w", sessionID, err)
	}
	if len(raws) == 0 {
		return nil, nil
	}

	out := make([]model.Intervention, 0, len(raws))
	for _, raw := range raws {
		var iv model.Intervention
		if err := json.Unmarshal([]byte(raw), &iv); err != nil {
			slog.WarnContext(ctx, "dropping malformed intervention", "session_id", sessionID, "error", err)
			continue
		}
		iv.Consumed = true
		out = append(out, iv)
	}

	if err := q.client.Del(ctx, key).Err(); err != nil {
		return nil, fmt.Errorf("clear intervention queue for session %s: %w", sessionID, err)
	}
	return out, nil
}

// HasCancel reports whether any of the drained interventions is a cancel.
func HasCancel(ivs []model.Intervention) bool {
	for _, iv := range ivs {
		if iv.Kind == model.InterventionCancel {
			return true
		}
	}
	return false
}

// EndTurn clears any leftover queue state once a turn completes, so a late
// intervention arriving after the final save starts a fresh queue for the
// next turn rather than bleeding into it.
func (q *Queue) EndTurn(ctx context.Context, sessionID string) error {
	if err := q.client.Del(ctx, keyFor(sessionID)).Err(); err != nil {
		return fmt.Errorf("end turn for session %s: %w", sessionID, err)
	}
	return nil
}

// ToGuidance converts the guide-kind interventions in a drained batch into
// structured adjustments for injection into the next stage's prompt (§4.1).
func ToGuidance(ivs []model.Intervention) []model.GuidanceAdjustment {
	var out []model.GuidanceAdjustment
	for _, iv := range ivs {
		if iv.Kind != model.InterventionGuide {
			continue
		}
		kind := "guidance"
		normalized := strings.ToLower(strings.TrimSpace(iv.Text))
		switch {
		case strings.HasPrefix(normalized, "skip "):
			kind = "skip_vendor"
		case strings.HasPrefix(normalized, "focus on "):
			kind = "focus_query"
		case strings.HasPrefix(normalized, "also check "):
			kind = "add_vendor"
		}
		out = append(out, model.GuidanceAdjustment{Kind: kind, Text: iv.Text})
	}
	return out
}
