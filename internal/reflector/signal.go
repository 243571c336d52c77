package reflector

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"basegraph.app/pandora/internal/model"
)

const (
	// triggerTurnCount and triggerUrgency are the two code-only trigger
	// rules from §4.6: either one alone is enough to run a batch.
	triggerTurnCount          = 10
	triggerUrgency    float64 = 5.0
	maxRecentTopics           = 20
)

func accumulatorKey(userID string) string {
	return fmt.Sprintf("reflector:accum:%s", userID)
}

// Accumulator tracks the per-user signal state that decides when a batch
// runs: a plain turn counter plus an urgency score nudged up by topics that
// look like they need durable memory sooner (corrections, explicit asks to
// remember something, repeated failures).
type Accumulator struct {
	client *redis.Client
}

func NewAccumulator(client *redis.Client) *Accumulator {
	return &Accumulator{client: client}
}

func (a *Accumulator) get(ctx context.Context, userID string) (model.SignalAccumulator, error) {
	raw, err := a.client.Get(ctx, accumulatorKey(userID)).Result()
	if err != nil {
		if err == redis.Nil {
			return model.SignalAccumulator{UserID: userID}, nil
		}
		return model.SignalAccumulator{}, fmt.Errorf("reading signal accumulator for %s: %w", userID, err)
	}
	var acc model.SignalAccumulator
	if err := json.Unmarshal([]byte(raw), &acc); err != nil {
		return model.SignalAccumulator{}, fmt.Errorf("unmarshaling signal accumulator for %s: %w", userID, err)
	}
	return acc, nil
}

func (a *Accumulator) save(ctx context.Context, acc model.SignalAccumulator) error {
	raw, err := json.Marshal(acc)
	if err != nil {
		return fmt.Errorf("marshaling signal accumulator for %s: %w", acc.UserID, err)
	}
	if err := a.client.Set(ctx, accumulatorKey(acc.UserID), raw, 0).Err(); err != nil {
		return fmt.Errorf("writing signal accumulator for %s: %w", acc.UserID, err)
	}
	return nil
}

// Touch records one more turn toward the next batch and returns the updated
// state so the caller can immediately check ShouldTrigger without a second
// round trip.
func (a *Accumulator) Touch(ctx context.Context, userID string, turnID int64, topic string, urgencyDelta float64) (model.SignalAccumulator, error) {
	acc, err := a.get(ctx, userID)
	if err != nil {
		return model.SignalAccumulator{}, err
	}

	acc.TurnsSinceBatch++
	acc.Urgency += urgencyDelta
	if topic != "" {
		acc.RecentTopics = append(acc.RecentTopics, topic)
		if len(acc.RecentTopics) > maxRecentTopics {
			acc.RecentTopics = acc.RecentTopics[len(acc.RecentTopics)-maxRecentTopics:]
		}
	}

	if err := a.save(ctx, acc); err != nil {
		return model.SignalAccumulator{}, err
	}
	return acc, nil
}

// ShouldTrigger is the code-only rule from §4.6: no LLM call decides this.
func ShouldTrigger(acc model.SignalAccumulator) bool {
	return acc.TurnsSinceBatch >= triggerTurnCount || acc.Urgency > triggerUrgency
}

// Reset clears the accumulator after a batch runs, recording the last turn
// folded into that batch.
func (a *Accumulator) Reset(ctx context.Context, userID string, lastBatchTurn int64) error {
	return a.save(ctx, model.SignalAccumulator{
		UserID:        userID,
		LastBatchTurn: lastBatchTurn,
	})
}
