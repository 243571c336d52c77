package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

func lockKey(sessionID string) string {
	return fmt.Sprintf("turn-lock:%s", sessionID)
}

// sessionLock is the per-session active-turn lock: a Redis SETNX claim that
// serializes turns for one session the way the teacher's
// ClaimQueued/SetIdle pair serializes engagement processing for one issue.
type sessionLock struct {
	client *redis.Client
	ttl    time.Duration
}

func newSessionLock(client *redis.Client) *sessionLock {
	return &sessionLock{client: client, ttl: 10 * time.Minute}
}

// claim attempts to become the sole active processor for sessionID. A false
// return means another turn is already in flight and this call should queue
// as a follow-up instead of running.
func (l *sessionLock) claim(ctx context.Context, sessionID string) (bool, error) {
	ok, err := l.client.SetNX(ctx, lockKey(sessionID), time.Now().UTC().Format(time.RFC3339), l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claiming turn lock for session %s: %w", sessionID, err)
	}
	return ok, nil
}

// release drops the claim once a turn completes, successfully or not.
func (l *sessionLock) release(ctx context.Context, sessionID string) error {
	if err := l.client.Del(ctx, lockKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("releasing turn lock for session %s: %w", sessionID, err)
	}
	return nil
}
