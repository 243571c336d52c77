package queue

import (
	"context"
	"fmt"
	"log/slog"

	"basegraph.app/pandora/common/logger"
	"github.com/redis/go-redis/v9"
)

// TurnSavedMessage is what gets written to the stream every time the
// orchestrator finishes saving a turn (§6 save step); the Batch Reflector
// consumer reads these to decide when to run a reflection batch (§4.6).
type TurnSavedMessage struct {
	TurnID    int64
	UserID    string
	SessionID string
	TraceID   *string
	Attempt   int
}

type Producer interface {
	Enqueue(ctx context.Context, msg TurnSavedMessage) error
	Close() error
}

type redisProducer struct {
	client *redis.Client
	stream string
}

func NewRedisProducer(client *redis.Client, stream string) Producer {
	return &redisProducer{
		client: client,
		stream: stream,
	}
}

func (p *redisProducer) Enqueue(ctx context.Context, msg TurnSavedMessage) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "pandora.queue.producer",
	})

	attempt := msg.Attempt
	if attempt <= 0 {
		attempt = 1
	}

	fields := map[string]any{
		"task_type":  string(TaskTypeTurnSaved),
		"turn_id":    msg.TurnID,
		"user_id":    msg.UserID,
		"session_id": msg.SessionID,
		"attempt":    attempt,
	}

	traceIDStr := ""
	if msg.TraceID != nil && *msg.TraceID != "" {
		fields["trace_id"] = *msg.TraceID
		traceIDStr = *msg.TraceID
	}

	// TODO: add MAXLEN to prevent the stream growing unbounded. Consider
	// XTRIM periodically or MAXLEN ~ with XAdd to cap at ~1M entries.
	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: fields,
	}).Err(); err != nil {
		return fmt.Errorf("enqueue turn-saved signal (stream=%s): %w", p.stream, err)
	}

	slog.InfoContext(ctx, "enqueued turn-saved signal",
		"turn_id", msg.TurnID,
		"user_id", msg.UserID,
		"attempt", attempt,
		"trace_id", traceIDStr,
		"stream", p.stream)
	return nil
}

func (p *redisProducer) Close() error {
	return p.client.Close()
}

// NotifyTurnSaved satisfies orchestrator.TurnSavedSignal, letting C8 wake C9
// through the same stream the worker entrypoint consumes from.
func (p *redisProducer) NotifyTurnSaved(ctx context.Context, userID string, turnID int64) error {
	return p.Enqueue(ctx, TurnSavedMessage{TurnID: turnID, UserID: userID})
}
