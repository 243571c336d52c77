package reflector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"basegraph.app/pandora/internal/queue"
)

// Consumer is the subset of queue.RedisConsumer the reflector worker needs;
// named here to match the teacher's worker/consumer split.
type Consumer interface {
	Read(ctx context.Context) ([]queue.Message, error)
	Ack(ctx context.Context, msg queue.Message) error
	Requeue(ctx context.Context, msg queue.Message, errMsg string) error
	SendDLQ(ctx context.Context, msg queue.Message, errMsg string) error
}

type Config struct {
	MaxAttempts int
}

// Worker drains turn-saved signals and, once a user crosses the trigger
// threshold, runs one reflection batch. It never blocks a turn: everything
// here runs off the hot path, wrapped in its own panic recovery so a
// reflection failure only loses that one batch, never the service.
type Worker struct {
	consumer Consumer
	accum    *Accumulator
	reflect  *Reflector
	cfg      Config

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func New(consumer Consumer, accum *Accumulator, reflect *Reflector, cfg Config) *Worker {
	return &Worker{
		consumer:  consumer,
		accum:     accum,
		reflect:   reflect,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

func (w *Worker) Run(ctx context.Context) error {
	defer close(w.stoppedCh)

	slog.InfoContext(ctx, "batch reflector worker started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			slog.InfoContext(ctx, "batch reflector worker stopping")
			return nil
		default:
			if err := w.processOneBatch(ctx); err != nil {
				slog.ErrorContext(ctx, "reflector batch read error", "error", err)
				time.Sleep(time.Second)
			}
		}
	}
}

func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.stoppedCh
}

func (w *Worker) processOneBatch(ctx context.Context) error {
	messages, err := w.consumer.Read(ctx)
	if err != nil {
		return fmt.Errorf("reading turn-saved signals: %w", err)
	}

	for _, msg := range messages {
		if err := w.processMessageSafe(ctx, msg); err != nil {
			slog.ErrorContext(ctx, "turn-saved signal processing failed",
				"error", err,
				"message_id", msg.ID,
				"user_id", msg.UserID)
			w.handleFailedMessage(ctx, msg, err)
			continue
		}
		if err := w.consumer.Ack(ctx, msg); err != nil {
			slog.WarnContext(ctx, "failed to ack turn-saved signal", "error", err, "message_id", msg.ID)
		}
	}

	return nil
}

func (w *Worker) processMessageSafe(ctx context.Context, msg queue.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in batch reflection",
				"panic", r,
				"stack", string(debug.Stack()),
				"message_id", msg.ID,
				"user_id", msg.UserID)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.ProcessMessage(ctx, msg)
}

// ProcessMessage updates the trigger accumulator for one turn-saved signal
// and, if the trigger condition is now met, runs a reflection batch and
// resets the accumulator.
func (w *Worker) ProcessMessage(ctx context.Context, msg queue.Message) error {
	acc, err := w.accum.Touch(ctx, msg.UserID, msg.TurnID, "", 0)
	if err != nil {
		return fmt.Errorf("updating signal accumulator: %w", err)
	}

	if !ShouldTrigger(acc) {
		return nil
	}

	batchID, err := w.reflect.RunBatch(ctx, msg.UserID, msg.SessionID)
	if err != nil {
		return fmt.Errorf("running reflection batch: %w", err)
	}

	slog.InfoContext(ctx, "batch reflection ran", "user_id", msg.UserID, "batch_id", batchID, "turns_since_batch", acc.TurnsSinceBatch)

	if err := w.accum.Reset(ctx, msg.UserID, msg.TurnID); err != nil {
		return fmt.Errorf("resetting signal accumulator: %w", err)
	}
	return nil
}

func (w *Worker) handleFailedMessage(ctx context.Context, msg queue.Message, err error) {
	var rerr *Error
	if errors.As(err, &rerr) && !rerr.Retryable {
		slog.ErrorContext(ctx, "non-retryable failure, sending turn-saved signal to DLQ",
			"message_id", msg.ID,
			"user_id", msg.UserID)
		if dlqErr := w.consumer.SendDLQ(ctx, msg, err.Error()); dlqErr != nil {
			slog.ErrorContext(ctx, "failed to send to DLQ", "error", dlqErr)
		}
		return
	}

	if msg.Attempt >= w.cfg.MaxAttempts {
		slog.ErrorContext(ctx, "max attempts reached, sending turn-saved signal to DLQ",
			"message_id", msg.ID,
			"user_id", msg.UserID,
			"attempts", msg.Attempt)
		if dlqErr := w.consumer.SendDLQ(ctx, msg, err.Error()); dlqErr != nil {
			slog.ErrorContext(ctx, "failed to send to DLQ", "error", dlqErr)
		}
		return
	}

	slog.WarnContext(ctx, "requeuing failed turn-saved signal",
		"message_id", msg.ID,
		"user_id", msg.UserID,
		"attempt", msg.Attempt)
	if requeueErr := w.consumer.Requeue(ctx, msg, err.Error()); requeueErr != nil {
		slog.ErrorContext(ctx, "failed to requeue turn-saved signal", "error", requeueErr)
	}
}
