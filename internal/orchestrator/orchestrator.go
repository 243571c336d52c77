package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"basegraph.app/pandora/common/id"
	"basegraph.app/pandora/internal/intervention"
	"basegraph.app/pandora/internal/llmstage"
	"basegraph.app/pandora/internal/memory"
	"basegraph.app/pandora/internal/model"
	"basegraph.app/pandora/internal/store"
	"basegraph.app/pandora/internal/toolexec"
	"basegraph.app/pandora/internal/workflow"
)

const (
	maxValidationRevise = 2 // §7 REVISE cap
	maxValidationRetry  = 1 // §1.5/§2.5 re-run cap; §3/§7 RETRY cap (re-plan), else promoted to FAIL
)

// Notifier posts an out-of-band acknowledgment before the full pipeline
// runs, the "on it" instant response the teacher posts for a brand-new
// engagement before the planner has produced anything real to say.
type Notifier interface {
	PostAck(ctx context.Context, sessionID string, text string) error
}

type Orchestrator struct {
	runner        llmstage.RecipeRunner
	workflows     *workflow.Registry
	retriever     *memory.Retriever
	docs          store.DocumentStore
	turnIndex     store.TurnIndexStore
	interventions *intervention.Queue
	tools         *toolexec.Executor
	lock          *sessionLock
	notifier      Notifier
	signal        TurnSavedSignal
}

// TurnSavedSignal wakes C9 after a turn is saved; satisfied by the adapted
// queue.Producer.
type TurnSavedSignal interface {
	NotifyTurnSaved(ctx context.Context, userID string, turnID int64) error
}

func NewOrchestrator(
	runner llmstage.RecipeRunner,
	workflows *workflow.Registry,
	retriever *memory.Retriever,
	docs store.DocumentStore,
	turnIndex store.TurnIndexStore,
	interventions *intervention.Queue,
	tools *toolexec.Executor,
	redisClient *redis.Client,
	notifier Notifier,
	signal TurnSavedSignal,
) *Orchestrator {
	return &Orchestrator{
		runner:        runner,
		workflows:     workflows,
		retriever:     retriever,
		docs:          docs,
		turnIndex:     turnIndex,
		interventions: interventions,
		tools:         tools,
		lock:          newSessionLock(redisClient),
		notifier:      notifier,
		signal:        signal,
	}
}

// ProcessResult is the inbound gateway contract's success shape (§6).
type ProcessResult struct {
	Response      string
	Status        model.TurnStatus
	ErrorType     string
	PhaseReached  string
	PartialResult string
}

// ProcessTurn runs the full stage sequence for one user message. If another
// turn is already active for sessionID, this message is injected as an
// intervention instead of starting a second concurrent turn.
func (o *Orchestrator) ProcessTurn(ctx context.Context, sessionID, userID, text string, mode model.Mode, isFirstContact bool) (*ProcessResult, error) {
	claimed, err := o.lock.claim(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !claimed {
		if _, err := o.interventions.Inject(ctx, sessionID, 0, text); err != nil {
			return nil, newError("tool_error", true, fmt.Errorf("injecting intervention on busy session: %w", err))
		}
		return &ProcessResult{Status: model.TurnStatusOK, Response: "", PhaseReached: "queued_as_intervention"}, nil
	}

	defer func() {
		if err := o.interventions.EndTurn(ctx, sessionID); err != nil {
			slog.WarnContext(ctx, "failed clearing intervention queue at turn end", "session_id", sessionID, "error", err)
		}
		if err := o.lock.release(ctx, sessionID); err != nil {
			slog.ErrorContext(ctx, "failed releasing turn lock", "session_id", sessionID, "error", err)
		}
	}()

	if isFirstContact && o.notifier != nil {
		if err := o.notifier.PostAck(ctx, sessionID, "on it"); err != nil {
			slog.WarnContext(ctx, "failed posting first-contact ack", "session_id", sessionID, "error", err)
		}
	}

	turnID := id.New()
	doc := &model.TurnDocument{
		TurnID:    turnID,
		SessionID: sessionID,
		CreatedAt: time.Now().UTC(),
	}
	turnRef := store.TurnRef{UserID: userID, TurnNum: turnID}

	result, runErr := o.runStages(ctx, turnRef, sessionID, userID, text, mode, doc)

	status := model.TurnStatusOK
	phase := "complete"
	errType := ""
	if runErr != nil {
		if oerr, ok := runErr.(*Error); ok {
			errType = oerr.Kind
			phase = oerr.Kind
			if oerr.Kind == "cancelled" {
				status = model.TurnStatusCancelledPartial
			} else {
				status = model.TurnStatusFailed
			}
		} else {
			status = model.TurnStatusFailed
			errType = "internal"
		}
	}

	o.recordIndex(ctx, turnRef, sessionID, status)

	if result == nil {
		result = &ProcessResult{Status: status, ErrorType: errType, PhaseReached: phase}
	}
	if runErr != nil {
		return result, runErr
	}
	return result, nil
}

func (o *Orchestrator) recordIndex(ctx context.Context, turn store.TurnRef, sessionID string, status model.TurnStatus) {
	if o.turnIndex == nil {
		return
	}
	now := time.Now().UTC()
	entry := store.TurnIndexEntry{
		TurnID:      turn.TurnNum,
		SessionID:   sessionID,
		UserID:      turn.UserID,
		StartedAt:   now,
		CompletedAt: &now,
		Status:      string(status),
		TurnDir:     fmt.Sprintf("turn_%06d", turn.TurnNum),
	}
	if err := o.turnIndex.Insert(ctx, entry); err != nil {
		slog.ErrorContext(ctx, "failed recording turn index", "turn_id", turn.TurnNum, "error", err)
	}
}
