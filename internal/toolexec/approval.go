package toolexec

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const pendingApprovalsKey = "approval:pending"

func approvalKey(requestID string) string {
	return fmt.Sprintf("approval:%s", requestID)
}

// PendingApproval is the summary an admin surface lists to decide what to
// resolve; stored in a Redis hash alongside the blocking wait itself so a
// dashboard can show "awaiting approval" without a separate queryable store.
type PendingApproval struct {
	RequestID   string    `json:"request_id"`
	ToolName    string    `json:"tool_name"`
	SessionID   string    `json:"session_id"`
	RequestedAt time.Time `json:"requested_at"`
}

// ApprovalBroker is the out-of-band channel between a pending tool call and
// whatever surface (dashboard, Slack button, CLI prompt) resolves it. A
// request blocks on a Redis list until Resolve pushes a decision or the
// wait timeout elapses, at which point the default is DENY.
type ApprovalBroker struct {
	client *redis.Client
}

func NewApprovalBroker(client *redis.Client) *ApprovalBroker {
	return &ApprovalBroker{client: client}
}

// RegisterPending records requestID as awaiting a decision so ListPending
// can surface it to an operator. Call before Await blocks.
func (b *ApprovalBroker) RegisterPending(ctx context.Context, p PendingApproval) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshaling pending approval %s: %w", p.RequestID, err)
	}
	if err := b.client.HSet(ctx, pendingApprovalsKey, p.RequestID, raw).Err(); err != nil {
		return fmt.Errorf("registering pending approval %s: %w", p.RequestID, err)
	}
	return nil
}

// ListPending returns every approval an operator still needs to resolve.
func (b *ApprovalBroker) ListPending(ctx context.Context) ([]PendingApproval, error) {
	raw, err := b.client.HGetAll(ctx, pendingApprovalsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("listing pending approvals: %w", err)
	}
	out := make([]PendingApproval, 0, len(raw))
	for _, v := range raw {
		var p PendingApproval
		if err := json.Unmarshal([]byte(v), &p); err != nil {
			slog.WarnContext(ctx, "dropping malformed pending approval entry", "error", err)
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (b *ApprovalBroker) clearPending(ctx context.Context, requestID string) {
	if err := b.client.HDel(ctx, pendingApprovalsKey, requestID).Err(); err != nil {
		slog.WarnContext(ctx, "failed clearing pending approval entry", "request_id", requestID, "error", err)
	}
}

// Await blocks until Resolve is called for requestID or timeout elapses.
// A timeout resolves to (false, nil) — the approval-wait gate's default-deny.
func (b *ApprovalBroker) Await(ctx context.Context, requestID string, timeout time.Duration) (bool, error) {
	key := approvalKey(requestID)
	defer b.clearPending(ctx, requestID)

	result, err := b.client.BLPop(ctx, timeout, key).Result()
	if err == redis.Nil {
		slog.WarnContext(ctx, "approval wait timed out, defaulting to deny", "request_id", requestID, "timeout", timeout)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("awaiting approval %s: %w", requestID, err)
	}

	// result is [key, value]; value is "1" for approve, "0" for reject.
	if len(result) < 2 {
		return false, nil
	}
	return result[1] == "1", nil
}

// Resolve records an operator's decision for requestID, waking up any Await
// call blocked on it. Safe to call even if nothing is currently waiting —
// the value sits in the list until consumed or it expires.
func (b *ApprovalBroker) Resolve(ctx context.Context, requestID string, approved bool) error {
	key := approvalKey(requestID)
	value := "0"
	if approved {
		value = "1"
	}

	pipe := b.client.TxPipeline()
	pipe.RPush(ctx, key, value)
	pipe.Expire(ctx, key, 10*time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("resolving approval %s: %w", requestID, err)
	}
	b.clearPending(ctx, requestID)
	return nil
}
