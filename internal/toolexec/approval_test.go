package toolexec

import (
	"context"
	"testing"
	"time"
)

func TestRegisterPending_ListsUntilResolved(t *testing.T) {
	broker := NewApprovalBroker(newTestRedisClient(t))
	ctx := context.Background()

	if err := broker.RegisterPending(ctx, PendingApproval{
		RequestID:   "req-1",
		ToolName:    "write_file",
		SessionID:   "session-1",
		RequestedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("RegisterPending: %v", err)
	}

	pending, err := broker.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 1 || pending[0].RequestID != "req-1" {
		t.Fatalf("pending = %+v, want one entry for req-1", pending)
	}

	if err := broker.Resolve(ctx, "req-1", true); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	pending, err = broker.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending after resolve: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("pending after resolve = %+v, want none", pending)
	}
}

func TestRegisterPending_ClearedOnAwaitTimeout(t *testing.T) {
	broker := NewApprovalBroker(newTestRedisClient(t))
	ctx := context.Background()

	if err := broker.RegisterPending(ctx, PendingApproval{RequestID: "req-timeout"}); err != nil {
		t.Fatalf("RegisterPending: %v", err)
	}

	approved, err := broker.Await(ctx, "req-timeout", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if approved {
		t.Fatal("expected default-deny on timeout")
	}

	pending, err := broker.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("pending after timeout = %+v, want cleared", pending)
	}
}

func TestListPending_EmptyWhenNothingRegistered(t *testing.T) {
	broker := NewApprovalBroker(newTestRedisClient(t))
	pending, err := broker.ListPending(context.Background())
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("pending = %+v, want empty", pending)
	}
}
