package intervention

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"basegraph.app/pandora/internal/model"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("starting miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewQueue(client)
}

func TestQueue_InjectThenPollDrainsInOrder(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	if _, err := q.Inject(ctx, "sess-1", 4, "skip vendor A"); err != nil {
		t.Fatalf("inject 1: %v", err)
	}
	if _, err := q.Inject(ctx, "sess-1", 4, "also check amazon"); err != nil {
		t.Fatalf("inject 2: %v", err)
	}

	ivs, err := q.Poll(ctx, "sess-1")
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(ivs) != 2 {
		t.Fatalf("expected 2 interventions, got %d", len(ivs))
	}
	if ivs[0].Text != "skip vendor A" || ivs[1].Text != "also check amazon" {
		t.Fatalf("unexpected order/content: %+v", ivs)
	}
	for _, iv := range ivs {
		if iv.Kind != model.InterventionGuide {
			t.Errorf("expected guide kind, got %s for %q", iv.Kind, iv.Text)
		}
		if !iv.Consumed {
			t.Errorf("expected consumed=true")
		}
	}

	again, err := q.Poll(ctx, "sess-1")
	if err != nil {
		t.Fatalf("second poll: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected queue drained, got %d", len(again))
	}
}

func TestQueue_CancelPhraseClassifiedAndDetected(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	if _, err := q.Inject(ctx, "sess-2", 1, "nevermind"); err != nil {
		t.Fatalf("inject: %v", err)
	}

	ivs, err := q.Poll(ctx, "sess-2")
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if !HasCancel(ivs) {
		t.Fatalf("expected HasCancel to detect cancel intervention, got %+v", ivs)
	}
}

func TestQueue_EndTurnClearsQueue(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	if _, err := q.Inject(ctx, "sess-3", 1, "redirect me somewhere else"); err != nil {
		t.Fatalf("inject: %v", err)
	}
	if err := q.EndTurn(ctx, "sess-3"); err != nil {
		t.Fatalf("end turn: %v", err)
	}

	ivs, err := q.Poll(ctx, "sess-3")
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(ivs) != 0 {
		t.Fatalf("expected empty queue after EndTurn, got %d", len(ivs))
	}
}

func TestToGuidance_OnlyIncludesGuideKind(t *testing.T) {
	ivs := []model.Intervention{
		{Kind: model.InterventionGuide, Text: "skip vendor B"},
		{Kind: model.InterventionCancel, Text: "stop"},
		{Kind: model.InterventionRedirect, Text: "what about returns"},
	}
	adjustments := ToGuidance(ivs)
	if len(adjustments) != 1 || adjustments[0].Text != "skip vendor B" {
		t.Fatalf("expected only the guide intervention, got %+v", adjustments)
	}
}
