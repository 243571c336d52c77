package reflector

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"basegraph.app/pandora/internal/model"
)

func newTestAccumulator(t *testing.T) *Accumulator {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("starting miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewAccumulator(client)
}

func TestAccumulator_TouchIncrementsTurnsAndUrgency(t *testing.T) {
	ctx := context.Background()
	a := newTestAccumulator(t)

	acc, err := a.Touch(ctx, "user-1", 101, "pricing", 1.5)
	if err != nil {
		t.Fatalf("touch 1: %v", err)
	}
	if acc.TurnsSinceBatch != 1 || acc.Urgency != 1.5 {
		t.Fatalf("unexpected state after first touch: %+v", acc)
	}

	acc, err = a.Touch(ctx, "user-1", 102, "pricing", 1.5)
	if err != nil {
		t.Fatalf("touch 2: %v", err)
	}
	if acc.TurnsSinceBatch != 2 || acc.Urgency != 3.0 {
		t.Fatalf("unexpected state after second touch: %+v", acc)
	}
	if len(acc.RecentTopics) != 2 {
		t.Fatalf("expected 2 recent topics, got %d", len(acc.RecentTopics))
	}
}

func TestShouldTrigger_TurnCountOrUrgency(t *testing.T) {
	cases := []struct {
		name string
		acc  model.SignalAccumulator
		want bool
	}{
		{"below both thresholds", model.SignalAccumulator{TurnsSinceBatch: 3, Urgency: 1}, false},
		{"turn count threshold met", model.SignalAccumulator{TurnsSinceBatch: 10, Urgency: 0}, true},
		{"urgency threshold exceeded", model.SignalAccumulator{TurnsSinceBatch: 0, Urgency: 5.1}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ShouldTrigger(tc.acc); got != tc.want {
				t.Errorf("ShouldTrigger(%+v) = %v, want %v", tc.acc, got, tc.want)
			}
		})
	}
}

func TestAccumulator_ResetClearsState(t *testing.T) {
	ctx := context.Background()
	a := newTestAccumulator(t)

	if _, err := a.Touch(ctx, "user-2", 50, "availability", 6.0); err != nil {
		t.Fatalf("touch: %v", err)
	}
	if err := a.Reset(ctx, "user-2", 50); err != nil {
		t.Fatalf("reset: %v", err)
	}

	acc, err := a.get(ctx, "user-2")
	if err != nil {
		t.Fatalf("get after reset: %v", err)
	}
	if acc.TurnsSinceBatch != 0 || acc.Urgency != 0 || acc.LastBatchTurn != 50 {
		t.Fatalf("unexpected state after reset: %+v", acc)
	}
}
