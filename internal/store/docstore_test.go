package store

import (
	"context"
	"strings"
	"testing"
	"time"

	"basegraph.app/pandora/internal/model"
)

func TestLocalDocumentStore_AppendSectionNeverOverwrites(t *testing.T) {
	tempDir := t.TempDir()

	s, err := NewLocalDocumentStore(tempDir)
	if err != nil {
		t.Fatalf("NewLocalDocumentStore failed: %v", err)
	}

	ctx := context.Background()
	turn := TurnRef{UserID: "u1", TurnNum: 7}

	if err := s.AppendSection(ctx, turn, RenderedSection{Number: 0, Title: "Query", Body: "first"}); err != nil {
		t.Fatalf("append 0: %v", err)
	}
	if err := s.AppendSection(ctx, turn, RenderedSection{Number: 1, Title: "Analysis Validation", Body: "second", Meta: "source_type: preferences\n"}); err != nil {
		t.Fatalf("append 1: %v", err)
	}

	content, err := s.ReadContext(ctx, turn)
	if err != nil {
		t.Fatalf("ReadContext failed: %v", err)
	}

	if !strings.Contains(content, "## 0. Query") || !strings.Contains(content, "first") {
		t.Errorf("missing section 0 in %q", content)
	}
	if !strings.Contains(content, "## 1. Analysis Validation") || !strings.Contains(content, "second") {
		t.Errorf("missing section 1 in %q", content)
	}
	if !strings.Contains(content, "```yaml") {
		t.Errorf("missing fenced meta block in %q", content)
	}
	if strings.Index(content, "## 0.") > strings.Index(content, "## 1.") {
		t.Error("sections out of order")
	}
}

func TestLocalDocumentStore_MetadataAndMetricsRoundTrip(t *testing.T) {
	tempDir := t.TempDir()
	s, err := NewLocalDocumentStore(tempDir)
	if err != nil {
		t.Fatalf("NewLocalDocumentStore failed: %v", err)
	}

	ctx := context.Background()
	turn := TurnRef{UserID: "u2", TurnNum: 1}

	meta := TurnMetadata{
		TurnNumber:   1,
		SessionID:    "sess-1",
		Timestamp:    time.Now().UTC(),
		Topic:        "gpu pricing",
		QualityScore: 0.82,
		Keywords:     []string{"gpu", "price"},
	}
	if err := s.WriteMetadata(ctx, turn, meta); err != nil {
		t.Fatalf("WriteMetadata failed: %v", err)
	}

	metrics := TurnMetrics{
		StageTimings:      map[string]time.Duration{"analyze": 120 * time.Millisecond},
		TokensIn:          500,
		TokensOut:         900,
		ValidationOutcome: "APPROVE",
	}
	if err := s.WriteMetrics(ctx, turn, metrics); err != nil {
		t.Fatalf("WriteMetrics failed: %v", err)
	}

	if err := s.WriteResponse(ctx, turn, "final answer"); err != nil {
		t.Fatalf("WriteResponse failed: %v", err)
	}
}

func TestLocalDocumentStore_PromoteAndStageKnowledge(t *testing.T) {
	tempDir := t.TempDir()
	s, err := NewLocalDocumentStore(tempDir)
	if err != nil {
		t.Fatalf("NewLocalDocumentStore failed: %v", err)
	}
	ctx := context.Background()

	node := model.MemoryNode{
		ID:                "node-1",
		SourceType:        model.NodeSourceFact,
		ContentType:       model.ContentGeneralFact,
		Content:           "vendor X ships from EU warehouse",
		InitialConfidence: 0.8,
		CreatedAt:         time.Now().UTC(),
	}
	if err := s.PromoteKnowledge(ctx, "u3", node); err != nil {
		t.Fatalf("PromoteKnowledge failed: %v", err)
	}

	staged := model.StagedKnowledge{
		MemoryNode:  node,
		StagedAt:    time.Now().UTC(),
		BatchID:     "batch-1",
		SourceTurns: []int64{1, 2},
	}
	staged.ID = "staged-1"
	if err := s.StageKnowledge(ctx, "u3", staged); err != nil {
		t.Fatalf("StageKnowledge failed: %v", err)
	}

	if err := s.WriteReflectorLog(ctx, "u3", "batch-1", map[string]any{"new_facts": 1}); err != nil {
		t.Fatalf("WriteReflectorLog failed: %v", err)
	}
}

func TestLocalDocumentStore_ReadContextMissingTurnReturnsErrNotFound(t *testing.T) {
	tempDir := t.TempDir()
	s, err := NewLocalDocumentStore(tempDir)
	if err != nil {
		t.Fatalf("NewLocalDocumentStore failed: %v", err)
	}
	_, err = s.ReadContext(context.Background(), TurnRef{UserID: "ghost", TurnNum: 1})
	if err != ErrNotFound {
		t.Errorf("ReadContext on missing turn = %v, want ErrNotFound", err)
	}
}
