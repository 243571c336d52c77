package reflector

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"basegraph.app/pandora/internal/confidence"
	"basegraph.app/pandora/internal/llmstage"
	"basegraph.app/pandora/internal/memory"
	"basegraph.app/pandora/internal/model"
	"basegraph.app/pandora/internal/store"
)

// fakeRunner satisfies llmstage.RecipeRunner and returns a canned JSON body
// as if it were the raw LLM response, exercising the same forgiving-parse
// path RunStructured uses in production.
type fakeRunner struct {
	content string
	err     error
}

func (f *fakeRunner) Run(ctx context.Context, recipe llmstage.Recipe) (*llmstage.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &llmstage.Result{Content: f.content}, nil
}

type fakeTurnIndex struct {
	rows []store.TurnIndexEntry
}

func (f *fakeTurnIndex) Insert(ctx context.Context, row store.TurnIndexEntry) error { return nil }
func (f *fakeTurnIndex) ListBySession(ctx context.Context, sessionID string, limit int32) ([]store.TurnIndexEntry, error) {
	return f.rows, nil
}

type fakeDocs struct {
	contexts  map[int64]string
	promoted  []model.MemoryNode
	staged    []model.StagedKnowledge
	logged    bool
}

func (f *fakeDocs) AppendSection(ctx context.Context, turn store.TurnRef, section store.RenderedSection) error {
	return nil
}
func (f *fakeDocs) WriteTurnSummary(ctx context.Context, turn store.TurnRef, summary model.TurnSummary) error {
	return nil
}
func (f *fakeDocs) WriteResponse(ctx context.Context, turn store.TurnRef, responseText string) error {
	return nil
}
func (f *fakeDocs) WriteMetadata(ctx context.Context, turn store.TurnRef, meta store.TurnMetadata) error {
	return nil
}
func (f *fakeDocs) WriteMetrics(ctx context.Context, turn store.TurnRef, metrics store.TurnMetrics) error {
	return nil
}
func (f *fakeDocs) ReadContext(ctx context.Context, turn store.TurnRef) (string, error) {
	text, ok := f.contexts[turn.TurnNum]
	if !ok {
		return "", store.ErrNotFound
	}
	return text, nil
}
func (f *fakeDocs) PromoteKnowledge(ctx context.Context, userID string, node model.MemoryNode) error {
	f.promoted = append(f.promoted, node)
	return nil
}
func (f *fakeDocs) StageKnowledge(ctx context.Context, userID string, staged model.StagedKnowledge) error {
	f.staged = append(f.staged, staged)
	return nil
}
func (f *fakeDocs) WriteReflectorLog(ctx context.Context, userID, batchID string, payload any) error {
	f.logged = true
	return nil
}

type fakeIndex struct {
	hit bool
}

func (f *fakeIndex) HybridSearch(ctx context.Context, userID string, terms []string, embedding []float32, limit int) (map[string][]memory.RankedHit, map[string][]memory.RankedHit, error) {
	if !f.hit {
		return nil, nil, nil
	}
	return map[string][]memory.RankedHit{terms[0]: {{NodeID: "existing", Rank: 1, Term: terms[0]}}}, nil, nil
}

// fakeGraph satisfies memory.NodeLookup for drift-guard tests.
type fakeGraph struct {
	nodes map[string]model.MemoryNode
}

func (f *fakeGraph) GetNode(ctx context.Context, id string) (model.MemoryNode, error) {
	node, ok := f.nodes[id]
	if !ok {
		return model.MemoryNode{}, store.ErrNotFound
	}
	return node, nil
}

func newReflector(t *testing.T, runnerContent string, docs *fakeDocs, rows []store.TurnIndexEntry, idx *fakeIndex) *Reflector {
	t.Helper()
	return NewReflector(&fakeRunner{content: runnerContent}, docs, &fakeTurnIndex{rows: rows}, idx, nil, confidence.NewModel(nil))
}

func newReflectorWithGraph(t *testing.T, runnerContent string, docs *fakeDocs, rows []store.TurnIndexEntry, graph *fakeGraph) *Reflector {
	t.Helper()
	return NewReflector(&fakeRunner{content: runnerContent}, docs, &fakeTurnIndex{rows: rows}, &fakeIndex{}, graph, confidence.NewModel(nil))
}

func TestRunBatch_PromotesThreeCitationFact(t *testing.T) {
	ctx := context.Background()
	proposal := model.BatchProposal{
		NewFacts: []model.ProposedFact{
			{Content: "prefers morning meetings", ContentType: model.ContentPreference, CitedTurns: []int64{1, 2, 3}, Keywords: []string{"morning"}},
		},
	}
	raw, err := json.Marshal(proposal)
	if err != nil {
		t.Fatalf("marshal proposal: %v", err)
	}

	docs := &fakeDocs{contexts: map[int64]string{1: "turn one", 2: "turn two", 3: "turn three"}}
	rows := []store.TurnIndexEntry{{TurnID: 1}, {TurnID: 2}, {TurnID: 3}}
	r := newReflector(t, string(raw), docs, rows, &fakeIndex{hit: false})

	batchID, err := r.RunBatch(ctx, "user-1", "session-1")
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if batchID == "" {
		t.Fatal("expected non-empty batch id")
	}
	if len(docs.promoted) != 1 {
		t.Fatalf("expected 1 promoted node, got %d", len(docs.promoted))
	}
	if len(docs.staged) != 0 {
		t.Fatalf("expected no staged nodes, got %d", len(docs.staged))
	}
	if !docs.logged {
		t.Fatal("expected a reflector log to be written")
	}
}

func TestRunBatch_StagesSingleCitationFact(t *testing.T) {
	ctx := context.Background()
	proposal := model.BatchProposal{
		NewFacts: []model.ProposedFact{
			{Content: "asked about bulk pricing", ContentType: model.ContentPrice, CitedTurns: []int64{5}, Keywords: []string{"pricing"}},
		},
	}
	raw, _ := json.Marshal(proposal)

	docs := &fakeDocs{contexts: map[int64]string{5: "turn five"}}
	rows := []store.TurnIndexEntry{{TurnID: 5}}
	r := newReflector(t, string(raw), docs, rows, &fakeIndex{hit: false})

	if _, err := r.RunBatch(ctx, "user-1", "session-1"); err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if len(docs.staged) != 1 {
		t.Fatalf("expected 1 staged node, got %d", len(docs.staged))
	}
	if len(docs.promoted) != 0 {
		t.Fatalf("expected no promoted nodes, got %d", len(docs.promoted))
	}
}

func TestRunBatch_DropsZeroCitationFact(t *testing.T) {
	ctx := context.Background()
	proposal := model.BatchProposal{
		NewFacts: []model.ProposedFact{
			{Content: "unsupported claim", ContentType: model.ContentGeneralFact, CitedTurns: nil},
		},
	}
	raw, _ := json.Marshal(proposal)

	docs := &fakeDocs{contexts: map[int64]string{1: "turn one"}}
	rows := []store.TurnIndexEntry{{TurnID: 1}}
	r := newReflector(t, string(raw), docs, rows, &fakeIndex{hit: false})

	if _, err := r.RunBatch(ctx, "user-1", "session-1"); err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if len(docs.staged) != 0 || len(docs.promoted) != 0 {
		t.Fatalf("expected fact to be dropped entirely, got staged=%d promoted=%d", len(docs.staged), len(docs.promoted))
	}
}

func TestRunBatch_DropsDuplicateOfExistingKnowledge(t *testing.T) {
	ctx := context.Background()
	proposal := model.BatchProposal{
		NewFacts: []model.ProposedFact{
			{Content: "already known fact", ContentType: model.ContentGeneralFact, CitedTurns: []int64{1, 2, 3}, Keywords: []string{"known"}},
		},
	}
	raw, _ := json.Marshal(proposal)

	docs := &fakeDocs{contexts: map[int64]string{1: "a", 2: "b", 3: "c"}}
	rows := []store.TurnIndexEntry{{TurnID: 1}, {TurnID: 2}, {TurnID: 3}}
	r := newReflector(t, string(raw), docs, rows, &fakeIndex{hit: true})

	if _, err := r.RunBatch(ctx, "user-1", "session-1"); err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if len(docs.promoted) != 0 || len(docs.staged) != 0 {
		t.Fatalf("expected duplicate fact to be dropped before gating, got staged=%d promoted=%d", len(docs.staged), len(docs.promoted))
	}
}

func TestRunBatch_NoRowsIsNoop(t *testing.T) {
	ctx := context.Background()
	docs := &fakeDocs{}
	r := newReflector(t, "", docs, nil, &fakeIndex{})

	batchID, err := r.RunBatch(ctx, "user-1", "session-1")
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if batchID == "" {
		t.Fatal("expected a batch id even on a no-op run")
	}
	if docs.logged {
		t.Fatal("expected no reflector log when there are no turns to fold")
	}
}

func TestRunBatch_LLMFailureIsRetryable(t *testing.T) {
	ctx := context.Background()
	docs := &fakeDocs{contexts: map[int64]string{1: "turn one"}}
	rows := []store.TurnIndexEntry{{TurnID: 1}}
	r := NewReflector(&fakeRunner{err: errors.New("upstream unavailable")}, docs, &fakeTurnIndex{rows: rows}, &fakeIndex{}, nil, confidence.NewModel(nil))

	_, err := r.RunBatch(ctx, "user-1", "session-1")
	if err == nil {
		t.Fatal("expected an error when the LLM call fails")
	}
	var rerr *Error
	if !errors.As(err, &rerr) {
		t.Fatalf("expected a *reflector.Error, got %T: %v", err, err)
	}
	if !rerr.Retryable {
		t.Fatal("expected an LLM transport failure to be retryable")
	}
}

func TestGate(t *testing.T) {
	r := &Reflector{}

	if _, decision := r.gate(nil, model.NodeSourceFact, model.ContentGeneralFact, "x", ""); decision != "" {
		t.Fatalf("expected zero-citation fact to be dropped, got %q", decision)
	}
	if _, decision := r.gate([]int64{1}, model.NodeSourceFact, model.ContentGeneralFact, "x", ""); decision != "stage" {
		t.Fatalf("expected single-citation fact to stage, got %q", decision)
	}
	if node, decision := r.gate([]int64{1, 2, 3}, model.NodeSourceFact, model.ContentGeneralFact, "x", ""); decision != "promote" {
		t.Fatalf("expected three-citation fact to promote, got %q", decision)
	} else if node.SourceID != nil {
		t.Fatalf("expected no source id when none given")
	}
	if node, decision := r.gate([]int64{1, 2, 3}, model.NodeSourceFact, model.ContentGeneralFact, "x", "node-9"); decision != "promote" {
		t.Fatalf("expected three-citation correction to promote, got %q", decision)
	} else if node.SourceID == nil || *node.SourceID != "node-9" {
		t.Fatalf("expected source id to be linked back to the amended node, got %v", node.SourceID)
	}
}

func TestCapProposal(t *testing.T) {
	p := model.BatchProposal{
		NewFacts:      make([]model.ProposedFact, 5),
		Corrections:   make([]model.ProposedCorrection, 4),
		Connections:   make([]model.ProposedConnection, 6),
		OpenQuestions: []string{"a", "b", "c", "d"},
	}
	capProposal(&p)
	if len(p.NewFacts) != maxNewFacts {
		t.Fatalf("expected new facts capped at %d, got %d", maxNewFacts, len(p.NewFacts))
	}
	if len(p.Corrections) != maxCorrections {
		t.Fatalf("expected corrections capped at %d, got %d", maxCorrections, len(p.Corrections))
	}
	if len(p.Connections) != maxConnections {
		t.Fatalf("expected connections capped at %d, got %d", maxConnections, len(p.Connections))
	}
	if len(p.OpenQuestions) != maxOpenQuestions {
		t.Fatalf("expected open questions capped at %d, got %d", maxOpenQuestions, len(p.OpenQuestions))
	}
}

func TestRunBatch_StagesCorrectionLinkedToTargetNode(t *testing.T) {
	ctx := context.Background()
	proposal := model.BatchProposal{
		Corrections: []model.ProposedCorrection{
			{TargetNodeID: "node-1", Content: "actually prefers afternoons", CitedTurns: []int64{1}},
		},
	}
	raw, _ := json.Marshal(proposal)

	docs := &fakeDocs{contexts: map[int64]string{1: "turn one"}}
	rows := []store.TurnIndexEntry{{TurnID: 1}}
	graph := &fakeGraph{nodes: map[string]model.MemoryNode{
		"node-1": {ID: "node-1", InitialConfidence: 0.6, CreatedAt: time.Now().UTC()},
	}}
	r := newReflectorWithGraph(t, string(raw), docs, rows, graph)

	if _, err := r.RunBatch(ctx, "user-1", "session-1"); err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if len(docs.staged) != 1 {
		t.Fatalf("expected correction to stage, got staged=%d promoted=%d", len(docs.staged), len(docs.promoted))
	}
	if docs.staged[0].SourceID == nil || *docs.staged[0].SourceID != "node-1" {
		t.Fatalf("expected staged node to link back to node-1, got %v", docs.staged[0].SourceID)
	}
}

func TestRunBatch_DriftGuardRejectsThinlyEvidencedCorrectionAgainstConfidentTarget(t *testing.T) {
	ctx := context.Background()
	proposal := model.BatchProposal{
		Corrections: []model.ProposedCorrection{
			{TargetNodeID: "node-1", Content: "actually prefers afternoons", CitedTurns: []int64{1}},
		},
	}
	raw, _ := json.Marshal(proposal)

	docs := &fakeDocs{contexts: map[int64]string{1: "turn one"}}
	rows := []store.TurnIndexEntry{{TurnID: 1}}
	graph := &fakeGraph{nodes: map[string]model.MemoryNode{
		"node-1": {ID: "node-1", InitialConfidence: 0.95, CreatedAt: time.Now().UTC()},
	}}
	r := newReflectorWithGraph(t, string(raw), docs, rows, graph)

	if _, err := r.RunBatch(ctx, "user-1", "session-1"); err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if len(docs.staged) != 0 || len(docs.promoted) != 0 {
		t.Fatalf("expected drift guard to reject the correction, got staged=%d promoted=%d", len(docs.staged), len(docs.promoted))
	}
}

func TestRunBatch_DriftGuardAllowsCorrectionWithMultipleCitations(t *testing.T) {
	ctx := context.Background()
	proposal := model.BatchProposal{
		Corrections: []model.ProposedCorrection{
			{TargetNodeID: "node-1", Content: "actually prefers afternoons", CitedTurns: []int64{1, 2}},
		},
	}
	raw, _ := json.Marshal(proposal)

	docs := &fakeDocs{contexts: map[int64]string{1: "turn one", 2: "turn two"}}
	rows := []store.TurnIndexEntry{{TurnID: 1}, {TurnID: 2}}
	graph := &fakeGraph{nodes: map[string]model.MemoryNode{
		"node-1": {ID: "node-1", InitialConfidence: 0.95, CreatedAt: time.Now().UTC()},
	}}
	r := newReflectorWithGraph(t, string(raw), docs, rows, graph)

	if _, err := r.RunBatch(ctx, "user-1", "session-1"); err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if len(docs.staged) != 1 {
		t.Fatalf("expected well-evidenced correction to survive the drift guard, got staged=%d", len(docs.staged))
	}
}

func TestRunBatch_PromotesConnectionWithThreeCitations(t *testing.T) {
	ctx := context.Background()
	proposal := model.BatchProposal{
		Connections: []model.ProposedConnection{
			{Content: "both relate to onboarding", CitedTurns: []int64{1, 2, 3}},
		},
	}
	raw, _ := json.Marshal(proposal)

	docs := &fakeDocs{contexts: map[int64]string{1: "a", 2: "b", 3: "c"}}
	rows := []store.TurnIndexEntry{{TurnID: 1}, {TurnID: 2}, {TurnID: 3}}
	r := newReflector(t, string(raw), docs, rows, &fakeIndex{})

	if _, err := r.RunBatch(ctx, "user-1", "session-1"); err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if len(docs.promoted) != 1 {
		t.Fatalf("expected connection with three citations to promote, got %d", len(docs.promoted))
	}
}

func TestRunBatch_DropsUncitedCorrectionAndConnection(t *testing.T) {
	ctx := context.Background()
	proposal := model.BatchProposal{
		Corrections: []model.ProposedCorrection{{TargetNodeID: "node-1", Content: "uncited correction"}},
		Connections: []model.ProposedConnection{{Content: "uncited connection"}},
	}
	raw, _ := json.Marshal(proposal)

	docs := &fakeDocs{contexts: map[int64]string{1: "turn one"}}
	rows := []store.TurnIndexEntry{{TurnID: 1}}
	r := newReflector(t, string(raw), docs, rows, &fakeIndex{})

	if _, err := r.RunBatch(ctx, "user-1", "session-1"); err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if len(docs.staged) != 0 || len(docs.promoted) != 0 {
		t.Fatalf("expected both uncited items to be dropped, got staged=%d promoted=%d", len(docs.staged), len(docs.promoted))
	}
}

func TestAccumulatorTouchAccumulatesUrgency(t *testing.T) {
	// Guards against a regression where Touch would silently drop the
	// urgency delta if called twice within the same clock tick.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	a := newTestAccumulator(t)

	if _, err := a.Touch(ctx, "user-3", 1, "", 2.0); err != nil {
		t.Fatalf("touch: %v", err)
	}
	acc, err := a.Touch(ctx, "user-3", 2, "", 2.0)
	if err != nil {
		t.Fatalf("touch: %v", err)
	}
	if acc.Urgency != 4.0 {
		t.Fatalf("expected urgency 4.0, got %v", acc.Urgency)
	}
}
