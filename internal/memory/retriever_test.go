package memory

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/pandora/internal/confidence"
	"basegraph.app/pandora/internal/model"
)

type fakeGraph struct {
	nodes map[string]model.MemoryNode
	prefs []model.MemoryNode
	prev  *model.MemoryNode
}

func (f *fakeGraph) EnsureDatabase(ctx context.Context) error    { return nil }
func (f *fakeGraph) EnsureCollections(ctx context.Context) error { return nil }
func (f *fakeGraph) EnsureGraph(ctx context.Context) error       { return nil }
func (f *fakeGraph) UpsertNode(ctx context.Context, n model.MemoryNode) error {
	f.nodes[n.ID] = n
	return nil
}
func (f *fakeGraph) GetNode(ctx context.Context, id string) (model.MemoryNode, error) {
	n, ok := f.nodes[id]
	if !ok {
		return model.MemoryNode{}, ErrNodeNotFound
	}
	return n, nil
}
func (f *fakeGraph) AddReference(ctx context.Context, fromID, toID string) error { return nil }
func (f *fakeGraph) PreviousTurnSummary(ctx context.Context, userID string) (*model.MemoryNode, error) {
	return f.prev, nil
}
func (f *fakeGraph) Preferences(ctx context.Context, userID string) ([]model.MemoryNode, error) {
	return f.prefs, nil
}
func (f *fakeGraph) Close() error { return nil }

type fakeIndex struct {
	bm25   map[string][]RankedHit
	vector map[string][]RankedHit
}

func (f *fakeIndex) EnsureCollection(ctx context.Context, userID string) error { return nil }
func (f *fakeIndex) IndexNode(ctx context.Context, userID string, node model.MemoryNode, embedding []float32) error {
	return nil
}
func (f *fakeIndex) HybridSearch(ctx context.Context, userID string, terms []string, embedding []float32, limit int) (map[string][]RankedHit, map[string][]RankedHit, error) {
	return f.bm25, f.vector, nil
}

func freshNode(id string, confidenceVal float64, age time.Duration) model.MemoryNode {
	return model.MemoryNode{
		ID:                id,
		Path:              "docs/" + id + ".md",
		SourceType:        model.NodeSourceFact,
		ContentType:       model.ContentGeneralFact,
		Content:           "some content about " + id,
		InitialConfidence: confidenceVal,
		CreatedAt:         time.Now().Add(-age),
	}
}

var _ = Describe("Retriever", func() {
	var (
		graph *fakeGraph
		index *fakeIndex
		conf  *confidence.Model
		ctx   context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		conf = confidence.NewModel(nil)
		graph = &fakeGraph{nodes: map[string]model.MemoryNode{
			"n1": freshNode("n1", 0.9, 0),
			"n2": freshNode("n2", 0.9, 0),
		}}
		index = &fakeIndex{
			bm25: map[string][]RankedHit{
				"widget": {{NodeID: "n1", Rank: 1}, {NodeID: "n2", Rank: 2}},
			},
			vector: map[string][]RankedHit{},
		}
	})

	It("fuses bm25 hits and returns them ranked by RRF score without an LLM runner", func() {
		r := NewRetriever(index, graph, graph, nil, conf, nil)
		results, err := r.Retrieve(ctx, "user-1", "widget availability", "check stock", "", nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(results.Stats.TermExtractionDegraded).To(BeTrue())
		Expect(results.Stats.EmbeddingDegraded).To(BeTrue())
		Expect(results.Results).To(HaveLen(2))
		Expect(results.Results[0].NodeID).To(Equal("n1"))
		Expect(results.Results[0].Source).To(Equal(model.ResultSourceSearch))
	})

	It("drops candidates below the confidence floor", func() {
		graph.nodes["n2"] = freshNode("n2", 0.05, 0)
		r := NewRetriever(index, graph, graph, nil, conf, nil)
		results, err := r.Retrieve(ctx, "user-1", "widget availability", "check stock", "", nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(results.Results).To(HaveLen(1))
		Expect(results.Results[0].NodeID).To(Equal("n1"))
		Expect(results.Stats.CandidatesPruned).To(Equal(1))
	})

	It("falls back to keyword extraction and logs a degradation when no LLM runner is configured", func() {
		r := NewRetriever(index, graph, graph, nil, conf, nil)
		terms, includePrefs, includeNMinus1, degraded := r.extractTerms(ctx, "widget availability check", "", "")
		Expect(degraded).To(BeTrue())
		Expect(includePrefs).To(BeFalse())
		Expect(includeNMinus1).To(BeFalse())
		Expect(terms).To(ContainElement("widget"))
	})

	It("tags preference and previous-turn nodes as always_include, bypassing the confidence floor", func() {
		stale := model.MemoryNode{
			ID: "stale-1", Path: "docs/stale-1.md", SourceType: model.NodeSourcePreference,
			ContentType: model.ContentAvailability, Content: "stock note", InitialConfidence: 0.9,
			CreatedAt: time.Now().Add(-10 * 24 * time.Hour),
		}
		r := NewRetriever(index, graph, graph, nil, conf, nil)
		result := r.toResult(stale, 0, 0, 0, model.ResultSourceAlwaysInclude)
		Expect(result.Source).To(Equal(model.ResultSourceAlwaysInclude))
		Expect(confidence.Eligible(result.CurrentConfidence)).To(BeFalse())
	})

	It("deduplicates by path keeping the highest RRF score", func() {
		graph.nodes["n2"] = model.MemoryNode{
			ID: "n2", Path: "docs/n1.md", SourceType: model.NodeSourceFact,
			ContentType: model.ContentGeneralFact, Content: "dup", InitialConfidence: 0.9, CreatedAt: time.Now(),
		}
		index.bm25 = map[string][]RankedHit{
			"widget": {{NodeID: "n1", Rank: 1}},
			"stock":  {{NodeID: "n2", Rank: 1}},
		}
		r := NewRetriever(index, graph, graph, nil, conf, nil)
		results, err := r.Retrieve(ctx, "user-1", "widget stock", "", "", nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(results.Results).To(HaveLen(1))
	})
})
