package memory

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"basegraph.app/pandora/internal/confidence"
	"basegraph.app/pandora/internal/llmstage"
	"basegraph.app/pandora/internal/model"
)

const defaultTopK = 15

// Embedder embeds a single search term for the vector leg of hybrid search.
// Returning an error degrades the retriever to BM25-only (§7 Recovery #1).
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// NodeLookup resolves a node_id to its full MemoryNode for snippet/confidence
// computation; backed by GraphStore in production.
type NodeLookup interface {
	GetNode(ctx context.Context, id string) (model.MemoryNode, error)
}

type Retriever struct {
	index      SearchIndex
	nodes      NodeLookup
	graph      GraphStore
	embedder   Embedder
	confidence *confidence.Model
	runner     *llmstage.Runner
	topK       int
}

func NewRetriever(index SearchIndex, nodes NodeLookup, graph GraphStore, embedder Embedder, conf *confidence.Model, runner *llmstage.Runner) *Retriever {
	return &Retriever{index: index, nodes: nodes, graph: graph, embedder: embedder, confidence: conf, runner: runner, topK: defaultTopK}
}

type analysisOutput struct {
	SearchTerms        []string `json:"search_terms"`
	IncludePreferences bool     `json:"include_preferences"`
	IncludeNMinus1     bool     `json:"include_n_minus_1"`
}

var wordPattern = regexp.MustCompile(`[a-zA-Z0-9]+`)

// Retrieve implements the C3 contract (§4.3): term extraction, hybrid search,
// RRF fusion, always-include rules, confidence-floor pruning, top-K dedup.
func (r *Retriever) Retrieve(ctx context.Context, userID, query, purpose, reasoning string, referencedTurn *int64) (model.SearchResults, error) {
	terms, includePrefs, includeNMinus1, termExtractionDegraded := r.extractTerms(ctx, query, purpose, reasoning)

	var embedding []float32
	embeddingDegraded := false
	if r.embedder != nil && len(terms) > 0 {
		emb, err := r.embedder.Embed(ctx, strings.Join(terms, " "))
		if err != nil {
			slog.WarnContext(ctx, "embedding service unavailable, degrading to bm25-only", "degraded", true, "error", err)
			embeddingDegraded = true
		} else {
			embedding = emb
		}
	} else {
		embeddingDegraded = true
	}

	bm25Ranked, vectorRanked, err := r.index.HybridSearch(ctx, userID, terms, embedding, r.topK*2)
	if err != nil {
		return model.SearchResults{}, fmt.Errorf("hybrid search: %w", err)
	}
	scores := fuse(bm25Ranked, vectorRanked)

	bm25Rank := bestRank(bm25Ranked)
	vecRank := bestRank(vectorRanked)

	candidates := r.resolveCandidates(ctx, scores, bm25Rank, vecRank, model.ResultSourceSearch)

	considered := len(candidates)

	if includePrefs {
		if prefs, err := r.graph.Preferences(ctx, userID); err == nil {
			for _, p := range prefs {
				candidates = append(candidates, r.toResult(p, 0, 0, 0, model.ResultSourceAlwaysInclude))
			}
		}
	}
	if includeNMinus1 {
		if prev, err := r.graph.PreviousTurnSummary(ctx, userID); err == nil && prev != nil {
			candidates = append(candidates, r.toResult(*prev, 0, 0, 0, model.ResultSourceAlwaysInclude))
		}
	}
	if referencedTurn != nil {
		if node, err := r.nodes.GetNode(ctx, fmt.Sprintf("turn_summary_%d", *referencedTurn)); err == nil {
			candidates = append(candidates, r.toResult(node, 0, 0, 0, model.ResultSourceAlwaysInclude))
		}
	}

	pruned := 0
	filtered := make([]model.SearchResult, 0, len(candidates))
	for _, c := range candidates {
		if c.Source == model.ResultSourceAlwaysInclude {
			filtered = append(filtered, c)
			continue
		}
		if confidence.Eligible(c.CurrentConfidence) {
			filtered = append(filtered, c)
		} else {
			pruned++
		}
	}

	deduped := dedupByPath(filtered)
	sort.Slice(deduped, func(i, j int) bool { return deduped[i].RRFScore > deduped[j].RRFScore })
	if len(deduped) > r.topK {
		deduped = deduped[:r.topK]
	}

	return model.SearchResults{
		Results: deduped,
		Stats: model.SearchStats{
			SearchTerms:            terms,
			EmbeddingDegraded:      embeddingDegraded,
			TermExtractionDegraded: termExtractionDegraded,
			CandidatesConsidered:   considered,
			CandidatesPruned:       pruned,
		},
	}, nil
}

func (r *Retriever) extractTerms(ctx context.Context, query, purpose, reasoning string) (terms []string, includePrefs, includeNMinus1, degraded bool) {
	if r.runner != nil {
		recipe := llmstage.Recipe{
			Role:         llmstage.RoleReflex,
			SystemPrompt: "Extract 3-5 search terms and whether preferences or the previous turn are needed. Respond as JSON: {\"search_terms\":[...],\"include_preferences\":bool,\"include_n_minus_1\":bool}.",
			UserPrompt:   fmt.Sprintf("query: %s\npurpose: %s\nreasoning: %s", query, purpose, reasoning),
			MaxTokens:    300,
		}
		out, _, _, err := llmstage.RunStructured[analysisOutput](ctx, r.runner, recipe, nil)
		if err == nil && len(out.SearchTerms) > 0 {
			return clampTerms(out.SearchTerms), out.IncludePreferences, out.IncludeNMinus1, false
		}
		slog.WarnContext(ctx, "search term extraction degraded to keyword fallback", "degraded", true)
	}

	return clampTerms(wordPattern.FindAllString(strings.ToLower(query), -1)), false, false, true
}

func clampTerms(terms []string) []string {
	if len(terms) > 5 {
		return terms[:5]
	}
	return terms
}

func bestRank(byTerm map[string][]RankedHit) map[string]int {
	out := make(map[string]int)
	for _, hits := range byTerm {
		for _, h := range hits {
			if existing, ok := out[h.NodeID]; !ok || h.Rank < existing {
				out[h.NodeID] = h.Rank
			}
		}
	}
	return out
}

func (r *Retriever) resolveCandidates(ctx context.Context, scores map[string]float64, bm25Rank, vecRank map[string]int, source model.ResultSource) []model.SearchResult {
	out := make([]model.SearchResult, 0, len(scores))
	for nodeID, score := range scores {
		node, err := r.nodes.GetNode(ctx, nodeID)
		if err != nil {
			continue
		}
		out = append(out, model.SearchResult{
			DocumentPath:      node.Path,
			SourceType:        node.SourceType,
			NodeID:            node.ID,
			RRFScore:          score,
			BM25Rank:          bm25Rank[nodeID],
			EmbeddingRank:     vecRank[nodeID],
			Snippet:           snippet(node.Content),
			Source:            source,
			CurrentConfidence: r.confidence.NodeConfidence(node, time.Now()),
		})
	}
	return out
}

func (r *Retriever) toResult(node model.MemoryNode, score float64, bm25, vec int, source model.ResultSource) model.SearchResult {
	return model.SearchResult{
		DocumentPath:      node.Path,
		SourceType:        node.SourceType,
		NodeID:            node.ID,
		RRFScore:          score,
		BM25Rank:          bm25,
		EmbeddingRank:     vec,
		Snippet:           snippet(node.Content),
		Source:            source,
		CurrentConfidence: r.confidence.NodeConfidence(node, time.Now()),
	}
}

func snippet(content string) string {
	const max = 200
	if len(content) <= max {
		return content
	}
	return content[:max] + "..."
}

func dedupByPath(results []model.SearchResult) []model.SearchResult {
	best := make(map[string]model.SearchResult, len(results))
	for _, r := range results {
		existing, ok := best[r.DocumentPath]
		if !ok || r.RRFScore > existing.RRFScore {
			best[r.DocumentPath] = r
		}
	}
	out := make([]model.SearchResult, 0, len(best))
	for _, r := range best {
		out = append(out, r)
	}
	return out
}
