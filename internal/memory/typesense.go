package memory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/typesense/typesense-go/v4/typesense"
	"github.com/typesense/typesense-go/v4/typesense/api"
	"github.com/typesense/typesense-go/v4/typesense/api/pointer"

	"basegraph.app/pandora/internal/model"
)

// SearchIndex is the BM25+embedding half of C3: one Typesense collection per
// user, queried with a combined keyword + vector multi-search request so a
// single round trip produces both rankings for RRF fusion.
type SearchIndex interface {
	EnsureCollection(ctx context.Context, userID string) error
	IndexNode(ctx context.Context, userID string, node model.MemoryNode, embedding []float32) error

	// HybridSearch runs BM25 and vector search for each term in one
	// multi-search call. When embedding is nil the vector leg is omitted
	// (the degraded, BM25-only path; §7 Recovery #1).
	HybridSearch(ctx context.Context, userID string, terms []string, embedding []float32, limit int) (bm25Ranked, vectorRanked map[string][]RankedHit, err error)
}

// RankedHit is one Typesense hit with its rank within its own ranking list
// (1-based), the unit RRF fusion consumes.
type RankedHit struct {
	NodeID string
	Rank   int
	Term   string
}

type typesenseIndex struct {
	client *typesense.Client
}

func NewSearchIndex(apiKey, host string) SearchIndex {
	client := typesense.NewClient(
		typesense.WithServer(host),
		typesense.WithAPIKey(apiKey),
		typesense.WithConnectionTimeout(5*time.Second),
	)
	return &typesenseIndex{client: client}
}

func collectionName(userID string) string {
	return fmt.Sprintf("memory_%s", userID)
}

func (t *typesenseIndex) EnsureCollection(ctx context.Context, userID string) error {
	name := collectionName(userID)

	if _, err := t.client.Collection(name).Retrieve(ctx); err == nil {
		return nil
	}

	schema := &api.CollectionSchema{
		Name: name,
		Fields: []api.Field{
			{Name: "node_id", Type: "string"},
			{Name: "source_type", Type: "string", Facet: pointer.True()},
			{Name: "content_type", Type: "string", Facet: pointer.True()},
			{Name: "content", Type: "string"},
			{Name: "created_at", Type: "int64"},
			{Name: "embedding", Type: "float[]", Optional: pointer.True(), NumDim: pointer.Int(1536)},
		},
		DefaultSortingField: pointer.String("created_at"),
	}

	if _, err := t.client.Collections().Create(ctx, schema); err != nil {
		return fmt.Errorf("creating typesense collection %s: %w", name, err)
	}
	slog.InfoContext(ctx, "typesense collection created", "collection", name)
	return nil
}

func (t *typesenseIndex) IndexNode(ctx context.Context, userID string, node model.MemoryNode, embedding []float32) error {
	doc := map[string]any{
		"id":           node.ID,
		"node_id":      node.ID,
		"source_type":  string(node.SourceType),
		"content_type": string(node.ContentType),
		"content":      node.Content,
		"created_at":   node.CreatedAt.Unix(),
	}
	if embedding != nil {
		doc["embedding"] = embedding
	}

	_, err := t.client.Collection(collectionName(userID)).Documents().Upsert(ctx, doc)
	if err != nil {
		return fmt.Errorf("indexing node %s: %w", node.ID, err)
	}
	return nil
}

func (t *typesenseIndex) HybridSearch(ctx context.Context, userID string, terms []string, embedding []float32, limit int) (map[string][]RankedHit, map[string][]RankedHit, error) {
	collection := collectionName(userID)
	bm25 := make(map[string][]RankedHit, len(terms))
	vector := make(map[string][]RankedHit, len(terms))

	degraded := embedding == nil
	if degraded {
		slog.WarnContext(ctx, "memory retriever running bm25-only", "degraded", true, "reason", "embedding service unavailable")
	}

	searches := make([]api.MultiSearchCollectionParameters, 0, len(terms)*2)
	for _, term := range terms {
		q := term
		searches = append(searches, api.MultiSearchCollectionParameters{
			Collection: pointer.String(collection),
			Q:          &q,
			QueryBy:    pointer.String("content"),
			PerPage:    pointer.Int(limit),
		})
		if !degraded {
			vq := fmt.Sprintf("embedding:(%s, k:%d)", floatsToCSV(embedding), limit)
			searches = append(searches, api.MultiSearchCollectionParameters{
				Collection:   pointer.String(collection),
				Q:            pointer.String("*"),
				VectorQuery:  pointer.String(vq),
				PerPage:      pointer.Int(limit),
			})
		}
	}

	results, err := t.client.MultiSearch.Perform(ctx, &api.MultiSearchParams{}, api.MultiSearchSearchesParameter{Searches: searches})
	if err != nil {
		return nil, nil, fmt.Errorf("multi-search: %w", err)
	}

	idx := 0
	for _, term := range terms {
		if idx < len(results.Results) {
			bm25[term] = toRanked(term, results.Results[idx])
			idx++
		}
		if !degraded && idx < len(results.Results) {
			vector[term] = toRanked(term, results.Results[idx])
			idx++
		}
	}

	return bm25, vector, nil
}

func toRanked(term string, res api.SearchResult) []RankedHit {
	if res.Hits == nil {
		return nil
	}
	hits := make([]RankedHit, 0, len(*res.Hits))
	for i, h := range *res.Hits {
		if h.Document == nil {
			continue
		}
		nodeID, _ := (*h.Document)["node_id"].(string)
		if nodeID == "" {
			continue
		}
		hits = append(hits, RankedHit{NodeID: nodeID, Rank: i + 1, Term: term})
	}
	return hits
}

func floatsToCSV(v []float32) string {
	out := make([]byte, 0, len(v)*8)
	for i, f := range v {
		if i > 0 {
			out = append(out, ',')
		}
		out = fmt.Appendf(out, "%g", f)
	}
	return string(out)
}
