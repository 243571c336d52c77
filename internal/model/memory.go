package model

import "time"

// ContentType drives the decay parameters (λ, floor) used to compute a
// MemoryNode's current confidence at read time.
type ContentType string

const (
	ContentAvailability  ContentType = "availability"
	ContentPrice         ContentType = "price"
	ContentProductSpec   ContentType = "product_spec"
	ContentVendorInfo    ContentType = "vendor_info"
	ContentStrategy      ContentType = "strategy"
	ContentSitePattern   ContentType = "site_pattern"
	ContentPreference    ContentType = "preference"
	ContentGeneralFact   ContentType = "general_fact"
)

// SourceType is where a MemoryNode originated.
type SourceType string

const (
	NodeSourceTurnSummary    SourceType = "turn_summary"
	NodeSourcePreference     SourceType = "preference"
	NodeSourceFact           SourceType = "fact"
	NodeSourceResearchCache  SourceType = "research_cache"
	NodeSourceVisitRecord    SourceType = "visit_record"
	NodeSourceUserQuery      SourceType = "user_query"
)

// MemoryNode is a single retrievable artifact in the Document Store corpus.
type MemoryNode struct {
	ID                string      `json:"id"`
	Path              string      `json:"path"`
	SourceType        SourceType  `json:"source_type"`
	ContentType       ContentType `json:"content_type"`
	Content           string      `json:"content"`
	InitialConfidence float64     `json:"initial_confidence"`
	CreatedAt         time.Time   `json:"created_at"`
	ValidationCount   *int        `json:"validation_count,omitempty"`
	ValidationSuccess *int        `json:"validation_success,omitempty"`
	SourceID          *string     `json:"source_id,omitempty"`
}

// ResultSource distinguishes retriever hits found by search vs. forced in by
// an always-include rule.
type ResultSource string

const (
	ResultSourceSearch        ResultSource = "search"
	ResultSourceAlwaysInclude ResultSource = "always_include"
)

// SearchResult is one ranked hit returned by the Memory Retriever.
type SearchResult struct {
	DocumentPath    string       `json:"document_path"`
	SourceType      SourceType   `json:"source_type"`
	NodeID          string       `json:"node_id"`
	RRFScore        float64      `json:"rrf_score"`
	BM25Rank        int          `json:"bm25_rank"`
	EmbeddingRank   int          `json:"embedding_rank"`
	Snippet         string       `json:"snippet"`
	Source          ResultSource `json:"source"`
	CurrentConfidence float64    `json:"current_confidence"`
}

// SearchResults is the Memory Retriever's response envelope.
type SearchResults struct {
	Results []SearchResult `json:"results"`
	Stats   SearchStats    `json:"stats"`
}

// SearchStats describes how a retrieval was carried out, including any
// recovered degradation (spec.md §7 Recovery).
type SearchStats struct {
	SearchTerms       []string `json:"search_terms"`
	EmbeddingDegraded bool     `json:"embedding_degraded"`
	TermExtractionDegraded bool `json:"term_extraction_degraded"`
	CandidatesConsidered int   `json:"candidates_considered"`
	CandidatesPruned     int   `json:"candidates_pruned"`
}
