package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"basegraph.app/pandora/internal/model"
)

// stage2Retrieve runs C3's hybrid search and groups the results into the
// §2 sub-sections by source type, each carrying its provenance meta-block.
func (o *Orchestrator) stage2Retrieve(ctx context.Context, userID, query, purpose, reasoning string, referencedTurn *int64) ([]model.ContextSection, error) {
	results, err := o.retriever.Retrieve(ctx, userID, query, purpose, reasoning, referencedTurn)
	if err != nil {
		return nil, newError("tool_error", true, fmt.Errorf("stage 2.1 retrieve: %w", err))
	}

	grouped := make(map[model.ContextSourceType][]model.SearchResult)
	order := []model.ContextSourceType{
		model.SourcePreferences,
		model.SourcePriorTurnSummary,
		model.SourceCachedResearch,
		model.SourceVisitRecords,
		model.SourceConstraints,
	}
	for _, r := range results.Results {
		st := toSectionSource(r.SourceType)
		grouped[st] = append(grouped[st], r)
	}

	var sections []model.ContextSection
	for _, st := range order {
		hits := grouped[st]
		if len(hits) == 0 {
			continue
		}
		sections = append(sections, buildContextSection(st, hits))
	}
	return sections, nil
}

func toSectionSource(st model.SourceType) model.ContextSourceType {
	switch st {
	case model.NodeSourcePreference:
		return model.SourcePreferences
	case model.NodeSourceTurnSummary:
		return model.SourcePriorTurnSummary
	case model.NodeSourceResearchCache:
		return model.SourceCachedResearch
	case model.NodeSourceVisitRecord:
		return model.SourceVisitRecords
	default:
		return model.SourceConstraints
	}
}

func buildContextSection(st model.ContextSourceType, hits []model.SearchResult) model.ContextSection {
	var body strings.Builder
	nodeIDs := make([]string, 0, len(hits))
	provenance := make([]string, 0, len(hits))
	var confidenceSum float64

	for _, h := range hits {
		body.WriteString("- ")
		body.WriteString(h.Snippet)
		body.WriteString("\n")
		nodeIDs = append(nodeIDs, h.NodeID)
		provenance = append(provenance, h.DocumentPath)
		confidenceSum += h.CurrentConfidence
	}

	avg := 0.0
	if len(hits) > 0 {
		avg = confidenceSum / float64(len(hits))
	}

	return model.ContextSection{
		SourceType: st,
		Content:    body.String(),
		Meta: model.ContextMeta{
			SourceType:    st,
			NodeIDs:       nodeIDs,
			ConfidenceAvg: avg,
			Provenance:    provenance,
		},
	}
}

// stage2SynthesizeContext joins the retrieved sections into one prompt-ready
// context blob for the planner and synthesis stages.
func stage2SynthesizeContext(sections []model.ContextSection) string {
	var b strings.Builder
	for _, s := range sections {
		fmt.Fprintf(&b, "## %s\n%s\n", s.SourceType, s.Content)
	}
	return b.String()
}
