package reflector

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"basegraph.app/pandora/internal/confidence"
	"basegraph.app/pandora/internal/llmstage"
	"basegraph.app/pandora/internal/memory"
	"basegraph.app/pandora/internal/model"
	"basegraph.app/pandora/internal/store"
)

const maxTurnsPerBatch = 10

// Hard caps applied to a batch proposal after the MIND-role call returns
// (§4.6): "{new_facts[≤2], corrections[≤1], connections[≤2], open_questions[≤2]}".
const (
	maxNewFacts     = 2
	maxCorrections  = 1
	maxConnections  = 2
	maxOpenQuestions = 2
)

// driftGuardConfidence and driftGuardTurns gate corrections against a target
// node that's already highly confident — a correction citing a single
// contradicting turn isn't enough to overturn it.
const driftGuardConfidence = 0.9
const driftGuardTurns = 1

// Reflector runs one batch reflection pass over a user's recent turns (§4.6).
type Reflector struct {
	runner     llmstage.RecipeRunner
	docs       store.DocumentStore
	turnIndex  store.TurnIndexStore
	index      memory.SearchIndex
	graph      memory.NodeLookup
	confidence *confidence.Model
}

func NewReflector(runner llmstage.RecipeRunner, docs store.DocumentStore, turnIndex store.TurnIndexStore, index memory.SearchIndex, graph memory.NodeLookup, confModel *confidence.Model) *Reflector {
	return &Reflector{runner: runner, docs: docs, turnIndex: turnIndex, index: index, graph: graph, confidence: confModel}
}

// BatchLog is the payload written to Logs/reflector/ once a batch's proposals
// have been staged, promoted or dropped, so a human can audit what the
// reflector decided and why. A run that fails earlier, or finds no turns to
// fold, writes no log.
type BatchLog struct {
	BatchID      string    `json:"batch_id"`
	UserID       string    `json:"user_id"`
	TurnsFolded  []int64   `json:"turns_folded"`
	Proposal     model.BatchProposal `json:"proposal"`
	Staged       []string  `json:"staged_node_ids"`
	Promoted     []string  `json:"promoted_node_ids"`
	Dropped      []string  `json:"dropped,omitempty"`
	RanAt        time.Time `json:"ran_at"`
}

// RunBatch reads the last up-to-maxTurnsPerBatch turns for sessionID,
// proposes new facts/corrections/connections with one MIND-role call, and
// stages or promotes what survives the quality gate. Returns the batch ID
// even on a quality-gate-induced no-op so the caller can still reset the
// trigger accumulator.
func (r *Reflector) RunBatch(ctx context.Context, userID, sessionID string) (batchID string, err error) {
	batchID = uuid.NewString()

	if userID == "" || sessionID == "" {
		return batchID, newFatalError(fmt.Errorf("malformed turn-saved signal: missing user or session id"))
	}

	rows, err := r.turnIndex.ListBySession(ctx, sessionID, maxTurnsPerBatch)
	if err != nil {
		return batchID, newRetryableError(fmt.Errorf("listing recent turns for session %s: %w", sessionID, err))
	}
	if len(rows) == 0 {
		return batchID, nil
	}

	var turnsFolded []int64
	var corpus strings.Builder
	for _, row := range rows {
		text, err := r.docs.ReadContext(ctx, store.TurnRef{UserID: userID, TurnNum: row.TurnID})
		if err != nil {
			if err == store.ErrNotFound {
				continue
			}
			return batchID, newRetryableError(fmt.Errorf("reading context for turn %d: %w", row.TurnID, err))
		}
		turnsFolded = append(turnsFolded, row.TurnID)
		fmt.Fprintf(&corpus, "## Turn %d\n%s\n\n", row.TurnID, text)
	}
	if len(turnsFolded) == 0 {
		return batchID, nil
	}

	proposal, err := r.propose(ctx, corpus.String())
	if err != nil {
		return batchID, err
	}
	capProposal(&proposal)

	logPayload := BatchLog{BatchID: batchID, UserID: userID, TurnsFolded: turnsFolded, Proposal: proposal, RanAt: time.Now().UTC()}

	for _, fact := range proposal.NewFacts {
		if r.isDuplicate(ctx, userID, fact) {
			logPayload.Dropped = append(logPayload.Dropped, fact.Content+" (duplicate of existing knowledge)")
			continue
		}
		node, decision := r.gate(fact.CitedTurns, model.NodeSourceFact, fact.ContentType, fact.Content, "")
		if err := r.land(ctx, userID, batchID, node, decision, fact.Content, fact.CitedTurns, &logPayload); err != nil {
			return batchID, err
		}
	}

	for _, correction := range proposal.Corrections {
		if len(correction.CitedTurns) == 0 {
			logPayload.Dropped = append(logPayload.Dropped, correction.Content)
			continue
		}
		if r.driftGuardRejects(ctx, correction) {
			logPayload.Dropped = append(logPayload.Dropped, correction.Content+" (drift guard: target too confident, too thinly evidenced)")
			continue
		}
		node, decision := r.gate(correction.CitedTurns, model.NodeSourceFact, model.ContentGeneralFact, correction.Content, correction.TargetNodeID)
		if err := r.land(ctx, userID, batchID, node, decision, correction.Content, correction.CitedTurns, &logPayload); err != nil {
			return batchID, err
		}
	}

	for _, conn := range proposal.Connections {
		if len(conn.CitedTurns) == 0 {
			logPayload.Dropped = append(logPayload.Dropped, conn.Content)
			continue
		}
		node, decision := r.gate(conn.CitedTurns, model.NodeSourceFact, model.ContentGeneralFact, conn.Content, "")
		if err := r.land(ctx, userID, batchID, node, decision, conn.Content, conn.CitedTurns, &logPayload); err != nil {
			return batchID, err
		}
	}

	if err := r.docs.WriteReflectorLog(ctx, userID, batchID, logPayload); err != nil {
		return batchID, newRetryableError(fmt.Errorf("writing reflector log: %w", err))
	}
	return batchID, nil
}

// capProposal enforces the post-return hard caps from §4.6 regardless of
// what the MIND-role call actually returned.
func capProposal(p *model.BatchProposal) {
	if len(p.NewFacts) > maxNewFacts {
		p.NewFacts = p.NewFacts[:maxNewFacts]
	}
	if len(p.Corrections) > maxCorrections {
		p.Corrections = p.Corrections[:maxCorrections]
	}
	if len(p.Connections) > maxConnections {
		p.Connections = p.Connections[:maxConnections]
	}
	if len(p.OpenQuestions) > maxOpenQuestions {
		p.OpenQuestions = p.OpenQuestions[:maxOpenQuestions]
	}
}

// land writes a gated node to staging or straight to promotion, recording
// the outcome on the batch log. decision == "" means the item was dropped.
func (r *Reflector) land(ctx context.Context, userID, batchID string, node model.MemoryNode, decision, content string, citedTurns []int64, logPayload *BatchLog) error {
	if decision == "" {
		logPayload.Dropped = append(logPayload.Dropped, content)
		return nil
	}
	if decision == "promote" {
		if err := r.docs.PromoteKnowledge(ctx, userID, node); err != nil {
			return newRetryableError(fmt.Errorf("promoting node: %w", err))
		}
		logPayload.Promoted = append(logPayload.Promoted, node.ID)
		return nil
	}
	staged := model.StagedKnowledge{MemoryNode: node, StagedAt: time.Now().UTC(), BatchID: batchID, SourceTurns: citedTurns}
	if err := r.docs.StageKnowledge(ctx, userID, staged); err != nil {
		return newRetryableError(fmt.Errorf("staging node: %w", err))
	}
	logPayload.Staged = append(logPayload.Staged, node.ID)
	return nil
}

// driftGuardRejects rejects a correction whose target is already confident
// (> driftGuardConfidence after decay) when the correction itself cites no
// more than driftGuardTurns turn — too little evidence to overturn it.
func (r *Reflector) driftGuardRejects(ctx context.Context, correction model.ProposedCorrection) bool {
	if r.graph == nil || correction.TargetNodeID == "" {
		return false
	}
	target, err := r.graph.GetNode(ctx, correction.TargetNodeID)
	if err != nil {
		return false
	}
	current := target.InitialConfidence
	if r.confidence != nil {
		current = r.confidence.NodeConfidence(target, time.Now().UTC())
	}
	return current > driftGuardConfidence && len(correction.CitedTurns) <= driftGuardTurns
}

type proposeOutput = model.BatchProposal

func (r *Reflector) propose(ctx context.Context, corpus string) (model.BatchProposal, error) {
	recipe := llmstage.Recipe{
		Role: llmstage.RoleMind,
		SystemPrompt: "Review these turns and propose durable facts worth remembering long-term, " +
			"corrections to anything previously recorded that turned out wrong, and connections between " +
			"facts. Every proposal must cite the turn number(s) it's grounded in. Respond as JSON: " +
			"{\"new_facts\":[{\"content\":\"...\",\"content_type\":\"...\",\"cited_turns\":[...],\"keywords\":[...]}]," +
			"\"corrections\":[{\"target_node_id\":\"...\",\"content\":\"...\",\"cited_turns\":[...]}]," +
			"\"connections\":[{\"content\":\"...\",\"cited_turns\":[...]}],\"open_questions\":[...]}",
		UserPrompt: corpus,
		MaxTokens:  1500,
	}

	out, outcome, _, err := llmstage.RunStructured[proposeOutput](ctx, r.runner, recipe, nil)
	if err != nil && outcome != llmstage.ParseDefaulted {
		return model.BatchProposal{}, newRetryableError(fmt.Errorf("batch reflection call: %w", err))
	}
	return out, nil
}

// gate applies the quality gate from §4.6: a proposal with no cited turns is
// dropped outright; one cited turn stages at the 1-turn confidence band;
// three or more corroborating turns is strong enough evidence to promote
// straight to long-term memory instead of waiting for staged re-observation.
// sourceNodeID is set for corrections, linking the new node back to what it
// amends; it's empty for new facts and connections.
func (r *Reflector) gate(citedTurns []int64, sourceType model.SourceType, contentType model.ContentType, content, sourceNodeID string) (model.MemoryNode, string) {
	if len(citedTurns) == 0 {
		return model.MemoryNode{}, ""
	}

	confidenceScore := confidence.AssignForSourceCount(len(citedTurns), false)
	node := model.MemoryNode{
		ID:                uuid.NewString(),
		SourceType:        sourceType,
		ContentType:       contentType,
		Content:           content,
		InitialConfidence: confidenceScore,
		CreatedAt:         time.Now().UTC(),
	}
	if sourceNodeID != "" {
		node.SourceID = &sourceNodeID
	}

	if len(citedTurns) >= 3 {
		return node, "promote"
	}
	return node, "stage"
}

// isDuplicate runs a BM25-only keyword search (no embedding leg; this is a
// cheap existing-knowledge check, not the full retriever) against the user's
// index and treats any hit as evidence the fact is already recorded.
func (r *Reflector) isDuplicate(ctx context.Context, userID string, fact model.ProposedFact) bool {
	if r.index == nil || len(fact.Keywords) == 0 {
		return false
	}
	bm25, _, err := r.index.HybridSearch(ctx, userID, fact.Keywords, nil, 3)
	if err != nil {
		return false
	}
	for _, hits := range bm25 {
		if len(hits) > 0 {
			return true
		}
	}
	return false
}
