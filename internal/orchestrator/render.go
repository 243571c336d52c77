package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"basegraph.app/pandora/internal/model"
	"basegraph.app/pandora/internal/store"
)

// Section numbers mirror the document's own numbering (§0-§7), not the
// incidental order sections happen to be appended to context.md.
const (
	sectionQuery      = 0
	sectionValidation = 1 // shared by §1.5 and §2.5 call sites, distinguished by title
	sectionContext    = 2
	sectionPlan       = 3
	sectionExecution  = 4
	sectionSynthesis  = 6
	sectionReview     = 7
)

func (o *Orchestrator) appendQuerySection(ctx context.Context, turn store.TurnRef, q model.QuerySection) error {
	body := fmt.Sprintf("%s\n\nPurpose: %s\n", q.RawText, q.UserPurpose)
	if q.ReferenceResolution.Resolved {
		body += fmt.Sprintf("References turn %d.\n", *q.ReferenceResolution.ReferencedTurn)
	}
	return o.docs.AppendSection(ctx, turn, store.RenderedSection{
		Number: sectionQuery,
		Title:  "Query",
		Body:   body,
		Meta:   yamlMeta(q.DataRequirements),
	})
}

func (o *Orchestrator) appendValidationSection(ctx context.Context, turn store.TurnRef, stage int, title string, v model.ValidationAttempt) error {
	var body strings.Builder
	fmt.Fprintf(&body, "Attempt %d: %s\n", v.Attempt, v.Decision)
	for _, issue := range v.Issues {
		fmt.Fprintf(&body, "- issue: %s\n", issue)
	}
	for _, g := range v.RetryGuidance {
		fmt.Fprintf(&body, "- retry guidance: %s\n", g)
	}
	return o.docs.AppendSection(ctx, turn, store.RenderedSection{
		Number: sectionValidation,
		Title:  title,
		Body:   body.String(),
	})
}

func (o *Orchestrator) appendContextSection(ctx context.Context, turn store.TurnRef, stage int, section model.ContextSection) error {
	return o.docs.AppendSection(ctx, turn, store.RenderedSection{
		Number: sectionContext,
		Title:  string(section.SourceType),
		Body:   section.Content,
		Meta:   yamlMeta(section.Meta),
	})
}

func (o *Orchestrator) appendPlanSection(ctx context.Context, turn store.TurnRef, plan model.StrategicPlan) error {
	var body strings.Builder
	fmt.Fprintf(&body, "Attempt %d, route: %s\n\nApproach: %s\n\nGoals:\n", plan.Attempt, plan.Route, plan.Approach)
	for _, g := range plan.Goals {
		fmt.Fprintf(&body, "- [%s] %s (priority %d)\n", g.ID, g.Description, g.Priority)
	}
	if len(plan.MissingItems) > 0 {
		fmt.Fprintf(&body, "\nMissing items: %s\n", strings.Join(plan.MissingItems, ", "))
	}
	if plan.RetryMeta != nil {
		fmt.Fprintf(&body, "\nRe-entered after suggested fixes: %s\n", strings.Join(plan.RetryMeta.SuggestedFixes, ", "))
	}
	return o.docs.AppendSection(ctx, turn, store.RenderedSection{
		Number: sectionPlan,
		Title:  "Strategic Plan",
		Body:   body.String(),
	})
}

func (o *Orchestrator) appendExecutionSection(ctx context.Context, turn store.TurnRef, blocks []model.ExecutionBlock) error {
	var body strings.Builder
	for _, b := range blocks {
		fmt.Fprintf(&body, "### Iteration %d (%s)\n", b.Iteration, b.Action)
		if b.Command != "" {
			fmt.Fprintf(&body, "Command: %s\n", b.Command)
		}
		if b.ToolSelected != "" {
			fmt.Fprintf(&body, "Tool: %s\n", b.ToolSelected)
		}
		if b.Analysis != "" {
			fmt.Fprintf(&body, "Analysis: %s\n", b.Analysis)
		}
		if b.ResultSummary != "" {
			fmt.Fprintf(&body, "Result: %s\n", b.ResultSummary)
		}
		for _, c := range b.Claims {
			fmt.Fprintf(&body, "- claim: %s (confidence %.2f, source %s)\n", c.Text, c.Confidence, c.Source)
		}
		if b.TerminationReason != "" {
			fmt.Fprintf(&body, "Terminated: %s\n", b.TerminationReason)
		}
		body.WriteString("\n")
	}
	return o.docs.AppendSection(ctx, turn, store.RenderedSection{
		Number: sectionExecution,
		Title:  "Execution Progress",
		Body:   body.String(),
	})
}

func (o *Orchestrator) appendSynthesisSection(ctx context.Context, turn store.TurnRef, s model.SynthesisAttempt) error {
	body := fmt.Sprintf("Attempt %d\n\n%s\n\nChecklist: %s\n", s.Attempt, s.ResponsePreview, strings.Join(s.ValidationChecklist, ", "))
	return o.docs.AppendSection(ctx, turn, store.RenderedSection{
		Number: sectionSynthesis,
		Title:  "Synthesis",
		Body:   body,
	})
}

func (o *Orchestrator) appendValidationVerdictSection(ctx context.Context, turn store.TurnRef, v model.ValidationVerdict) error {
	var body strings.Builder
	fmt.Fprintf(&body, "Attempt %d: %s (confidence %.2f)\n", v.Attempt, v.Decision, v.Confidence)
	for _, h := range v.RevisionHints {
		fmt.Fprintf(&body, "- revision hint: %s\n", h)
	}
	for _, f := range v.SuggestedFixes {
		fmt.Fprintf(&body, "- suggested fix: %s\n", f)
	}
	return o.docs.AppendSection(ctx, turn, store.RenderedSection{
		Number: sectionReview,
		Title:  "Final Validation",
		Body:   body.String(),
		Meta:   yamlMeta(v.Checks),
	})
}

// finalizeSave writes the save-time artifacts (§6): response.md,
// metadata.json, metrics.json, and the turn-summary appendix. These are
// each written exactly once, after the stage sequence has settled.
func (o *Orchestrator) finalizeSave(ctx context.Context, turn store.TurnRef, doc *model.TurnDocument, response string, verdict model.ValidationVerdict) error {
	if err := o.docs.WriteResponse(ctx, turn, response); err != nil {
		return newError("tool_error", true, fmt.Errorf("writing response: %w", err))
	}

	var workflowsUsed, toolsUsed []string
	claims := 0
	for _, b := range doc.ExecutionProgress {
		claims += len(b.Claims)
		if b.ToolSelected != "" {
			toolsUsed = append(toolsUsed, b.ToolSelected)
		}
	}

	meta := store.TurnMetadata{
		TurnNumber:    turn.TurnNum,
		SessionID:     doc.SessionID,
		Timestamp:     time.Now().UTC(),
		Topic:         doc.Query.UserPurpose,
		WorkflowsUsed: workflowsUsed,
		ClaimsCount:   claims,
		QualityScore:  verdict.Confidence,
		ContentType:   "turn",
		Keywords:      doc.Query.DataRequirements.Hints,
	}
	if err := o.docs.WriteMetadata(ctx, turn, meta); err != nil {
		return newError("tool_error", true, fmt.Errorf("writing metadata: %w", err))
	}

	metrics := store.TurnMetrics{
		ToolsUsed:         toolsUsed,
		ValidationOutcome: string(verdict.Decision),
	}
	if err := o.docs.WriteMetrics(ctx, turn, metrics); err != nil {
		return newError("tool_error", true, fmt.Errorf("writing metrics: %w", err))
	}

	summary := model.TurnSummary{
		Text:        preview(response, 500),
		Keywords:    doc.Query.DataRequirements.Hints,
		GeneratedAt: time.Now().UTC(),
	}
	doc.Summary = &summary
	if err := o.docs.WriteTurnSummary(ctx, turn, summary); err != nil {
		return newError("tool_error", true, fmt.Errorf("writing turn summary: %w", err))
	}

	return nil
}
