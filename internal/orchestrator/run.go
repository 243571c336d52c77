package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"basegraph.app/pandora/internal/intervention"
	"basegraph.app/pandora/internal/model"
	"basegraph.app/pandora/internal/store"
)

// maxContextRefreshes bounds how many times a single turn may loop §3 back
// to §2.1/2.2 on route=refresh_context. The planner routing rule is "at most
// once per planner invocation"; capping the whole turn at one keeps a
// misbehaving planner that never stops asking for more context from looping
// forever, which trivially also satisfies the per-invocation bound.
const maxContextRefreshes = 1

// runStages walks the full stage sequence for one turn, appending each
// section to the document store as it's produced (I1: nothing already
// written is ever rewritten) and returns the gateway-facing result.
func (o *Orchestrator) runStages(ctx context.Context, turn store.TurnRef, sessionID, userID, text string, mode model.Mode, doc *model.TurnDocument) (*ProcessResult, error) {
	// §0 Query — immutable once written (I3).
	doc.Query = model.QuerySection{RawText: text, Mode: mode, ArrivalTime: doc.CreatedAt}
	if err := o.appendQuerySection(ctx, turn, doc.Query); err != nil {
		return nil, err
	}

	// §1 Analyze / §1.5 Validate, with retry re-runs bounded at maxValidationRetry.
	var analysis analyzeOutput
	for attempt := 1; ; attempt++ {
		if err := o.checkCancelled(ctx, sessionID); err != nil {
			return nil, err
		}

		a, err := o.stage1Analyze(ctx, text, mode)
		if err != nil {
			return nil, err
		}
		analysis = a

		validation, err := o.runValidation(ctx, "query analysis", fmt.Sprintf("%+v", a))
		if err != nil {
			return nil, err
		}
		validation.Attempt = attempt
		doc.AnalysisValidation = append(doc.AnalysisValidation, validation)
		if err := o.appendValidationSection(ctx, turn, 1, "Analysis Validation", validation); err != nil {
			return nil, err
		}

		if validation.Decision == model.ValidationPass {
			break
		}
		if validation.Decision == model.ValidationClarify {
			return o.endWithClarification(ctx, turn, doc, userID, validationClarificationQuestion(validation))
		}
		if attempt > maxValidationRetry {
			return nil, o.validationExhausted("analyze", validation)
		}
	}

	doc.Query.UserPurpose = analysis.UserPurpose
	doc.Query.DataRequirements = model.DataRequirements{
		NeedsCurrentPrices:   analysis.NeedsCurrentPrices,
		NeedsAvailability:    analysis.NeedsAvailability,
		NeedsCodeExploration: analysis.NeedsCodeExploration,
		Hints:                analysis.Hints,
	}
	doc.Query.ReferenceResolution = model.ReferenceResolution{
		Resolved:       analysis.ReferencedTurn != nil,
		ReferencedTurn: analysis.ReferencedTurn,
		UnresolvedNote: analysis.UnresolvedNote,
	}

	// §2 Retrieve + synthesize context / §2.5 Validate.
	var contextSections []model.ContextSection
	for attempt := 1; ; attempt++ {
		if err := o.checkCancelled(ctx, sessionID); err != nil {
			return nil, err
		}

		sections, err := o.stage2Retrieve(ctx, userID, text, analysis.UserPurpose, "", analysis.ReferencedTurn)
		if err != nil {
			return nil, err
		}
		contextSections = sections
		doc.GatheredContext = append(doc.GatheredContext, sections...)
		for i := range sections {
			if err := o.appendContextSection(ctx, turn, 2, sections[i]); err != nil {
				return nil, err
			}
		}

		validation, err := o.runValidation(ctx, "gathered context", stage2SynthesizeContext(sections))
		if err != nil {
			return nil, err
		}
		validation.Attempt = attempt
		doc.ContextValidation = append(doc.ContextValidation, validation)
		if err := o.appendValidationSection(ctx, turn, 2, "Context Validation", validation); err != nil {
			return nil, err
		}

		if validation.Decision == model.ValidationPass {
			break
		}
		if validation.Decision == model.ValidationClarify {
			return o.endWithClarification(ctx, turn, doc, userID, validationClarificationQuestion(validation))
		}
		if attempt > maxValidationRetry {
			return nil, o.validationExhausted("gathered context", validation)
		}
	}
	contextBlob := stage2SynthesizeContext(contextSections)

	// §3-7: plan, execute, synthesize, validate, with RETRY re-entering at
	// the plan and FAIL terminating the turn after maxValidationRetry.
	var finalResponse string
	var lastVerdict model.ValidationVerdict
	var suggestedFixes []string
	contextRefreshesLeft := maxContextRefreshes

	for retryCycle := 0; ; retryCycle++ {
		if err := o.checkCancelled(ctx, sessionID); err != nil {
			return nil, err
		}

		plan, err := o.stage3Plan(ctx, text, contextBlob, retryCycle+1, suggestedFixes)
		if err != nil {
			return nil, err
		}
		doc.Plans = append(doc.Plans, plan)
		if err := o.appendPlanSection(ctx, turn, plan); err != nil {
			return nil, err
		}

		if plan.Route == model.RouteClarify {
			return o.endWithClarification(ctx, turn, doc, userID, planClarificationQuestion(plan))
		}

		if plan.Route == model.RouteRefreshContext && contextRefreshesLeft > 0 {
			contextRefreshesLeft--
			sections, err := o.stage2Retrieve(ctx, userID, text, analysis.UserPurpose, strings.Join(plan.MissingItems, "; "), analysis.ReferencedTurn)
			if err != nil {
				return nil, err
			}
			contextSections = append(contextSections, sections...)
			doc.GatheredContext = append(doc.GatheredContext, sections...)
			for i := range sections {
				if err := o.appendContextSection(ctx, turn, 2, sections[i]); err != nil {
					return nil, err
				}
			}
			contextBlob = stage2SynthesizeContext(contextSections)
			continue
		}

		var blocks []model.ExecutionBlock
		if plan.Route == model.RouteExecutor {
			blocks, err = o.runExecutorCoordinator(ctx, sessionID, turn.TurnNum, mode, plan, retryCycle+1)
			if err != nil {
				return nil, err
			}
			doc.ExecutionProgress = append(doc.ExecutionProgress, blocks...)
			if err := o.appendExecutionSection(ctx, turn, blocks); err != nil {
				return nil, err
			}
		}

		response, verdict, err := o.synthesizeAndValidate(ctx, turn, doc, text, contextBlob, blocks, retryCycle+1, nil)
		if err != nil {
			return nil, err
		}
		finalResponse = response
		lastVerdict = verdict

		if verdict.Decision == model.ReviewApprove {
			break
		}
		if verdict.Decision == model.ReviewRetry && retryCycle < maxValidationRetry {
			suggestedFixes = verdict.SuggestedFixes
			continue
		}

		// REVISE is handled inside synthesizeAndValidate; reaching here with
		// anything but APPROVE after the retry budget means FAIL.
		if verdict.Decision != model.ReviewApprove {
			return &ProcessResult{Status: model.TurnStatusFailed, PhaseReached: "validate", PartialResult: response},
				newError("validation_exhausted", false, fmt.Errorf("turn failed final validation: %v", verdict.Decision))
		}
		break
	}

	// Multi-cycle draining: a late intervention that arrived during
	// synthesis/validate gets one more synthesis+validate pass before save.
	if ivs, err := o.interventions.Poll(ctx, sessionID); err == nil && len(ivs) > 0 {
		if intervention.HasCancel(ivs) {
			return nil, newError("cancelled", false, fmt.Errorf("turn cancelled after validation"))
		}
		guidance := intervention.ToGuidance(ivs)
		if len(guidance) > 0 {
			response, verdict, err := o.synthesizeAndValidate(ctx, turn, doc, text, contextBlob, doc.ExecutionProgress, len(doc.Synthesis)+1, guidance)
			if err == nil && verdict.Decision == model.ReviewApprove {
				finalResponse = response
				lastVerdict = verdict
			}
		}
	}

	if err := o.finalizeSave(ctx, turn, doc, finalResponse, lastVerdict); err != nil {
		return nil, err
	}

	if o.signal != nil {
		if err := o.signal.NotifyTurnSaved(ctx, userID, turn.TurnNum); err != nil {
			return nil, fmt.Errorf("notifying batch reflector: %w", err)
		}
	}

	return &ProcessResult{Response: finalResponse, Status: model.TurnStatusOK, PhaseReached: "complete"}, nil
}

// synthesizeAndValidate runs §6/§7 with REVISE retries bounded at
// maxValidationRevise, appending every attempt (never replacing).
func (o *Orchestrator) synthesizeAndValidate(ctx context.Context, turn store.TurnRef, doc *model.TurnDocument, query, contextBlob string, blocks []model.ExecutionBlock, baseAttempt int, guidance []model.GuidanceAdjustment) (string, model.ValidationVerdict, error) {
	var revisionHints []string
	for _, g := range guidance {
		revisionHints = append(revisionHints, g.Text)
	}

	for i := 0; ; i++ {
		attempt := baseAttempt + i
		synth, response, err := o.stage6Synthesize(ctx, query, contextBlob, blocks, attempt, revisionHints)
		if err != nil {
			return "", model.ValidationVerdict{}, err
		}
		doc.Synthesis = append(doc.Synthesis, synth)
		if err := o.appendSynthesisSection(ctx, turn, synth); err != nil {
			return "", model.ValidationVerdict{}, err
		}

		verdict, err := o.stage7Validate(ctx, response, contextBlob, blocks, attempt)
		if err != nil {
			return "", model.ValidationVerdict{}, err
		}
		doc.Validation = append(doc.Validation, verdict)
		if err := o.appendValidationVerdictSection(ctx, turn, verdict); err != nil {
			return "", model.ValidationVerdict{}, err
		}

		if verdict.Decision != model.ReviewRevise || i >= maxValidationRevise {
			return response, verdict, nil
		}
		revisionHints = verdict.RevisionHints
	}
}

// endWithClarification ends the turn immediately with question as the
// response, per the clarify routing rule shared by §1.5/§2.5 validation and
// §3 planning. A clarification is a normal terminal response, not a
// failure: it's saved and signalled to the reflector like any other turn.
func (o *Orchestrator) endWithClarification(ctx context.Context, turn store.TurnRef, doc *model.TurnDocument, userID, question string) (*ProcessResult, error) {
	verdict := model.ValidationVerdict{Decision: model.ReviewApprove, At: doc.CreatedAt}
	if err := o.finalizeSave(ctx, turn, doc, question, verdict); err != nil {
		return nil, err
	}
	if o.signal != nil {
		if err := o.signal.NotifyTurnSaved(ctx, userID, turn.TurnNum); err != nil {
			return nil, fmt.Errorf("notifying batch reflector: %w", err)
		}
	}
	return &ProcessResult{Response: question, Status: model.TurnStatusOK, PhaseReached: "clarify"}, nil
}

// validationExhausted reports the "second failure" case of the §1.5/§2.5
// retry rule: a validator that still doesn't return pass after
// maxValidationRetry re-run (maxValidationRetry+1 attempts) ends the turn as
// failed rather than letting a stage run on an unvalidated predecessor.
func (o *Orchestrator) validationExhausted(label string, validation model.ValidationAttempt) error {
	return newError("validation_exhausted", false, fmt.Errorf("%s validation did not pass within %d attempts: %v", label, maxValidationRetry+1, validation.Issues))
}

func validationClarificationQuestion(v model.ValidationAttempt) string {
	if len(v.RetryGuidance) > 0 {
		return strings.Join(v.RetryGuidance, " ")
	}
	if len(v.Issues) > 0 {
		return strings.Join(v.Issues, " ")
	}
	return "Could you clarify what you're asking?"
}

func planClarificationQuestion(plan model.StrategicPlan) string {
	if plan.Approach != "" {
		return plan.Approach
	}
	return "Could you clarify what you're asking?"
}

func (o *Orchestrator) checkCancelled(ctx context.Context, sessionID string) error {
	ivs, err := o.interventions.Poll(ctx, sessionID)
	if err != nil {
		return newError("tool_error", true, fmt.Errorf("polling interventions: %w", err))
	}
	if intervention.HasCancel(ivs) {
		return newError("cancelled", false, fmt.Errorf("turn cancelled by user"))
	}
	return nil
}

func yamlMeta(v any) string {
	b, err := yaml.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
