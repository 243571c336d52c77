package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"basegraph.app/pandora/internal/llmstage"
	"basegraph.app/pandora/internal/model"
)

type synthesisOutput struct {
	Response string   `json:"response"`
	Checks   []string `json:"checks"`
}

// stage6Synthesize runs the VOICE-role final response composer.
func (o *Orchestrator) stage6Synthesize(ctx context.Context, query, context string, blocks []model.ExecutionBlock, attempt int, revisionHints []string) (model.SynthesisAttempt, string, error) {
	var claims strings.Builder
	for _, b := range blocks {
		for _, c := range b.Claims {
			fmt.Fprintf(&claims, "- %s (source: %s, confidence %.2f)\n", c.Text, c.Source, c.Confidence)
		}
	}

	prompt := fmt.Sprintf("User message:\n%s\n\nGathered context:\n%s\n\nClaims collected during execution:\n%s", query, context, claims.String())
	if len(revisionHints) > 0 {
		prompt += "\n\nThe previous response needs revision:\n- " + strings.Join(revisionHints, "\n- ")
	}

	recipe := llmstage.Recipe{
		Role: llmstage.RoleVoice,
		SystemPrompt: "Write the final response to the user, grounded only in the claims and context " +
			"above — every assertion must trace back to one of them. Respond as JSON: " +
			"{\"response\":\"...\",\"checks\":[...]}",
		UserPrompt: prompt,
		MaxTokens:  1200,
	}

	out, outcome, _, err := llmstage.RunStructured[synthesisOutput](ctx, o.runner, recipe, nil)
	if err != nil && outcome != llmstage.ParseDefaulted {
		return model.SynthesisAttempt{}, "", newError("llm_error", true, fmt.Errorf("stage 6 synthesize: %w", err))
	}

	attemptRecord := model.SynthesisAttempt{
		Attempt:             attempt,
		ResponsePreview:     preview(out.Response, 200),
		ValidationChecklist: out.Checks,
		At:                  time.Now().UTC(),
	}
	return attemptRecord, out.Response, nil
}

type reviewOutput struct {
	Decision       string          `json:"decision"`
	Confidence     float64         `json:"confidence"`
	Checks         map[string]bool `json:"checks"`
	RevisionHints  []string        `json:"revision_hints"`
	SuggestedFixes []string        `json:"suggested_fixes"`
}

// stage7Validate runs the MIND-role final reviewer against §4 invariant I4:
// every claim in the response must trace to a gathered-context or execution
// claim.
func (o *Orchestrator) stage7Validate(ctx context.Context, response, context string, blocks []model.ExecutionBlock, attempt int) (model.ValidationVerdict, error) {
	var claims strings.Builder
	for _, b := range blocks {
		for _, c := range b.Claims {
			fmt.Fprintf(&claims, "- %s\n", c.Text)
		}
	}

	prompt := fmt.Sprintf("Response:\n%s\n\nGathered context:\n%s\n\nExecution claims:\n%s", response, context, claims.String())

	recipe := llmstage.Recipe{
		Role: llmstage.RoleMind,
		SystemPrompt: "Check the response traces every factual claim to the context or execution claims " +
			"given, and that it actually addresses the user's request. Respond as JSON: " +
			"{\"decision\":\"APPROVE|REVISE|RETRY|FAIL\",\"confidence\":0.0-1.0,\"checks\":{...}," +
			"\"revision_hints\":[...],\"suggested_fixes\":[...]}",
		UserPrompt: prompt,
		MaxTokens:  500,
	}

	out, outcome, _, err := llmstage.RunStructured[reviewOutput](ctx, o.runner, recipe, nil)
	if err != nil && outcome != llmstage.ParseDefaulted {
		return model.ValidationVerdict{}, newError("llm_error", true, fmt.Errorf("stage 7 validate: %w", err))
	}

	decision := model.ReviewDecision(strings.ToUpper(out.Decision))
	switch decision {
	case model.ReviewApprove, model.ReviewRevise, model.ReviewRetry, model.ReviewFail:
	default:
		decision = model.ReviewApprove
	}

	return model.ValidationVerdict{
		Attempt:        attempt,
		Decision:       decision,
		Confidence:     out.Confidence,
		Checks:         out.Checks,
		RevisionHints:  out.RevisionHints,
		SuggestedFixes: out.SuggestedFixes,
		At:             time.Now().UTC(),
	}, nil
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
