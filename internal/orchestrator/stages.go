package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"basegraph.app/pandora/internal/llmstage"
	"basegraph.app/pandora/internal/model"
)

type analyzeOutput struct {
	UserPurpose          string   `json:"user_purpose"`
	NeedsCurrentPrices   bool     `json:"needs_current_prices"`
	NeedsAvailability    bool     `json:"needs_availability"`
	NeedsCodeExploration bool     `json:"needs_code_exploration"`
	Hints                []string `json:"hints"`
	ReferencedTurn       *int64   `json:"referenced_turn"`
	UnresolvedNote       string   `json:"unresolved_note"`
}

// stage1Analyze runs the REFLEX-role query analysis call that fills
// QuerySection.UserPurpose/DataRequirements/ReferenceResolution.
func (o *Orchestrator) stage1Analyze(ctx context.Context, query string, mode model.Mode) (analyzeOutput, error) {
	recipe := llmstage.Recipe{
		Role: llmstage.RoleReflex,
		SystemPrompt: "Analyze the user's message. Identify their underlying purpose, whether it needs " +
			"current prices, availability data, or code exploration, and whether it references a prior " +
			"turn by number. Respond as JSON: {\"user_purpose\":\"...\",\"needs_current_prices\":bool," +
			"\"needs_availability\":bool,\"needs_code_exploration\":bool,\"hints\":[...]," +
			"\"referenced_turn\":int|null,\"unresolved_note\":\"...\"}",
		UserPrompt: query,
		MaxTokens:  400,
	}

	out, outcome, _, err := llmstage.RunStructured[analyzeOutput](ctx, o.runner, recipe, nil)
	if err != nil && outcome != llmstage.ParseDefaulted {
		return analyzeOutput{}, newError("llm_error", true, fmt.Errorf("stage 1 analyze: %w", err))
	}
	return out, nil
}

type validateOutput struct {
	Decision      string   `json:"decision"`
	Issues        []string `json:"issues"`
	RetryGuidance []string `json:"retry_guidance"`
}

// runValidation is the shared §1.5/§2.5 helper: a cheap REFLEX-role pass/
// retry/clarify check over the prior stage's output.
func (o *Orchestrator) runValidation(ctx context.Context, label, subject string) (model.ValidationAttempt, error) {
	recipe := llmstage.Recipe{
		Role: llmstage.RoleReflex,
		SystemPrompt: fmt.Sprintf("Validate the following %s for completeness and internal consistency. "+
			"Respond as JSON: {\"decision\":\"pass|retry|clarify\",\"issues\":[...],\"retry_guidance\":[...]}", label),
		UserPrompt: subject,
		MaxTokens:  300,
	}

	out, outcome, _, err := llmstage.RunStructured[validateOutput](ctx, o.runner, recipe, nil)
	attempt := model.ValidationAttempt{At: time.Now().UTC()}
	if err != nil && outcome != llmstage.ParseDefaulted {
		return attempt, newError("llm_error", true, fmt.Errorf("%s validation: %w", label, err))
	}
	switch strings.ToLower(out.Decision) {
	case string(model.ValidationRetry):
		attempt.Decision = model.ValidationRetry
	case string(model.ValidationClarify):
		attempt.Decision = model.ValidationClarify
	default:
		attempt.Decision = model.ValidationPass
	}
	attempt.Issues = out.Issues
	attempt.RetryGuidance = out.RetryGuidance
	return attempt, nil
}

type planOutput struct {
	Goals           []model.PlanGoal `json:"goals"`
	Approach        string           `json:"approach"`
	SuccessCriteria []string         `json:"success_criteria"`
	Route           string           `json:"route"`
	MissingItems    []string         `json:"missing_items"`
}

// stage3Plan runs the MIND-role planner. suggestedFixes carries §7
// RETRY feedback back in as PlanRetryMeta on re-entry.
func (o *Orchestrator) stage3Plan(ctx context.Context, query, context string, attempt int, suggestedFixes []string) (model.StrategicPlan, error) {
	prompt := "Context gathered for this turn:\n" + context + "\n\nUser message:\n" + query
	if len(suggestedFixes) > 0 {
		prompt += "\n\nThe previous attempt at this turn failed validation with these fixes suggested:\n- " + strings.Join(suggestedFixes, "\n- ")
	}

	recipe := llmstage.Recipe{
		Role: llmstage.RoleMind,
		SystemPrompt: "Produce a strategic plan for handling this turn. Respond as JSON: " +
			"{\"goals\":[{\"id\":\"...\",\"description\":\"...\",\"priority\":int,\"depends_on\":[...]}]," +
			"\"approach\":\"...\",\"success_criteria\":[...],\"route\":\"executor|synthesis|clarify|refresh_context\"," +
			"\"missing_items\":[...]}",
		UserPrompt: prompt,
		MaxTokens:  800,
	}

	out, outcome, _, err := llmstage.RunStructured[planOutput](ctx, o.runner, recipe, nil)
	if err != nil && outcome != llmstage.ParseDefaulted {
		return model.StrategicPlan{}, newError("llm_error", true, fmt.Errorf("stage 3 plan: %w", err))
	}

	route := model.Route(out.Route)
	switch route {
	case model.RouteExecutor, model.RouteSynthesis, model.RouteClarify, model.RouteRefreshContext:
	default:
		route = model.RouteExecutor
	}

	plan := model.StrategicPlan{
		Attempt:         attempt,
		Goals:           out.Goals,
		Approach:        out.Approach,
		SuccessCriteria: out.SuccessCriteria,
		Route:           route,
		MissingItems:    out.MissingItems,
		At:              time.Now().UTC(),
	}
	if len(suggestedFixes) > 0 {
		plan.RetryMeta = &model.PlanRetryMeta{SuggestedFixes: suggestedFixes}
	}
	return plan, nil
}
