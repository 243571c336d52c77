package orchestrator

import (
	"context"
	"fmt"
	"time"

	"basegraph.app/pandora/internal/intervention"
	"basegraph.app/pandora/internal/llmstage"
	"basegraph.app/pandora/internal/model"
)

const maxExecutorIterations = 10

type coordinatorOutput struct {
	Action    string         `json:"action"`
	Command   string         `json:"command"`
	Tool      string         `json:"tool"`
	Args      map[string]any `json:"args"`
	Analysis  string         `json:"analysis"`
	Reason    string         `json:"reason"`
}

// runExecutorCoordinator drives §4/§5: a COORDINATOR (MIND role) picks the
// next action against the plan and running history, an action of COMMAND
// invokes C5/C4, ANALYZE reflects without a tool call, and COMPLETE/BLOCKED
// end the loop. Capped at maxExecutorIterations.
func (o *Orchestrator) runExecutorCoordinator(ctx context.Context, sessionID string, turnID int64, mode model.Mode, plan model.StrategicPlan, attempt int) ([]model.ExecutionBlock, error) {
	var blocks []model.ExecutionBlock
	history := ""

	for iter := 1; iter <= maxExecutorIterations; iter++ {
		ivs, err := o.interventions.Poll(ctx, sessionID)
		if err != nil {
			return blocks, newError("tool_error", true, fmt.Errorf("polling interventions: %w", err))
		}
		if intervention.HasCancel(ivs) {
			return blocks, newError("cancelled", false, fmt.Errorf("turn cancelled mid-execution"))
		}
		guidance := intervention.ToGuidance(ivs)

		decision, err := o.coordinate(ctx, plan, history, guidance)
		if err != nil {
			return blocks, err
		}

		block := model.ExecutionBlock{
			Attempt:   attempt,
			Iteration: iter,
			Action:    decision.action,
			Command:   decision.out.Command,
			Analysis:  decision.out.Analysis,
			At:        time.Now().UTC(),
		}

		switch decision.action {
		case model.ExecutorActionComplete:
			block.TerminationReason = "goals_met"
			blocks = append(blocks, block)
			return blocks, nil

		case model.ExecutorActionBlocked:
			block.TerminationReason = decision.out.Reason
			blocks = append(blocks, block)
			return blocks, nil

		case model.ExecutorActionAnalyze:
			history += fmt.Sprintf("\n[iteration %d] analysis: %s\n", iter, decision.out.Analysis)
			blocks = append(blocks, block)
			continue

		case model.ExecutorActionCommand:
			req := model.ToolRequest{
				SessionID: sessionID,
				TurnID:    turnID,
				Mode:      mode,
				ToolName:  decision.out.Tool,
				Args:      decision.out.Args,
			}
			result, err := o.tools.Invoke(ctx, req)
			block.ToolSelected = decision.out.Tool
			block.Args = decision.out.Args
			if err != nil {
				block.Status = "failed"
				block.ResultSummary = err.Error()
				blocks = append(blocks, block)
				history += fmt.Sprintf("\n[iteration %d] tool %s failed: %v\n", iter, decision.out.Tool, err)
				continue
			}
			block.Status = "ok"
			block.ResultSummary = summarizeResult(result)
			block.Claims = claimsFromResult(result)
			blocks = append(blocks, block)
			history += fmt.Sprintf("\n[iteration %d] tool %s: %s\n", iter, decision.out.Tool, block.ResultSummary)

		default:
			block.TerminationReason = "unrecognized_action"
			blocks = append(blocks, block)
			return blocks, nil
		}
	}

	if len(blocks) > 0 {
		blocks[len(blocks)-1].TerminationReason = "max_iterations"
	}
	return blocks, nil
}

type coordinatorDecision struct {
	action model.ExecutorAction
	out    coordinatorOutput
}

func (o *Orchestrator) coordinate(ctx context.Context, plan model.StrategicPlan, history string, guidance []model.GuidanceAdjustment) (coordinatorDecision, error) {
	prompt := fmt.Sprintf("Plan approach: %s\nGoals: %+v\nHistory so far:%s", plan.Approach, plan.Goals, history)
	for _, g := range guidance {
		prompt += fmt.Sprintf("\nUser guidance received mid-turn: %s", g.Text)
	}

	recipe := llmstage.Recipe{
		Role: llmstage.RoleMind,
		SystemPrompt: "You are the executor coordinator. Decide the next step. Respond as JSON: " +
			"{\"action\":\"COMMAND|ANALYZE|COMPLETE|BLOCKED\",\"command\":\"...\",\"tool\":\"...\"," +
			"\"args\":{...},\"analysis\":\"...\",\"reason\":\"...\"}",
		UserPrompt: prompt,
		MaxTokens:  500,
	}

	out, outcome, _, err := llmstage.RunStructured[coordinatorOutput](ctx, o.runner, recipe, nil)
	if err != nil && outcome != llmstage.ParseDefaulted {
		return coordinatorDecision{}, newError("llm_error", true, fmt.Errorf("coordinator: %w", err))
	}

	action := model.ExecutorAction(out.Action)
	switch action {
	case model.ExecutorActionCommand, model.ExecutorActionAnalyze, model.ExecutorActionComplete, model.ExecutorActionBlocked:
	default:
		action = model.ExecutorActionComplete
	}
	return coordinatorDecision{action: action, out: out}, nil
}

func summarizeResult(r model.ToolResult) string {
	if r.Error != "" {
		return r.Error
	}
	if text, ok := r.Output["summary"].(string); ok {
		return text
	}
	return fmt.Sprintf("%v", r.Output)
}

func claimsFromResult(r model.ToolResult) []model.Claim {
	raw, ok := r.Output["claims"].([]any)
	if !ok {
		return nil
	}
	claims := make([]model.Claim, 0, len(raw))
	for _, c := range raw {
		m, ok := c.(map[string]any)
		if !ok {
			continue
		}
		text, _ := m["text"].(string)
		source, _ := m["source"].(string)
		confidence, _ := m["confidence"].(float64)
		claims = append(claims, model.Claim{Text: text, Confidence: confidence, Source: source})
	}
	return claims
}
