package toolexec

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"

	"basegraph.app/pandora/internal/model"
	"basegraph.app/pandora/internal/workflow"
)

var placeholderVar = regexp.MustCompile(`\{\{([a-zA-Z0-9_]+)\}\}`)

// WorkflowResult is the accumulated output of a stepped-through workflow, one
// entry per WorkflowStep in order.
type WorkflowResult struct {
	WorkflowName string
	Steps        []model.ToolResult
}

// RunWorkflow steps through every WorkflowStep of a matched workflow,
// substituting `{{var}}` placeholders in each step's args from the matcher's
// captures and prior steps' outputs before invoking the step's tool.
func (e *Executor) RunWorkflow(ctx context.Context, req model.ToolRequest, match *model.WorkflowMatch) (WorkflowResult, error) {
	wf := match.Workflow
	vars := make(map[string]string, len(match.Captures))
	for k, v := range match.Captures {
		vars[k] = v
	}

	out := WorkflowResult{WorkflowName: wf.Name}
	for _, step := range wf.Steps {
		args := make(map[string]any, len(step.Args))
		for k, v := range step.Args {
			args[k] = substitute(v, vars)
		}

		stepReq := req
		stepReq.ToolName = step.Tool
		stepReq.Args = args

		slog.InfoContext(ctx, "workflow step", "workflow", wf.Name, "step", step.Name, "tool", step.Tool)
		result, err := e.Invoke(ctx, stepReq)
		if err != nil {
			if wf.Fallback != nil {
				return out, NewRetryableError(fmt.Errorf("workflow %s step %s failed, fallback to %s: %w", wf.Name, step.Name, wf.Fallback.Workflow, err))
			}
			return out, fmt.Errorf("workflow %s step %s: %w", wf.Name, step.Name, err)
		}
		out.Steps = append(out.Steps, result)

		for _, name := range step.Outputs {
			if text, ok := result.Output["text"].(string); ok {
				vars[name] = text
			} else if raw, err := marshalForVar(result.Output); err == nil {
				vars[name] = raw
			}
		}
	}
	return out, nil
}

func substitute(template string, vars map[string]string) string {
	return placeholderVar.ReplaceAllStringFunc(template, func(m string) string {
		name := placeholderVar.FindStringSubmatch(m)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		return m
	})
}

func marshalForVar(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// MatchWorkflow is a thin pass-through to the workflow registry, kept here
// so orchestrator code only needs the toolexec package for the full
// match-then-step path.
func MatchWorkflow(ctx context.Context, registry *workflow.Registry, command string) (*model.WorkflowMatch, error) {
	return registry.Match(ctx, command)
}
