package llmstage

import (
	"context"
	"fmt"

	"basegraph.app/pandora/common/llm"
)

// Recipe is one Stage Runner call: a role, the prompt pair, optional tools
// and a token cap. Callers that need a typed result pass a forgiving-parse
// extractor to RunStructured alongside the recipe.
type Recipe struct {
	Role         Role
	SystemPrompt string
	UserPrompt   string
	Tools        []llm.Tool
	MaxTokens    int
}

// Result is the raw outcome of a recipe call, before any typed parse.
type Result struct {
	Content          string
	ToolCalls        []llm.ToolCall
	PromptTokens     int
	CompletionTokens int
}

// Runner executes recipes against the Registry's role-resolved clients.
type Runner struct {
	registry *Registry
}

func NewRunner(registry *Registry) *Runner {
	return &Runner{registry: registry}
}

// Run performs one role-resolved chat call, with or without tools.
func (r *Runner) Run(ctx context.Context, recipe Recipe) (*Result, error) {
	client, temperature, err := r.registry.Resolve(recipe.Role)
	if err != nil {
		return nil, fmt.Errorf("resolving role %s: %w", recipe.Role, err)
	}

	messages := []llm.Message{
		{Role: "system", Content: recipe.SystemPrompt},
		{Role: "user", Content: recipe.UserPrompt},
	}

	resp, err := client.ChatWithTools(ctx, llm.AgentRequest{
		Messages:    messages,
		Tools:       recipe.Tools,
		MaxTokens:   recipe.MaxTokens,
		Temperature: &temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("llm_error: %w", err)
	}

	return &Result{
		Content:          resp.Content,
		ToolCalls:        resp.ToolCalls,
		PromptTokens:     resp.PromptTokens,
		CompletionTokens: resp.CompletionTokens,
	}, nil
}

// RecipeRunner is the narrow interface RunStructured needs; *Runner
// satisfies it, and tests can swap in a fake without touching a real
// role registry or LLM client.
type RecipeRunner interface {
	Run(ctx context.Context, recipe Recipe) (*Result, error)
}

// RunStructured performs a Run and forgivingly parses the text content into
// T, falling back through the cascade in ParseForgiving.
func RunStructured[T any](ctx context.Context, r RecipeRunner, recipe Recipe, extractFields func(string) (T, bool)) (T, ParseOutcome, *Result, error) {
	result, err := r.Run(ctx, recipe)
	if err != nil {
		var zero T
		return zero, "", nil, err
	}
	parsed, outcome, err := ParseForgiving(ctx, result.Content, extractFields)
	return parsed, outcome, result, err
}
