package workflow

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"basegraph.app/pandora/internal/llmstage"
	"basegraph.app/pandora/internal/model"
)

var placeholderPattern = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)

// classifyOutput is the semantic-classifier LLM call's forced-JSON shape.
type classifyOutput struct {
	WorkflowName string  `json:"workflow_name"`
	Confidence   float64 `json:"confidence"`
}

// Match runs the matching strategies from §4.4 in order and returns the
// highest-confidence hit at or above MatchThreshold, or nil (single-tool path).
func (r *Registry) Match(ctx context.Context, command string) (*model.WorkflowMatch, error) {
	normalized := strings.ToLower(strings.TrimSpace(command))
	workflows := r.All()

	if m := matchExactIntent(workflows, normalized); m != nil {
		return m, nil
	}
	if m := matchLiteralPhrase(workflows, normalized); m != nil {
		return m, nil
	}
	if m := matchGlobPlaceholder(workflows, normalized); m != nil {
		return m, nil
	}
	if r.runner != nil {
		m, err := r.matchSemantic(ctx, workflows, command)
		if err != nil {
			return nil, fmt.Errorf("semantic workflow classification: %w", err)
		}
		if m != nil {
			return m, nil
		}
	}
	if m := matchKeywordFallback(workflows, normalized); m != nil {
		return m, nil
	}

	return nil, nil
}

func matchExactIntent(workflows []model.Workflow, normalized string) *model.WorkflowMatch {
	for i := range workflows {
		wf := workflows[i]
		for _, t := range wf.Triggers {
			if t.Intent != "" && strings.ToLower(t.Intent) == normalized {
				return &model.WorkflowMatch{Workflow: &workflows[i], Confidence: 1.0, Strategy: "exact_intent"}
			}
		}
	}
	return nil
}

func matchLiteralPhrase(workflows []model.Workflow, normalized string) *model.WorkflowMatch {
	for i := range workflows {
		wf := workflows[i]
		for _, t := range wf.Triggers {
			if t.Pattern == "" || strings.Contains(t.Pattern, "{") {
				continue
			}
			if strings.ToLower(t.Pattern) == normalized {
				return &model.WorkflowMatch{Workflow: &workflows[i], Confidence: 0.95, Strategy: "literal_phrase"}
			}
		}
	}
	return nil
}

func matchGlobPlaceholder(workflows []model.Workflow, normalized string) *model.WorkflowMatch {
	for i := range workflows {
		wf := workflows[i]
		for _, t := range wf.Triggers {
			if t.Pattern == "" || !strings.Contains(t.Pattern, "{") {
				continue
			}
			captures, ok := matchPatternWithCaptures(t.Pattern, normalized)
			if !ok {
				continue
			}
			return &model.WorkflowMatch{Workflow: &workflows[i], Confidence: 0.85, Captures: captures, Strategy: "glob_placeholder"}
		}
	}
	return nil
}

// matchPatternWithCaptures converts a `{placeholder}` pattern into a regex
// capturing any non-empty text, spaces included, at that position.
func matchPatternWithCaptures(pattern, input string) (map[string]string, bool) {
	names := []string{}
	var b strings.Builder
	b.WriteString("^")
	rest := pattern
	for {
		loc := placeholderPattern.FindStringSubmatchIndex(rest)
		if loc == nil {
			b.WriteString(regexp.QuoteMeta(rest))
			break
		}
		b.WriteString(regexp.QuoteMeta(rest[:loc[0]]))
		name := rest[loc[2]:loc[3]]
		names = append(names, name)
		b.WriteString(fmt.Sprintf("(?P<%s>.+?)", name))
		rest = rest[loc[1]:]
	}
	b.WriteString("$")

	re, err := regexp.Compile(strings.ToLower(b.String()))
	if err != nil {
		return nil, false
	}
	m := re.FindStringSubmatch(input)
	if m == nil {
		return nil, false
	}
	captures := make(map[string]string, len(names))
	for _, name := range re.SubexpNames() {
		if name == "" {
			continue
		}
		captures[name] = m[re.SubexpIndex(name)]
	}
	return captures, true
}

func (r *Registry) matchSemantic(ctx context.Context, workflows []model.Workflow, command string) (*model.WorkflowMatch, error) {
	if len(workflows) == 0 {
		return nil, nil
	}

	var catalog strings.Builder
	for _, wf := range workflows {
		fmt.Fprintf(&catalog, "- %s (%s)\n", wf.Name, wf.Category)
	}

	recipe := llmstage.Recipe{
		Role: llmstage.RoleReflex,
		SystemPrompt: "Classify the user command against the workflow catalog below. " +
			"Respond as JSON: {\"workflow_name\": \"...\", \"confidence\": 0.0-1.0}. " +
			"If nothing fits, return confidence 0.\n\nCatalog:\n" + catalog.String(),
		UserPrompt: command,
		MaxTokens:  150,
	}

	out, _, _, err := llmstage.RunStructured[classifyOutput](ctx, r.runner, recipe, nil)
	if err != nil {
		return nil, err
	}
	if out.Confidence < MatchThreshold {
		return nil, nil
	}
	for i := range workflows {
		if workflows[i].Name == out.WorkflowName {
			return &model.WorkflowMatch{Workflow: &workflows[i], Confidence: out.Confidence, Strategy: "semantic_classifier"}, nil
		}
	}
	return nil, nil
}

func matchKeywordFallback(workflows []model.Workflow, normalized string) *model.WorkflowMatch {
	words := strings.Fields(normalized)
	if len(words) == 0 {
		return nil
	}
	wordSet := make(map[string]bool, len(words))
	for _, w := range words {
		wordSet[w] = true
	}

	var best *model.WorkflowMatch
	for i := range workflows {
		wf := workflows[i]
		var keywords []string
		for _, t := range wf.Triggers {
			keywords = append(keywords, strings.Fields(strings.ToLower(t.Intent))...)
			keywords = append(keywords, strings.Fields(strings.ToLower(strings.ReplaceAll(t.Pattern, "{", " ")))...)
		}
		if len(keywords) == 0 {
			continue
		}
		hits := 0
		for _, k := range keywords {
			if wordSet[k] {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		confidence := float64(hits) / float64(len(keywords))
		if best == nil || confidence > best.Confidence {
			best = &model.WorkflowMatch{Workflow: &workflows[i], Confidence: confidence, Strategy: "keyword_fallback"}
		}
	}
	if best != nil && best.Confidence >= MatchThreshold {
		return best
	}
	return nil
}
