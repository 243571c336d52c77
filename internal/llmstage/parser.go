package llmstage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// ParseOutcome records which cascade stage produced the final result, for
// metrics.json's decisions_trail and §7's schema_failure accounting.
type ParseOutcome string

const (
	ParseStrict   ParseOutcome = "strict_json"
	ParseRepaired ParseOutcome = "json_repair"
	ParseExtracted ParseOutcome = "regex_extraction"
	ParseDefaulted ParseOutcome = "schema_defaulted"
)

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// ParseForgiving runs the four-stage cascade from §7: strict JSON, then JSON
// repair (strip fences/trailing commas), then regex-based field extraction
// via extractFields, then a schema-defaulted zero value. Every stage past the
// first is a documented degradation, logged, never silent.
func ParseForgiving[T any](ctx context.Context, raw string, extractFields func(string) (T, bool)) (T, ParseOutcome, error) {
	var out T

	if err := json.Unmarshal([]byte(raw), &out); err == nil {
		return out, ParseStrict, nil
	}

	repaired := repairJSON(raw)
	if repaired != raw {
		if err := json.Unmarshal([]byte(repaired), &out); err == nil {
			slog.WarnContext(ctx, "llm output required json repair", "stage", "parse", "outcome", ParseRepaired)
			return out, ParseRepaired, nil
		}
	}

	if extractFields != nil {
		if extracted, ok := extractFields(raw); ok {
			slog.WarnContext(ctx, "llm output parsed via regex extraction", "stage", "parse", "outcome", ParseExtracted)
			return extracted, ParseExtracted, nil
		}
	}

	slog.WarnContext(ctx, "llm output fell back to schema default", "stage", "parse", "outcome", ParseDefaulted)
	return out, ParseDefaulted, fmt.Errorf("schema_failure: no parse stage produced a valid %T", out)
}

// repairJSON strips Markdown code fences and trailing commas, the two most
// common reasons a structurally-intended JSON blob fails strict Unmarshal.
func repairJSON(raw string) string {
	s := raw
	if m := fencedJSON.FindStringSubmatch(s); m != nil {
		s = m[1]
	} else {
		s = strings.TrimSpace(s)
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
	}
	s = strings.TrimSpace(s)

	// Drop a trailing comma before a closing brace/bracket.
	s = regexp.MustCompile(`,\s*([}\]])`).ReplaceAllString(s, "$1")

	return s
}
