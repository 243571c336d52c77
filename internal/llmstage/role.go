// Package llmstage is the Stage Runner (§4, §6, C7): a thin layer over
// common/llm's AgentClient that resolves a named role to a concrete model and
// temperature, and forgivingly parses whatever text comes back into a typed
// result.
package llmstage

// Role is a labeled (temperature, model-capacity) tuple (§9 GLOSSARY). The
// mapping from role to concrete model/temperature is configurable (§6).
type Role string

const (
	// RoleReflex is fast/near-deterministic: query analysis, term extraction,
	// turn summaries, semantic workflow classification.
	RoleReflex Role = "reflex"
	// RoleMind is balanced reasoning: planning, validation, batch reflection.
	RoleMind Role = "mind"
	// RoleVoice is natural, user-facing: final response synthesis.
	RoleVoice Role = "voice"
	// RoleNerves compresses: token-budget reduction before a call that would
	// otherwise overflow context.
	RoleNerves Role = "nerves"
)

// RoleConfig is one row of the role registry: which model backs a role and
// at what temperature.
type RoleConfig struct {
	Model       string
	Temperature float64
}

// DefaultRoleConfig is used for any role not present in a loaded registry,
// matching the temperature bands in spec.md §6.
var DefaultRoleConfig = map[Role]RoleConfig{
	RoleReflex: {Temperature: 0.3},
	RoleMind:   {Temperature: 0.55},
	RoleVoice:  {Temperature: 0.7},
	RoleNerves: {Temperature: 0.3},
}
