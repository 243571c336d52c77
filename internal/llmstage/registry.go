package llmstage

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"basegraph.app/pandora/common/llm"
)

// Registry resolves a Role to a live AgentClient, selecting the OpenAI or
// Anthropic implementation by the configured model's name prefix (§6: "the
// mapping from role to concrete model... is configurable").
type Registry struct {
	cfg map[Role]RoleConfig

	mu      sync.Mutex
	clients map[string]llm.AgentClient // keyed by model name, shared across roles
	baseURL string
	apiKey  string
}

type rolesFile struct {
	Roles map[string]struct {
		Model       string  `yaml:"model"`
		Temperature float64 `yaml:"temperature"`
	} `yaml:"roles"`
}

// LoadRegistry reads a YAML role->model/temperature mapping (config/roles.yaml)
// and wires clients lazily against baseURL/apiKey (LLM_URL/LLM_API_KEY, §6).
func LoadRegistry(path, baseURL, apiKey, defaultModel string) (*Registry, error) {
	cfg := make(map[Role]RoleConfig, len(DefaultRoleConfig))
	for r, c := range DefaultRoleConfig {
		c.Model = defaultModel
		cfg[r] = c
	}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading role config %s: %w", path, err)
			}
		} else {
			var f rolesFile
			if err := yaml.Unmarshal(raw, &f); err != nil {
				return nil, fmt.Errorf("parsing role config %s: %w", path, err)
			}
			for name, row := range f.Roles {
				role := Role(name)
				model := row.Model
				if model == "" {
					model = defaultModel
				}
				cfg[role] = RoleConfig{Model: model, Temperature: row.Temperature}
			}
		}
	}

	return &Registry{
		cfg:     cfg,
		clients: make(map[string]llm.AgentClient),
		baseURL: baseURL,
		apiKey:  apiKey,
	}, nil
}

// Resolve returns the AgentClient and temperature to use for a role.
func (r *Registry) Resolve(role Role) (llm.AgentClient, float64, error) {
	cfg, ok := r.cfg[role]
	if !ok {
		cfg = DefaultRoleConfig[role]
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	client, ok := r.clients[cfg.Model]
	if ok {
		return client, cfg.Temperature, nil
	}

	built, err := r.build(cfg.Model)
	if err != nil {
		return nil, 0, fmt.Errorf("building client for role %s model %s: %w", role, cfg.Model, err)
	}
	r.clients[cfg.Model] = built
	return built, cfg.Temperature, nil
}

// build selects between the OpenAI-compatible and Anthropic client
// implementations by model name prefix, both satisfying llm.AgentClient.
func (r *Registry) build(model string) (llm.AgentClient, error) {
	llmCfg := llm.Config{APIKey: r.apiKey, BaseURL: r.baseURL, Model: model}
	if strings.HasPrefix(model, "claude-") {
		return llm.NewAnthropicClient(llmCfg)
	}
	return llm.NewAgentClient(llmCfg)
}
