// Package config loads application configuration from environment
// variables, with sensible development defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"basegraph.app/pandora/core/db"
)

// Config holds all application configuration.
type Config struct {
	// Env is the environment name (development, staging, production)
	Env string

	// Port is the HTTP server port
	Port string

	// DB holds database configuration for the turn/research index tables.
	DB db.Config

	OTel OTelConfig

	// Signal carries the Redis stream used to wake the batch reflector.
	Signal SignalConfig

	// LLM configures the default model-client factory used by every role
	// (Reflex/Mind/Voice/Nerves) unless overridden per-role in roles.yaml.
	LLM LLMConfig

	// ToolURL is the base URL of the remote tool-execution service C5 calls.
	ToolURL string

	// AdminAPIKey gates the /api/permissions admin endpoints.
	AdminAPIKey string

	// DashboardURL is surfaced in outbound links (approval requests, etc.).
	DashboardURL string

	EventWebhook EventWebhookConfig

	Typesense TypesenseConfig
	Arango    ArangoConfig

	// DocStoreRoot is the filesystem root for per-user turn documents
	// (users/{user_id}/turns/...), Knowledge/, Knowledge_staging/, Logs/.
	DocStoreRoot string

	// Permissions configures the three-layer tool-permission gate.
	Permissions PermissionConfig

	// WorkOS configures the gateway auth middleware that verifies the caller
	// identity attached to inbound turn requests. The session/identity system
	// itself stays external (spec.md §1 Non-goals); this is only the
	// verification call. Left zero-value (APIKey == "") disables the gate,
	// matching AdminAPIKey's own optional-gate convention.
	WorkOS WorkOSConfig

	RolesFile     string
	WorkflowsDir  string
	DecayTableFile string
}

type OTelConfig struct {
	Endpoint       string
	Headers        string
	ServiceName    string
	ServiceVersion string
}

func (c OTelConfig) Enabled() bool {
	return c.Endpoint != ""
}

type SignalConfig struct {
	RedisURL        string
	Stream          string
	Group           string
	Consumer        string
	DLQStream       string
	TraceHeaderName string
}

type LLMConfig struct {
	BaseURL      string
	APIKey       string
	DefaultModel string
}

type EventWebhookConfig struct {
	URL    string
	Secret string
}

type TypesenseConfig struct {
	Host   string
	APIKey string
}

type ArangoConfig struct {
	URL      string
	Username string
	Password string
	Database string
}

// WorkOSConfig carries the WorkOS AuthKit API key used to verify the WorkOS
// user id a caller presents on the inbound turn contract.
type WorkOSConfig struct {
	APIKey string
}

// PermissionConfig governs C5's three gates: mode (chat vs code write-set),
// repository scope (SAVED_REPO), and approval-wait (out-of-band timeout).
type PermissionConfig struct {
	SavedRepo          string
	EnforceModeGates    bool
	ExternalRepoTimeout time.Duration
	ApprovalWaitTimeout time.Duration
	WriteSetTools       []string
}

// Load loads configuration from environment variables.
// It provides sensible defaults for development.
func Load() Config {
	return Config{
		Env:  getEnv("RELAY_ENV", "development"),
		Port: getEnv("PORT", "8080"),
		DB: db.Config{
			DSN:      buildDSN(),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 10)),
			MinConns: int32(getEnvInt("DB_MIN_CONNS", 2)),
		},
		OTel: OTelConfig{
			Endpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Headers:        getEnv("OTEL_EXPORTER_OTLP_HEADERS", ""),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "pandora-relay"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "dev"),
		},
		Signal: SignalConfig{
			RedisURL:        getEnv("REDIS_URL", "redis://localhost:6379/0"),
			Stream:          getEnv("SIGNAL_STREAM", "turn-saved"),
			Group:           getEnv("SIGNAL_GROUP", "reflector"),
			Consumer:        getEnv("SIGNAL_CONSUMER", hostnameOr("reflector-1")),
			DLQStream:       getEnv("SIGNAL_DLQ_STREAM", "turn-saved-dlq"),
			TraceHeaderName: getEnv("TRACE_HEADER_NAME", "X-Trace-Id"),
		},
		LLM: LLMConfig{
			BaseURL:      getEnv("LLM_URL", "https://api.openai.com/v1"),
			APIKey:       getEnv("LLM_API_KEY", ""),
			DefaultModel: getEnv("LLM_MODEL", "gpt-4o-mini"),
		},
		ToolURL:      getEnv("TOOL_URL", "http://localhost:9090"),
		AdminAPIKey:  getEnv("ADMIN_API_KEY", ""),
		DashboardURL: getEnv("DASHBOARD_URL", "http://localhost:3000"),
		EventWebhook: EventWebhookConfig{
			URL:    getEnv("EVENT_WEBHOOK_URL", ""),
			Secret: getEnv("EVENT_WEBHOOK_SECRET", ""),
		},
		Typesense: TypesenseConfig{
			Host:   getEnv("TYPESENSE_HOST", "http://localhost:8108"),
			APIKey: getEnv("TYPESENSE_API_KEY", ""),
		},
		Arango: ArangoConfig{
			URL:      getEnv("ARANGO_URL", "http://localhost:8529"),
			Username: getEnv("ARANGO_USERNAME", "root"),
			Password: getEnv("ARANGO_PASSWORD", ""),
			Database: getEnv("ARANGO_DATABASE", "pandora"),
		},
		DocStoreRoot: getEnv("DOCSTORE_ROOT", "./data"),
		Permissions: PermissionConfig{
			SavedRepo:           getEnv("SAVED_REPO", ""),
			EnforceModeGates:    getEnvBool("ENFORCE_MODE_GATES", true),
			ExternalRepoTimeout: getEnvDuration("EXTERNAL_REPO_TIMEOUT", 30*time.Second),
			ApprovalWaitTimeout: getEnvDuration("APPROVAL_WAIT_TIMEOUT", 180*time.Second),
			WriteSetTools:       getEnvList("WRITE_SET_TOOLS", []string{"write_file", "edit_file", "run_command", "git_commit", "git_push"}),
		},
		WorkOS: WorkOSConfig{
			APIKey: getEnv("WORKOS_API_KEY", ""),
		},
		RolesFile:      getEnv("ROLES_FILE", "config/roles.yaml"),
		WorkflowsDir:   getEnv("WORKFLOWS_DIR", "config/workflows"),
		DecayTableFile: getEnv("DECAY_TABLE_FILE", "config/decay.yaml"),
	}
}

// buildDSN constructs the database connection string from individual env vars.
func buildDSN() string {
	host := getEnv("DATABASE_HOST", "localhost")
	port := getEnv("DATABASE_PORT", "5432")
	user := getEnv("DATABASE_USER", "postgres")
	password := getEnv("DATABASE_PASSWORD", "postgres")
	name := getEnv("DATABASE_NAME", "basegraph")
	sslMode := getEnv("DATABASE_SSLMODE", "disable")

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		user, password, host, port, name, sslMode,
	)
}

// IsProduction returns true if running in production environment.
func (c Config) IsProduction() bool {
	return c.Env == "production"
}

// IsDevelopment returns true if running in development environment.
func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if t := strings.TrimSpace(p); t != "" {
				out = append(out, t)
			}
		}
		return out
	}
	return fallback
}

func hostnameOr(fallback string) string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return fallback
}
