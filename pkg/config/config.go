// SPDX-License-Identifier: AGPL-3.0
// Copyright 2026 Quorum Labs
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads the runtime configuration from the environment
// and an optional YAML file.
//
// Precedence, lowest to highest: defaults, YAML file, environment.
// A .env file next to the working directory is loaded into the
// environment first when present.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	koanfyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the full runtime configuration.
type Config struct {
	// DatabaseURL enables SQL persistence. Empty means in-memory mode.
	DatabaseURL string `koanf:"database_url"`

	// CORSOrigins is accepted as a JSON array or a comma-separated list.
	CORSOrigins []string `koanf:"cors_origins"`

	// StoragePath is the local blob directory. On access failure the
	// runtime falls back across StoragePathCandidates in order.
	StoragePath           string   `koanf:"storage_path"`
	StoragePathCandidates []string `koanf:"storage_path_candidates"`

	Models    ModelsConfig    `koanf:"models"`
	Providers ProvidersConfig `koanf:"providers"`
	Limits    LimitsConfig    `koanf:"limits"`
	Log       LogConfig       `koanf:"log"`
}

// ModelsConfig names the default routing targets. Every target must
// exist in the model registry at startup.
type ModelsConfig struct {
	Default       string `koanf:"default"`
	Reasoning     string `koanf:"reasoning"`
	Advanced      string `koanf:"advanced"`
	Fast          string `koanf:"fast"`
	Multimodal    string `koanf:"multimodal"`
	Embedding     string `koanf:"embedding"`
	Search        string `koanf:"search"`
	CostEfficient string `koanf:"cost_efficient"`
}

// Targets returns the non-empty routing targets keyed by role.
func (m ModelsConfig) Targets() map[string]string {
	out := make(map[string]string)
	for role, id := range map[string]string{
		"default":        m.Default,
		"reasoning":      m.Reasoning,
		"advanced":       m.Advanced,
		"fast":           m.Fast,
		"multimodal":     m.Multimodal,
		"embedding":      m.Embedding,
		"search":         m.Search,
		"cost_efficient": m.CostEfficient,
	} {
		if id != "" {
			out[role] = id
		}
	}
	return out
}

// ProvidersConfig holds one API key per provider. An empty key disables
// the provider.
type ProvidersConfig struct {
	OpenAIAPIKey     string `koanf:"openai_api_key"`
	AnthropicAPIKey  string `koanf:"anthropic_api_key"`
	GroqAPIKey       string `koanf:"groq_api_key"`
	GoogleAPIKey     string `koanf:"google_api_key"`
	PerplexityAPIKey string `koanf:"perplexity_api_key"`
	XAIAPIKey        string `koanf:"xai_api_key"`
	MoonshotAPIKey   string `koanf:"moonshot_api_key"`
	QwenAPIKey       string `koanf:"qwen_api_key"`
}

// Any reports whether at least one provider is configured.
func (p ProvidersConfig) Any() bool {
	for _, k := range []string{
		p.OpenAIAPIKey, p.AnthropicAPIKey, p.GroqAPIKey, p.GoogleAPIKey,
		p.PerplexityAPIKey, p.XAIAPIKey, p.MoonshotAPIKey, p.QwenAPIKey,
	} {
		if k != "" {
			return true
		}
	}
	return false
}

// LimitsConfig bounds concurrency, time, and spend.
type LimitsConfig struct {
	RateLimitRequestsPerMinute int     `koanf:"rate_limit_requests_per_minute"`
	SessionTimeoutMinutes      int     `koanf:"session_timeout_minutes"`
	MaxConcurrentSessions      int     `koanf:"max_concurrent_sessions"`
	AgentTimeoutSeconds        int     `koanf:"agent_timeout_seconds"`
	MaxWorkflowDurationHours   int     `koanf:"max_workflow_duration_hours"`
	MaxAgentsPerWorkflow       int     `koanf:"max_agents_per_workflow"`
	SpendBudgetUSDPerHour      float64 `koanf:"spend_budget_usd_per_hour"`
	CacheTTLSeconds            int     `koanf:"cache_ttl_seconds"`
}

// SessionTimeout returns the session idle timeout.
func (l LimitsConfig) SessionTimeout() time.Duration {
	return time.Duration(l.SessionTimeoutMinutes) * time.Minute
}

// AgentTimeout returns the per-agent call deadline.
func (l LimitsConfig) AgentTimeout() time.Duration {
	return time.Duration(l.AgentTimeoutSeconds) * time.Second
}

// MaxWorkflowDuration returns the whole-workflow deadline.
func (l LimitsConfig) MaxWorkflowDuration() time.Duration {
	return time.Duration(l.MaxWorkflowDurationHours) * time.Hour
}

// CacheTTL returns the gateway response cache TTL.
func (l LimitsConfig) CacheTTL() time.Duration {
	return time.Duration(l.CacheTTLSeconds) * time.Second
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	File   string `koanf:"file"`
}

// Default returns the configuration defaults.
func Default() *Config {
	return &Config{
		StoragePathCandidates: []string{"./data", "/tmp/quorum"},
		Models: ModelsConfig{
			Default: "openai/gpt-4o-mini",
		},
		Limits: LimitsConfig{
			RateLimitRequestsPerMinute: 60,
			SessionTimeoutMinutes:      30,
			MaxConcurrentSessions:      100,
			AgentTimeoutSeconds:        60,
			MaxWorkflowDurationHours:   24,
			MaxAgentsPerWorkflow:       8,
			SpendBudgetUSDPerHour:      10,
			CacheTTLSeconds:            3600,
		},
		Log: LogConfig{Level: "info", Format: "simple"},
	}
}

// envKeys maps flat environment variable names onto config paths.
var envKeys = map[string]string{
	"DATABASE_URL":                   "database_url",
	"CORS_ORIGINS":                   "cors_origins_raw",
	"STORAGE_PATH":                   "storage_path",
	"DEFAULT_MODEL":                  "models.default",
	"REASONING_MODEL":                "models.reasoning",
	"ADVANCED_MODEL":                 "models.advanced",
	"FAST_MODEL":                     "models.fast",
	"MULTIMODAL_MODEL":               "models.multimodal",
	"EMBEDDING_MODEL":                "models.embedding",
	"SEARCH_MODEL":                   "models.search",
	"COST_EFFICIENT_MODEL":           "models.cost_efficient",
	"OPENAI_API_KEY":                 "providers.openai_api_key",
	"ANTHROPIC_API_KEY":              "providers.anthropic_api_key",
	"GROQ_API_KEY":                   "providers.groq_api_key",
	"GOOGLE_API_KEY":                 "providers.google_api_key",
	"PERPLEXITY_API_KEY":             "providers.perplexity_api_key",
	"XAI_API_KEY":                    "providers.xai_api_key",
	"MOONSHOT_API_KEY":               "providers.moonshot_api_key",
	"QWEN_API_KEY":                   "providers.qwen_api_key",
	"RATE_LIMIT_REQUESTS_PER_MINUTE": "limits.rate_limit_requests_per_minute",
	"SESSION_TIMEOUT_MINUTES":        "limits.session_timeout_minutes",
	"MAX_CONCURRENT_SESSIONS":        "limits.max_concurrent_sessions",
	"AGENT_TIMEOUT_SECONDS":          "limits.agent_timeout_seconds",
	"MAX_WORKFLOW_DURATION_HOURS":    "limits.max_workflow_duration_hours",
	"MAX_AGENTS_PER_WORKFLOW":        "limits.max_agents_per_workflow",
	"LOG_LEVEL":                      "log.level",
	"LOG_FORMAT":                     "log.format",
	"LOG_FILE":                       "log.file",
}

// Load builds the configuration. path is an optional YAML file; empty
// means env-only.
func Load(path string) (*Config, error) {
	// Best effort: a missing .env is not an error.
	_ = godotenv.Load()

	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), koanfyaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", func(key string) string {
		if mapped, ok := envKeys[key]; ok {
			return mapped
		}
		return "" // drop unrecognized variables
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if raw := k.String("cors_origins_raw"); raw != "" {
		cfg.CORSOrigins = ParseOrigins(raw)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseOrigins parses CORS_ORIGINS as a JSON array or a comma-separated
// list.
func ParseOrigins(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if strings.HasPrefix(raw, "[") {
		var origins []string
		if err := json.Unmarshal([]byte(raw), &origins); err == nil {
			return origins
		}
	}
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			origins = append(origins, p)
		}
	}
	return origins
}

// ResolveStoragePath returns the first usable storage directory from
// StoragePath plus the candidate list, creating it if needed.
func (c *Config) ResolveStoragePath() (string, error) {
	candidates := c.StoragePathCandidates
	if c.StoragePath != "" {
		candidates = append([]string{c.StoragePath}, candidates...)
	}
	for _, dir := range candidates {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			continue
		}
		probe := dir + "/.probe"
		if err := os.WriteFile(probe, nil, 0o644); err != nil {
			continue
		}
		_ = os.Remove(probe)
		return dir, nil
	}
	return "", fmt.Errorf("no usable storage path among %v", candidates)
}

// Validate checks the configuration invariants.
func (c *Config) Validate() error {
	if c.Limits.RateLimitRequestsPerMinute <= 0 {
		return fmt.Errorf("rate_limit_requests_per_minute must be positive")
	}
	if c.Limits.SessionTimeoutMinutes <= 0 {
		return fmt.Errorf("session_timeout_minutes must be positive")
	}
	if c.Limits.MaxAgentsPerWorkflow < 1 {
		return fmt.Errorf("max_agents_per_workflow must be at least 1")
	}
	if c.Models.Default == "" {
		return fmt.Errorf("models.default cannot be empty")
	}
	return nil
}
