// Package config loads Hubmate configuration from defaults, an optional
// YAML file, and HUBMATE_-prefixed environment variables, in that order.
package config

import (
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/hubmate/hubmate/pkg/errors"
)

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Log       LogConfig       `koanf:"log"`
	LLM       LLMConfig       `koanf:"llm"`
	GitHub    GitHubConfig    `koanf:"github"`
	Backend   BackendConfig   `koanf:"backend"`
	History   HistoryConfig   `koanf:"history"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

type ServerConfig struct {
	Addr string `koanf:"addr"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type LLMConfig struct {
	Model       string  `koanf:"model"`
	BaseURL     string  `koanf:"base_url"`
	APIKey      string  `koanf:"api_key"`
	Temperature float64 `koanf:"temperature"`
	// MaxTokens caps planner output per pass; 0 leaves the provider limit.
	MaxTokens int `koanf:"max_tokens"`
}

type GitHubConfig struct {
	Token string `koanf:"token"`
	Owner string `koanf:"owner"`
	Repo  string `koanf:"repo"`
	// Developers is the comma-separated login list used for round-robin
	// issue allocation.
	Developers string `koanf:"developers"`
	// Categories is the comma-separated allow-list for task category labels.
	Categories string `koanf:"categories"`
}

type BackendConfig struct {
	BaseURL string        `koanf:"base_url"`
	Timeout time.Duration `koanf:"timeout"`
	Retries int           `koanf:"retries"`
}

type HistoryConfig struct {
	Backend string `koanf:"backend"` // memory, sqlite
	Path    string `koanf:"path"`    // sqlite file path
	Window  int    `koanf:"window"`  // max messages kept per session
}

type TelemetryConfig struct {
	Exporter     string `koanf:"exporter"` // stdout, otlp, none
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	OTLPInsecure bool   `koanf:"otlp_insecure"`
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Defaults
	k.Set("server.addr", ":8080")
	k.Set("log.level", "info")
	k.Set("log.format", "text")
	k.Set("llm.model", "gpt-4o-mini")
	k.Set("llm.temperature", 0.2)
	k.Set("github.categories", "bug,feature,documentation,infrastructure,design")
	k.Set("backend.timeout", "15s")
	k.Set("backend.retries", 3)
	k.Set("history.backend", "memory")
	k.Set("history.path", "hubmate.db")
	k.Set("history.window", 50)
	k.Set("telemetry.exporter", "stdout")

	// 1. Load from file
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	// 2. Load from ENV. Sections are single words, so only the first
	// underscore separates section from key: HUBMATE_LLM_API_KEY ->
	// llm.api_key, HUBMATE_TELEMETRY_OTLP_ENDPOINT -> telemetry.otlp_endpoint.
	if err := k.Load(env.Provider("HUBMATE_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "HUBMATE_")), "_", ".", 1)
	}), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the credentials required to create sessions. A miss here
// is fatal: session creation must not proceed without them.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.GitHub.Token) == "" {
		return errors.New(errors.CodeConfig, "github.token is required", nil)
	}
	if strings.TrimSpace(c.GitHub.Owner) == "" || strings.TrimSpace(c.GitHub.Repo) == "" {
		return errors.New(errors.CodeConfig, "github.owner and github.repo are required", nil)
	}
	if strings.TrimSpace(c.LLM.APIKey) == "" {
		return errors.New(errors.CodeConfig, "llm.api_key is required", nil)
	}
	if strings.TrimSpace(c.Backend.BaseURL) == "" {
		return errors.New(errors.CodeConfig, "backend.base_url is required", nil)
	}
	return nil
}

// DeveloperLogins returns the configured developer logins in order.
func (c *Config) DeveloperLogins() []string {
	return splitList(c.GitHub.Developers)
}

// CategoryAllowList returns the allowed task categories in order.
func (c *Config) CategoryAllowList() []string {
	return splitList(c.GitHub.Categories)
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
