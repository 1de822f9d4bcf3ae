package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_DefaultsAndFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hubmate.yaml")
	content := `
github:
  token: ghp_test
  owner: octo
  repo: demo
  developers: "alice, bob"
llm:
  api_key: sk-test
backend:
  base_url: http://localhost:9000
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Errorf("default server addr not applied: %q", cfg.Server.Addr)
	}
	if cfg.GitHub.Owner != "octo" || cfg.GitHub.Repo != "demo" {
		t.Errorf("file values not applied: %+v", cfg.GitHub)
	}
	if cfg.History.Backend != "memory" {
		t.Errorf("default history backend not applied: %q", cfg.History.Backend)
	}

	devs := cfg.DeveloperLogins()
	if len(devs) != 2 || devs[0] != "alice" || devs[1] != "bob" {
		t.Errorf("developer list not parsed: %v", devs)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("HUBMATE_GITHUB_TOKEN", "ghp_env")
	t.Setenv("HUBMATE_GITHUB_OWNER", "octo")
	t.Setenv("HUBMATE_GITHUB_REPO", "demo")
	t.Setenv("HUBMATE_LLM_API_KEY", "sk-env")
	t.Setenv("HUBMATE_LLM_BASE_URL", "http://localhost:11434/v1")
	t.Setenv("HUBMATE_BACKEND_BASE_URL", "http://localhost:9000")
	t.Setenv("HUBMATE_TELEMETRY_OTLP_ENDPOINT", "collector:4317")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.LLM.APIKey != "sk-env" {
		t.Errorf("llm.api_key not reachable via env: %q", cfg.LLM.APIKey)
	}
	if cfg.LLM.BaseURL != "http://localhost:11434/v1" {
		t.Errorf("llm.base_url not reachable via env: %q", cfg.LLM.BaseURL)
	}
	if cfg.Backend.BaseURL != "http://localhost:9000" {
		t.Errorf("backend.base_url not reachable via env: %q", cfg.Backend.BaseURL)
	}
	if cfg.Telemetry.OTLPEndpoint != "collector:4317" {
		t.Errorf("telemetry.otlp_endpoint not reachable via env: %q", cfg.Telemetry.OTLPEndpoint)
	}

	// An env-only deployment must pass validation.
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid env-only config, got %v", err)
	}
}

func TestValidate_MissingCredentials(t *testing.T) {
	cfg := &Config{}
	if err := cfg.Validate(); err == nil {
		t.Error("expected configuration error for empty config")
	}

	cfg.GitHub.Token = "ghp_x"
	cfg.GitHub.Owner = "octo"
	cfg.GitHub.Repo = "demo"
	if err := cfg.Validate(); err == nil {
		t.Error("expected configuration error for missing llm api key")
	}
}

func TestCategoryAllowList_Defaults(t *testing.T) {
	cfg := &Config{}
	cfg.GitHub.Categories = "bug,feature, design ,"
	cats := cfg.CategoryAllowList()
	if len(cats) != 3 || cats[2] != "design" {
		t.Errorf("unexpected categories: %v", cats)
	}
}
