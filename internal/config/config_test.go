package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadSubstitutesEnv(t *testing.T) {
	t.Setenv("NUKA_TEST_KEY", "sk-live")
	dir := t.TempDir()
	path := filepath.Join(dir, "nuka-reason.json")
	body := `{
  "server": {"port": ${NUKA_TEST_PORT:9090}, "shutdown_timeout": "5s"},
  "providers": [
    {"id": "oai", "type": "openai", "api_key": "${NUKA_TEST_KEY}", "timeout": 30},
    {"id": "claude", "type": "anthropic", "api_key": "${NUKA_TEST_MISSING:none}"}
  ],
  "reasoning": {"consensus_threshold": 0.7, "path_a_provider": "oai", "path_b_provider": "claude"},
  "telemetry": {"prometheus": true}
}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want default 9090", cfg.Server.Port)
	}
	if cfg.Server.ShutdownTimeout.Std() != 5*time.Second {
		t.Errorf("shutdown timeout = %v", cfg.Server.ShutdownTimeout.Std())
	}
	if cfg.Providers[0].APIKey != "sk-live" || cfg.Providers[1].APIKey != "none" {
		t.Errorf("api keys = %q, %q", cfg.Providers[0].APIKey, cfg.Providers[1].APIKey)
	}
	if cfg.Providers[0].Timeout.Std() != 30*time.Second {
		t.Errorf("provider timeout = %v", cfg.Providers[0].Timeout.Std())
	}
	if cfg.Reasoning.ConsensusThreshold != 0.7 {
		t.Errorf("threshold = %v", cfg.Reasoning.ConsensusThreshold)
	}
	if cfg.Reasoning.MaxTokens != 4096 || cfg.Telemetry.RedisStream != "nuka:reasoning:events" {
		t.Errorf("defaults not applied: %+v %+v", cfg.Reasoning, cfg.Telemetry)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Server.Port != 8080 || cfg.Reasoning.ConsensusThreshold != 0.8 || cfg.Reasoning.MaxAttempts != 1 {
		t.Fatalf("defaults = %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	body := `{
  "server": {"port": 70000},
  "providers": [{"id": "a", "type": "gemini"}, {"id": "a"}, {"type": "openai"}],
  "reasoning": {"consensus_threshold": 1.5, "path_b_provider": "ghost"}
}`
	_, err := Parse([]byte(body))
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{"server.port", "consensus_threshold", `unknown type "gemini"`, "duplicate id", "id is required", "ghost"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestParseKeepsZeroThreshold(t *testing.T) {
	cfg, err := Parse([]byte(`{"reasoning": {"consensus_threshold": 0}}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Reasoning.ConsensusThreshold != 0 {
		t.Fatalf("threshold = %v, want explicit 0 kept", cfg.Reasoning.ConsensusThreshold)
	}

	cfg, err = Parse([]byte(`{"reasoning": {"max_tokens": 512}}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Reasoning.ConsensusThreshold != DefaultConsensusThreshold {
		t.Fatalf("threshold = %v, want default %v", cfg.Reasoning.ConsensusThreshold, DefaultConsensusThreshold)
	}
}
