package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Dispatch.Strategy != "sticky" {
		t.Errorf("default strategy = %q", cfg.Dispatch.Strategy)
	}
	if cfg.Server.Port != 8787 {
		t.Errorf("default port = %d", cfg.Server.Port)
	}
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Dispatch.MaxRetries != MaxRetries {
		t.Errorf("max retries = %d", cfg.Dispatch.MaxRetries)
	}
}

func TestLoadYAMLWithEnvExpansion(t *testing.T) {
	t.Setenv("TEST_RELAY_KEY", "sk-secret")
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
server:
  port: 9999
  api_key: ${TEST_RELAY_KEY}
dispatch:
  strategy: hybrid
  max_retries: 5
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Server.APIKey != "sk-secret" {
		t.Errorf("api key = %q", cfg.Server.APIKey)
	}
	if cfg.Dispatch.Strategy != "hybrid" {
		t.Errorf("strategy = %q", cfg.Dispatch.Strategy)
	}
	if cfg.Dispatch.MaxRetries != 5 {
		t.Errorf("max retries = %d", cfg.Dispatch.MaxRetries)
	}
	// untouched fields keep defaults
	if cfg.Dispatch.DefaultCooldownMs != DefaultCooldownMs {
		t.Errorf("cooldown = %d", cfg.Dispatch.DefaultCooldownMs)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("RELAY_STRATEGY", "round-robin")
	t.Setenv("RELAY_PORT", "8080")
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("dispatch:\n  strategy: sticky\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Dispatch.Strategy != "round-robin" {
		t.Errorf("strategy = %q", cfg.Dispatch.Strategy)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
}

func TestValidateRejectsUnknownStrategy(t *testing.T) {
	cfg := Default()
	cfg.Dispatch.Strategy = "random"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestValidateRejectsEmptyEndpoints(t *testing.T) {
	cfg := Default()
	cfg.Dispatch.Endpoints = nil
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error")
	}
}
