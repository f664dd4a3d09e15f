package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultsMatchSpecDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Agent.MaxIterations != 50 {
		t.Fatalf("MaxIterations = %d, want 50", cfg.Agent.MaxIterations)
	}
	if cfg.Agent.MaxRetries != 3 {
		t.Fatalf("MaxRetries = %d, want 3", cfg.Agent.MaxRetries)
	}
	if cfg.Pairing.CodeTTL != 10*time.Minute {
		t.Fatalf("CodeTTL = %v, want 10m", cfg.Pairing.CodeTTL)
	}
}

func TestLoadWithEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Gateway.Addr != ":8080" {
		t.Fatalf("Addr = %q, want :8080", cfg.Gateway.Addr)
	}
}

func TestLoadOverridesDefaultsFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := `
gateway:
  addr: ":9090"
agent:
  autonomy: supervised
  max_workers: 8
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Gateway.Addr != ":9090" {
		t.Fatalf("Addr = %q, want :9090", cfg.Gateway.Addr)
	}
	if cfg.Agent.Autonomy != "supervised" {
		t.Fatalf("Autonomy = %q, want supervised", cfg.Agent.Autonomy)
	}
	if cfg.Agent.MaxWorkers != 8 {
		t.Fatalf("MaxWorkers = %d, want 8", cfg.Agent.MaxWorkers)
	}
	// Fields absent from the file keep their default.
	if cfg.Agent.MaxIterations != 50 {
		t.Fatalf("MaxIterations = %d, want default 50", cfg.Agent.MaxIterations)
	}
}

func TestLoadExpandsEnvironmentVariables(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("auth:\n  secret: \"${TEST_AGENTCORE_SECRET}\"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("TEST_AGENTCORE_SECRET", "shh")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Auth.Secret != "shh" {
		t.Fatalf("Secret = %q, want shh", cfg.Auth.Secret)
	}
}
