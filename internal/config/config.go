// Package config loads the thin set of tunables this core exposes as
// configurable: autonomy level, worker pool sizing, context compaction
// parameters, loop limits, idle eviction, and pairing TTLs. Full schema
// validation and config-file layering (the teacher's $include/json5
// machinery) are out of scope; this is deliberately a flat YAML struct.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration document.
type Config struct {
	Gateway GatewayConfig `yaml:"gateway"`
	Agent   AgentConfig   `yaml:"agent"`
	Pairing PairingConfig `yaml:"pairing"`
	Auth    AuthConfig    `yaml:"auth"`
}

// GatewayConfig configures the HTTP + WebSocket façade.
type GatewayConfig struct {
	Addr string `yaml:"addr"`
}

// AgentConfig configures the Agent Loop, Context Manager, and Tool Worker Pool.
type AgentConfig struct {
	Autonomy             string        `yaml:"autonomy"`
	MaxIterations        int           `yaml:"max_iterations"`
	MaxRetries           int           `yaml:"max_retries"`
	MaxWorkers           int           `yaml:"max_workers"`
	TaskTimeout          time.Duration `yaml:"task_timeout"`
	MaxContextTokens     int           `yaml:"max_context_tokens"`
	CompactionThreshold  float64       `yaml:"compaction_threshold"`
	IdleEvictionInterval time.Duration `yaml:"idle_eviction_interval"`
}

// PairingConfig configures the Pairing Manager's code and token lifetimes.
type PairingConfig struct {
	CodeTTL  time.Duration `yaml:"code_ttl"`
	TokenTTL time.Duration `yaml:"token_ttl"`
}

// AuthConfig configures the Gateway's optional JWT bearer-token path.
type AuthConfig struct {
	Secret string        `yaml:"secret"`
	Expiry time.Duration `yaml:"expiry"`
}

// Defaults mirrors the spec's stated defaults for every tunable.
func Defaults() Config {
	return Config{
		Gateway: GatewayConfig{Addr: ":8080"},
		Agent: AgentConfig{
			Autonomy:             "readonly",
			MaxIterations:        50,
			MaxRetries:           3,
			MaxWorkers:           4,
			TaskTimeout:          60 * time.Second,
			MaxContextTokens:     128000,
			CompactionThreshold:  0.8,
			IdleEvictionInterval: 5 * time.Minute,
		},
		Pairing: PairingConfig{
			CodeTTL:  10 * time.Minute,
			TokenTTL: 30 * 24 * time.Hour,
		},
	}
}

// Load reads and parses a YAML config file, expanding ${VAR} environment
// references the same way the teacher's loader does, and filling unset
// fields from Defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path == "" {
		return &cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	expanded := os.ExpandEnv(string(data))

	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}
