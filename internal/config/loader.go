package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads and parses a configuration from the given YAML file path.
// After parsing, it applies defaults for fields that are safe to default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault searches for a config in standard locations and loads the first
// one found. Search order: ./interlock.yaml, ~/.interlock/config.yaml
func LoadDefault() (*Config, error) {
	candidates := []string{"interlock.yaml"}

	home, err := os.UserHomeDir()
	if err == nil {
		candidates = append(candidates, filepath.Join(home, ".interlock", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	return nil, fmt.Errorf("no interlock config found (searched: %v)", candidates)
}

// applyDefaults fills operational fields that have sensible defaults. Policy
// fields (coverage gap threshold, quality rubric) are never defaulted; they
// must be set explicitly and Validate enforces that.
func applyDefaults(cfg *Config) {
	if cfg.Engine.MaxRetries == 0 {
		cfg.Engine.MaxRetries = 2
	}
	if cfg.Engine.ActionTimeout == "" {
		cfg.Engine.ActionTimeout = "2m"
	}
	if cfg.Engine.ChunkLines == 0 {
		cfg.Engine.ChunkLines = 40
	}
	if cfg.Budgets.MaxEvidenceItems == 0 {
		cfg.Budgets.MaxEvidenceItems = 24
	}
	if cfg.Budgets.MaxEvidenceTokens == 0 {
		cfg.Budgets.MaxEvidenceTokens = 8000
	}
	if cfg.Budgets.MaxSourcesPerType == 0 {
		cfg.Budgets.MaxSourcesPerType = 5
	}
	if cfg.Budgets.MaxSearchRounds == 0 {
		cfg.Budgets.MaxSearchRounds = 3
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.Path == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.Storage.Path = filepath.Join(home, ".interlock", "interlock.db")
		}
	}
	if cfg.Web.Port == 0 {
		cfg.Web.Port = 8321
	}
}

// ActionTimeout parses the configured per-action timeout.
func (c *Config) ActionTimeout() (time.Duration, error) {
	d, err := time.ParseDuration(c.Engine.ActionTimeout)
	if err != nil {
		return 0, fmt.Errorf("parse engine.action_timeout: %w", err)
	}
	return d, nil
}
