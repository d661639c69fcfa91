package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validConfig = `
engine:
  max_retries: 2
  action_timeout: "90s"
  chunk_lines: 40
budgets:
  max_evidence_items: 24
  max_evidence_tokens: 8000
  max_sources_per_type: 5
  max_search_rounds: 3
coverage:
  gap_threshold: 0.5
quality:
  threshold: 0.7
  weights:
    completeness: 0.4
    clarity: 0.3
    risk_disclosure: 0.3
storage:
  driver: sqlite
  path: /tmp/interlock-test.db
web:
  port: 8321
`

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "interlock.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeTestConfig(t, validConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Engine.MaxRetries != 2 {
		t.Errorf("MaxRetries = %d, want 2", cfg.Engine.MaxRetries)
	}
	if cfg.Budgets.MaxEvidenceItems != 24 {
		t.Errorf("MaxEvidenceItems = %d, want 24", cfg.Budgets.MaxEvidenceItems)
	}
	if cfg.Coverage.GapThreshold == nil || *cfg.Coverage.GapThreshold != 0.5 {
		t.Errorf("GapThreshold = %v, want 0.5", cfg.Coverage.GapThreshold)
	}
	if cfg.Quality.Threshold == nil || *cfg.Quality.Threshold != 0.7 {
		t.Errorf("Threshold = %v, want 0.7", cfg.Quality.Threshold)
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Errorf("Driver = %q, want sqlite", cfg.Storage.Driver)
	}

	d, err := cfg.ActionTimeout()
	if err != nil {
		t.Fatalf("ActionTimeout() error: %v", err)
	}
	if d != 90*time.Second {
		t.Errorf("ActionTimeout = %v, want 90s", d)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	yaml := `
coverage:
  gap_threshold: 0.5
quality:
  threshold: 0.7
  weights:
    completeness: 0.4
    clarity: 0.3
    risk_disclosure: 0.3
`
	path := writeTestConfig(t, yaml)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Engine.MaxRetries != 2 {
		t.Errorf("default MaxRetries = %d, want 2", cfg.Engine.MaxRetries)
	}
	if cfg.Engine.ActionTimeout != "2m" {
		t.Errorf("default ActionTimeout = %q, want 2m", cfg.Engine.ActionTimeout)
	}
	if cfg.Budgets.MaxSearchRounds != 3 {
		t.Errorf("default MaxSearchRounds = %d, want 3", cfg.Budgets.MaxSearchRounds)
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Errorf("default Driver = %q, want sqlite", cfg.Storage.Driver)
	}
	if cfg.Web.Port != 8321 {
		t.Errorf("default Port = %d, want 8321", cfg.Web.Port)
	}
}

func TestPolicyFieldsAreNeverDefaulted(t *testing.T) {
	path := writeTestConfig(t, `
storage:
  driver: sqlite
  path: /tmp/x.db
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	errs := Validate(cfg)
	var fields []string
	for _, e := range errs {
		fields = append(fields, e.Field)
	}
	joined := strings.Join(fields, ",")
	if !strings.Contains(joined, "coverage.gap_threshold") {
		t.Errorf("missing gap threshold not flagged: %v", errs)
	}
	if !strings.Contains(joined, "quality.threshold") {
		t.Errorf("missing quality threshold not flagged: %v", errs)
	}
	if !strings.Contains(joined, "quality.weights") {
		t.Errorf("zero weights not flagged: %v", errs)
	}
}

func TestValidateValidConfig(t *testing.T) {
	path := writeTestConfig(t, validConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	errs := Validate(cfg)
	if len(errs) != 0 {
		t.Errorf("Validate() returned %d errors for valid config:", len(errs))
		for _, e := range errs {
			t.Errorf("  - %s", e)
		}
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name  string
		mod   func(cfg *Config)
		field string
	}{
		{"bad timeout", func(cfg *Config) { cfg.Engine.ActionTimeout = "soon" }, "engine.action_timeout"},
		{"zero items budget", func(cfg *Config) { cfg.Budgets.MaxEvidenceItems = 0 }, "budgets.max_evidence_items"},
		{"threshold out of range", func(cfg *Config) { v := 1.5; cfg.Quality.Threshold = &v }, "quality.threshold"},
		{"gap threshold at one", func(cfg *Config) { v := 1.0; cfg.Coverage.GapThreshold = &v }, "coverage.gap_threshold"},
		{"weights off sum", func(cfg *Config) { cfg.Quality.Weights.Clarity = 0.9 }, "quality.weights"},
		{"unknown driver", func(cfg *Config) { cfg.Storage.Driver = "dynamo" }, "storage.driver"},
		{"postgres without url", func(cfg *Config) { cfg.Storage.Driver = "postgres"; cfg.Storage.URL = "" }, "storage.url"},
		{"bad port", func(cfg *Config) { cfg.Web.Port = 70000 }, "web.port"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Load(writeTestConfig(t, validConfig))
			if err != nil {
				t.Fatal(err)
			}
			tc.mod(cfg)
			errs := Validate(cfg)
			found := false
			for _, e := range errs {
				if e.Field == tc.field {
					found = true
				}
			}
			if !found {
				t.Errorf("field %s not flagged, got %v", tc.field, errs)
			}
		})
	}
}

func TestRunBudgets(t *testing.T) {
	cfg, err := Load(writeTestConfig(t, validConfig))
	if err != nil {
		t.Fatal(err)
	}
	b := cfg.RunBudgets()
	if b.MaxEvidenceItems != 24 || b.MaxSearchRounds != 3 || b.MaxRetries != 2 {
		t.Errorf("RunBudgets() = %+v", b)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
