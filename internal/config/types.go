package config

import "github.com/interlockhq/interlock/internal/run"

// Config is the top-level configuration structure parsed from interlock YAML.
type Config struct {
	Engine   Engine   `yaml:"engine"`
	Budgets  Budgets  `yaml:"budgets"`
	Coverage Coverage `yaml:"coverage"`
	Quality  Quality  `yaml:"quality"`
	Storage  Storage  `yaml:"storage"`
	Web      Web      `yaml:"web"`
}

// Engine holds orchestrator-level knobs.
type Engine struct {
	MaxRetries    int    `yaml:"max_retries"`
	ActionTimeout string `yaml:"action_timeout"`
	ChunkLines    int    `yaml:"chunk_lines"`
}

// Budgets are the hard evidence guards. Exceeding any of them routes to
// compression or escalation, never silent truncation.
type Budgets struct {
	MaxEvidenceItems  int `yaml:"max_evidence_items"`
	MaxEvidenceTokens int `yaml:"max_evidence_tokens"`
	MaxSourcesPerType int `yaml:"max_sources_per_type"`
	MaxSearchRounds   int `yaml:"max_search_rounds"`
}

// Coverage configures the coverage gate. GapThreshold is the fraction of
// acceptance criteria allowed to be unsatisfied before the gate routes back
// to evidence gathering. It is deployment policy with no baked-in default;
// a pointer distinguishes "unset" from zero.
type Coverage struct {
	GapThreshold *float64 `yaml:"gap_threshold"`
}

// Quality configures the review rubric. The threshold and weights are
// deployment policy with no baked-in defaults.
type Quality struct {
	Threshold *float64 `yaml:"threshold"`
	Weights   Weights  `yaml:"weights"`
}

// Weights are the rubric dimension weights. They must sum to 1.
type Weights struct {
	Completeness   float64 `yaml:"completeness"`
	Clarity        float64 `yaml:"clarity"`
	RiskDisclosure float64 `yaml:"risk_disclosure"`
}

// Storage selects and configures the event log backend.
type Storage struct {
	Driver string `yaml:"driver"` // "sqlite" or "postgres"
	Path   string `yaml:"path"`   // sqlite file path
	URL    string `yaml:"url"`    // postgres connection string
}

// Web configures the read-only operator server.
type Web struct {
	Port int `yaml:"port"`
}

// RunBudgets converts the configured budgets plus retry bound into the
// governance budgets pinned at run creation.
func (c *Config) RunBudgets() run.Budgets {
	return run.Budgets{
		MaxEvidenceItems:  c.Budgets.MaxEvidenceItems,
		MaxEvidenceTokens: c.Budgets.MaxEvidenceTokens,
		MaxSourcesPerType: c.Budgets.MaxSourcesPerType,
		MaxSearchRounds:   c.Budgets.MaxSearchRounds,
		MaxRetries:        c.Engine.MaxRetries,
	}
}
