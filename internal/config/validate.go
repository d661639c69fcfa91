package config

import (
	"fmt"
	"math"
	"time"
)

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var validDrivers = map[string]bool{
	"sqlite":   true,
	"postgres": true,
}

// Validate checks a Config for structural and semantic errors.
// It returns a slice of all validation errors found (empty if valid).
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError

	if cfg.Engine.MaxRetries < 0 {
		errs = append(errs, ValidationError{Field: "engine.max_retries", Message: "must be >= 0"})
	}
	if _, err := time.ParseDuration(cfg.Engine.ActionTimeout); err != nil {
		errs = append(errs, ValidationError{Field: "engine.action_timeout", Message: "must be a valid duration"})
	}
	if cfg.Engine.ChunkLines < 1 {
		errs = append(errs, ValidationError{Field: "engine.chunk_lines", Message: "must be >= 1"})
	}

	for _, b := range []struct {
		field string
		value int
	}{
		{"budgets.max_evidence_items", cfg.Budgets.MaxEvidenceItems},
		{"budgets.max_evidence_tokens", cfg.Budgets.MaxEvidenceTokens},
		{"budgets.max_sources_per_type", cfg.Budgets.MaxSourcesPerType},
		{"budgets.max_search_rounds", cfg.Budgets.MaxSearchRounds},
	} {
		if b.value < 1 {
			errs = append(errs, ValidationError{Field: b.field, Message: "must be >= 1"})
		}
	}

	if cfg.Coverage.GapThreshold == nil {
		errs = append(errs, ValidationError{Field: "coverage.gap_threshold", Message: "is required"})
	} else if *cfg.Coverage.GapThreshold < 0 || *cfg.Coverage.GapThreshold >= 1 {
		errs = append(errs, ValidationError{Field: "coverage.gap_threshold", Message: "must be in [0, 1)"})
	}

	if cfg.Quality.Threshold == nil {
		errs = append(errs, ValidationError{Field: "quality.threshold", Message: "is required"})
	} else if *cfg.Quality.Threshold < 0 || *cfg.Quality.Threshold > 1 {
		errs = append(errs, ValidationError{Field: "quality.threshold", Message: "must be in [0, 1]"})
	}

	w := cfg.Quality.Weights
	if w.Completeness < 0 || w.Clarity < 0 || w.RiskDisclosure < 0 {
		errs = append(errs, ValidationError{Field: "quality.weights", Message: "weights must be >= 0"})
	}
	if sum := w.Completeness + w.Clarity + w.RiskDisclosure; math.Abs(sum-1) > 1e-9 {
		errs = append(errs, ValidationError{
			Field:   "quality.weights",
			Message: fmt.Sprintf("weights must sum to 1, got %g", sum),
		})
	}

	if !validDrivers[cfg.Storage.Driver] {
		errs = append(errs, ValidationError{
			Field:   "storage.driver",
			Message: fmt.Sprintf("unrecognized driver %q", cfg.Storage.Driver),
		})
	}
	if cfg.Storage.Driver == "sqlite" && cfg.Storage.Path == "" {
		errs = append(errs, ValidationError{Field: "storage.path", Message: "is required for the sqlite driver"})
	}
	if cfg.Storage.Driver == "postgres" && cfg.Storage.URL == "" {
		errs = append(errs, ValidationError{Field: "storage.url", Message: "is required for the postgres driver"})
	}

	if cfg.Web.Port < 1 || cfg.Web.Port > 65535 {
		errs = append(errs, ValidationError{Field: "web.port", Message: "must be a valid TCP port"})
	}

	return errs
}
