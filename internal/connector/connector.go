// Package connector declares the collaborator contracts the engine consumes.
// Concrete tracker/wiki/code-host connectors and the model transport live
// outside the core; the engine only ever sees these interfaces and the typed
// failure kinds in errors.go.
package connector

import (
	"context"
	"encoding/json"

	"github.com/interlockhq/interlock/internal/run"
)

// Reference identifies an external document or ticket to fetch.
type Reference struct {
	Type string `json:"type"` // jira, confluence, repo, web
	ID   string `json:"id"`
	Hint string `json:"hint,omitempty"`
}

// FetchResult is the raw content returned by a connector. Content is
// transient: the engine chunks it into evidence and drops the body.
type FetchResult struct {
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Locators []run.Locator     `json:"locators,omitempty"`
}

// Connector retrieves external documents. Implementations must treat Fetch as
// idempotent: the engine may re-fetch the same reference after a resume.
type Connector interface {
	Fetch(ctx context.Context, ref Reference) (*FetchResult, error)
	Search(ctx context.Context, query string) ([]Reference, error)
}

// Schema names a versioned object shape the model must conform to.
type Schema struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Model proposes structured data conforming to a schema. It returns data
// only; it never makes a control decision. A response that does not conform
// fails with ErrSchemaViolation through the normal failure path.
type Model interface {
	Propose(ctx context.Context, schema Schema, context json.RawMessage) (json.RawMessage, error)
}

// Artifact is the deliverable posted by the delivery state.
type Artifact struct {
	RunID    string              `json:"run_id"`
	Summary  string              `json:"summary"`
	Plan     []run.PlanStep      `json:"plan"`
	Coverage []run.CoverageEntry `json:"coverage"`
}

// Writeback posts the resolution artifact to the external tracker. Invoked
// only from the delivery state; idempotency of Post is the implementation's
// responsibility.
type Writeback interface {
	Post(ctx context.Context, runID string, artifact Artifact) (*run.PostReceipt, error)
}
