package connector

import "errors"

// Collaborator failure kinds. Connectors and model runtimes must wrap their
// failures in exactly one of these sentinels so the engine can classify them
// without knowing transport details.
var (
	ErrNotFound         = errors.New("not found")
	ErrAccessDenied     = errors.New("access denied")
	ErrRateLimited      = errors.New("rate limited")
	ErrTimeout          = errors.New("timeout")
	ErrSchemaViolation  = errors.New("schema violation")
	ErrProvider         = errors.New("provider error")
	ErrPermissionDenied = errors.New("permission denied")
	ErrConflict         = errors.New("conflict")
)

// Kind returns the stable kind string for a collaborator error, or "" when
// the error is not one of the declared failure kinds.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not-found"
	case errors.Is(err, ErrAccessDenied):
		return "access-denied"
	case errors.Is(err, ErrRateLimited):
		return "rate-limited"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrSchemaViolation):
		return "schema-violation"
	case errors.Is(err, ErrProvider):
		return "provider-error"
	case errors.Is(err, ErrPermissionDenied):
		return "permission-denied"
	case errors.Is(err, ErrConflict):
		return "conflict"
	default:
		return ""
	}
}
