package weather

import "errors"

// Client failures. Providers wrap one of these so callers can use errors.Is.
var (
	ErrNetwork           = errors.New("network error")
	ErrAuth              = errors.New("credential rejected by provider")
	ErrNotFound          = errors.New("city not recognized by provider")
	ErrMalformedResponse = errors.New("malformed provider response")
)

// Writer failures.
var (
	// ErrSchema means the warehouse table is incompatible with the record schema.
	// It needs an operator and aborts the pass.
	ErrSchema = errors.New("incompatible warehouse schema")
	// ErrWrite is a transient warehouse failure (network, quota, row errors).
	ErrWrite = errors.New("warehouse write failed")
)

// Retryable reports whether err is a transient failure the orchestrator may retry.
func Retryable(err error) bool {
	return errors.Is(err, ErrNetwork) || errors.Is(err, ErrWrite)
}

// ErrorKind returns a short label for err, used in logs, summaries and metrics.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAuth):
		return "auth"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed_response"
	case errors.Is(err, ErrSchema):
		return "schema"
	case errors.Is(err, ErrWrite):
		return "write"
	case errors.Is(err, ErrNetwork):
		return "network"
	default:
		return "unknown"
	}
}
