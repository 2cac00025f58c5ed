package types

type contextKey string

// Context keys read by logging and telemetry handlers.
const (
	ContextKeyRunID         contextKey = "run_id"
	ContextKeySessionID     contextKey = "session_id"
	ContextKeyRequestSource contextKey = "request_source"
)
