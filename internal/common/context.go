package common

import (
	"context"
	"log/slog"
)

// Context keys for storing values in context
type contextKey string

const (
	ContextKeyRequestID  contextKey = "request_id"
	ContextKeyEvidenceID contextKey = "evidence_id"
)

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// RequestIDFromContext extracts the request ID from context
func RequestIDFromContext(ctx context.Context) string {
	if requestID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return requestID
	}
	return ""
}

// WithEvidenceID adds an evidence ID to the context
func WithEvidenceID(ctx context.Context, evidenceID string) context.Context {
	return context.WithValue(ctx, ContextKeyEvidenceID, evidenceID)
}

// EvidenceIDFromContext extracts the evidence ID from context
func EvidenceIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(ContextKeyEvidenceID).(string); ok {
		return id
	}
	return ""
}

// LoggerFromContext returns fallback (or slog.Default when fallback is nil) with the
// request_id and evidence_id carried by ctx attached.
func LoggerFromContext(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	logger := fallback
	if logger == nil {
		logger = slog.Default()
	}
	if id := RequestIDFromContext(ctx); id != "" {
		logger = logger.With("request_id", id)
	}
	if id := EvidenceIDFromContext(ctx); id != "" {
		logger = logger.With("evidence_id", id)
	}
	return logger
}
