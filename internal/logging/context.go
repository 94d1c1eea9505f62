package logging

import (
	"context"

	"go.uber.org/zap"
)

type requestCtxKey struct{}
type draftCtxKey struct{}
type loggerCtxKey struct{}

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	if ctx == nil {
		return nil
	}
	fields := make([]zap.Field, 0, 2)
	if requestID := RequestIDFromContext(ctx); requestID != "" {
		fields = append(fields, zap.String("request.id", requestID))
	}
	if draftID := DraftIDFromContext(ctx); draftID != "" {
		fields = append(fields, zap.String("draft.id", draftID))
	}
	return fields
}

// WithRequestID adds request ID to context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestCtxKey{}, requestID)
}

// RequestIDFromContext extracts request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if r, ok := ctx.Value(requestCtxKey{}).(string); ok {
		return r
	}
	return ""
}

// WithDraftID adds the draft being processed to context.
func WithDraftID(ctx context.Context, draftID string) context.Context {
	return context.WithValue(ctx, draftCtxKey{}, draftID)
}

// DraftIDFromContext extracts the draft ID from context.
func DraftIDFromContext(ctx context.Context) string {
	if d, ok := ctx.Value(draftCtxKey{}).(string); ok {
		return d
	}
	return ""
}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves logger from context, or a nop logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return Nop()
}
