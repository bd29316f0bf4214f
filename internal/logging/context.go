package logging

import (
	"context"

	"go.uber.org/zap"

	"cinesync/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldRunID is the standardized structured logging key for workflow run identifiers.
	FieldRunID = "run_id"
	// FieldMode is the standardized structured logging key for ingestion modes.
	FieldMode = "mode"
	// FieldBatchID is the standardized structured logging key for review batch identifiers.
	FieldBatchID = "batch_id"
	// FieldMovieID is the standardized structured logging key for provider movie identifiers.
	FieldMovieID = "movie_id"
	// FieldEventType classifies a log line for filtering.
	FieldEventType = "event_type"
	// FieldErrorHint suggests the operator's next step.
	FieldErrorHint = "error_hint"
	// FieldImpact is the standardized key for user-facing consequence of a warning.
	FieldImpact = "impact"
)

// ContextFields extracts standardized zap fields from the provided context.
func ContextFields(ctx context.Context) []zap.Field {
	if ctx == nil {
		return nil
	}
	fields := make([]zap.Field, 0, 4)
	if id, ok := services.RunIDFromContext(ctx); ok {
		fields = append(fields, zap.String(FieldRunID, id))
	}
	if mode, ok := services.ModeFromContext(ctx); ok {
		fields = append(fields, zap.String(FieldMode, mode))
	}
	if batch, ok := services.BatchIDFromContext(ctx); ok {
		fields = append(fields, zap.String(FieldBatchID, batch))
	}
	if id, ok := services.MovieIDFromContext(ctx); ok {
		fields = append(fields, zap.Int64(FieldMovieID, id))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *zap.Logger) *zap.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(fields...)
}
