package logging

import (
	"context"
	"log/slog"

	"camlapse/internal/services"
)

// Standard structured field keys.
const (
	FieldComponent = "component"
	FieldRunID     = "run_id"
	FieldMode      = "mode"
	FieldStage     = "stage"
	// FieldEventType classifies warnings and errors for filtering.
	FieldEventType = "event_type"
	// FieldErrorHint carries the operator's next step for a failure.
	FieldErrorHint = "error_hint"
	// FieldImpact says what the user loses when a warning fires.
	FieldImpact = "impact"
)

// WithContext tags logger with the run scope carried by ctx. A nil logger
// yields a no-op logger.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	scope := services.ScopeFromContext(ctx)
	var args []any
	if scope.RunID != "" {
		args = append(args, FieldRunID, scope.RunID)
	}
	if scope.Mode != "" {
		args = append(args, FieldMode, scope.Mode)
	}
	if scope.Stage != "" {
		args = append(args, FieldStage, scope.Stage)
	}
	if len(args) == 0 {
		return logger
	}
	return logger.With(args...)
}
