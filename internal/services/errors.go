package services

import (
	"errors"
	"fmt"
	"strings"
)

// Classification markers. Every error that leaves a stage wraps exactly one.
var (
	// ErrExternalTool marks an ffmpeg failure.
	ErrExternalTool = errors.New("external tool error")
	// ErrValidation marks input the pipeline refuses to work with, such as an
	// empty frame directory or a zero-byte segment.
	ErrValidation = errors.New("validation error")
	// ErrConfiguration marks bad or missing settings and credentials files.
	ErrConfiguration = errors.New("configuration error")
	// ErrTransient marks failures a later run is expected to get past:
	// network errors, 5xx responses, expired upload sessions.
	ErrTransient = errors.New("transient failure")
	// ErrAuthorization marks a credential the service rejected.
	ErrAuthorization = errors.New("authorization error")
	// ErrResource marks local filesystem trouble: disk full, permissions.
	ErrResource = errors.New("resource error")
)

// Wrap builds "<marker>: <stage>: <operation>: <message>: <err>" so that
// errors.Is matches both the marker and the underlying cause.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Retryable reports whether a later invocation may succeed without operator
// intervention.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrAuthorization)
}

// Hint returns the next step for an operator looking at err.
func Hint(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAuthorization):
		return "run camlapse auth, then re-run"
	case errors.Is(err, ErrTransient):
		return "no action needed; the next run retries"
	case errors.Is(err, ErrConfiguration):
		return "fix the configuration (camlapse config validate), then re-run"
	case errors.Is(err, ErrExternalTool):
		return "check ffmpeg with camlapse doctor; finished segments are kept"
	case errors.Is(err, ErrResource):
		return "check free space and permissions of the work directory"
	case errors.Is(err, ErrValidation):
		return "inspect the work directory with camlapse status"
	default:
		return "fix the cause and re-run; captured frames and finished segments are kept"
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	for _, part := range []string{stage, operation, message} {
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}
	if len(parts) == 0 {
		return "pipeline failure"
	}
	return strings.Join(parts, ": ")
}
