package services

import "context"

// RunScope identifies where in the pipeline a piece of work happens. It rides
// on the context so log lines and error reports can be tagged without every
// stage threading the identifiers by hand.
type RunScope struct {
	RunID string
	Mode  string
	Stage string
}

type scopeKey struct{}

// WithRun starts a scope for one pipeline invocation. An empty id leaves ctx
// untouched.
func WithRun(ctx context.Context, id, mode string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, scopeKey{}, RunScope{RunID: id, Mode: mode})
}

// WithStage narrows the current scope to a stage, keeping the run identity.
func WithStage(ctx context.Context, stage string) context.Context {
	if stage == "" {
		return ctx
	}
	scope := ScopeFromContext(ctx)
	scope.Stage = stage
	return context.WithValue(ctx, scopeKey{}, scope)
}

// ScopeFromContext returns the scope stored on ctx, or the zero value.
func ScopeFromContext(ctx context.Context) RunScope {
	if ctx == nil {
		return RunScope{}
	}
	scope, _ := ctx.Value(scopeKey{}).(RunScope)
	return scope
}
