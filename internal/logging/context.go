package logging

import "context"

type ctxKey struct{}

// IntoContext stores l in ctx so that code deeper in the call chain can
// pick up request-scoped attributes.
func IntoContext(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger stored in ctx, or fallback when there is
// none.
func FromContext(ctx context.Context, fallback Logger) Logger {
	if l, ok := ctx.Value(ctxKey{}).(Logger); ok {
		return l
	}
	if fallback == nil {
		return Nop()
	}
	return fallback
}
