package logger

import "context"

type contextKey struct{}

// LogContext carries per-request fields that the *Ctx helpers prepend to
// every record.
type LogContext struct {
	TraceID   string // OpenTelemetry trace ID
	SpanID    string // OpenTelemetry span ID
	RequestID string // admin API request ID
	Region    string // cache region name
	Operation string // get, put, remove, remove_all, ...
}

// WithContext returns a copy of ctx carrying lc.
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, contextKey{}, lc)
}

// FromContext returns the LogContext stored in ctx, or nil.
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(contextKey{}).(*LogContext)
	return lc
}

// WithRegion returns a context whose LogContext has Region set. An existing
// LogContext is copied, never mutated.
func WithRegion(ctx context.Context, region string) context.Context {
	lc := cloneOrNew(FromContext(ctx))
	lc.Region = region
	return WithContext(ctx, lc)
}

// WithOperation is like WithRegion for the operation name.
func WithOperation(ctx context.Context, op string) context.Context {
	lc := cloneOrNew(FromContext(ctx))
	lc.Operation = op
	return WithContext(ctx, lc)
}

func cloneOrNew(lc *LogContext) *LogContext {
	if lc == nil {
		return &LogContext{}
	}
	c := *lc
	return &c
}
