// Package reqcontext carries the ambient request/job context through
// every core call: a correlation id, the triggering source, and the
// optional user/job identifiers named in the external
// interfaces section. Every log entry and every cross-component call
// is expected to thread a context.Context built or propagated through
// this package.
package reqcontext

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// Source identifies what triggered the current call chain.
type Source string

const (
	SourceHTTP      Source = "http"
	SourceScheduler Source = "scheduler"
	SourceManual    Source = "manual"
	SourceUnknown   Source = "unknown"
)

// Context is the ambient value carried on every context.Context.
type Context struct {
	CorrelationID string
	Source        Source
	UserID        string
	JobName       string
}

type contextKey struct{}

var key = contextKey{}

// New builds a fresh Context for source, with a new correlation id.
// If ctx carries an active OpenTelemetry span, the span's trace id is
// used as the correlation id instead of a random uuid, so logs and
// traces can be joined on the same identifier.
func New(ctx context.Context, source Source) Context {
	return Context{
		CorrelationID: correlationIDFor(ctx),
		Source:        source,
	}
}

func correlationIDFor(ctx context.Context) string {
	if span := trace.SpanFromContext(ctx); span.SpanContext().HasTraceID() {
		return span.SpanContext().TraceID().String()
	}
	return uuid.NewString()
}

// WithValue attaches rc to ctx, returning the derived context.
func WithValue(ctx context.Context, rc Context) context.Context {
	return context.WithValue(ctx, key, rc)
}

// WithSource creates a fresh Context for source and attaches it to ctx.
// Use at the entry point of a call chain (an HTTP handler, a
// scheduler tick, a manual admin invocation).
func WithSource(ctx context.Context, source Source) context.Context {
	return WithValue(ctx, New(ctx, source))
}

// WithJobName returns a copy of ctx's Context with JobName set,
// attached as a new value. If ctx carries no Context, the job name is
// set on the SourceUnknown Context that FromContext returns.
func WithJobName(ctx context.Context, jobName string) context.Context {
	rc := FromContext(ctx)
	rc.JobName = jobName
	return WithValue(ctx, rc)
}

// WithUserID returns a copy of ctx's Context with UserID set,
// attached as a new value.
func WithUserID(ctx context.Context, userID string) context.Context {
	rc := FromContext(ctx)
	rc.UserID = userID
	return WithValue(ctx, rc)
}

// FromContext extracts the ambient Context from ctx. Missing context
// is allowed: it returns a Context with Source set to SourceUnknown
// and a freshly generated correlation id, never a zero value that
// would log an empty correlation id.
func FromContext(ctx context.Context) Context {
	if rc, ok := ctx.Value(key).(Context); ok {
		return rc
	}
	return Context{
		CorrelationID: uuid.NewString(),
		Source:        SourceUnknown,
	}
}

// CorrelationID is a convenience accessor equivalent to
// FromContext(ctx).CorrelationID.
func CorrelationID(ctx context.Context) string {
	return FromContext(ctx).CorrelationID
}
