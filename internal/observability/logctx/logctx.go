// Package logctx carries the scoped logger of a request, dispatch or
// background job on a context.
package logctx

import (
	"context"

	"github.com/Zhima-Mochi/repoevents/internal/observability"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

type loggerKey struct{}

func With(ctx context.Context, logger observability.Logger) context.Context {
	if ctx == nil || logger == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerKey{}, logger)
}

// From returns the context logger, or nil.
func From(ctx context.Context) observability.Logger {
	if ctx == nil {
		return nil
	}
	logger, _ := ctx.Value(loggerKey{}).(observability.Logger)
	return logger
}

func FromOr(ctx context.Context, fallback observability.Logger) observability.Logger {
	if logger := From(ctx); logger != nil {
		return logger
	}
	if fallback == nil {
		return observability.NopLogger()
	}
	return fallback
}

// Scoped narrows the context logger (or fallback) with fields and stores the
// result on the returned context.
func Scoped(ctx context.Context, fallback observability.Logger, fields ...observability.Field) (context.Context, observability.Logger) {
	logger := FromOr(ctx, fallback)
	if len(fields) > 0 {
		logger = logger.With(fields...)
	}
	return With(ctx, logger), logger
}

// WithJob injects a run-scoped logger for background executions such as
// scheduled digests. Dynamic fields only: job, run_id (generated if empty),
// trace_id/span_id when ctx carries a valid span, plus caller-provided
// low-cardinality attributes.
func WithJob(ctx context.Context, base observability.Logger, job string, attrs map[string]string) context.Context {
	runID := attrs["run_id"]
	if runID == "" {
		runID = uuid.NewString()
	}
	fields := make([]observability.Field, 0, 4+len(attrs))
	fields = append(fields,
		observability.F("job", job),
		observability.F("run_id", runID),
	)
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			observability.F("trace_id", sc.TraceID().String()),
			observability.F("span_id", sc.SpanID().String()),
		)
	}
	for k, v := range attrs {
		if k == "run_id" || k == "job" || v == "" {
			continue
		}
		fields = append(fields, observability.F(k, v))
	}
	if base != nil {
		return With(ctx, base.With(fields...))
	}
	ctx, _ = Scoped(ctx, nil, fields...)
	return ctx
}
