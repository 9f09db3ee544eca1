package content

import (
	"context"
	"errors"
	"time"

	domain "github.com/Zhima-Mochi/repoevents/internal/domain/content"
	"github.com/Zhima-Mochi/repoevents/internal/domain/event"
	"github.com/Zhima-Mochi/repoevents/internal/domain/eventlog"
	"github.com/Zhima-Mochi/repoevents/internal/observability"
	"github.com/Zhima-Mochi/repoevents/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// call carries the RED bookkeeping of one use case invocation.
type call struct {
	s       *Service
	useCase string
	ctx     context.Context
	span    trace.Span
	logger  observability.Logger
	start   time.Time
	events  int
}

func (s *Service) begin(ctx context.Context, useCase, spanName string, attrs ...attribute.KeyValue) (context.Context, *call) {
	logger := logctx.FromOr(ctx, s.log).With(observability.F("use_case", useCase))
	attrs = append([]attribute.KeyValue{attribute.String("use_case", useCase)}, attrs...)
	ctx, span := s.tel.Tracer().Start(ctx, spanPrefix+spanName, attrs...)
	return ctx, &call{s: s, useCase: useCase, ctx: ctx, span: span, logger: logger, start: time.Now()}
}

// record forwards e to the unit of work and counts it.
func (c *call) record(rec eventlog.Recorder, e event.Event) error {
	if err := rec.Record(e); err != nil {
		return err
	}
	c.events++
	if c.span != nil {
		c.span.AddEvent("event.recorded", trace.WithAttributes(
			attribute.String("event", e.String()),
		))
	}
	return nil
}

func (c *call) done(err error) {
	lat := time.Since(c.start).Seconds()
	outcome, statusText := "success", "OK"
	if err != nil {
		outcome, statusText = "error", statusOf(err)
	}

	if c.span != nil {
		if err != nil {
			c.span.RecordError(err)
			c.span.SetStatus(codes.Error, statusText)
		} else {
			c.span.SetStatus(codes.Ok, statusText)
		}
		c.span.End()
	}

	c.s.reqCounter.Add(1,
		observability.L("use_case", c.useCase),
		observability.L("outcome", outcome),
	)
	c.s.durHistogram.Observe(lat, observability.L("use_case", c.useCase))

	fields := []observability.Field{
		observability.F("outcome", outcome),
		observability.F("status", statusText),
		observability.F("events_recorded", c.events),
		observability.F("latency_seconds", lat),
	}
	if sc := trace.SpanContextFromContext(c.ctx); sc.IsValid() {
		fields = append(fields,
			observability.F("trace_id", sc.TraceID().String()),
			observability.F("span_id", sc.SpanID().String()),
		)
	}
	if err != nil {
		fields = append(fields, observability.F("error", err.Error()))
	}
	c.logger.Info("use_case_done", fields...)
}

func statusOf(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "VALIDATION_FAILED"
	case errors.Is(err, domain.ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, domain.ErrInvalidParent):
		return "INVALID_PARENT"
	case errors.Is(err, domain.ErrConflict):
		return "CONFLICT"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "CONTEXT_CANCELED"
	case errors.Is(err, event.ErrInvalidEvent):
		return "INVALID_EVENT"
	default:
		return "INTERNAL"
	}
}
