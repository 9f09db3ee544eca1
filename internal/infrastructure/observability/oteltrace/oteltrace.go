package oteltrace

import (
	"context"
	"slices"

	"github.com/Zhima-Mochi/repoevents/internal/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type tracer struct {
	name  string
	fixed []attribute.KeyValue
}

// New returns a Tracer that starts internal spans on the global provider,
// tagged with the fixed attributes. Spans are dropped until
// otel.SetTracerProvider installs an SDK provider.
func New(name string, fixed ...attribute.KeyValue) observability.Tracer {
	if name == "" {
		name = "repoevents"
	}
	return &tracer{name: name, fixed: fixed}
}

func (t *tracer) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	// Resolved per call so a provider installed after wiring is picked up.
	return otel.Tracer(t.name).Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(slices.Concat(t.fixed, attrs)...),
	)
}
