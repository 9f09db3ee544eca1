// Package observability defines the logging, tracing and metric ports used
// across repoevents. Adapters live in infrastructure/observability.
package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Observability bundles the three ports. Components accept it as a single
// dependency and call OrNop on it, so nil is always valid.
type Observability interface {
	Tracer() Tracer
	Logger() Logger
	Metrics() Metrics
}

// OrNop returns obs, or a provider that discards everything when obs is nil.
func OrNop(obs Observability) Observability {
	if obs == nil {
		return nop{}
	}
	return obs
}

type nop struct{}

func (nop) Tracer() Tracer   { return NopTracer() }
func (nop) Logger() Logger   { return NopLogger() }
func (nop) Metrics() Metrics { return NopMetrics() }

type Tracer interface {
	Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span)
}

// Logger takes snake_case messages ("dispatch_done") and structured fields.
type Logger interface {
	With(fields ...Field) Logger
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

type Field struct {
	Key   string
	Value any
}

func F(k string, v any) Field { return Field{Key: k, Value: v} }

// Err is the conventional "error" field.
func Err(err error) Field { return Field{Key: "error", Value: err} }

// Metrics resolves instruments by key; see metrics.go for the keys and their
// label sets.
type Metrics interface {
	Counter(name MetricKey) Counter
	Histogram(name MetricKey) Histogram
}

type MetricKey string

// Label values must stay low-cardinality: consumer and dispatcher names,
// outcomes, phases. Never event or object IDs.
type Label struct{ Key, Value string }

func L(k, v string) Label { return Label{Key: k, Value: v} }

type Counter interface {
	Add(delta float64, labels ...Label)
	Bind(labels ...Label) BoundCounter
}

type BoundCounter interface {
	Add(delta float64)
}

type Histogram interface {
	Observe(value float64, labels ...Label)
	Bind(labels ...Label) BoundHistogram
}

type BoundHistogram interface {
	Observe(value float64)
}
