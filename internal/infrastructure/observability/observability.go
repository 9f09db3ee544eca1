// Package observability assembles the Observability handed to the dispatcher,
// the content service and the HTTP layer.
package observability

import (
	"maps"

	"github.com/Zhima-Mochi/repoevents/internal/observability"
)

type provider struct {
	tracer  observability.Tracer
	logger  observability.Logger
	metrics observability.Metrics
}

// instruments resolves metric keys to registered instruments. Unknown keys get
// a no-op so a component can report metrics the wiring did not register.
type instruments struct {
	counters   map[observability.MetricKey]observability.Counter
	histograms map[observability.MetricKey]observability.Histogram
}

func (m instruments) Counter(name observability.MetricKey) observability.Counter {
	if c := m.counters[name]; c != nil {
		return c
	}
	return observability.NopCounter()
}

func (m instruments) Histogram(name observability.MetricKey) observability.Histogram {
	if h := m.histograms[name]; h != nil {
		return h
	}
	return observability.NopHistogram()
}

type Option func(*provider)

func WithTracer(t observability.Tracer) Option {
	return func(p *provider) {
		if t != nil {
			p.tracer = t
		}
	}
}

func WithLogger(l observability.Logger) Option {
	return func(p *provider) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithInstruments binds the instruments returned by prometrics.Instruments.
func WithInstruments(
	counters map[observability.MetricKey]observability.Counter,
	histograms map[observability.MetricKey]observability.Histogram,
) Option {
	return func(p *provider) {
		if len(counters) == 0 && len(histograms) == 0 {
			return
		}
		p.metrics = instruments{counters: maps.Clone(counters), histograms: maps.Clone(histograms)}
	}
}

// New returns an Observability that is a no-op for every part not supplied.
func New(opts ...Option) observability.Observability {
	p := &provider{
		tracer:  observability.NopTracer(),
		logger:  observability.NopLogger(),
		metrics: observability.NopMetrics(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *provider) Tracer() observability.Tracer   { return p.tracer }
func (p *provider) Logger() observability.Logger   { return p.logger }
func (p *provider) Metrics() observability.Metrics { return p.metrics }
