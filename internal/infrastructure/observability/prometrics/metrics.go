package prometrics

import (
	"sync"

	"github.com/Zhima-Mochi/repoevents/internal/observability"
	"github.com/prometheus/client_golang/prometheus"
)

// Registry exposes the subset of Prometheus registry functionality needed by the application.
type Registry interface {
	Counter(name string, help string, labelKeys ...string) observability.Counter
	Histogram(name string, help string, buckets []float64, labelKeys ...string) observability.Histogram
}

type registry struct {
	counters   sync.Map // name -> *prometheus.CounterVec
	histograms sync.Map // name -> *prometheus.HistogramVec
	namespace  string
	subsystem  string
	reg        prometheus.Registerer
}

// New returns a Registry that registers instruments on reg, or on the default
// registerer when reg is nil.
func New(namespace, subsystem string, reg prometheus.Registerer) Registry {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &registry{namespace: namespace, subsystem: subsystem, reg: reg}
}

type counter struct{ v *prometheus.CounterVec }

func (c *counter) Add(d float64, labels ...observability.Label) {
	c.v.With(labelMap(labels)).Add(d)
}

func (c *counter) Bind(labels ...observability.Label) observability.BoundCounter {
	return &boundCounter{v: c.v, labels: labelMap(labels)}
}

type boundCounter struct {
	v      *prometheus.CounterVec
	labels prometheus.Labels
}

func (c *boundCounter) Add(d float64) {
	if c == nil || c.v == nil {
		return
	}
	c.v.With(c.labels).Add(d)
}

type histogram struct{ v *prometheus.HistogramVec }

func (h *histogram) Observe(v float64, labels ...observability.Label) {
	h.v.With(labelMap(labels)).Observe(v)
}

func (h *histogram) Bind(labels ...observability.Label) observability.BoundHistogram {
	return &boundHistogram{v: h.v, labels: labelMap(labels)}
}

type boundHistogram struct {
	v      *prometheus.HistogramVec
	labels prometheus.Labels
}

func (h *boundHistogram) Observe(v float64) {
	if h == nil || h.v == nil {
		return
	}
	h.v.With(h.labels).Observe(v)
}

func labelMap(ls []observability.Label) prometheus.Labels {
	m := make(prometheus.Labels, len(ls))
	for _, l := range ls {
		m[l.Key] = l.Value
	}
	return m
}

func (r *registry) Counter(name string, help string, labelKeys ...string) observability.Counter {
	// ensure only registered once
	if v, ok := r.counters.Load(name); ok {
		return &counter{v: v.(*prometheus.CounterVec)}
	}
	cv := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: r.namespace, Subsystem: r.subsystem, Name: name, Help: help,
	}, labelKeys)
	r.reg.MustRegister(cv)
	r.counters.Store(name, cv)
	return &counter{v: cv}
}

func (r *registry) Histogram(name string, help string, buckets []float64, labelKeys ...string) observability.Histogram {
	if v, ok := r.histograms.Load(name); ok {
		return &histogram{v: v.(*prometheus.HistogramVec)}
	}
	hv := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: r.namespace, Subsystem: r.subsystem, Name: name, Help: help, Buckets: buckets,
	}, labelKeys)
	r.reg.MustRegister(hv)
	r.histograms.Store(name, hv)
	return &histogram{v: hv}
}

// Instruments registers every instrument the application reports and returns
// them keyed for the observability provider.
func Instruments(r Registry) (map[observability.MetricKey]observability.Counter, map[observability.MetricKey]observability.Histogram) {
	counters := map[observability.MetricKey]observability.Counter{
		observability.MUsecaseRequests: r.Counter(string(observability.MUsecaseRequests),
			"Total number of use case invocations.", "use_case", "outcome"),
		observability.MHTTPRequests: r.Counter(string(observability.MHTTPRequests),
			"Total number of HTTP requests.", "method", "route", "status"),
		observability.MDispatches: r.Counter(string(observability.MDispatches),
			"Total number of dispatch cycles.", "dispatcher", "outcome"),
		observability.MDispatchedEvents: r.Counter(string(observability.MDispatchedEvents),
			"Events drained from units of work.", "dispatcher"),
		observability.MConsolidatedEvents: r.Counter(string(observability.MConsolidatedEvents),
			"Events removed by consolidation.", "dispatcher"),
		observability.MEventsAfterDelete: r.Counter(string(observability.MEventsAfterDelete),
			"Events recorded for a subject after it was deleted in the same batch.", "dispatcher"),
		observability.MConsumerEvents: r.Counter(string(observability.MConsumerEvents),
			"Events delivered to a consumer.", "consumer"),
		observability.MConsumerFailures: r.Counter(string(observability.MConsumerFailures),
			"Consumer lifecycle failures.", "consumer", "phase"),
		observability.MSubscriptionDigestSent: r.Counter(string(observability.MSubscriptionDigestSent),
			"Subscription digest mails sent.", "outcome"),
	}
	histograms := map[observability.MetricKey]observability.Histogram{
		observability.MUsecaseDuration: r.Histogram(string(observability.MUsecaseDuration),
			"Duration of use case execution in seconds.", prometheus.DefBuckets, "use_case"),
		observability.MHTTPRequestDuration: r.Histogram(string(observability.MHTTPRequestDuration),
			"Duration of HTTP requests in seconds.", prometheus.DefBuckets, "method", "route", "status"),
		observability.MDispatchDuration: r.Histogram(string(observability.MDispatchDuration),
			"Duration of a dispatch cycle in seconds.", prometheus.DefBuckets, "dispatcher"),
		observability.MConsumerDuration: r.Histogram(string(observability.MConsumerDuration),
			"Time a consumer spent on one batch in seconds.", prometheus.DefBuckets, "consumer"),
	}
	return counters, histograms
}
