package dispatch

import (
	"context"
	"errors"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/Zhima-Mochi/repoevents/internal/domain/event"
	"github.com/Zhima-Mochi/repoevents/internal/observability"
	"github.com/Zhima-Mochi/repoevents/internal/observability/logctx"
	"github.com/cespare/xxhash/v2"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	componentDispatcher = "dispatcher"
	spanPrefix          = "Dispatch."
)

// Dispatcher delivers the events of a unit of work to an ordered chain of
// consumers. The chain is built at startup; after that Dispatch may be called
// from many goroutines for different units of work.
type Dispatcher struct {
	name        string
	id          uint64
	consolidate bool

	mu       sync.RWMutex
	profiles []*Profile
	byName   map[string]*Profile

	tel observability.Observability
	log observability.Logger

	dispatches       observability.Counter   // dispatches_total{dispatcher,outcome}
	dispatched       observability.Counter   // dispatched_events_total{dispatcher}
	consolidated     observability.Counter   // consolidated_events_total{dispatcher}
	afterDelete      observability.Counter   // events_after_delete_total{dispatcher}
	consumerEvents   observability.Counter   // consumer_events_total{consumer}
	consumerFailures observability.Counter   // consumer_failures_total{consumer,phase}
	duration         observability.Histogram // dispatch_duration_seconds{dispatcher}
	consumerDuration observability.Histogram // consumer_duration_seconds{consumer}
}

type Option func(*Dispatcher)

// WithConsolidation turns duplicate removal on or off. It is off by default.
func WithConsolidation(on bool) Option { return func(d *Dispatcher) { d.consolidate = on } }

func WithObservability(tel observability.Observability) Option {
	return func(d *Dispatcher) { d.tel = tel }
}

func New(name string, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		name:   name,
		id:     xxhash.Sum64String(name),
		byName: make(map[string]*Profile),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.tel = observability.OrNop(d.tel)
	d.log = d.tel.Logger().With(
		observability.F("component", componentDispatcher),
		observability.F("dispatcher", name),
	)

	m := d.tel.Metrics()
	d.dispatches = m.Counter(observability.MDispatches)
	d.dispatched = m.Counter(observability.MDispatchedEvents)
	d.consolidated = m.Counter(observability.MConsolidatedEvents)
	d.afterDelete = m.Counter(observability.MEventsAfterDelete)
	d.consumerEvents = m.Counter(observability.MConsumerEvents)
	d.consumerFailures = m.Counter(observability.MConsumerFailures)
	d.duration = m.Histogram(observability.MDispatchDuration)
	d.consumerDuration = m.Histogram(observability.MConsumerDuration)
	return d
}

func (d *Dispatcher) Name() string { return d.name }

// ID is the 64-bit xxhash of the dispatcher name.
func (d *Dispatcher) ID() uint64 { return d.id }

func (d *Dispatcher) Consolidates() bool { return d.consolidate }

// AddConsumerProfile initializes the profile's consumer and appends it to the
// chain. A duplicate name is rejected before the consumer is touched.
func (d *Dispatcher) AddConsumerProfile(ctx context.Context, p *Profile) error {
	if p == nil {
		return &ConfigurationError{Err: errors.New("nil profile")}
	}
	if err := p.validate(); err != nil {
		return err
	}

	// The name is reserved while Initialize runs outside the lock, so a slow
	// consumer does not hold up dispatches of the existing chain.
	d.mu.Lock()
	if _, exists := d.byName[p.Name]; exists {
		d.mu.Unlock()
		return &DuplicateConsumerNameError{Name: p.Name}
	}
	d.byName[p.Name] = nil
	d.mu.Unlock()

	if err := p.Consumer.Initialize(ctx); err != nil {
		d.mu.Lock()
		delete(d.byName, p.Name)
		d.mu.Unlock()
		return &ConfigurationError{Consumer: p.Name, Field: "initialize", Err: err}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.appendLocked(p)
	return nil
}

// register appends a profile whose consumer is already initialized.
func (d *Dispatcher) register(p *Profile) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.byName[p.Name]; exists {
		return &DuplicateConsumerNameError{Name: p.Name}
	}
	d.appendLocked(p)
	return nil
}

func (d *Dispatcher) appendLocked(p *Profile) {
	d.profiles = append(d.profiles, p)
	d.byName[p.Name] = p
	d.log.Info("consumer_registered",
		observability.F("consumer", p.Name),
		observability.F("implementation", p.Implementation),
		observability.F("fatal_on_error", p.FatalOnError),
		observability.F("always_run", p.alwaysRun()),
	)
}

// Profiles returns copies of the registered profiles in delivery order.
func (d *Dispatcher) Profiles() []Profile {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Profile, 0, len(d.profiles))
	for _, p := range d.profiles {
		cp := *p
		cp.AlwaysRun = p.alwaysRun()
		out = append(out, cp)
	}
	return out
}

// Consumer returns the consumer registered under name.
func (d *Dispatcher) Consumer(name string) (Consumer, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p := d.byName[name]
	if p == nil {
		return nil, false
	}
	return p.Consumer, true
}

// Dispatch drains the unit of work and drives every interested consumer.
//
// Non-fatal consumer failures are collected into a *DispatchError returned
// after the whole chain ran. A failure of a fatal consumer is returned at once
// as a *ConsumerExecutionError; later consumers do not run and the caller must
// abort its transaction.
func (d *Dispatcher) Dispatch(ctx context.Context, uow UnitOfWork) (err error) {
	if !uow.BeginDispatch() {
		return &ConcurrentDispatchError{UnitOfWorkID: uow.ID()}
	}
	defer uow.EndDispatch()

	scope := Scope{UnitOfWorkID: uow.ID(), Actor: uow.Actor(), Dispatcher: d.name}
	events := uow.Drain()
	recorded := len(events)

	ctx, logger := logctx.Scoped(ctx, d.log, observability.F("unit_of_work", scope.UnitOfWorkID))
	ctx, span := d.tel.Tracer().Start(ctx, spanPrefix+"Run",
		attribute.String("dispatcher", d.name),
		attribute.String("unit_of_work", scope.UnitOfWorkID),
		attribute.Int("events", recorded),
	)
	start := time.Now()
	outcome := "success"
	delivered := 0

	defer func() {
		lat := time.Since(start).Seconds()
		if span != nil {
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, outcome)
			} else {
				span.SetStatus(codes.Ok, outcome)
			}
			span.End()
		}
		d.dispatches.Add(1, observability.L("dispatcher", d.name), observability.L("outcome", outcome))
		d.duration.Observe(lat, observability.L("dispatcher", d.name))

		fields := []observability.Field{
			observability.F("outcome", outcome),
			observability.F("events", recorded),
			observability.F("consumers_run", delivered),
			observability.F("latency_seconds", lat),
		}
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			fields = append(fields,
				observability.F("trace_id", sc.TraceID().String()),
				observability.F("span_id", sc.SpanID().String()),
			)
		}
		if err != nil {
			fields = append(fields, observability.F("error", err.Error()))
		}
		logger.Info("dispatch_done", fields...)
	}()

	if recorded > 0 {
		d.dispatched.Add(float64(recorded), observability.L("dispatcher", d.name))
	}

	for _, late := range EventsAfterDelete(events) {
		d.afterDelete.Add(1, observability.L("dispatcher", d.name))
		logger.Warn("event_after_delete",
			observability.F("event_id", late.ID),
			observability.F("event", late.String()),
		)
	}

	if d.consolidate {
		var removed int
		events, removed = Consolidate(events)
		if removed > 0 {
			d.consolidated.Add(float64(removed), observability.L("dispatcher", d.name))
			span.AddEvent("events.consolidated", trace.WithAttributes(attribute.Int("removed", removed)))
		}
	}

	d.mu.RLock()
	profiles := slices.Clone(d.profiles)
	d.mu.RUnlock()

	var failures []*ConsumerExecutionError
	for _, p := range profiles {
		matching := p.Filters.Select(events)
		if len(matching) == 0 && !p.alwaysRun() {
			continue
		}
		delivered++
		if failure := d.run(ctx, logger, scope, p, matching); failure != nil {
			if failure.Fatal {
				outcome = "fatal"
				return failure
			}
			failures = append(failures, failure)
		}
	}

	if len(failures) > 0 {
		outcome = "partial"
		return &DispatchError{Failures: failures}
	}
	return nil
}

func (d *Dispatcher) run(ctx context.Context, logger observability.Logger, scope Scope, p *Profile, events []event.Event) *ConsumerExecutionError {
	ctx, span := d.tel.Tracer().Start(ctx, spanPrefix+"Consumer",
		attribute.String("consumer", p.Name),
		attribute.Int("events", len(events)),
	)
	defer span.End()

	ctx, clog := logctx.Scoped(ctx, logger, observability.F("consumer", p.Name))

	start := time.Now()
	defer func() {
		d.consumerDuration.Observe(time.Since(start).Seconds(), observability.L("consumer", p.Name))
	}()

	for i := range events {
		e := events[i]
		if err := guard(func() error { return p.Consumer.Consume(ctx, scope, e) }); err != nil {
			if a, ok := p.Consumer.(Aborter); ok {
				_ = guard(func() error { a.Abort(ctx, scope); return nil })
			}
			return d.fail(clog, span, p, PhaseConsume, &e, err)
		}
		d.consumerEvents.Add(1, observability.L("consumer", p.Name))
	}

	if err := guard(func() error { return p.Consumer.End(ctx, scope) }); err != nil {
		return d.fail(clog, span, p, PhaseEnd, nil, err)
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

func (d *Dispatcher) fail(logger observability.Logger, span trace.Span, p *Profile, phase Phase, e *event.Event, err error) *ConsumerExecutionError {
	failure := &ConsumerExecutionError{
		Consumer: p.Name,
		Phase:    phase,
		Event:    e,
		Fatal:    p.FatalOnError,
		Err:      err,
	}
	d.consumerFailures.Add(1, observability.L("consumer", p.Name), observability.L("phase", string(phase)))
	span.RecordError(err)
	span.SetStatus(codes.Error, string(phase))

	fields := []observability.Field{
		observability.F("phase", string(phase)),
		observability.F("fatal", p.FatalOnError),
		observability.F("error", err.Error()),
	}
	if e != nil {
		fields = append(fields, observability.F("event_id", e.ID), observability.F("event", e.String()))
	}
	var pe *panicError
	if errors.As(err, &pe) {
		fields = append(fields, observability.F("stack", pe.stack))
	}
	if p.FatalOnError {
		logger.Error("consumer_failed", fields...)
	} else {
		logger.Warn("consumer_failed", fields...)
	}
	return failure
}

// Close finishes every consumer in reverse registration order and empties the
// chain. Finish errors are joined.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	profiles := d.profiles
	d.profiles = nil
	d.byName = make(map[string]*Profile)
	d.mu.Unlock()

	var errs []error
	for i := len(profiles) - 1; i >= 0; i-- {
		p := profiles[i]
		if err := guard(func() error { return p.Consumer.Finish(ctx) }); err != nil {
			d.consumerFailures.Add(1, observability.L("consumer", p.Name), observability.L("phase", string(PhaseFinish)))
			d.log.Warn("consumer_finish_failed",
				observability.F("consumer", p.Name),
				observability.F("error", err.Error()),
			)
			errs = append(errs, &ConsumerExecutionError{Consumer: p.Name, Phase: PhaseFinish, Err: err})
		}
	}
	d.log.Info("dispatcher_closed", observability.F("consumers", len(profiles)))
	return errors.Join(errs...)
}

// guard converts a panic into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r, stack: string(debug.Stack())}
		}
	}()
	return fn()
}
