package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/Zhima-Mochi/repoevents/internal/domain/event"
	"golang.org/x/sync/errgroup"
)

// Definition is one configured consumer, before it is resolved.
type Definition struct {
	Name           string
	Implementation string
	// EventTypes and SubjectTypes form one filter.
	EventTypes   []string
	SubjectTypes []string
	// Filters holds extra "Subjects+Events" expressions, or-ed with the above.
	Filters      []string
	FatalOnError bool
	AlwaysRun    bool
	Options      map[string]any
}

// Factory builds consumers by implementation name.
type Factory interface {
	New(implementation string, options map[string]any) (Consumer, error)
}

type FactoryFunc func(implementation string, options map[string]any) (Consumer, error)

func (fn FactoryFunc) New(implementation string, options map[string]any) (Consumer, error) {
	return fn(implementation, options)
}

type BuildConfig struct {
	Name        string
	Consolidate bool
	Consumers   []Definition
	// InitConcurrency caps parallel Initialize calls; zero means 4.
	InitConcurrency int
}

func (def Definition) filters() (event.Filters, error) {
	var out event.Filters
	f, err := event.ParseFilter(def.EventTypes, def.SubjectTypes)
	if err != nil {
		return nil, err
	}
	if !f.IsZero() {
		out = append(out, f)
	}
	extra, err := event.ParseFilters(def.Filters...)
	if err != nil {
		return nil, err
	}
	return append(out, extra...), nil
}

// Resolve validates every definition and builds its profile. Consumers are
// created but not initialized. The first malformed entry fails the whole list.
func Resolve(defs []Definition, factory Factory) ([]*Profile, error) {
	if factory == nil {
		return nil, &ConfigurationError{Err: errors.New("no consumer factory")}
	}
	seen := make(map[string]struct{}, len(defs))
	profiles := make([]*Profile, 0, len(defs))

	for i, def := range defs {
		if def.Name == "" {
			return nil, &ConfigurationError{Field: fmt.Sprintf("consumers[%d].name", i), Err: errors.New("name is required")}
		}
		if _, dup := seen[def.Name]; dup {
			return nil, &DuplicateConsumerNameError{Name: def.Name}
		}
		seen[def.Name] = struct{}{}

		if def.Implementation == "" {
			return nil, &ConfigurationError{Consumer: def.Name, Field: "implementation", Err: errors.New("implementation is required")}
		}
		filters, err := def.filters()
		if err != nil {
			return nil, &ConfigurationError{Consumer: def.Name, Field: "filters", Err: err}
		}
		consumer, err := factory.New(def.Implementation, def.Options)
		if err != nil {
			return nil, &ConfigurationError{Consumer: def.Name, Field: "implementation", Err: err}
		}
		p, err := NewProfile(def.Name, consumer, filters,
			WithImplementation(def.Implementation),
			WithFatalOnError(def.FatalOnError),
			WithAlwaysRun(def.AlwaysRun),
		)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, nil
}

// Build resolves the configured chain, initializes every consumer and returns
// a ready Dispatcher. When any step fails no dispatcher is returned and the
// consumers that did initialize are finished again.
func Build(ctx context.Context, cfg BuildConfig, factory Factory, opts ...Option) (*Dispatcher, error) {
	profiles, err := Resolve(cfg.Consumers, factory)
	if err != nil {
		return nil, err
	}

	limit := cfg.InitConcurrency
	if limit <= 0 {
		limit = 4
	}
	// A plain group: consumers may keep ctx for background work, so it must
	// not be canceled when Wait returns.
	var g errgroup.Group
	g.SetLimit(limit)
	ready := make([]bool, len(profiles))
	for i, p := range profiles {
		g.Go(func() error {
			if err := p.Consumer.Initialize(ctx); err != nil {
				return &ConfigurationError{Consumer: p.Name, Field: "initialize", Err: err}
			}
			ready[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		var finishErrs []error
		for i := len(profiles) - 1; i >= 0; i-- {
			if ready[i] {
				finishErrs = append(finishErrs, guard(func() error { return profiles[i].Consumer.Finish(ctx) }))
			}
		}
		return nil, errors.Join(append([]error{err}, finishErrs...)...)
	}

	d := New(cfg.Name, append([]Option{WithConsolidation(cfg.Consolidate)}, opts...)...)
	for _, p := range profiles {
		if err := d.register(p); err != nil {
			return nil, err
		}
	}
	return d, nil
}
