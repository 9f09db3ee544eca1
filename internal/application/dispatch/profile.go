package dispatch

import (
	"errors"

	"github.com/Zhima-Mochi/repoevents/internal/domain/event"
)

// Profile binds a named consumer to its filters and error policy.
type Profile struct {
	Name           string
	Implementation string
	Filters        event.Filters
	Consumer       Consumer
	// FatalOnError stops the dispatch at this consumer's first failure.
	FatalOnError bool
	// AlwaysRun delivers End even when no event matched.
	AlwaysRun bool
}

type ProfileOption func(*Profile)

func WithFatalOnError(fatal bool) ProfileOption { return func(p *Profile) { p.FatalOnError = fatal } }

func WithAlwaysRun(always bool) ProfileOption { return func(p *Profile) { p.AlwaysRun = always } }

func WithImplementation(name string) ProfileOption {
	return func(p *Profile) { p.Implementation = name }
}

func NewProfile(name string, consumer Consumer, filters event.Filters, opts ...ProfileOption) (*Profile, error) {
	p := &Profile{
		Name:     name,
		Filters:  filters,
		Consumer: consumer,
	}
	for _, opt := range opts {
		opt(p)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Profile) validate() error {
	if p.Name == "" {
		return &ConfigurationError{Field: "name", Err: errors.New("consumer name is required")}
	}
	if p.Consumer == nil {
		return &ConfigurationError{Consumer: p.Name, Field: "implementation", Err: errors.New("consumer is nil")}
	}
	return nil
}

func (p *Profile) alwaysRun() bool {
	if p.AlwaysRun {
		return true
	}
	r, ok := p.Consumer.(AlwaysRunner)
	return ok && r.AlwaysRun()
}
