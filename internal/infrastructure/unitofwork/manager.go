package unitofwork

import (
	"context"

	"github.com/Zhima-Mochi/repoevents/internal/observability"
	"github.com/google/uuid"
)

const componentUnitOfWork = "unit_of_work"

// Manager opens sessions bound to one dispatcher.
type Manager struct {
	dispatcher Dispatcher
	log        observability.Logger
	newID      func() string
	maxRounds  int
}

type Option func(*Manager)

func WithLogger(l observability.Logger) Option { return func(m *Manager) { m.log = l } }

// WithMaxRounds caps the dispatch rounds of one Commit. Default 8.
func WithMaxRounds(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxRounds = n
		}
	}
}

// WithIDGenerator replaces the uuid based session IDs.
func WithIDGenerator(fn func() string) Option { return func(m *Manager) { m.newID = fn } }

func NewManager(d Dispatcher, opts ...Option) *Manager {
	m := &Manager{
		dispatcher: d,
		log:        observability.NopLogger(),
		newID:      uuid.NewString,
		maxRounds:  8,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Begin(_ context.Context, actor string) *Session {
	id := m.newID()
	return &Session{
		id:         id,
		actor:      actor,
		maxRounds:  m.maxRounds,
		dispatcher: m.dispatcher,
		log: m.log.With(
			observability.F("component", componentUnitOfWork),
			observability.F("unit_of_work_id", id),
		),
	}
}

// Run calls fn inside a fresh session. The session is committed when fn
// succeeds and aborted when it fails.
func (m *Manager) Run(ctx context.Context, actor string, fn func(ctx context.Context, s *Session) error) error {
	s := m.Begin(ctx, actor)
	if err := fn(ctx, s); err != nil {
		s.Abort(ctx)
		return err
	}
	return s.Commit(ctx)
}
