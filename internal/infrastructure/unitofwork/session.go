package unitofwork

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Zhima-Mochi/repoevents/internal/application/dispatch"
	"github.com/Zhima-Mochi/repoevents/internal/domain/event"
	"github.com/Zhima-Mochi/repoevents/internal/observability"
	"github.com/Zhima-Mochi/repoevents/internal/observability/logctx"
)

type State int

const (
	Idle State = iota
	Collecting
	Dispatching
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Collecting:
		return "collecting"
	case Dispatching:
		return "dispatching"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ErrDispatchLoop is returned by Commit when consumers keep recording events
// into the session they are consuming.
var ErrDispatchLoop = errors.New("unitofwork: events still pending after max dispatch rounds")

// Dispatcher is the part of dispatch.Dispatcher a session needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, uow dispatch.UnitOfWork) error
}

// Session is one unit of work: the events recorded by a single request,
// delivered together on Commit. A session is not shared between requests,
// but consumers may record into it while it is dispatching.
type Session struct {
	id        string
	actor     string
	maxRounds int

	dispatcher Dispatcher
	log        observability.Logger

	mu      sync.Mutex
	state   State
	pending []event.Event
}

var _ dispatch.UnitOfWork = (*Session)(nil)

func (s *Session) ID() string    { return s.id }
func (s *Session) Actor() string { return s.actor }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Record appends e. Events recorded while the session is dispatching are
// kept for the next round.
func (s *Session) Record(e event.Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if e.Actor == "" {
		e.Actor = s.actor
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, e)
	if s.state == Idle {
		s.state = Collecting
	}
	return nil
}

func (s *Session) Drain() []event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.pending
	s.pending = nil
	return out
}

func (s *Session) Discard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
	if s.state == Collecting {
		s.state = Idle
	}
}

// Pending reports how many events wait for the next dispatch.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Session) BeginDispatch() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Dispatching {
		return false
	}
	s.state = Dispatching
	return true
}

func (s *Session) EndDispatch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) > 0 {
		s.state = Collecting
		return
	}
	s.state = Idle
}

// Commit dispatches the recorded events. The first round always runs, so
// always-run consumers see a commit that recorded nothing. Events recorded by
// consumers during a round are dispatched in a following round, up to the
// session limit.
func (s *Session) Commit(ctx context.Context) error {
	if s.State() == Dispatching {
		return &dispatch.ConcurrentDispatchError{UnitOfWorkID: s.id}
	}
	logger := logctx.FromOr(ctx, s.log)
	// Non-fatal failures do not stop later rounds. A fatal failure or a loop
	// is returned alone.
	var partial []error
	for round := 0; round == 0 || s.Pending() > 0; round++ {
		if round == s.maxRounds {
			logger.Error("unit_of_work_dispatch_loop",
				observability.F("rounds", round),
				observability.F("pending", s.Pending()),
			)
			return fmt.Errorf("%w (%d)", ErrDispatchLoop, round)
		}
		if err := s.dispatcher.Dispatch(ctx, s); err != nil {
			var de *dispatch.DispatchError
			if !errors.As(err, &de) {
				return err
			}
			partial = append(partial, err)
		}
	}
	logger.Debug("unit_of_work_committed")
	if len(partial) == 1 {
		return partial[0]
	}
	return errors.Join(partial...)
}

// Abort drops the recorded events; no consumer sees them.
func (s *Session) Abort(ctx context.Context) {
	n := s.Pending()
	s.Discard()
	logctx.FromOr(ctx, s.log).Debug("unit_of_work_aborted", observability.F("discarded", n))
}
