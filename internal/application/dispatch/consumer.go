package dispatch

import (
	"context"

	"github.com/Zhima-Mochi/repoevents/internal/domain/event"
	"github.com/Zhima-Mochi/repoevents/internal/domain/eventlog"
)

// Scope describes the unit of work a batch belongs to. Consumers that hold
// state across calls key it by UnitOfWorkID, because the same consumer may
// serve several dispatches at once.
type Scope struct {
	UnitOfWorkID string
	Actor        string
	Dispatcher   string
}

// Consumer reacts to the events of a unit of work. For every dispatch with at
// least one accepted event the Dispatcher calls Consume once per event, in
// record order, then End once. Delivery is at-least-once: a batch may be seen
// again after a crash, so side effects must tolerate replays.
type Consumer interface {
	// Initialize is called once when the consumer is registered.
	Initialize(ctx context.Context) error
	Consume(ctx context.Context, scope Scope, e event.Event) error
	// End commits whatever Consume accumulated for the scope. It must be a
	// no-op when nothing was consumed.
	End(ctx context.Context, scope Scope) error
	// Finish releases what Initialize acquired.
	Finish(ctx context.Context) error
}

// AlwaysRunner is implemented by consumers that want End even when no event
// of the batch matched their filter.
type AlwaysRunner interface {
	AlwaysRun() bool
}

// Aborter is implemented by consumers that need to drop a pending batch after
// Consume failed. Abort is called instead of End.
type Aborter interface {
	Abort(ctx context.Context, scope Scope)
}

// UnitOfWork is the side of a session the Dispatcher drives.
type UnitOfWork interface {
	eventlog.EventLog
	ID() string
	Actor() string
	// BeginDispatch moves the unit of work into the dispatching state and
	// reports false when a dispatch is already running.
	BeginDispatch() bool
	EndDispatch()
}
