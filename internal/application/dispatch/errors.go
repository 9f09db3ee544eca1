package dispatch

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Zhima-Mochi/repoevents/internal/domain/event"
)

var (
	ErrConfiguration      = errors.New("dispatch: configuration error")
	ErrConcurrentDispatch = errors.New("dispatch: dispatch already in progress")
	ErrConsumerExecution  = errors.New("dispatch: consumer failed")
	errConsumerPanic      = errors.New("consumer panicked")
)

// ConfigurationError is returned while loading consumers. Nothing is
// registered when it occurs.
type ConfigurationError struct {
	Consumer string
	Field    string
	Err      error
}

func (e *ConfigurationError) Error() string {
	var b strings.Builder
	b.WriteString("dispatch: configuration")
	if e.Consumer != "" {
		fmt.Fprintf(&b, " of consumer %q", e.Consumer)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, " field %s", e.Field)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// DuplicateConsumerNameError reports a second profile with a registered name.
type DuplicateConsumerNameError struct {
	Name string
}

func (e *DuplicateConsumerNameError) Error() string {
	return fmt.Sprintf("dispatch: consumer %q already registered", e.Name)
}

func (e *DuplicateConsumerNameError) Is(target error) bool { return target == ErrConfiguration }

// ConcurrentDispatchError rejects a dispatch of a unit of work that is
// already dispatching. The event log is left untouched; retry after the
// running dispatch returns.
type ConcurrentDispatchError struct {
	UnitOfWorkID string
}

func (e *ConcurrentDispatchError) Error() string {
	return fmt.Sprintf("dispatch: unit of work %s is already dispatching", e.UnitOfWorkID)
}

func (e *ConcurrentDispatchError) Is(target error) bool { return target == ErrConcurrentDispatch }

type Phase string

const (
	PhaseConsume Phase = "consume"
	PhaseEnd     Phase = "end"
	PhaseFinish  Phase = "finish"
)

// ConsumerExecutionError wraps a failure returned (or a panic raised) by a
// consumer.
type ConsumerExecutionError struct {
	Consumer string
	Phase    Phase
	// Event is set when the failure happened in Consume.
	Event *event.Event
	Fatal bool
	Err   error
}

func (e *ConsumerExecutionError) Error() string {
	msg := fmt.Sprintf("dispatch: consumer %q failed in %s", e.Consumer, e.Phase)
	if e.Event != nil {
		msg += fmt.Sprintf(" of %s", e.Event)
	}
	return msg + ": " + e.Err.Error()
}

func (e *ConsumerExecutionError) Unwrap() error { return e.Err }

func (e *ConsumerExecutionError) Is(target error) bool { return target == ErrConsumerExecution }

// DispatchError aggregates the non-fatal consumer failures of one dispatch.
// Every consumer was attempted before it is returned.
type DispatchError struct {
	Failures []*ConsumerExecutionError
}

func (e *DispatchError) Error() string {
	names := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		names = append(names, f.Consumer)
	}
	return fmt.Sprintf("dispatch: %d consumer(s) failed: %s", len(e.Failures), strings.Join(names, ", "))
}

func (e *DispatchError) Unwrap() []error {
	out := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		out = append(out, f)
	}
	return out
}

type panicError struct {
	value any
	stack string
}

func (e *panicError) Error() string { return fmt.Sprintf("%v: %v", errConsumerPanic, e.value) }

func (e *panicError) Unwrap() error { return errConsumerPanic }
