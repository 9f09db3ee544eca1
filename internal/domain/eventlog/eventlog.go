package eventlog

import "github.com/Zhima-Mochi/repoevents/internal/domain/event"

// Recorder accepts events produced by a mutation.
type Recorder interface {
	Record(e event.Event) error
}

// EventLog is the ordered, per unit of work event queue.
type EventLog interface {
	Recorder
	// Drain returns every event recorded since the last drain, in record order,
	// and empties the log.
	Drain() []event.Event
	// Discard drops every pending event without delivering it.
	Discard()
}
