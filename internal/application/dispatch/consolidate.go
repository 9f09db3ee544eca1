package dispatch

import "github.com/Zhima-Mochi/repoevents/internal/domain/event"

// Consolidate drops events whose Key repeats an earlier event of the batch and
// returns the survivors in first-occurrence order with the number dropped.
// DELETE events are never dropped, and a DELETE forgets the earlier keys of its
// subject so nothing recorded after it is merged into what came before.
func Consolidate(events []event.Event) ([]event.Event, int) {
	if len(events) < 2 {
		return events, 0
	}
	seen := make(map[event.Key]struct{}, len(events))
	bySubject := make(map[event.Subject][]event.Key)
	out := make([]event.Event, 0, len(events))

	for _, e := range events {
		if e.Type == event.Delete {
			for _, k := range bySubject[e.Subject()] {
				delete(seen, k)
			}
			delete(bySubject, e.Subject())
			out = append(out, e)
			continue
		}
		k := e.Key()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		bySubject[e.Subject()] = append(bySubject[e.Subject()], k)
		out = append(out, e)
	}
	return out, len(events) - len(out)
}

// EventsAfterDelete returns the events recorded for a subject after that
// subject was deleted earlier in the same batch.
func EventsAfterDelete(events []event.Event) []event.Event {
	var (
		deleted map[event.Subject]struct{}
		out     []event.Event
	)
	for _, e := range events {
		s := e.Subject()
		if _, gone := deleted[s]; gone {
			out = append(out, e)
		}
		if e.Type == event.Delete {
			if deleted == nil {
				deleted = make(map[event.Subject]struct{})
			}
			deleted[s] = struct{}{}
		}
	}
	return out
}
