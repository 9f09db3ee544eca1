package event

import (
	"fmt"
	"strings"
)

// Filter accepts an event when both its type and its subject type are in the
// masks. The zero Filter accepts nothing.
type Filter struct {
	EventTypes   Type
	SubjectTypes SubjectType
}

// AcceptAll matches every event.
var AcceptAll = Filter{EventTypes: AllTypes, SubjectTypes: AllSubjectTypes}

func NewFilter(events Type, subjects SubjectType) Filter {
	return Filter{EventTypes: events, SubjectTypes: subjects}
}

func (f Filter) Accepts(e Event) bool {
	return f.EventTypes&e.Type != 0 && f.SubjectTypes&e.SubjectType != 0
}

func (f Filter) IsZero() bool { return f.EventTypes == 0 || f.SubjectTypes == 0 }

// String renders the filter in the same "Subjects+Events" form ParseFilterExpr reads.
func (f Filter) String() string {
	var subjects, events []string
	for _, n := range subjectNames {
		if f.SubjectTypes&n.t != 0 {
			subjects = append(subjects, n.name)
		}
	}
	for _, n := range typeNames {
		if f.EventTypes&n.t != 0 {
			events = append(events, n.name)
		}
	}
	return strings.Join(subjects, "|") + "+" + strings.Join(events, "|")
}

// Filters is an OR of filters.
type Filters []Filter

func (fs Filters) Accepts(e Event) bool {
	for _, f := range fs {
		if f.Accepts(e) {
			return true
		}
	}
	return false
}

// Select returns the accepted events in their original order.
func (fs Filters) Select(events []Event) []Event {
	var out []Event
	for _, e := range events {
		if fs.Accepts(e) {
			out = append(out, e)
		}
	}
	return out
}

// ParseFilter builds a filter from lists of event type and subject type names.
// "all" or "*" selects every type. Both lists empty yields the zero filter;
// only one of them empty is an error.
func ParseFilter(eventTypes, subjectTypes []string) (Filter, error) {
	if len(eventTypes) == 0 && len(subjectTypes) == 0 {
		return Filter{}, nil
	}
	if len(eventTypes) == 0 {
		return Filter{}, fmt.Errorf("event: filter on %v has no event types", subjectTypes)
	}
	if len(subjectTypes) == 0 {
		return Filter{}, fmt.Errorf("event: filter on %v has no subject types", eventTypes)
	}

	var f Filter
	for _, name := range eventTypes {
		if isWildcard(name) {
			f.EventTypes |= AllTypes
			continue
		}
		t, err := ParseType(name)
		if err != nil {
			return Filter{}, err
		}
		f.EventTypes |= t
	}
	for _, name := range subjectTypes {
		if isWildcard(name) {
			f.SubjectTypes |= AllSubjectTypes
			continue
		}
		s, err := ParseSubjectType(name)
		if err != nil {
			return Filter{}, err
		}
		f.SubjectTypes |= s
	}
	return f, nil
}

// ParseFilterExpr reads the compact "Item|Collection+Create|Modify" form:
// subject types, a plus sign, event types, each list separated by '|'.
func ParseFilterExpr(expr string) (Filter, error) {
	subjects, events, ok := strings.Cut(expr, "+")
	if !ok {
		return Filter{}, fmt.Errorf("event: filter %q must have the form Subjects+Events", expr)
	}
	return ParseFilter(splitNames(events), splitNames(subjects))
}

// ParseFilters parses every expression into one Filters value.
func ParseFilters(exprs ...string) (Filters, error) {
	out := make(Filters, 0, len(exprs))
	for _, expr := range exprs {
		f, err := ParseFilterExpr(expr)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func splitNames(list string) []string {
	var out []string
	for _, part := range strings.Split(list, "|") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
