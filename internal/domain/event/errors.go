package event

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidEvent = errors.New("event: invalid event")
	ErrUnknownName  = errors.New("event: unknown name")
)

// UnknownNameError reports a type name in a filter definition that does not
// resolve to a defined event or subject type.
type UnknownNameError struct {
	Kind string
	Name string
}

func (e *UnknownNameError) Error() string {
	return fmt.Sprintf("event: unknown %s %q", e.Kind, e.Name)
}

func (e *UnknownNameError) Is(target error) bool {
	return target == ErrUnknownName
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidEvent, fmt.Sprintf(format, args...))
}
