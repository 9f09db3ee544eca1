package content

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/Zhima-Mochi/repoevents/internal/domain/event"
)

var (
	ErrNotFound      = errors.New("content: not found")
	ErrConflict      = errors.New("content: already exists")
	ErrInvalidParent = errors.New("content: invalid parent")
	ErrInvalidObject = errors.New("content: invalid object")
)

// TitleField is the metadata field browse and search treat as the title.
const TitleField = "dc.title"

// Object is one node of the repository hierarchy.
type Object struct {
	ID       string
	Type     event.SubjectType
	Handle   string
	Name     string
	ParentID string
	// Metadata maps a qualified field such as dc.title to its values.
	Metadata  map[string][]string
	CreatedAt time.Time
	UpdatedAt time.Time
}

var parents = map[event.SubjectType][]event.SubjectType{
	event.Community:  {event.Community},
	event.Collection: {event.Community},
	event.Item:       {event.Collection},
	event.Bundle:     {event.Item},
	event.Bitstream:  {event.Bundle},
}

// CanContain reports whether a parent of type parent may hold a child of type
// child. A zero parent stands for the repository root.
func CanContain(parent, child event.SubjectType) bool {
	if parent == 0 {
		return child != event.Collection && child != event.Item &&
			child != event.Bundle && child != event.Bitstream
	}
	return slices.Contains(parents[child], parent)
}

// NeedsParent reports whether objects of type t live inside another object.
func NeedsParent(t event.SubjectType) bool { return !CanContain(0, t) }

func New(id string, t event.SubjectType, name, handle string) (*Object, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: id is required", ErrInvalidObject)
	}
	if !t.Valid() {
		return nil, fmt.Errorf("%w: type %d", ErrInvalidObject, t)
	}
	now := time.Now().UTC()
	return &Object{
		ID:        id,
		Type:      t,
		Name:      name,
		Handle:    handle,
		Metadata:  make(map[string][]string),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Attach places o under parent, or at the root when parent is nil.
func (o *Object) Attach(parent *Object) error {
	if parent == nil {
		if NeedsParent(o.Type) {
			return fmt.Errorf("%w: %s requires a parent", ErrInvalidParent, o.Type)
		}
		o.ParentID = ""
		return nil
	}
	if !CanContain(parent.Type, o.Type) {
		return fmt.Errorf("%w: %s cannot contain %s", ErrInvalidParent, parent.Type, o.Type)
	}
	o.ParentID = parent.ID
	return nil
}

func (o *Object) SetMetadata(field string, values []string) {
	if len(values) == 0 {
		delete(o.Metadata, field)
	} else {
		o.Metadata[field] = slices.Clone(values)
	}
	o.touch()
}

func (o *Object) Rename(name string) {
	o.Name = name
	o.touch()
}

// Title is the first dc.title value, falling back to Name.
func (o *Object) Title() string {
	if v := o.Metadata[TitleField]; len(v) > 0 && v[0] != "" {
		return v[0]
	}
	return o.Name
}

func (o *Object) Clone() *Object {
	if o == nil {
		return nil
	}
	c := *o
	c.Metadata = make(map[string][]string, len(o.Metadata))
	for k, v := range o.Metadata {
		c.Metadata[k] = slices.Clone(v)
	}
	return &c
}

func (o *Object) touch() {
	o.UpdatedAt = time.Now().UTC()
}
