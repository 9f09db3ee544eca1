package event

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event records one mutation of a repository object. It is built by New and
// passed by value; nothing mutates an Event after construction.
type Event struct {
	ID          string
	Actor       string
	Type        Type
	SubjectType SubjectType
	SubjectID   string
	// ObjectType and ObjectID name the secondary object of ADD and REMOVE,
	// e.g. the item added to a collection.
	ObjectType SubjectType
	ObjectID   string
	// Detail is free text, e.g. the metadata field of a MODIFY_METADATA.
	Detail    string
	Timestamp time.Time
}

type Option func(*Event)

func WithActor(actor string) Option { return func(e *Event) { e.Actor = actor } }

func WithObject(t SubjectType, id string) Option {
	return func(e *Event) {
		e.ObjectType = t
		e.ObjectID = id
	}
}

func WithDetail(detail string) Option { return func(e *Event) { e.Detail = detail } }

func WithID(id string) Option { return func(e *Event) { e.ID = id } }

func WithTimestamp(ts time.Time) Option { return func(e *Event) { e.Timestamp = ts } }

// New validates and builds an Event. ID and Timestamp are generated unless
// supplied as options.
func New(t Type, subject SubjectType, subjectID string, opts ...Option) (Event, error) {
	e := Event{
		Type:        t,
		SubjectType: subject,
		SubjectID:   subjectID,
	}
	for _, opt := range opts {
		opt(&e)
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if err := e.Validate(); err != nil {
		return Event{}, err
	}
	return e, nil
}

// Validate reports whether e is well formed. Events from New always are.
func (e Event) Validate() error {
	if e.ID == "" {
		return invalid("event id is required")
	}
	if !e.Type.Valid() {
		return invalid("event type %d", e.Type)
	}
	if !e.SubjectType.Valid() {
		return invalid("subject type %d", e.SubjectType)
	}
	if e.SubjectID == "" {
		return invalid("subject id is required")
	}
	if e.ObjectType != 0 && !e.ObjectType.Valid() {
		return invalid("object type %d", e.ObjectType)
	}
	if (e.ObjectType == 0) != (e.ObjectID == "") {
		return invalid("object type and id must be set together")
	}
	if (e.Type == Add || e.Type == Remove) && e.ObjectID == "" {
		return invalid("%s requires an object", e.Type)
	}
	return nil
}

// MustNew is like New but panics on an invalid event.
func MustNew(t Type, subject SubjectType, subjectID string, opts ...Option) Event {
	e, err := New(t, subject, subjectID, opts...)
	if err != nil {
		panic(err)
	}
	return e
}

// Key identifies events that are redundant within one batch.
type Key struct {
	Type        Type
	SubjectType SubjectType
	SubjectID   string
	ObjectType  SubjectType
	ObjectID    string
}

func (e Event) Key() Key {
	return Key{
		Type:        e.Type,
		SubjectType: e.SubjectType,
		SubjectID:   e.SubjectID,
		ObjectType:  e.ObjectType,
		ObjectID:    e.ObjectID,
	}
}

// Subject identifies the object an event concerns, independent of the action.
type Subject struct {
	Type SubjectType
	ID   string
}

func (e Event) Subject() Subject { return Subject{Type: e.SubjectType, ID: e.SubjectID} }

func (e Event) String() string {
	s := fmt.Sprintf("%s/%s id=%s", e.SubjectType, e.Type, e.SubjectID)
	if e.ObjectID != "" {
		s += fmt.Sprintf(" object=%s:%s", e.ObjectType, e.ObjectID)
	}
	return s
}
