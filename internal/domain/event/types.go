package event

import (
	"strings"

	"golang.org/x/text/cases"
)

// Type is the action an Event records. Every Type is a single bit so a set of
// types can be held in one mask.
type Type uint32

const (
	Create Type = 1 << iota
	Modify
	ModifyMetadata
	Add
	Remove
	Delete

	AllTypes = Create | Modify | ModifyMetadata | Add | Remove | Delete
)

var typeNames = []struct {
	t    Type
	name string
}{
	{Create, "CREATE"},
	{Modify, "MODIFY"},
	{ModifyMetadata, "MODIFY_METADATA"},
	{Add, "ADD"},
	{Remove, "REMOVE"},
	{Delete, "DELETE"},
}

func (t Type) String() string {
	for _, n := range typeNames {
		if n.t == t {
			return n.name
		}
	}
	return "UNKNOWN"
}

// Valid reports whether t is exactly one defined type.
func (t Type) Valid() bool {
	return t != 0 && t&(t-1) == 0 && t&AllTypes == t
}

// ParseType resolves a type name. Matching ignores case, '_' and '-'.
func ParseType(name string) (Type, error) {
	key := normalizeName(name)
	for _, n := range typeNames {
		if normalizeName(n.name) == key {
			return n.t, nil
		}
	}
	return 0, &UnknownNameError{Kind: "event type", Name: name}
}

// SubjectType is the kind of repository object an Event concerns. The zero
// value means "no object" and is only meaningful as Event.ObjectType.
type SubjectType uint32

const (
	Bitstream SubjectType = 1 << iota
	Bundle
	Item
	Collection
	Community
	Group
	EPerson
	Site

	AllSubjectTypes = Bitstream | Bundle | Item | Collection | Community | Group | EPerson | Site
)

var subjectNames = []struct {
	t    SubjectType
	name string
}{
	{Bitstream, "BITSTREAM"},
	{Bundle, "BUNDLE"},
	{Item, "ITEM"},
	{Collection, "COLLECTION"},
	{Community, "COMMUNITY"},
	{Group, "GROUP"},
	{EPerson, "EPERSON"},
	{Site, "SITE"},
}

func (s SubjectType) String() string {
	if s == 0 {
		return "NONE"
	}
	for _, n := range subjectNames {
		if n.t == s {
			return n.name
		}
	}
	return "UNKNOWN"
}

// Valid reports whether s is exactly one defined subject type.
func (s SubjectType) Valid() bool {
	return s != 0 && s&(s-1) == 0 && s&AllSubjectTypes == s
}

// ParseSubjectType resolves a subject type name. Matching ignores case, '_' and '-'.
func ParseSubjectType(name string) (SubjectType, error) {
	key := normalizeName(name)
	for _, n := range subjectNames {
		if normalizeName(n.name) == key {
			return n.t, nil
		}
	}
	return 0, &UnknownNameError{Kind: "subject type", Name: name}
}

// SubjectTypes lists every defined subject type in declaration order.
func SubjectTypes() []SubjectType {
	out := make([]SubjectType, 0, len(subjectNames))
	for _, n := range subjectNames {
		out = append(out, n.t)
	}
	return out
}

const wildcard = "*"

func isWildcard(name string) bool {
	key := normalizeName(name)
	return key == wildcard || key == "all"
}

// normalizeName folds case (a Caser is stateful, so one is built per call)
// and drops separators.
func normalizeName(name string) string {
	folded := cases.Fold().String(strings.TrimSpace(name))
	return strings.NewReplacer("_", "", "-", "", " ", "").Replace(folded)
}
