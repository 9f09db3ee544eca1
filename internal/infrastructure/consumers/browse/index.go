package browse

import (
	"bytes"
	"slices"
	"strings"
	"sync"

	"github.com/Zhima-Mochi/repoevents/internal/domain/event"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

type Entry struct {
	ID    string            `json:"id"`
	Type  event.SubjectType `json:"-"`
	Kind  string            `json:"type"`
	Title string            `json:"title"`

	key []byte
}

// TitleIndex keeps entries sorted by title using the collation rules of a
// locale, so "éclair" sorts next to "eclair" and case does not split runs.
type TitleIndex struct {
	mu       sync.RWMutex
	collator *collate.Collator
	buf      collate.Buffer
	entries  []Entry
	byID     map[string]int
}

func NewTitleIndex(tag language.Tag) *TitleIndex {
	return &TitleIndex{
		collator: collate.New(tag, collate.Loose, collate.Numeric),
		byID:     make(map[string]int),
	}
}

// keyLocked computes a sort key. The collator and its buffer are not safe for
// concurrent use, so callers hold the write lock.
func (x *TitleIndex) keyLocked(title string) []byte {
	x.buf.Reset()
	return bytes.Clone(x.collator.KeyFromString(&x.buf, strings.TrimSpace(title)))
}

func (x *TitleIndex) Put(id string, typ event.SubjectType, title string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.removeLocked(id)
	e := Entry{ID: id, Type: typ, Kind: typ.String(), Title: title, key: x.keyLocked(title)}
	i, _ := slices.BinarySearchFunc(x.entries, e, compare)
	x.entries = slices.Insert(x.entries, i, e)
	x.reindexLocked(i)
}

func (x *TitleIndex) Remove(id string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.removeLocked(id)
}

func (x *TitleIndex) removeLocked(id string) {
	i, ok := x.byID[id]
	if !ok {
		return
	}
	x.entries = slices.Delete(x.entries, i, i+1)
	delete(x.byID, id)
	x.reindexLocked(i)
}

func (x *TitleIndex) reindexLocked(from int) {
	for i := from; i < len(x.entries); i++ {
		x.byID[x.entries[i].ID] = i
	}
}

func (x *TitleIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries)
}

// Page returns up to limit entries starting at the first title that sorts at
// or after from. An empty from starts at the beginning; limit <= 0 means all.
func (x *TitleIndex) Page(from string, limit int) []Entry {
	x.mu.Lock()
	defer x.mu.Unlock()

	start := 0
	if from != "" {
		start, _ = slices.BinarySearchFunc(x.entries, Entry{key: x.keyLocked(from)}, func(a, b Entry) int {
			return bytes.Compare(a.key, b.key)
		})
	}
	end := len(x.entries)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	return slices.Clone(x.entries[start:end])
}

func compare(a, b Entry) int {
	if c := bytes.Compare(a.key, b.key); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}
