package search

import (
	"slices"
	"strings"
	"sync"
	"unicode"

	"github.com/Zhima-Mochi/repoevents/internal/domain/event"
	"golang.org/x/text/cases"
)

// Hit is one search result.
type Hit struct {
	ID    string            `json:"id"`
	Type  event.SubjectType `json:"-"`
	Kind  string            `json:"type"`
	Title string            `json:"title"`
}

type document struct {
	hit    Hit
	tokens []string
}

// Index is an in-memory inverted index over object text.
type Index struct {
	mu       sync.RWMutex
	docs     map[string]document
	postings map[string]map[string]struct{}
}

func NewIndex() *Index {
	return &Index{
		docs:     make(map[string]document),
		postings: make(map[string]map[string]struct{}),
	}
}

// Put replaces the document of id.
func (x *Index) Put(id string, typ event.SubjectType, title string, text []string) {
	tokens := tokenize(append([]string{title}, text...)...)

	x.mu.Lock()
	defer x.mu.Unlock()
	x.removeLocked(id)
	x.docs[id] = document{hit: Hit{ID: id, Type: typ, Kind: typ.String(), Title: title}, tokens: tokens}
	for _, tok := range tokens {
		set, ok := x.postings[tok]
		if !ok {
			set = make(map[string]struct{})
			x.postings[tok] = set
		}
		set[id] = struct{}{}
	}
}

func (x *Index) Remove(id string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.removeLocked(id)
}

func (x *Index) removeLocked(id string) {
	doc, ok := x.docs[id]
	if !ok {
		return
	}
	for _, tok := range doc.tokens {
		if set := x.postings[tok]; set != nil {
			delete(set, id)
			if len(set) == 0 {
				delete(x.postings, tok)
			}
		}
	}
	delete(x.docs, id)
}

func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.docs)
}

// Query returns the documents holding every term of q, ordered by title then
// id. A limit of zero or less returns all matches.
func (x *Index) Query(q string, limit int) []Hit {
	terms := tokenize(q)
	if len(terms) == 0 {
		return nil
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	var hits []Hit
	for id := range x.postings[terms[0]] {
		if x.matchesLocked(id, terms[1:]) {
			hits = append(hits, x.docs[id].hit)
		}
	}
	slices.SortFunc(hits, func(a, b Hit) int {
		if c := strings.Compare(a.Title, b.Title); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

func (x *Index) matchesLocked(id string, terms []string) bool {
	for _, t := range terms {
		if _, ok := x.postings[t][id]; !ok {
			return false
		}
	}
	return true
}

// tokenize folds case and splits on anything that is not a letter or digit.
// The result is deduplicated.
func tokenize(texts ...string) []string {
	fold := cases.Fold()
	seen := make(map[string]struct{})
	var out []string
	for _, text := range texts {
		words := strings.FieldsFunc(fold.String(text), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		for _, w := range words {
			if _, dup := seen[w]; dup {
				continue
			}
			seen[w] = struct{}{}
			out = append(out, w)
		}
	}
	return out
}
