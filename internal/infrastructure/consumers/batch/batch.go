// Package batch keeps per unit of work state for consumers that collect in
// Consume and apply in End.
package batch

import "sync"

// Batches maps a unit of work ID to its pending state. One consumer instance
// serves concurrent dispatches, so every access goes through the mutex.
type Batches[T any] struct {
	mu      sync.Mutex
	pending map[string]*T
	newT    func() *T
}

func New[T any](newT func() *T) *Batches[T] {
	return &Batches[T]{pending: make(map[string]*T), newT: newT}
}

// Update runs fn on the batch of id, creating it first if needed.
func (b *Batches[T]) Update(id string, fn func(*T)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cur, ok := b.pending[id]
	if !ok {
		cur = b.newT()
		b.pending[id] = cur
	}
	fn(cur)
}

// Take removes and returns the batch of id.
func (b *Batches[T]) Take(id string) (*T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cur, ok := b.pending[id]
	delete(b.pending, id)
	return cur, ok
}

func (b *Batches[T]) Drop(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.pending, id)
}

// Len is the number of units of work with pending state.
func (b *Batches[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
