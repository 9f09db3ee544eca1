package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	domain "github.com/Zhima-Mochi/repoevents/internal/domain/content"
)

// ContentRepository keeps objects in memory with a parent to children index.
type ContentRepository struct {
	mu       sync.RWMutex
	objects  map[string]*domain.Object
	children map[string][]string
	handles  map[string]string
}

var _ domain.Repository = (*ContentRepository)(nil)

func NewContentRepository() *ContentRepository {
	return &ContentRepository{
		objects:  make(map[string]*domain.Object),
		children: make(map[string][]string),
		handles:  make(map[string]string),
	}
}

func (r *ContentRepository) Insert(ctx context.Context, obj *domain.Object) error {
	_ = ctx
	if obj == nil || obj.ID == "" {
		return fmt.Errorf("content repository: id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.objects[obj.ID]; exists {
		return domain.ErrConflict
	}
	if h := obj.Handle; h != "" {
		if _, exists := r.handles[h]; exists {
			return domain.ErrConflict
		}
	}
	if p := obj.ParentID; p != "" {
		if _, ok := r.objects[p]; !ok {
			return fmt.Errorf("%w: parent %s", domain.ErrNotFound, p)
		}
		r.children[p] = append(r.children[p], obj.ID)
	}

	r.objects[obj.ID] = obj.Clone()
	if h := obj.Handle; h != "" {
		r.handles[h] = obj.ID
	}
	return nil
}

func (r *ContentRepository) Get(ctx context.Context, id string) (*domain.Object, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	obj, ok := r.objects[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return obj.Clone(), nil
}

// GetByHandle resolves a persistent handle such as 123456789/42.
func (r *ContentRepository) GetByHandle(ctx context.Context, handle string) (*domain.Object, error) {
	r.mu.RLock()
	id, ok := r.handles[handle]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.ErrNotFound
	}
	return r.Get(ctx, id)
}

// Update replaces the stored object. Parent and handle are fixed at insert.
func (r *ContentRepository) Update(ctx context.Context, obj *domain.Object) error {
	_ = ctx
	if obj == nil || obj.ID == "" {
		return fmt.Errorf("content repository: id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, exists := r.objects[obj.ID]
	if !exists {
		return domain.ErrNotFound
	}
	next := obj.Clone()
	next.ParentID = current.ParentID
	next.Handle = current.Handle
	r.objects[obj.ID] = next
	return nil
}

// Delete removes a leaf object. Objects that still have children are refused.
func (r *ContentRepository) Delete(ctx context.Context, id string) error {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	obj, ok := r.objects[id]
	if !ok {
		return domain.ErrNotFound
	}
	if len(r.children[id]) > 0 {
		return fmt.Errorf("%w: %s still has %d children", domain.ErrConflict, id, len(r.children[id]))
	}
	if p := obj.ParentID; p != "" {
		r.children[p] = slices.DeleteFunc(r.children[p], func(c string) bool { return c == id })
		if len(r.children[p]) == 0 {
			delete(r.children, p)
		}
	}
	delete(r.children, id)
	if obj.Handle != "" {
		delete(r.handles, obj.Handle)
	}
	delete(r.objects, id)
	return nil
}

func (r *ContentRepository) Children(ctx context.Context, id string) ([]*domain.Object, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.objects[id]; !ok {
		return nil, domain.ErrNotFound
	}
	ids := r.children[id]
	out := make([]*domain.Object, 0, len(ids))
	for _, c := range ids {
		out = append(out, r.objects[c].Clone())
	}
	return out, nil
}
