package content

import "context"

// Reader is the read side consumers use to look objects up after a mutation.
type Reader interface {
	Get(ctx context.Context, id string) (*Object, error)
}

type Repository interface {
	Reader
	Insert(ctx context.Context, obj *Object) error
	Update(ctx context.Context, obj *Object) error
	Delete(ctx context.Context, id string) error
	// Children lists the direct children of id in insertion order.
	Children(ctx context.Context, id string) ([]*Object, error)
}
