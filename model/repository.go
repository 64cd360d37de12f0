package model

import "context"

// LiveHandler receives the result set of a live query each time it changes.
// OnError is optional.
type LiveHandler struct {
	OnChange func(items []Entity)
	OnError  func(err error)
}

// Repository provides filtered, sorted and paginated access to the entities
// of one type. Implementations return *ErrorEnvelope errors: NOT_FOUND for
// update or delete of a missing id, VALIDATION_ERROR for rejected writes and
// BACKEND_UNAVAILABLE for everything else.
type Repository interface {
	EntityType() string
	Metadata() EntityMetadata

	Find(ctx context.Context, opts FindOptions) ([]Entity, error)
	FindFirst(ctx context.Context, filter *Filter) (Entity, bool, error)
	Count(ctx context.Context, filter *Filter) (int, error)
	Insert(ctx context.Context, data Entity) (Entity, error)
	Update(ctx context.Context, id string, patch Entity) (Entity, error)
	Delete(ctx context.Context, id string) error

	// Subscribe registers a live query. The registration itself is
	// synchronous; the current result set and every later change are
	// delivered to h asynchronously until the returned cancel is called.
	Subscribe(ctx context.Context, opts FindOptions, h LiveHandler) (cancel func(), err error)
}
