package memory

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/pitabwire/entitystore/internal/changefeed"
	"github.com/pitabwire/entitystore/model"
)

// Repository is the in-memory collection of one entity type. Identifiers
// are "1", "2", ... in insertion order and are never reused.
type Repository struct {
	engine *Engine
	meta   model.EntityMetadata

	mu     sync.RWMutex
	items  []model.Entity
	lastID int64
}

func newRepository(e *Engine, meta model.EntityMetadata) *Repository {
	return &Repository{engine: e, meta: meta}
}

func (r *Repository) EntityType() string { return r.meta.Name }

func (r *Repository) Metadata() model.EntityMetadata { return r.meta }

// Find filters, sorts and paginates a copy of the collection.
func (r *Repository) Find(ctx context.Context, opts model.FindOptions) ([]model.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, model.NewTransportError("find", err)
	}

	r.mu.RLock()
	matched := make([]model.Entity, 0, len(r.items))
	for _, it := range r.items {
		if Matches(it, opts.Filter) {
			matched = append(matched, it)
		}
	}
	r.mu.RUnlock()

	Sort(matched, opts.Sort)
	return model.CloneEntities(paginate(matched, opts.Limit, opts.Offset())), nil
}

func (r *Repository) FindFirst(ctx context.Context, filter *model.Filter) (model.Entity, bool, error) {
	items, err := r.Find(ctx, model.FindOptions{Filter: filter, Limit: 1})
	if err != nil || len(items) == 0 {
		return nil, false, err
	}
	return items[0], true, nil
}

func (r *Repository) Count(ctx context.Context, filter *model.Filter) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, model.NewTransportError("count", err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, it := range r.items {
		if Matches(it, filter) {
			n++
		}
	}
	return n, nil
}

// Insert stores a copy of data under a fresh identifier. Any id in data is
// ignored.
func (r *Repository) Insert(ctx context.Context, data model.Entity) (model.Entity, error) {
	record := data.Clone()
	if record == nil {
		record = model.Entity{}
	}
	delete(record, model.IDField)
	dropComputed(record, r.meta)

	if err := r.validate(ctx, record); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.lastID++
	id := strconv.FormatInt(r.lastID, 10)
	record[model.IDField] = id
	r.items = append(r.items, record)
	out := record.Clone()
	r.mu.Unlock()

	r.publish(ctx, changefeed.OpInsert, id)
	return out, nil
}

// Update merges patch into the record with the given id. The identifier
// itself cannot be changed.
func (r *Repository) Update(ctx context.Context, id string, patch model.Entity) (model.Entity, error) {
	patch = patch.Clone()
	delete(patch, model.IDField)
	dropComputed(patch, r.meta)

	r.mu.RLock()
	idx := r.indexOf(id)
	var merged model.Entity
	if idx >= 0 {
		merged = r.items[idx].Merge(patch)
	}
	r.mu.RUnlock()

	if idx < 0 {
		return nil, notFound(r.meta.Name, id)
	}
	if err := r.validate(ctx, merged); err != nil {
		return nil, err
	}

	r.mu.Lock()
	// The record may have moved or gone while validating.
	idx = r.indexOf(id)
	if idx < 0 {
		r.mu.Unlock()
		return nil, notFound(r.meta.Name, id)
	}
	merged = r.items[idx].Merge(patch)
	r.items[idx] = merged
	out := merged.Clone()
	r.mu.Unlock()

	r.publish(ctx, changefeed.OpUpdate, id)
	return out, nil
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	idx := r.indexOf(id)
	if idx < 0 {
		r.mu.Unlock()
		return notFound(r.meta.Name, id)
	}
	r.items = append(r.items[:idx], r.items[idx+1:]...)
	r.mu.Unlock()

	r.publish(ctx, changefeed.OpDelete, id)
	return nil
}

// Subscribe delivers the result of opts right after registration and again
// after every change to this entity type.
func (r *Repository) Subscribe(ctx context.Context, opts model.FindOptions, h model.LiveHandler) (func(), error) {
	cancel, err := changefeed.Requery(ctx, r.engine.feed, r.meta.Name, func(ctx context.Context) ([]model.Entity, error) {
		return r.Find(ctx, opts)
	}, h)
	if err != nil {
		return nil, model.NewTransportError("subscribe", err)
	}
	return cancel, nil
}

// Len returns the number of stored records.
func (r *Repository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// indexOf must be called with mu held.
func (r *Repository) indexOf(id string) int {
	for i, it := range r.items {
		if it.ID() == id {
			return i
		}
	}
	return -1
}

func (r *Repository) validate(ctx context.Context, record model.Entity) error {
	if r.engine.validator == nil {
		return nil
	}
	return r.engine.validator.Validate(ctx, r.meta.Name, record)
}

func (r *Repository) publish(ctx context.Context, op, id string) {
	ev := changefeed.Event{EntityType: r.meta.Name, Op: op, ID: id}
	if err := r.engine.feed.Publish(context.WithoutCancel(ctx), ev); err != nil {
		// The write already happened; live queries catch up on the next change.
		r.engine.logger.Warn("change event not published",
			zap.String("entity", r.meta.Name),
			zap.String("op", op),
			zap.String("id", id),
			zap.Error(err),
		)
	}
}

func dropComputed(record model.Entity, meta model.EntityMetadata) {
	for _, f := range meta.Fields {
		if f.Computed {
			delete(record, f.Name)
		}
	}
}

func paginate(items []model.Entity, limit, offset int) []model.Entity {
	if offset < 0 || offset >= len(items) {
		return []model.Entity{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func notFound(entityType, id string) error {
	return model.NewNotFoundError(fmt.Sprintf("%s %q not found", entityType, id))
}

var _ model.Repository = (*Repository)(nil)
