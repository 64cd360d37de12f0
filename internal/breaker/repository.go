package breaker

import (
	"context"
	"errors"
	"fmt"

	"github.com/pitabwire/entitystore/model"
)

// Repository guards a model.Repository with a Breaker. Only transport
// failures count against the breaker; validation, not-found and bad-request
// answers prove the backend is reachable.
type Repository struct {
	next    model.Repository
	breaker *Breaker
}

// Guard wraps repo with b.
func Guard(repo model.Repository, b *Breaker) *Repository {
	return &Repository{next: repo, breaker: b}
}

// Unwrap returns the guarded repository.
func (r *Repository) Unwrap() model.Repository { return r.next }

// Breaker returns the breaker guarding the repository.
func (r *Repository) Breaker() *Breaker { return r.breaker }

func (r *Repository) EntityType() string { return r.next.EntityType() }

func (r *Repository) Metadata() model.EntityMetadata { return r.next.Metadata() }

func (r *Repository) Find(ctx context.Context, opts model.FindOptions) ([]model.Entity, error) {
	if err := r.allow("find"); err != nil {
		return nil, err
	}
	items, err := r.next.Find(ctx, opts)
	r.record(err)
	return items, err
}

func (r *Repository) FindFirst(ctx context.Context, filter *model.Filter) (model.Entity, bool, error) {
	if err := r.allow("find_first"); err != nil {
		return nil, false, err
	}
	item, ok, err := r.next.FindFirst(ctx, filter)
	r.record(err)
	return item, ok, err
}

func (r *Repository) Count(ctx context.Context, filter *model.Filter) (int, error) {
	if err := r.allow("count"); err != nil {
		return 0, err
	}
	n, err := r.next.Count(ctx, filter)
	r.record(err)
	return n, err
}

func (r *Repository) Insert(ctx context.Context, data model.Entity) (model.Entity, error) {
	if err := r.allow("insert"); err != nil {
		return nil, err
	}
	created, err := r.next.Insert(ctx, data)
	r.record(err)
	return created, err
}

func (r *Repository) Update(ctx context.Context, id string, patch model.Entity) (model.Entity, error) {
	if err := r.allow("update"); err != nil {
		return nil, err
	}
	updated, err := r.next.Update(ctx, id, patch)
	r.record(err)
	return updated, err
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	if err := r.allow("delete"); err != nil {
		return err
	}
	err := r.next.Delete(ctx, id)
	r.record(err)
	return err
}

// Subscribe guards establishing the live query. Emissions and stream errors
// are passed through untouched.
func (r *Repository) Subscribe(ctx context.Context, opts model.FindOptions, h model.LiveHandler) (func(), error) {
	if err := r.allow("subscribe"); err != nil {
		return nil, err
	}
	cancel, err := r.next.Subscribe(ctx, opts, h)
	r.record(err)
	return cancel, err
}

func (r *Repository) allow(op string) error {
	if r.breaker.Allow() {
		return nil
	}
	return model.NewTransportError(
		fmt.Sprintf("%s %s", r.next.EntityType(), op),
		fmt.Errorf("circuit breaker is %s", Open),
	)
}

func (r *Repository) record(err error) {
	switch {
	case err == nil:
		r.breaker.Success()
	case errors.Is(err, context.Canceled):
	case model.CodeOf(err) == model.ErrBackendUnavailable:
		r.breaker.Failure()
	default:
		r.breaker.Success()
	}
}

var _ model.Repository = (*Repository)(nil)
