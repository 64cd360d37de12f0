package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pitabwire/entitystore/model"
)

// Entity is the handle of one entity type: its list, detail and form
// stores plus the repository operations they are built on.
type Entity struct {
	repo model.Repository
	cfg  settings

	List   *ListStore
	Detail *DetailStore
	Form   *FormStore
}

// NewEntity composes the stores of repo.
func NewEntity(repo model.Repository, opts ...Option) *Entity {
	return newEntity(repo, buildSettings(opts))
}

func newEntity(repo model.Repository, cfg settings) *Entity {
	list := newListStore(repo, cfg)
	detail := newDetailStore(repo, cfg)
	form := newFormStore(repo, list, cfg)
	form.detail = detail
	return &Entity{
		repo:   repo,
		cfg:    cfg,
		List:   list,
		Detail: detail,
		Form:   form,
	}
}

// EntityType returns the entity type name.
func (e *Entity) EntityType() string { return e.repo.EntityType() }

// Metadata returns the entity metadata.
func (e *Entity) Metadata() model.EntityMetadata { return e.repo.Metadata() }

// Repository returns the underlying repository.
func (e *Entity) Repository() model.Repository { return e.repo }

func (e *Entity) Find(ctx context.Context, opts model.FindOptions) ([]model.Entity, error) {
	return e.repo.Find(ctx, opts)
}

func (e *Entity) FindFirst(ctx context.Context, filter *model.Filter) (model.Entity, bool, error) {
	return e.repo.FindFirst(ctx, filter)
}

func (e *Entity) Count(ctx context.Context, filter *model.Filter) (int, error) {
	return e.repo.Count(ctx, filter)
}

func (e *Entity) Insert(ctx context.Context, data model.Entity) (model.Entity, error) {
	return e.repo.Insert(ctx, data)
}

func (e *Entity) Update(ctx context.Context, id string, patch model.Entity) (model.Entity, error) {
	return e.repo.Update(ctx, id, patch)
}

func (e *Entity) Delete(ctx context.Context, id string) error {
	return e.repo.Delete(ctx, id)
}

// UpdateMatching applies patch to every record matching filter and returns
// how many were updated. Updated records are reconciled into the list and
// detail stores. It stops at the first failure, leaving earlier updates in
// place.
func (e *Entity) UpdateMatching(ctx context.Context, filter *model.Filter, patch model.Entity) (int, error) {
	items, err := e.repo.Find(ctx, model.FindOptions{Filter: filter})
	if err != nil {
		return 0, err
	}

	n := 0
	for _, it := range items {
		updated, err := e.repo.Update(ctx, it.ID(), patch)
		if err != nil {
			return n, fmt.Errorf("updating %s %q: %w", e.repo.EntityType(), it.ID(), err)
		}
		e.List.applyUpdated(updated)
		e.Detail.applyUpdated(updated)
		n++
	}

	e.cfg.logger.Info("bulk update applied",
		zap.String("entity", e.repo.EntityType()),
		zap.Int("updated", n),
	)
	return n, nil
}

// StopAllLiveQueries ends the live subscriptions of the list and detail
// stores and drops any pending list refresh.
func (e *Entity) StopAllLiveQueries() {
	e.List.Close()
	e.Detail.StopLive()
}
