package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/entitystore/internal/memory"
	"github.com/pitabwire/entitystore/internal/metadata"
	"github.com/pitabwire/entitystore/internal/store"
	"github.com/pitabwire/entitystore/model"
)

func newRegistry(t *testing.T) *metadata.Registry {
	t.Helper()
	schemas, err := metadata.Builtin()
	require.NoError(t, err)
	return metadata.NewRegistry(schemas...)
}

func seededSource(t *testing.T, reg *metadata.Registry) store.RepositorySource {
	t.Helper()
	engine := memory.NewEngine(memory.WithMetadata(reg))
	ctx := context.Background()

	tasks, err := engine.Repository(ctx, "tasks")
	require.NoError(t, err)
	for _, title := range []string{"Buy milk", "Walk dog", "Return milk crate"} {
		_, err := tasks.Insert(ctx, model.Entity{"title": title, "completed": false})
		require.NoError(t, err)
	}

	products, err := engine.Repository(ctx, "products")
	require.NoError(t, err)
	for _, p := range []model.Entity{
		{"name": "Oat drink", "description": "Dairy free milk alternative", "price": 2.5},
		{"name": "Kettle", "description": "Electric", "price": 30},
	} {
		_, err := products.Insert(ctx, p)
		require.NoError(t, err)
	}

	return store.RepositorySourceFunc(func(ctx context.Context, entityType string) (model.Repository, error) {
		return engine.Repository(ctx, entityType)
	})
}

func TestSearch_mergesAcrossEntityTypes(t *testing.T) {
	reg := newRegistry(t)
	s := New(reg, seededSource(t, reg))

	resp, err := s.Search(context.Background(), Request{Text: "milk"})
	require.NoError(t, err)

	assert.Equal(t, 3, resp.Total)
	assert.Equal(t, map[string]string{"tasks": StatusOK, "products": StatusOK}, resp.Entities)
	require.Len(t, resp.Results, 3)

	top := resp.Results[0]
	assert.Equal(t, "tasks", top.Entity)
	assert.Equal(t, "Buy milk", top.Title)

	last := resp.Results[2]
	assert.Equal(t, "products", last.Entity, "a description-only match ranks below title matches")
	assert.Equal(t, "Oat drink", last.Title)
	assert.Equal(t, "Dairy free milk alternative", last.Subtitle)
}

func TestSearch_restrictedToEntity(t *testing.T) {
	reg := newRegistry(t)
	s := New(reg, seededSource(t, reg))

	resp, err := s.Search(context.Background(), Request{Text: "milk", Entity: "products"})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Total)
	assert.Len(t, resp.Entities, 1)
}

func TestSearch_paginates(t *testing.T) {
	reg := newRegistry(t)
	s := New(reg, seededSource(t, reg))

	resp, err := s.Search(context.Background(), Request{Text: "milk", Page: 2, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, resp.Total)
	assert.Len(t, resp.Results, 1)

	resp, err = s.Search(context.Background(), Request{Text: "milk", Page: 5, PageSize: 2})
	require.NoError(t, err)
	assert.NotNil(t, resp.Results)
	assert.Empty(t, resp.Results)
}

func TestSearch_rejectsShortText(t *testing.T) {
	reg := newRegistry(t)
	s := New(reg, seededSource(t, reg))

	_, err := s.Search(context.Background(), Request{Text: " m "})
	assert.Equal(t, model.ErrBadRequest, model.CodeOf(err))
}

func TestSearch_unknownEntity(t *testing.T) {
	reg := newRegistry(t)
	s := New(reg, seededSource(t, reg))

	_, err := s.Search(context.Background(), Request{Text: "milk", Entity: "widgets"})
	assert.True(t, model.IsNotFound(err))
}

// slowRepository blocks Find until the context ends.
type slowRepository struct {
	model.Repository
}

func (slowRepository) Find(ctx context.Context, _ model.FindOptions) ([]model.Entity, error) {
	<-ctx.Done()
	return nil, model.NewTransportError("find", ctx.Err())
}

func TestSearch_partialFailure(t *testing.T) {
	reg := newRegistry(t)
	healthy := seededSource(t, reg)

	source := store.RepositorySourceFunc(func(ctx context.Context, entityType string) (model.Repository, error) {
		switch entityType {
		case "products":
			return nil, errors.New("connection refused")
		case "tasks":
			return slowRepository{}, nil
		}
		return healthy.Repository(ctx, entityType)
	})
	s := New(reg, source, WithTimeout(20*time.Millisecond))

	resp, err := s.Search(context.Background(), Request{Text: "milk"})
	require.NoError(t, err)
	assert.Equal(t, StatusError, resp.Entities["products"])
	assert.Equal(t, StatusTimeout, resp.Entities["tasks"])
	assert.Equal(t, 0, resp.Total)
}

func TestDisplayFields(t *testing.T) {
	reg := newRegistry(t)
	meta, _ := reg.Entity("products")

	title, subtitle := displayFields(meta)
	assert.Equal(t, "name", title)
	assert.Equal(t, "description", subtitle)
}
