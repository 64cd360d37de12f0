package store

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/entitystore/internal/pool"
	"github.com/pitabwire/entitystore/model"
)

func engineSource(t *testing.T) (RepositorySource, *atomic.Int32) {
	t.Helper()
	engine := newEngine(t)
	var calls atomic.Int32
	return RepositorySourceFunc(func(ctx context.Context, entityType string) (model.Repository, error) {
		calls.Add(1)
		return engine.Repository(ctx, entityType)
	}), &calls
}

func TestRegistry_oneEntityPerType(t *testing.T) {
	src, calls := engineSource(t)
	p := pool.New()
	reg := NewRegistry(p, src, testOptions(t)...)
	defer reg.Close()
	ctx := context.Background()

	a, err := reg.Entity(ctx, "tasks")
	require.NoError(t, err)
	b, err := reg.Entity(ctx, "tasks")
	require.NoError(t, err)
	c, err := reg.Entity(ctx, "products")
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, int32(2), calls.Load())
	assert.True(t, p.Has("entity:tasks"))
	assert.Equal(t, "Products", c.Metadata().DisplayName)
	assert.Equal(t, 20, c.List.Query().PageSize, "page size comes from the schema")
}

func TestRegistry_sourceErrorIsNotCached(t *testing.T) {
	fail := true
	src := RepositorySourceFunc(func(ctx context.Context, entityType string) (model.Repository, error) {
		if fail {
			return nil, errors.New("backend down")
		}
		return newEngine(t).Repository(ctx, entityType)
	})
	reg := NewRegistry(nil, src, testOptions(t)...)
	ctx := context.Background()

	_, err := reg.Entity(ctx, "tasks")
	require.Error(t, err)

	fail = false
	e, err := reg.Entity(ctx, "tasks")
	require.NoError(t, err)
	assert.Equal(t, "tasks", e.EntityType())
}

func TestEntity_forwardsRepositoryOperations(t *testing.T) {
	repo := newTaskRepo(t)
	e := NewEntity(repo, testOptions(t)...)
	ctx := context.Background()

	created, err := e.Insert(ctx, model.Entity{"title": "forwarded"})
	require.NoError(t, err)
	_, err = e.Update(ctx, created.ID(), model.Entity{"completed": true})
	require.NoError(t, err)

	n, err := e.Count(ctx, model.Eq("completed", true))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	items, err := e.Find(ctx, model.FindOptions{})
	require.NoError(t, err)
	assert.Len(t, items, 1)

	first, found, err := e.FindFirst(ctx, model.ByID(created.ID()))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "forwarded", first["title"])

	require.NoError(t, e.Delete(ctx, created.ID()))
	assert.Equal(t, "tasks", e.Metadata().Name)
	assert.Same(t, repo, e.Repository())
	assert.Equal(t, 1, repo.count("insert"))
	assert.Equal(t, 1, repo.count("delete"))
}

func TestEntity_updateMatchingCompletesAll(t *testing.T) {
	repo := newTaskRepo(t)
	seedTasks(t, repo.Repository, 5)
	e := NewEntity(repo, testOptions(t)...)
	ctx := context.Background()
	_, err := e.List.List(ctx, nil)
	require.NoError(t, err)

	n, err := e.UpdateMatching(ctx, model.Eq("completed", false), model.Entity{"completed": true})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	open, err := e.Count(ctx, model.Eq("completed", false))
	require.NoError(t, err)
	assert.Equal(t, 0, open)
	for _, it := range e.List.State().Items {
		assert.Equal(t, true, it["completed"], "list item %s not reconciled", it.ID())
	}
}

func TestEntity_stopAllLiveQueries(t *testing.T) {
	repo := newTaskRepo(t)
	seedTasks(t, repo.Repository, 1)
	e := NewEntity(repo, testOptions(t)...)
	ctx := context.Background()

	_, err := e.List.LiveQuery(ctx, nil, nil)
	require.NoError(t, err)
	_, err = e.Detail.Use(ctx, "1", true)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return repo.count("subscribe") == 2 }, waitFor, tick)

	e.StopAllLiveQueries()

	_, err = repo.Repository.Update(ctx, "1", model.Entity{"title": "unobserved"})
	require.NoError(t, err)
	assert.Never(t, func() bool {
		return e.Detail.State().Item["title"] == "unobserved"
	}, 5*testWait, tick)
	assert.False(t, e.List.Query().Live)
}

func TestFormSubmit_refreshesDetail(t *testing.T) {
	repo := newTaskRepo(t)
	seedTasks(t, repo.Repository, 1)
	e := NewEntity(repo, testOptions(t)...)
	ctx := context.Background()

	item, _, err := e.Detail.Get(ctx, "1")
	require.NoError(t, err)

	e.Form.InitEdit(item)
	e.Form.SetField("title", "from the form")
	_, err = e.Form.Submit(ctx)
	require.NoError(t, err)

	assert.Equal(t, "from the form", e.Detail.State().Item["title"])
}
