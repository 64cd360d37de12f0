package store

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/pitabwire/entitystore/internal/pool"
	"github.com/pitabwire/entitystore/model"
)

// RepositorySource resolves the repository of an entity type.
type RepositorySource interface {
	Repository(ctx context.Context, entityType string) (model.Repository, error)
}

// RepositorySourceFunc adapts a function to RepositorySource.
type RepositorySourceFunc func(ctx context.Context, entityType string) (model.Repository, error)

func (f RepositorySourceFunc) Repository(ctx context.Context, entityType string) (model.Repository, error) {
	return f(ctx, entityType)
}

// Registry hands out one Entity per type, memoized in a pool under
// "entity:<type>". All entities share one live subscription manager.
type Registry struct {
	pool   *pool.Pool
	source RepositorySource
	cfg    settings

	mu       sync.Mutex
	entities []*Entity
}

// NewRegistry creates a registry. A nil pool gets a private one.
func NewRegistry(p *pool.Pool, source RepositorySource, opts ...Option) *Registry {
	if p == nil {
		p = pool.New()
	}
	return &Registry{
		pool:   p,
		source: source,
		cfg:    buildSettings(opts),
	}
}

// Entity returns the handle of entityType, creating it on first use.
func (r *Registry) Entity(ctx context.Context, entityType string) (*Entity, error) {
	return pool.Get(ctx, r.pool, "entity:"+entityType, func(ctx context.Context) (*Entity, error) {
		repo, err := r.source.Repository(ctx, entityType)
		if err != nil {
			return nil, err
		}
		e := newEntity(repo, r.cfg)

		r.mu.Lock()
		r.entities = append(r.entities, e)
		r.mu.Unlock()

		r.cfg.logger.Debug("entity store created", zap.String("entity", entityType))
		return e, nil
	})
}

// Close stops every live query of every entity created so far. A live
// manager passed in with WithLiveManager stays open.
func (r *Registry) Close() {
	r.mu.Lock()
	entities := append([]*Entity(nil), r.entities...)
	r.mu.Unlock()

	for _, e := range entities {
		e.StopAllLiveQueries()
	}
	if r.cfg.ownLive {
		r.cfg.live.Close()
	}
}
