// Package memory is an in-process repository engine. It keeps every entity
// type in its own collection and implements filtering, sorting, pagination
// and live queries without a backend.
package memory

import (
	"context"

	"go.uber.org/zap"

	"github.com/pitabwire/entitystore/internal/changefeed"
	"github.com/pitabwire/entitystore/internal/pool"
	"github.com/pitabwire/entitystore/model"
)

// MetadataProvider resolves the metadata of an entity type.
type MetadataProvider interface {
	Entity(entityType string) (model.EntityMetadata, bool)
}

// Validator checks a full record before it is written.
type Validator interface {
	Validate(ctx context.Context, entityType string, data model.Entity) error
}

// Engine hands out one Repository per entity type.
type Engine struct {
	pool      *pool.Pool
	metadata  MetadataProvider
	validator Validator
	feed      changefeed.Feed
	logger    *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithPool memoizes repositories in a shared pool instead of a private one.
func WithPool(p *pool.Pool) Option {
	return func(e *Engine) { e.pool = p }
}

// WithMetadata sets the metadata provider. Without one, repositories report
// metadata carrying only the entity type name.
func WithMetadata(m MetadataProvider) Option {
	return func(e *Engine) { e.metadata = m }
}

// WithValidator validates inserts and updates.
func WithValidator(v Validator) Option {
	return func(e *Engine) { e.validator = v }
}

// WithFeed announces mutations on feed and refreshes live queries from it.
// The default is a private in-process feed.
func WithFeed(f changefeed.Feed) Option {
	return func(e *Engine) { e.feed = f }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine creates an empty engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{logger: zap.NewNop()}
	for _, o := range opts {
		o(e)
	}
	if e.pool == nil {
		e.pool = pool.New()
	}
	if e.feed == nil {
		e.feed = changefeed.NewLocal(changefeed.WithLogger(e.logger))
	}
	return e
}

// Repository returns the repository of entityType, creating its collection
// on first use.
func (e *Engine) Repository(ctx context.Context, entityType string) (*Repository, error) {
	return pool.Get(ctx, e.pool, "repo:"+entityType, func(context.Context) (*Repository, error) {
		meta := model.EntityMetadata{Name: entityType}
		if e.metadata != nil {
			if m, ok := e.metadata.Entity(entityType); ok {
				meta = m
			}
		}
		e.logger.Debug("memory collection created", zap.String("entity", entityType))
		return newRepository(e, meta), nil
	})
}

// Feed returns the change feed the engine publishes to.
func (e *Engine) Feed() changefeed.Feed {
	return e.feed
}
