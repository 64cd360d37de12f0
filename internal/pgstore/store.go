// Package pgstore is a PostgreSQL repository engine. Every entity type
// shares one table of JSONB documents; identifiers come from a per-type
// counter so they are never reused.
package pgstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/pitabwire/entitystore/internal/changefeed"
	"github.com/pitabwire/entitystore/internal/config"
	"github.com/pitabwire/entitystore/internal/pool"
	"github.com/pitabwire/entitystore/model"
)

// DB is the subset of *pgxpool.Pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// MetadataProvider resolves the metadata of an entity type.
type MetadataProvider interface {
	Entity(entityType string) (model.EntityMetadata, bool)
}

// Validator checks a full record before it is written.
type Validator interface {
	Validate(ctx context.Context, entityType string, data model.Entity) error
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS entity_sequences (
		entity_type TEXT PRIMARY KEY,
		last_id     BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS entity_documents (
		entity_type TEXT NOT NULL,
		id          BIGINT NOT NULL,
		data        JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (entity_type, id)
	)`,
	`CREATE INDEX IF NOT EXISTS entity_documents_data_idx ON entity_documents USING GIN (data)`,
}

// Store hands out one Repository per entity type.
type Store struct {
	db        DB
	pool      *pool.Pool
	metadata  MetadataProvider
	validator Validator
	feed      changefeed.Feed
	logger    *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithPool memoizes repositories in a shared pool.
func WithPool(p *pool.Pool) Option {
	return func(s *Store) { s.pool = p }
}

// WithMetadata sets the metadata provider.
func WithMetadata(m MetadataProvider) Option {
	return func(s *Store) { s.metadata = m }
}

// WithValidator validates inserts and updates.
func WithValidator(v Validator) Option {
	return func(s *Store) { s.validator = v }
}

// WithFeed sets the change feed. Use a Redis feed when several processes
// share the database.
func WithFeed(f changefeed.Feed) Option {
	return func(s *Store) { s.feed = f }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a store over db.
func New(db DB, opts ...Option) *Store {
	s := &Store{db: db, logger: zap.NewNop()}
	for _, o := range opts {
		o(s)
	}
	if s.pool == nil {
		s.pool = pool.New()
	}
	if s.feed == nil {
		s.feed = changefeed.NewLocal(changefeed.WithLogger(s.logger))
	}
	return s
}

// Connect opens a connection pool sized by cfg and checks it answers.
func Connect(ctx context.Context, dsn string, cfg config.StoreConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore: parse DSN: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolCfg.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("pgstore: connect: %w", err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("pgstore: ping: %w", err)
	}
	return p, nil
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("pgstore: migrate: %w", err)
		}
	}
	s.logger.Info("pgstore schema ready")
	return nil
}

// HealthCheck pings the database.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Repository returns the repository of entityType.
func (s *Store) Repository(ctx context.Context, entityType string) (*Repository, error) {
	return pool.Get(ctx, s.pool, "pg:"+entityType, func(context.Context) (*Repository, error) {
		meta := model.EntityMetadata{Name: entityType}
		if s.metadata != nil {
			if m, ok := s.metadata.Entity(entityType); ok {
				meta = m
			}
		}
		return &Repository{store: s, meta: meta}, nil
	})
}
