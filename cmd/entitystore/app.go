package main

import (
	"context"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pitabwire/entitystore/internal/breaker"
	"github.com/pitabwire/entitystore/internal/changefeed"
	"github.com/pitabwire/entitystore/internal/config"
	"github.com/pitabwire/entitystore/internal/idempotency"
	"github.com/pitabwire/entitystore/internal/live"
	"github.com/pitabwire/entitystore/internal/memory"
	"github.com/pitabwire/entitystore/internal/metadata"
	"github.com/pitabwire/entitystore/internal/observability"
	"github.com/pitabwire/entitystore/internal/pgstore"
	"github.com/pitabwire/entitystore/internal/pool"
	"github.com/pitabwire/entitystore/internal/store"
	"github.com/pitabwire/entitystore/model"
)

// app holds the wired backend shared by every subcommand.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *observability.Metrics

	metadata *metadata.Registry
	feed     changefeed.Feed
	live     *live.Manager
	entities *store.Registry

	idempotency idempotency.Store
	redis       *redis.Client

	// storeHealth is set for backends that can be probed.
	storeHealth observability.HealthChecker

	closers []func()
}

// newApp loads metadata and connects the configured store and change
// feed. A nil registerer disables metrics.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, reg prometheus.Registerer) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	if reg != nil {
		a.metrics = observability.InitMetrics(reg)
	}

	if err := a.loadMetadata(); err != nil {
		return nil, err
	}

	feed, err := a.buildFeed()
	if err != nil {
		return nil, err
	}
	a.feed = feed
	a.closers = append(a.closers, func() { _ = feed.Close() })

	if a.redis != nil {
		a.idempotency = idempotency.NewRedis(a.redis)
	} else {
		a.idempotency = idempotency.NewMemory()
	}

	p := pool.New(pool.WithObserver(a.metrics.RecordPoolHit, a.metrics.RecordPoolMiss))
	validator := metadata.NewValidator(a.metadata)

	source, err := a.buildSource(ctx, p, validator)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.live = live.NewManager(
		live.WithDebounce(cfg.Live.Debounce),
		live.WithLogger(logger),
		live.WithMetrics(a.metrics),
	)
	a.entities = store.NewRegistry(p, source,
		store.WithLiveManager(a.live),
		store.WithLogger(logger),
		store.WithMetrics(a.metrics),
		store.WithPageSize(cfg.List.DefaultPageSize),
		store.WithRefreshDebounce(cfg.List.RefreshDebounce),
		store.WithRelistOnCreate(cfg.List.RelistOnCreate),
	)
	a.closers = append(a.closers, a.entities.Close, a.live.Close)
	return a, nil
}

func (a *app) loadMetadata() error {
	var schemas []metadata.Schema
	if a.cfg.Metadata.Builtin {
		builtin, err := metadata.Builtin()
		if err != nil {
			return fmt.Errorf("builtin metadata: %w", err)
		}
		schemas = append(schemas, builtin...)
	}
	if len(a.cfg.Metadata.Directories) > 0 {
		loaded, err := metadata.NewLoader().LoadAll(a.cfg.Metadata.Directories)
		if err != nil {
			return fmt.Errorf("loading metadata: %w", err)
		}
		schemas = append(schemas, loaded...)
	}

	a.metadata = metadata.NewRegistry(schemas...)
	types := a.metadata.Types()
	a.metrics.SetEntityTypesAvailable(len(types))
	a.logger.Info("entity metadata loaded",
		zap.Strings("entities", types),
		zap.String("checksum", a.metadata.Checksum()),
	)
	return nil
}

func (a *app) buildFeed() (changefeed.Feed, error) {
	opts := []changefeed.Option{changefeed.WithLogger(a.logger), changefeed.WithMetrics(a.metrics)}

	switch a.cfg.ChangeFeed.Driver {
	case config.FeedRedis:
		addr := os.Getenv(a.cfg.ChangeFeed.AddrEnv)
		if addr == "" {
			return nil, fmt.Errorf("change feed: %s environment variable not set", a.cfg.ChangeFeed.AddrEnv)
		}
		client := redis.NewClient(&redis.Options{Addr: addr, DB: a.cfg.ChangeFeed.DB})
		a.redis = client
		a.logger.Info("using redis change feed", zap.String("addr", addr))
		return changefeed.NewRedis(client, a.cfg.ChangeFeed.ChannelPrefix, opts...), nil
	default:
		return changefeed.NewLocal(opts...), nil
	}
}

func (a *app) buildSource(ctx context.Context, p *pool.Pool, validator *metadata.Validator) (store.RepositorySource, error) {
	instrument := func(repo model.Repository) model.Repository {
		return observability.InstrumentRepository(repo, a.logger, a.metrics)
	}

	switch a.cfg.Store.Driver {
	case config.DriverPostgres:
		dsn := os.Getenv(a.cfg.Store.DSNEnv)
		if dsn == "" {
			return nil, fmt.Errorf("store: %s environment variable not set", a.cfg.Store.DSNEnv)
		}
		db, err := pgstore.Connect(ctx, dsn, a.cfg.Store)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)

		pg := pgstore.New(db,
			pgstore.WithPool(p),
			pgstore.WithMetadata(a.metadata),
			pgstore.WithValidator(validator),
			pgstore.WithFeed(a.feed),
			pgstore.WithLogger(a.logger),
		)
		if a.cfg.Store.AutoMigrate {
			if err := pg.Migrate(ctx); err != nil {
				return nil, err
			}
		}
		a.storeHealth = pg
		a.logger.Info("using postgres store")
		return store.RepositorySourceFunc(func(ctx context.Context, entityType string) (model.Repository, error) {
			repo, err := pg.Repository(ctx, entityType)
			if err != nil {
				return nil, err
			}
			if a.cfg.Store.Breaker.FailureThreshold == 0 {
				return instrument(repo), nil
			}
			b, err := pool.Get(ctx, p, "breaker:"+entityType, func(context.Context) (*breaker.Breaker, error) {
				return a.newBreaker(entityType), nil
			})
			if err != nil {
				return nil, err
			}
			return instrument(breaker.Guard(repo, b)), nil
		}), nil

	default:
		engine := memory.NewEngine(
			memory.WithPool(p),
			memory.WithMetadata(a.metadata),
			memory.WithValidator(validator),
			memory.WithFeed(a.feed),
			memory.WithLogger(a.logger),
		)
		a.logger.Info("using in-memory store")
		return store.RepositorySourceFunc(func(ctx context.Context, entityType string) (model.Repository, error) {
			repo, err := engine.Repository(ctx, entityType)
			if err != nil {
				return nil, err
			}
			return instrument(repo), nil
		}), nil
	}
}

func (a *app) newBreaker(entityType string) *breaker.Breaker {
	bc := a.cfg.Store.Breaker
	return breaker.New(breaker.Settings{
		FailureThreshold:   bc.FailureThreshold,
		SuccessThreshold:   bc.SuccessThreshold,
		OpenTimeout:        bc.OpenTimeout,
		ErrorRateThreshold: bc.ErrorRateThreshold,
		ErrorRateWindow:    bc.ErrorRateWindow,
		OnStateChange: func(from, to breaker.State) {
			a.metrics.SetBreakerState(entityType, int(to))
			a.logger.Warn("repository circuit breaker changed state",
				zap.String("entity", entityType),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		},
	})
}

// entity resolves a known entity type.
func (a *app) entity(ctx context.Context, entityType string) (*store.Entity, error) {
	if _, ok := a.metadata.Entity(entityType); !ok {
		return nil, fmt.Errorf("unknown entity type %q (known: %v)", entityType, a.metadata.Types())
	}
	return a.entities.Entity(ctx, entityType)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
