package transport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pitabwire/entitystore/internal/config"
	"github.com/pitabwire/entitystore/internal/idempotency"
	"github.com/pitabwire/entitystore/internal/live"
	"github.com/pitabwire/entitystore/internal/metadata"
	"github.com/pitabwire/entitystore/internal/observability"
	"github.com/pitabwire/entitystore/internal/search"
	"github.com/pitabwire/entitystore/internal/store"
)

const defaultIdempotencyTTL = 24 * time.Hour

// Dependencies holds everything the HTTP layer needs.
type Dependencies struct {
	Config   *config.Config
	Logger   *zap.Logger
	Metrics  *observability.Metrics
	Gatherer prometheus.Gatherer

	Metadata *metadata.Registry
	Entities *store.Registry
	Live     *live.Manager

	// Search answers /api/search. Nil builds one over Entities with
	// default limits.
	Search *search.Searcher

	// Idempotency backs the Idempotency-Key header on create. Nil ignores
	// the header.
	Idempotency idempotency.Store

	Readiness observability.ReadinessChecks

	// Authenticate wraps the API routes. Nil leaves them open.
	Authenticate func(http.Handler) http.Handler

	// Done ends open live streams when closed.
	Done <-chan struct{}
}

// NewRouter creates the chi router. Health, readiness and metrics bypass
// authentication; the live stream bypasses the handler timeout.
func NewRouter(deps Dependencies) chi.Router {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	cfg := deps.Config
	if cfg == nil {
		cfg = config.Defaults()
	}

	r := chi.NewRouter()
	r.Use(Recovery(deps.Logger))
	r.Use(CORS(cfg.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)
	r.Use(observability.TracingMiddleware)
	if deps.Metrics != nil {
		r.Use(deps.Metrics.MetricsMiddleware)
	}

	r.Get("/health", observability.HandleHealth())
	r.Get("/ready", observability.HandleReady(deps.Readiness))
	if cfg.Observability.Metrics.Enabled && deps.Gatherer != nil {
		r.Method(http.MethodGet, cfg.Observability.Metrics.Path, observability.Handler(deps.Gatherer))
	}

	auth := deps.Authenticate
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}

	ttl := cfg.Server.IdempotencyTTL
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}
	if deps.Search == nil && deps.Metadata != nil && deps.Entities != nil {
		deps.Search = search.New(deps.Metadata, entitySource(deps.Entities), search.WithLogger(deps.Logger))
	}
	h := &handlers{
		deps:            deps,
		defaultPageSize: cfg.List.DefaultPageSize,
		idempotencyTTL:  ttl,
	}

	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Use(BuildRequestContext)
		r.Use(RequestLogging(deps.Logger))

		r.Get("/api/entities/{entity}/live", h.live)

		r.Group(func(r chi.Router) {
			r.Use(HandlerTimeout(cfg.Server.HandlerTimeout))

			r.Get("/api/openapi.json", h.getOpenAPI)
			r.Get("/api/meta", h.listTypes)
			r.Get("/api/meta/{entity}", h.getMetadata)
			r.Get("/api/meta/{entity}/schema", h.getSchema)
			r.Get("/api/meta/{entity}/{view}", h.getView)

			r.Get("/api/search", h.search)

			r.Get("/api/entities/{entity}", h.list)
			r.Post("/api/entities/{entity}", h.create)
			r.Patch("/api/entities/{entity}", h.updateMatching)
			r.Get("/api/entities/{entity}/{id}", h.get)
			r.Patch("/api/entities/{entity}/{id}", h.update)
			r.Delete("/api/entities/{entity}/{id}", h.delete)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		WriteNotFound(w, "route not found")
	})
	return r
}

type handlers struct {
	deps            Dependencies
	defaultPageSize int
	idempotencyTTL  time.Duration
}
