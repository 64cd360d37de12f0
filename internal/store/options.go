// Package store keeps observable client-side state in sync with a
// repository: a paginated list, a single detail record and an edit form per
// entity type, composed behind one Entity handle.
package store

import (
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/entitystore/internal/live"
	"github.com/pitabwire/entitystore/internal/observability"
	"github.com/pitabwire/entitystore/model"
)

// DefaultRefreshDebounce is the quiet period before a query change refetches.
const DefaultRefreshDebounce = 300 * time.Millisecond

type settings struct {
	live           *live.Manager
	ownLive        bool
	logger         *zap.Logger
	metrics        *observability.Metrics
	refreshWait    time.Duration
	relistOnCreate bool
	autoFetch      bool
	pageSize       int
}

// Option configures the stores.
type Option func(*settings)

// WithLiveManager shares a live subscription manager between stores. Slots
// are named after the entity type, so one manager serves every type.
func WithLiveManager(m *live.Manager) Option {
	return func(s *settings) { s.live = m }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *settings) { s.metrics = m }
}

// WithRefreshDebounce sets the quiet period between a SetQuery and the
// refetch it schedules.
func WithRefreshDebounce(d time.Duration) Option {
	return func(s *settings) { s.refreshWait = d }
}

// WithRelistOnCreate makes a successful create refetch the list instead of
// incrementing the total, which may overcount when the new record does not
// match the active query.
func WithRelistOnCreate(enabled bool) Option {
	return func(s *settings) { s.relistOnCreate = enabled }
}

// WithAutoFetch controls whether SetQuery schedules a refetch.
func WithAutoFetch(enabled bool) Option {
	return func(s *settings) { s.autoFetch = enabled }
}

// WithPageSize sets the page size used when the entity metadata declares
// none.
func WithPageSize(n int) Option {
	return func(s *settings) { s.pageSize = n }
}

func buildSettings(opts []Option) settings {
	s := settings{
		logger:      zap.NewNop(),
		refreshWait: DefaultRefreshDebounce,
		autoFetch:   true,
	}
	for _, o := range opts {
		o(&s)
	}
	if s.live == nil {
		s.live = live.NewManager(live.WithLogger(s.logger), live.WithMetrics(s.metrics))
		s.ownLive = true
	}
	return s
}

func (s settings) initialQuery(meta model.EntityMetadata) model.QueryModel {
	q := meta.InitialQuery()
	if meta.PageSize == 0 && s.pageSize > 0 {
		q.PageSize = s.pageSize
	}
	return q
}
