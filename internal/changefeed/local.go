package changefeed

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pitabwire/entitystore/internal/observability"
)

// Local is an in-process Feed. Publish delivers to listeners synchronously.
type Local struct {
	origin  string
	logger  *zap.Logger
	metrics *observability.Metrics

	mu        sync.RWMutex
	listeners map[string]map[uint64]func(Event)
	next      uint64
}

// Option configures a feed.
type Option func(*options)

type options struct {
	logger  *zap.Logger
	metrics *observability.Metrics
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func buildOptions(opts []Option) options {
	o := options{logger: zap.NewNop()}
	for _, fn := range opts {
		fn(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return o
}

// NewLocal creates an in-process feed.
func NewLocal(opts ...Option) *Local {
	o := buildOptions(opts)
	return &Local{
		origin:    uuid.NewString(),
		logger:    o.logger,
		metrics:   o.metrics,
		listeners: make(map[string]map[uint64]func(Event)),
	}
}

func (l *Local) Publish(_ context.Context, ev Event) error {
	if ev.Origin == "" {
		ev.Origin = l.origin
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	l.metrics.RecordChangeEvent(ev.EntityType, "published")

	l.mu.RLock()
	fns := make([]func(Event), 0, len(l.listeners[ev.EntityType]))
	for _, fn := range l.listeners[ev.EntityType] {
		fns = append(fns, fn)
	}
	l.mu.RUnlock()

	for _, fn := range fns {
		l.metrics.RecordChangeEvent(ev.EntityType, "received")
		fn(ev)
	}
	return nil
}

func (l *Local) Listen(_ context.Context, entityType string, fn func(Event)) (func(), error) {
	l.mu.Lock()
	l.next++
	id := l.next
	if l.listeners[entityType] == nil {
		l.listeners[entityType] = make(map[uint64]func(Event))
	}
	l.listeners[entityType][id] = fn
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.listeners[entityType], id)
			if len(l.listeners[entityType]) == 0 {
				delete(l.listeners, entityType)
			}
			l.mu.Unlock()
		})
	}, nil
}

func (l *Local) HealthCheck(context.Context) error { return nil }

// Close drops every listener.
func (l *Local) Close() error {
	l.mu.Lock()
	l.listeners = make(map[string]map[uint64]func(Event))
	l.mu.Unlock()
	return nil
}

var _ Feed = (*Local)(nil)
