package changefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pitabwire/entitystore/internal/observability"
)

// DefaultChannelPrefix prefixes the per-entity pub/sub channel names.
const DefaultChannelPrefix = "entitystore:changes:"

// Redis is a Feed over Redis pub/sub. Every Listen holds its own
// subscription connection; events published by this process come back
// through Redis like any other.
type Redis struct {
	client  redis.UniversalClient
	prefix  string
	origin  string
	logger  *zap.Logger
	metrics *observability.Metrics

	mu     sync.Mutex
	subs   map[*redis.PubSub]struct{}
	wg     sync.WaitGroup
	closed bool
}

// NewRedis creates a feed over client. An empty prefix uses
// DefaultChannelPrefix.
func NewRedis(client redis.UniversalClient, prefix string, opts ...Option) *Redis {
	o := buildOptions(opts)
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	return &Redis{
		client:  client,
		prefix:  prefix,
		origin:  uuid.NewString(),
		logger:  o.logger,
		metrics: o.metrics,
		subs:    make(map[*redis.PubSub]struct{}),
	}
}

// Channel returns the pub/sub channel of an entity type.
func (r *Redis) Channel(entityType string) string {
	return r.prefix + entityType
}

func (r *Redis) Publish(ctx context.Context, ev Event) error {
	if ev.Origin == "" {
		ev.Origin = r.origin
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("changefeed: encode event: %w", err)
	}
	if err := r.client.Publish(ctx, r.Channel(ev.EntityType), payload).Err(); err != nil {
		return fmt.Errorf("redis publish %q: %w", r.Channel(ev.EntityType), err)
	}
	r.metrics.RecordChangeEvent(ev.EntityType, "published")
	return nil
}

// Listen subscribes to the entity type's channel. It returns once Redis has
// confirmed the subscription.
func (r *Redis) Listen(ctx context.Context, entityType string, fn func(Event)) (func(), error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, fmt.Errorf("changefeed: closed")
	}
	r.mu.Unlock()

	channel := r.Channel(entityType)
	ps := r.client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("redis subscribe %q: %w", channel, err)
	}

	r.mu.Lock()
	r.subs[ps] = struct{}{}
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for msg := range ps.Channel() {
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				r.logger.Warn("dropping malformed change event",
					zap.String("channel", msg.Channel),
					zap.Error(err),
				)
				continue
			}
			r.metrics.RecordChangeEvent(ev.EntityType, "received")
			fn(ev)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, ps)
			r.mu.Unlock()
			ps.Close()
		})
	}, nil
}

// HealthCheck pings Redis.
func (r *Redis) HealthCheck(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close ends every subscription and waits for their delivery goroutines. The
// client is owned by the caller and stays open.
func (r *Redis) Close() error {
	r.mu.Lock()
	r.closed = true
	subs := make([]*redis.PubSub, 0, len(r.subs))
	for ps := range r.subs {
		subs = append(subs, ps)
	}
	r.subs = make(map[*redis.PubSub]struct{})
	r.mu.Unlock()

	for _, ps := range subs {
		ps.Close()
	}
	r.wg.Wait()
	return nil
}

var _ Feed = (*Redis)(nil)
