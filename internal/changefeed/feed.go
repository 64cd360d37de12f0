// Package changefeed announces entity mutations so live queries can re-run.
// Local fans out inside one process; Redis spans processes over pub/sub.
package changefeed

import (
	"context"
	"time"
)

// Mutation kinds.
const (
	OpInsert = "insert"
	OpUpdate = "update"
	OpDelete = "delete"
)

// Event describes one mutation of an entity type.
type Event struct {
	EntityType string    `json:"entity_type"`
	Op         string    `json:"op"`
	ID         string    `json:"id,omitempty"`
	Origin     string    `json:"origin,omitempty"`
	At         time.Time `json:"at"`
}

// Feed publishes and delivers change events. Listener callbacks may run on
// any goroutine and must not block for long.
type Feed interface {
	Publish(ctx context.Context, ev Event) error
	Listen(ctx context.Context, entityType string, fn func(Event)) (cancel func(), err error)
	HealthCheck(ctx context.Context) error
	Close() error
}
