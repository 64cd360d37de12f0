package changefeed

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pitabwire/entitystore/model"
)

// Requery keeps a live query current: run executes once right away and again
// after every event for entityType, and each result goes to h. Runs happen
// one at a time on a dedicated goroutine; events arriving during a run are
// coalesced into a single follow-up run.
//
// The returned cancel stops the listener and the goroutine. It may be called
// from inside a callback.
func Requery(ctx context.Context, feed Feed, entityType string, run func(context.Context) ([]model.Entity, error), h model.LiveHandler) (cancel func(), err error) {
	ctx, stopCtx := context.WithCancel(ctx)

	notify := make(chan struct{}, 1)
	notify <- struct{}{}

	stopListen, err := feed.Listen(ctx, entityType, func(Event) {
		select {
		case notify <- struct{}{}:
		default:
		}
	})
	if err != nil {
		stopCtx()
		return nil, err
	}

	var closed atomic.Bool

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-notify:
			}

			items, err := run(ctx)

			if closed.Load() || ctx.Err() != nil {
				return
			}
			switch {
			case err != nil:
				if h.OnError != nil {
					h.OnError(err)
				}
			case h.OnChange != nil:
				h.OnChange(items)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			closed.Store(true)
			stopListen()
			stopCtx()
		})
	}, nil
}
