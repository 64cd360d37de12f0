package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pitabwire/entitystore/internal/observability"
	"github.com/pitabwire/entitystore/internal/query"
	"github.com/pitabwire/entitystore/model"
)

const keepAliveInterval = 15 * time.Second

// live streams the page described by the list query parameters as
// server-sent events. Every emission of the live query produces one
// "snapshot" event carrying the page and a fresh total; failures produce
// "error" events and the stream stays open.
func (h *handlers) live(w http.ResponseWriter, r *http.Request) {
	e, meta, ok := h.entityFor(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, model.NewInternalError())
		return
	}
	q, err := h.parseListQuery(r, meta)
	if err != nil {
		WriteError(w, err)
		return
	}
	opts := query.Build(q, meta.Fields)

	ctx := r.Context()
	logger := observability.LoggerFrom(ctx, h.deps.Logger)
	slot := meta.Name + "/stream/" + uuid.NewString()

	updates := make(chan []model.Entity, 1)
	failures := make(chan error, 1)
	cancel := h.deps.Live.Subscribe(slot, e.Repository(), opts,
		func(items []model.Entity) { offerLatest(updates, items) },
		func(err error) {
			select {
			case failures <- err:
			default:
			}
		},
	)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	logger.Debug("live stream opened", zap.String("slot", slot))
	defer logger.Debug("live stream closed", zap.String("slot", slot))

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		var writeErr error
		select {
		case <-ctx.Done():
			return
		case <-h.deps.Done:
			return
		case items := <-updates:
			total, err := e.Count(ctx, opts.Filter)
			if err != nil {
				writeErr = writeEvent(w, "error", errorPayload(err))
				break
			}
			writeErr = writeEvent(w, "snapshot", model.ListResult{
				Items:    items,
				Total:    total,
				Page:     q.Page,
				PageSize: q.PageSize,
			})
		case err := <-failures:
			writeErr = writeEvent(w, "error", errorPayload(err))
		case <-ticker.C:
			_, writeErr = fmt.Fprint(w, ": keep-alive\n\n")
		}
		if writeErr != nil {
			logger.Debug("live stream write failed", zap.Error(writeErr))
			return
		}
		flusher.Flush()
	}
}

// offerLatest replaces any undelivered value in ch with items.
func offerLatest(ch chan []model.Entity, items []model.Entity) {
	for {
		select {
		case ch <- items:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func writeEvent(w http.ResponseWriter, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func errorPayload(err error) *model.ErrorEnvelope {
	var ee *model.ErrorEnvelope
	if errors.As(err, &ee) {
		return ee
	}
	return model.NewTransportError("live query", err)
}
