package transport

import (
	"context"
	"net/http"

	"github.com/pitabwire/entitystore/internal/search"
	"github.com/pitabwire/entitystore/internal/store"
	"github.com/pitabwire/entitystore/model"
)

func (h *handlers) search(w http.ResponseWriter, r *http.Request) {
	if h.deps.Search == nil {
		WriteNotFound(w, "search is not configured")
		return
	}

	qp := r.URL.Query()
	page, err := intParam(qp.Get("page"), 1)
	if err != nil {
		WriteError(w, model.NewBadRequestError("page must be an integer"))
		return
	}
	pageSize, err := intParam(qp.Get("page_size"), search.DefaultPageSize)
	if err != nil {
		WriteError(w, model.NewBadRequestError("page_size must be an integer"))
		return
	}

	resp, err := h.deps.Search.Search(r.Context(), search.Request{
		Text:     qp.Get("q"),
		Entity:   qp.Get("entity"),
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, resp)
}

// entitySource resolves repositories through the entity registry so search
// shares the instrumented repository of each type.
func entitySource(entities *store.Registry) store.RepositorySource {
	return store.RepositorySourceFunc(func(ctx context.Context, entityType string) (model.Repository, error) {
		e, err := entities.Entity(ctx, entityType)
		if err != nil {
			return nil, err
		}
		return e.Repository(), nil
	})
}
