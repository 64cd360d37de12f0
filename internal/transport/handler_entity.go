package transport

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pitabwire/entitystore/internal/idempotency"
	"github.com/pitabwire/entitystore/internal/observability"
	"github.com/pitabwire/entitystore/internal/query"
	"github.com/pitabwire/entitystore/internal/store"
	"github.com/pitabwire/entitystore/model"
)

const (
	maxPageSize  = 100
	maxBodyBytes = 1 << 20
	filterPrefix = "filter."
)

func (h *handlers) list(w http.ResponseWriter, r *http.Request) {
	e, meta, ok := h.entityFor(w, r)
	if !ok {
		return
	}
	q, err := h.parseListQuery(r, meta)
	if err != nil {
		WriteError(w, err)
		return
	}
	opts := query.Build(q, meta.Fields)

	var (
		items []model.Entity
		total int
	)
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		var err error
		items, err = e.Find(ctx, opts)
		return err
	})
	g.Go(func() error {
		var err error
		total, err = e.Count(ctx, opts.Filter)
		return err
	})
	if err := g.Wait(); err != nil {
		h.fail(w, r, err)
		return
	}

	WriteJSON(w, http.StatusOK, model.ListResult{
		Items:    items,
		Total:    total,
		Page:     q.Page,
		PageSize: q.PageSize,
	})
}

func (h *handlers) get(w http.ResponseWriter, r *http.Request) {
	e, meta, ok := h.entityFor(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	item, found, err := e.FindFirst(r.Context(), model.ByID(id))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !found {
		WriteNotFound(w, meta.Name+" "+strconv.Quote(id)+" not found")
		return
	}
	WriteJSON(w, http.StatusOK, item)
}

func (h *handlers) create(w http.ResponseWriter, r *http.Request) {
	e, _, ok := h.entityFor(w, r)
	if !ok {
		return
	}
	body, err := readBody(w, r)
	if err != nil {
		WriteError(w, err)
		return
	}
	var data model.Entity
	if err := json.Unmarshal(body, &data); err != nil {
		WriteError(w, model.NewBadRequestError("invalid JSON body: "+err.Error()))
		return
	}

	clientKey := r.Header.Get("Idempotency-Key")
	if clientKey == "" || h.deps.Idempotency == nil {
		created, err := e.Insert(r.Context(), data)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		WriteJSON(w, http.StatusCreated, created)
		return
	}

	key := idempotency.Key(e.EntityType(), subjectOf(r), clientKey)
	hash := idempotency.Hash(body)
	if prior, found, err := h.deps.Idempotency.Lookup(r.Context(), key, hash); err != nil {
		h.fail(w, r, err)
		return
	} else if found {
		h.deps.Metrics.RecordIdempotentReplay()
		w.Header().Set("Idempotent-Replayed", "true")
		WriteJSON(w, http.StatusCreated, prior)
		return
	}

	created, err := e.Insert(r.Context(), data)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.deps.Idempotency.Save(r.Context(), key, hash, created, h.idempotencyTTL); err != nil {
		observability.LoggerFrom(r.Context(), h.deps.Logger).Warn("saving idempotency key failed",
			zap.String("entity", e.EntityType()),
			zap.Error(err),
		)
	}
	WriteJSON(w, http.StatusCreated, created)
}

func subjectOf(r *http.Request) string {
	if rc := model.RequestContextFrom(r.Context()); rc != nil && rc.SubjectID != "" {
		return rc.SubjectID
	}
	return "anonymous"
}

func (h *handlers) update(w http.ResponseWriter, r *http.Request) {
	e, _, ok := h.entityFor(w, r)
	if !ok {
		return
	}
	var patch model.Entity
	if err := decodeBody(w, r, &patch); err != nil {
		WriteError(w, err)
		return
	}
	updated, err := e.Update(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, updated)
}

func (h *handlers) delete(w http.ResponseWriter, r *http.Request) {
	e, _, ok := h.entityFor(w, r)
	if !ok {
		return
	}
	if err := e.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type bulkUpdateRequest struct {
	Filter *model.Filter `json:"filter"`
	Patch  model.Entity  `json:"patch"`
}

// updateMatching applies one patch to every record matching the filter.
// A missing filter selects the whole collection.
func (h *handlers) updateMatching(w http.ResponseWriter, r *http.Request) {
	e, _, ok := h.entityFor(w, r)
	if !ok {
		return
	}
	var req bulkUpdateRequest
	if err := decodeBody(w, r, &req); err != nil {
		WriteError(w, err)
		return
	}
	if len(req.Patch) == 0 {
		WriteError(w, model.NewBadRequestError("patch must not be empty"))
		return
	}
	n, err := e.UpdateMatching(r.Context(), req.Filter, req.Patch)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]int{"updated": n})
}

// entityFor resolves the {entity} path parameter to its store handle.
func (h *handlers) entityFor(w http.ResponseWriter, r *http.Request) (*store.Entity, model.EntityMetadata, bool) {
	meta, ok := h.metadataFor(w, r)
	if !ok {
		return nil, model.EntityMetadata{}, false
	}
	e, err := h.deps.Entities.Entity(r.Context(), meta.Name)
	if err != nil {
		h.fail(w, r, err)
		return nil, model.EntityMetadata{}, false
	}
	return e, meta, true
}

// parseListQuery reads page, page_size, q, sort and filter.<field> into a
// query model seeded from the entity defaults.
func (h *handlers) parseListQuery(r *http.Request, meta model.EntityMetadata) (model.QueryModel, error) {
	q := meta.InitialQuery()
	if meta.PageSize == 0 && h.defaultPageSize > 0 {
		q.PageSize = h.defaultPageSize
	}

	values := r.URL.Query()
	var err error
	if q.Page, err = intParam(values.Get("page"), q.Page); err != nil {
		return q, model.NewBadRequestError("page must be an integer")
	}
	if q.PageSize, err = intParam(values.Get("page_size"), q.PageSize); err != nil {
		return q, model.NewBadRequestError("page_size must be an integer")
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 || q.PageSize > maxPageSize {
		return q, model.NewBadRequestError("page_size must be between 1 and " + strconv.Itoa(maxPageSize))
	}

	if values.Has("sort") {
		q.Sort = model.ParseSort(values.Get("sort"))
	}
	q.SearchText = strings.TrimSpace(values.Get("q"))

	for key, vals := range values {
		field, ok := strings.CutPrefix(key, filterPrefix)
		if !ok || field == "" || len(vals) == 0 {
			continue
		}
		if q.Filters == nil {
			q.Filters = make(map[string]any)
		}
		q.Filters[field] = vals[0]
	}
	return q, nil
}

func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	logger := observability.LoggerFrom(r.Context(), h.deps.Logger)
	if code := model.CodeOf(err); code == "" || code == model.ErrBackendUnavailable || code == model.ErrInternalError {
		logger.Error("entity request failed", zap.Error(err))
	}
	WriteError(w, err)
}

func intParam(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, model.NewBadRequestError("reading body: " + err.Error())
	}
	return body, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return model.NewBadRequestError("invalid JSON body: " + err.Error())
	}
	return nil
}
