package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/entitystore/internal/metadata"
	"github.com/pitabwire/entitystore/internal/observability"
	"github.com/pitabwire/entitystore/model"
)

type typeSummary struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name,omitempty"`
	Description string `json:"description,omitempty"`
	Icon        string `json:"icon,omitempty"`
}

func (h *handlers) listTypes(w http.ResponseWriter, _ *http.Request) {
	types := h.deps.Metadata.Types()
	out := make([]typeSummary, 0, len(types))
	for _, name := range types {
		meta, ok := h.deps.Metadata.Entity(name)
		if !ok {
			continue
		}
		out = append(out, typeSummary{
			Name:        meta.Name,
			DisplayName: meta.DisplayName,
			Description: meta.Description,
			Icon:        meta.Icon,
		})
	}
	WriteJSON(w, http.StatusOK, map[string]any{"entities": out})
}

func (h *handlers) getMetadata(w http.ResponseWriter, r *http.Request) {
	meta, ok := h.metadataFor(w, r)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, meta)
}

func (h *handlers) getSchema(w http.ResponseWriter, r *http.Request) {
	meta, ok := h.metadataFor(w, r)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, metadata.OpenAPISchema(meta))
}

func (h *handlers) getOpenAPI(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, metadata.OpenAPIDocument(h.deps.Metadata, observability.Version))
}

func (h *handlers) getView(w http.ResponseWriter, r *http.Request) {
	meta, ok := h.metadataFor(w, r)
	if !ok {
		return
	}

	view := model.View(chi.URLParam(r, "view"))
	switch view {
	case model.ViewForm, model.ViewTable, model.ViewSearch, model.ViewDetail:
	default:
		WriteError(w, model.NewBadRequestError("view must be one of form, table, search, detail"))
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"entity": meta.Name,
		"view":   view,
		"fields": h.deps.Metadata.FieldDescriptors(meta.Name, view),
	})
}

// metadataFor resolves the {entity} path parameter, writing a 404 when the
// type is unknown.
func (h *handlers) metadataFor(w http.ResponseWriter, r *http.Request) (model.EntityMetadata, bool) {
	name := chi.URLParam(r, "entity")
	meta, ok := h.deps.Metadata.Entity(name)
	if !ok {
		WriteNotFound(w, "unknown entity type "+name)
		return model.EntityMetadata{}, false
	}
	return meta, true
}
