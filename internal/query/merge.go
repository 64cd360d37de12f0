package query

import (
	"github.com/pitabwire/entitystore/model"
)

// Merge applies a partial update to a query model and returns the result.
// The current model is not modified.
//
//   - Setting PageSize or SearchText resets Page to 1, even when the same
//     patch sets Page.
//   - A non-empty SearchText clears all per-field filters.
//   - A non-empty per-field filter clears SearchText. Filters are applied
//     after SearchText, so a patch carrying both keeps the filters.
//   - A per-field filter with an empty value removes that filter.
func Merge(cur model.QueryModel, p model.QueryPatch) model.QueryModel {
	next := cur.Clone()
	resetPage := false

	if p.Page != nil {
		next.Page = *p.Page
	}
	if p.PageSize != nil {
		if *p.PageSize > 0 {
			next.PageSize = *p.PageSize
		}
		resetPage = true
	}
	if p.SearchText != nil {
		next.SearchText = *p.SearchText
		if next.SearchText != "" {
			next.Filters = nil
		}
		resetPage = true
	}
	if p.Live != nil {
		next.Live = *p.Live
	}

	for k, v := range p.Filters {
		if isBlank(v) {
			delete(next.Filters, k)
			continue
		}
		if next.Filters == nil {
			next.Filters = make(map[string]any, len(p.Filters))
		}
		next.Filters[k] = v
		next.SearchText = ""
	}
	if len(next.Filters) == 0 {
		next.Filters = nil
	}

	if p.Sort != nil {
		next.Sort = append([]model.SortKey(nil), p.Sort...)
	}
	if p.ClearWhere {
		next.Where = nil
	} else if p.Where != nil {
		next.Where = p.Where
	}

	if resetPage || next.Page < 1 {
		next.Page = 1
	}
	if next.PageSize < 1 {
		next.PageSize = model.DefaultPageSize
	}
	return next
}

// Ptr returns a pointer to v, for building patches.
func Ptr[T any](v T) *T {
	return &v
}
