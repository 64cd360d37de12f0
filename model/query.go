package model

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"strings"
)

// Default list paging.
const (
	DefaultPage     = 1
	DefaultPageSize = 10
)

// SortKey orders results by one field. Multiple keys apply in declaration
// order; the first differing key decides.
type SortKey struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc,omitempty"`
}

// ParseSort parses a comma separated sort expression such as "-price,name"
// where a leading "-" selects descending order.
func ParseSort(expr string) []SortKey {
	var keys []SortKey
	for _, part := range strings.Split(expr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		desc := strings.HasPrefix(part, "-")
		field := strings.TrimLeft(part, "+-")
		if field == "" {
			continue
		}
		keys = append(keys, SortKey{Field: field, Desc: desc})
	}
	return keys
}

// FindOptions is an executable query: a filter plus sort and pagination.
// Limit 0 means no limit. Page is 1-based.
type FindOptions struct {
	Filter *Filter   `json:"filter,omitempty"`
	Sort   []SortKey `json:"sort,omitempty"`
	Limit  int       `json:"limit,omitempty"`
	Page   int       `json:"page,omitempty"`
}

// Offset returns the number of matching records skipped before the page.
// Pages too far out to address saturate at math.MaxInt.
func (o FindOptions) Offset() int {
	if o.Limit <= 0 || o.Page <= 1 {
		return 0
	}
	if o.Page-1 > math.MaxInt/o.Limit {
		return math.MaxInt
	}
	return (o.Page - 1) * o.Limit
}

// Fingerprint returns a deterministic string identifying the query.
func (o FindOptions) Fingerprint() string {
	return fingerprint(o)
}

// Range is a per-field filter value bounding a field from both sides.
// Either bound may be nil.
type Range struct {
	Min any `json:"min,omitempty"`
	Max any `json:"max,omitempty"`
}

// QueryModel is the declarative shape of a list query. Filters maps a field
// name (or a "<field>Min"/"<field>Max" key) to a scalar value or a Range.
// Where is an explicit filter ANDed into whatever the model builds.
type QueryModel struct {
	Page       int            `json:"page"`
	PageSize   int            `json:"page_size"`
	SearchText string         `json:"search_text,omitempty"`
	Live       bool           `json:"live,omitempty"`
	Filters    map[string]any `json:"filters,omitempty"`
	Sort       []SortKey      `json:"sort,omitempty"`
	Where      *Filter        `json:"where,omitempty"`
}

// DefaultQuery returns a query for the first page with the default size.
func DefaultQuery() QueryModel {
	return QueryModel{Page: DefaultPage, PageSize: DefaultPageSize}
}

// Clone returns a copy that shares no mutable state with q.
func (q QueryModel) Clone() QueryModel {
	out := q
	out.Filters = maps.Clone(q.Filters)
	if q.Sort != nil {
		out.Sort = append([]SortKey(nil), q.Sort...)
	}
	return out
}

// Fingerprint returns a deterministic string identifying the query.
func (q QueryModel) Fingerprint() string {
	return fingerprint(q)
}

// QueryPatch is a partial update to a QueryModel. Nil fields are left
// unchanged. A Filters entry with an empty value removes that filter.
type QueryPatch struct {
	Page       *int
	PageSize   *int
	SearchText *string
	Live       *bool
	Filters    map[string]any
	Sort       []SortKey
	Where      *Filter
	ClearWhere bool
}

// encoding/json sorts map keys, which makes the output stable. Values JSON
// cannot encode (NaN, channels) fall back to their Go syntax; that form may
// differ between equal queries but never collides with another query.
func fingerprint(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("go:%#v", v)
	}
	return string(b)
}
