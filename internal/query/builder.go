// Package query turns declarative list queries into executable find options.
package query

import (
	"sort"
	"strconv"
	"strings"

	"github.com/pitabwire/entitystore/model"
)

// Range filter key suffixes, as produced by range search widgets.
const (
	minSuffix = "Min"
	maxSuffix = "Max"
)

// Build translates a query model into find options using the field metadata
// to decide which fields free-text search covers and which operator and value
// type each per-field filter uses. Build is pure: identical inputs yield
// structurally identical output.
//
// Free-text search and per-field filters are mutually exclusive; when
// SearchText is set the per-field filters are ignored.
func Build(m model.QueryModel, fields []model.FieldDescriptor) model.FindOptions {
	index := make(map[string]model.FieldDescriptor, len(fields))
	for _, f := range fields {
		index[f.Name] = f
	}

	var conds []*model.Filter
	if m.SearchText != "" {
		if search := searchFilter(m.SearchText, fields); search != nil {
			conds = append(conds, search)
		}
	} else {
		conds = append(conds, fieldFilters(m.Filters, index)...)
	}

	if !m.Where.IsEmpty() {
		conds = append(conds, m.Where)
	}

	opts := model.FindOptions{
		Limit: m.PageSize,
		Page:  m.Page,
	}
	if len(m.Sort) > 0 {
		opts.Sort = append([]model.SortKey(nil), m.Sort...)
	}

	switch len(conds) {
	case 0:
	case 1:
		opts.Filter = conds[0]
	default:
		opts.Filter = model.And(conds...)
	}
	return opts
}

func searchFilter(text string, fields []model.FieldDescriptor) *model.Filter {
	var alts []*model.Filter
	for _, f := range fields {
		if f.Searchable() {
			alts = append(alts, model.Where(f.Name, model.OpContains, text))
		}
	}
	if len(alts) == 0 {
		return nil
	}
	return model.Or(alts...)
}

func fieldFilters(filters map[string]any, index map[string]model.FieldDescriptor) []*model.Filter {
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []*model.Filter
	for _, key := range keys {
		value := filters[key]
		if isBlank(value) {
			continue
		}

		if r, ok := value.(model.Range); ok {
			fd := index[key]
			out = append(out, rangeFilters(key, r, fd.ValueType())...)
			continue
		}

		fd, known := index[key]
		if !known {
			if base, op, ok := rangeBound(key, index); ok {
				out = append(out, model.Where(base.Name, op, coerce(value, base.ValueType())))
				continue
			}
			out = append(out, model.Eq(key, value))
			continue
		}

		out = append(out, operatorFilter(fd, value))
	}
	return out
}

// rangeBound resolves "<field>Min" and "<field>Max" keys of range fields.
func rangeBound(key string, index map[string]model.FieldDescriptor) (model.FieldDescriptor, model.Operator, bool) {
	for _, b := range []struct {
		suffix string
		op     model.Operator
	}{{minSuffix, model.OpGte}, {maxSuffix, model.OpLte}} {
		name, found := strings.CutSuffix(key, b.suffix)
		if !found || name == "" {
			continue
		}
		fd, ok := index[name]
		if ok && fd.SearchOperator() == model.SearchRange {
			return fd, b.op, true
		}
	}
	return model.FieldDescriptor{}, "", false
}

func rangeFilters(field string, r model.Range, t model.FieldType) []*model.Filter {
	var out []*model.Filter
	if !isBlank(r.Min) {
		out = append(out, model.Where(field, model.OpGte, coerce(r.Min, t)))
	}
	if !isBlank(r.Max) {
		out = append(out, model.Where(field, model.OpLte, coerce(r.Max, t)))
	}
	return out
}

func operatorFilter(fd model.FieldDescriptor, value any) *model.Filter {
	switch fd.SearchOperator() {
	case model.SearchContains:
		return model.Where(fd.Name, model.OpContains, value)
	case model.SearchStartsWith:
		return model.Where(fd.Name, model.OpStartsWith, value)
	case model.SearchEndsWith:
		return model.Where(fd.Name, model.OpEndsWith, value)
	default:
		return model.Eq(fd.Name, coerce(value, fd.ValueType()))
	}
}

// coerce converts string input to the declared field type. Values that do
// not parse are passed through unchanged.
func coerce(v any, t model.FieldType) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	switch t {
	case model.TypeNumber:
		if n, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return n
		}
	case model.TypeBoolean:
		switch s {
		case "true":
			return true
		case "false":
			return false
		}
	}
	return v
}

func isBlank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case model.Range:
		return isBlank(t.Min) && isBlank(t.Max)
	}
	return false
}
