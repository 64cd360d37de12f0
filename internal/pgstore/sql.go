package pgstore

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pitabwire/entitystore/model"
)

// statement accumulates positional arguments while SQL is assembled.
type statement struct {
	args []any
}

func (s *statement) arg(v any) string {
	s.args = append(s.args, v)
	return "$" + strconv.Itoa(len(s.args))
}

// selectSQL builds the page query of opts for entityType.
func selectSQL(entityType string, opts model.FindOptions) (string, []any, error) {
	st := &statement{}
	var b strings.Builder
	b.WriteString("SELECT id, data FROM entity_documents WHERE entity_type = ")
	b.WriteString(st.arg(entityType))

	if !opts.Filter.IsEmpty() {
		where, err := st.filter(opts.Filter)
		if err != nil {
			return "", nil, err
		}
		b.WriteString(" AND ")
		b.WriteString(where)
	}

	b.WriteString(" ORDER BY ")
	for _, k := range opts.Sort {
		b.WriteString(st.sortExpr(k))
		b.WriteString(", ")
	}
	b.WriteString("id ASC")

	if opts.Limit > 0 {
		b.WriteString(" LIMIT ")
		b.WriteString(st.arg(opts.Limit))
	}
	if off := opts.Offset(); off > 0 {
		b.WriteString(" OFFSET ")
		b.WriteString(st.arg(off))
	}
	return b.String(), st.args, nil
}

// countSQL builds the count query of filter for entityType.
func countSQL(entityType string, filter *model.Filter) (string, []any, error) {
	st := &statement{}
	q := "SELECT count(*) FROM entity_documents WHERE entity_type = " + st.arg(entityType)
	if !filter.IsEmpty() {
		where, err := st.filter(filter)
		if err != nil {
			return "", nil, err
		}
		q += " AND " + where
	}
	return q, st.args, nil
}

func (s *statement) sortExpr(k model.SortKey) string {
	dir := "ASC"
	if k.Desc {
		dir = "DESC"
	}
	if k.Field == model.IDField {
		return "id " + dir
	}
	return fmt.Sprintf("data->%s %s NULLS LAST", s.arg(k.Field), dir)
}

func (s *statement) filter(f *model.Filter) (string, error) {
	var parts []string
	for _, c := range f.Conditions {
		p, err := s.condition(c)
		if err != nil {
			return "", err
		}
		parts = append(parts, p)
	}
	for _, sub := range f.And {
		if sub.IsEmpty() {
			continue
		}
		p, err := s.filter(sub)
		if err != nil {
			return "", err
		}
		parts = append(parts, p)
	}
	if len(f.Or) > 0 {
		alts := make([]string, 0, len(f.Or))
		for _, sub := range f.Or {
			if sub.IsEmpty() {
				alts = append(alts, "TRUE")
				continue
			}
			p, err := s.filter(sub)
			if err != nil {
				return "", err
			}
			alts = append(alts, p)
		}
		parts = append(parts, "("+strings.Join(alts, " OR ")+")")
	}

	switch len(parts) {
	case 0:
		return "TRUE", nil
	case 1:
		return parts[0], nil
	}
	return "(" + strings.Join(parts, " AND ") + ")", nil
}

func (s *statement) condition(c model.Condition) (string, error) {
	if c.Field == model.IDField {
		return s.idCondition(c)
	}

	field := s.arg(c.Field)
	jsonExpr := "data->" + field
	textExpr := "data->>" + field

	switch c.Op {
	case model.OpEq, "":
		if c.Value == nil {
			return fmt.Sprintf("(%s IS NULL OR %s = 'null'::jsonb)", jsonExpr, jsonExpr), nil
		}
		v, err := jsonArg(c.Value)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s = %s::jsonb", jsonExpr, s.arg(v)), nil

	case model.OpNe:
		v, err := jsonArg(c.Value)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s IS DISTINCT FROM %s::jsonb", jsonExpr, s.arg(v)), nil

	case model.OpContains:
		return fmt.Sprintf("%s ILIKE %s", textExpr, s.arg("%"+escapeLike(text(c.Value))+"%")), nil
	case model.OpStartsWith:
		return fmt.Sprintf("%s ILIKE %s", textExpr, s.arg(escapeLike(text(c.Value))+"%")), nil
	case model.OpEndsWith:
		return fmt.Sprintf("%s ILIKE %s", textExpr, s.arg("%"+escapeLike(text(c.Value)))), nil

	case model.OpGt, model.OpGte, model.OpLt, model.OpLte:
		op := comparators[c.Op]
		if n, ok := model.AsNumber(c.Value); ok {
			return fmt.Sprintf("(jsonb_typeof(%s) = 'number' AND (%s)::numeric %s %s)",
				jsonExpr, textExpr, op, s.arg(n)), nil
		}
		return fmt.Sprintf("%s %s %s", textExpr, op, s.arg(text(c.Value))), nil

	case model.OpIn:
		values, err := jsonArray(c.Value)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s = ANY(%s::jsonb[])", jsonExpr, s.arg(values)), nil
	}
	return "", fmt.Errorf("unsupported operator %q", c.Op)
}

// idCondition compares against the id column. Identifiers that are not
// integers match nothing.
func (s *statement) idCondition(c model.Condition) (string, error) {
	switch c.Op {
	case model.OpEq, "", model.OpNe, model.OpGt, model.OpGte, model.OpLt, model.OpLte:
		id, ok := parseID(c.Value)
		if !ok {
			if c.Op == model.OpNe {
				return "TRUE", nil
			}
			return "FALSE", nil
		}
		op := comparators[c.Op]
		return fmt.Sprintf("id %s %s", op, s.arg(id)), nil
	case model.OpIn:
		var ids []int64
		for _, v := range toSlice(c.Value) {
			if id, ok := parseID(v); ok {
				ids = append(ids, id)
			}
		}
		if len(ids) == 0 {
			return "FALSE", nil
		}
		return fmt.Sprintf("id = ANY(%s)", s.arg(ids)), nil
	case model.OpContains:
		return fmt.Sprintf("id::text LIKE %s", s.arg("%"+escapeLike(text(c.Value))+"%")), nil
	case model.OpStartsWith:
		return fmt.Sprintf("id::text LIKE %s", s.arg(escapeLike(text(c.Value))+"%")), nil
	case model.OpEndsWith:
		return fmt.Sprintf("id::text LIKE %s", s.arg("%"+escapeLike(text(c.Value)))), nil
	}
	return "", fmt.Errorf("unsupported operator %q", c.Op)
}

var comparators = map[model.Operator]string{
	model.OpEq:  "=",
	"":          "=",
	model.OpNe:  "<>",
	model.OpGt:  ">",
	model.OpGte: ">=",
	model.OpLt:  "<",
	model.OpLte: "<=",
}

func parseID(v any) (int64, bool) {
	if n, ok := model.AsNumber(v); ok {
		if n != float64(int64(n)) {
			return 0, false
		}
		return int64(n), true
	}
	if s, ok := v.(string); ok {
		id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		return id, err == nil
	}
	return 0, false
}

func jsonArg(v any) (string, error) {
	if t, ok := v.(time.Time); ok {
		v = t.UTC().Format(time.RFC3339Nano)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encoding filter value: %w", err)
	}
	return string(b), nil
}

func jsonArray(v any) ([]string, error) {
	items := toSlice(v)
	out := make([]string, 0, len(items))
	for _, it := range items {
		s, err := jsonArg(it)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func toSlice(v any) []any {
	switch t := v.(type) {
	case []any:
		return t
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	case []float64:
		out := make([]any, len(t))
		for i, n := range t {
			out[i] = n
		}
		return out
	case []int:
		out := make([]any, len(t))
		for i, n := range t {
			out[i] = n
		}
		return out
	}
	return []any{v}
}

func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

// escapeLike escapes the LIKE wildcards and the default escape character.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
