package model

// Operator is a filter comparison operator.
type Operator string

// Supported filter operators.
const (
	OpEq         Operator = "$eq"
	OpNe         Operator = "$ne"
	OpContains   Operator = "$contains"
	OpStartsWith Operator = "$startsWith"
	OpEndsWith   Operator = "$endsWith"
	OpGt         Operator = "$gt"
	OpGte        Operator = "$gte"
	OpLt         Operator = "$lt"
	OpLte        Operator = "$lte"
	OpIn         Operator = "$in"
)

// Condition compares one field against a value.
type Condition struct {
	Field string   `json:"field"`
	Op    Operator `json:"op"`
	Value any      `json:"value"`
}

// Filter is a composable filter expression. All Conditions must hold, every
// filter in And must match, and when Or is non-empty at least one of its
// filters must match. A nil Filter matches everything.
type Filter struct {
	Conditions []Condition `json:"conditions,omitempty"`
	And        []*Filter   `json:"$and,omitempty"`
	Or         []*Filter   `json:"$or,omitempty"`
}

// Where returns a filter holding a single condition.
func Where(field string, op Operator, value any) *Filter {
	return &Filter{Conditions: []Condition{{Field: field, Op: op, Value: value}}}
}

// Eq returns an equality filter.
func Eq(field string, value any) *Filter {
	return Where(field, OpEq, value)
}

// ByID returns a filter matching the entity with the given identifier.
func ByID(id string) *Filter {
	return Eq(IDField, id)
}

// And combines filters with logical AND. Nil filters are dropped.
func And(filters ...*Filter) *Filter {
	return &Filter{And: compact(filters)}
}

// Or combines filters with logical OR. Nil filters are dropped.
func Or(filters ...*Filter) *Filter {
	return &Filter{Or: compact(filters)}
}

// IsEmpty reports whether the filter matches everything.
func (f *Filter) IsEmpty() bool {
	if f == nil {
		return true
	}
	if len(f.Conditions) > 0 || len(f.Or) > 0 {
		return false
	}
	for _, sub := range f.And {
		if !sub.IsEmpty() {
			return false
		}
	}
	return true
}

func compact(filters []*Filter) []*Filter {
	out := make([]*Filter, 0, len(filters))
	for _, f := range filters {
		if f != nil {
			out = append(out, f)
		}
	}
	return out
}
