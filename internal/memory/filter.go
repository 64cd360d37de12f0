package memory

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/pitabwire/entitystore/model"
)

// Matches reports whether e satisfies f. A nil filter matches everything.
func Matches(e model.Entity, f *model.Filter) bool {
	if f == nil {
		return true
	}
	for _, c := range f.Conditions {
		if !matchCondition(e, c) {
			return false
		}
	}
	for _, sub := range f.And {
		if !Matches(e, sub) {
			return false
		}
	}
	if len(f.Or) > 0 {
		for _, sub := range f.Or {
			if Matches(e, sub) {
				return true
			}
		}
		return false
	}
	return true
}

func matchCondition(e model.Entity, c model.Condition) bool {
	v, present := e[c.Field]
	if !present || v == nil {
		switch c.Op {
		case model.OpNe:
			return c.Value != nil
		case model.OpEq, "":
			return c.Value == nil
		}
		return false
	}

	switch c.Op {
	case model.OpEq, "":
		return equal(v, c.Value)
	case model.OpNe:
		return !equal(v, c.Value)
	case model.OpContains:
		return strings.Contains(folded(v), folded(c.Value))
	case model.OpStartsWith:
		return strings.HasPrefix(folded(v), folded(c.Value))
	case model.OpEndsWith:
		return strings.HasSuffix(folded(v), folded(c.Value))
	case model.OpGt:
		n, ok := compare(v, c.Value)
		return ok && n > 0
	case model.OpGte:
		n, ok := compare(v, c.Value)
		return ok && n >= 0
	case model.OpLt:
		n, ok := compare(v, c.Value)
		return ok && n < 0
	case model.OpLte:
		n, ok := compare(v, c.Value)
		return ok && n <= 0
	case model.OpIn:
		return in(v, c.Value)
	}
	return false
}

func equal(a, b any) bool {
	if n, ok := compare(a, b); ok {
		return n == 0
	}
	if reflect.DeepEqual(a, b) {
		return true
	}
	if isScalar(a) && isScalar(b) {
		return text(a) == text(b)
	}
	return false
}

func in(v, set any) bool {
	rv := reflect.ValueOf(set)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return equal(v, set)
	}
	for i := 0; i < rv.Len(); i++ {
		if equal(v, rv.Index(i).Interface()) {
			return true
		}
	}
	return false
}

// compare orders two values numerically when both are numbers (or numeric
// strings), chronologically when both are times, and lexically when both
// are strings. ok is false when the values are not comparable.
func compare(a, b any) (int, bool) {
	if x, ok := number(a); ok {
		if y, ok := number(b); ok {
			return cmp3(x < y, x > y), true
		}
	}
	if x, ok := timeOf(a); ok {
		if y, ok := timeOf(b); ok {
			return x.Compare(y), true
		}
	}
	x, aok := a.(string)
	y, bok := b.(string)
	if aok && bok {
		return strings.Compare(x, y), true
	}
	return 0, false
}

func cmp3(less, greater bool) int {
	switch {
	case less:
		return -1
	case greater:
		return 1
	}
	return 0
}

func number(v any) (float64, bool) {
	if n, ok := model.AsNumber(v); ok {
		return n, true
	}
	if s, ok := v.(string); ok {
		n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		return n, err == nil
	}
	return 0, false
}

func timeOf(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		if parsed, err := time.Parse(time.RFC3339, t); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

// folded is the text form used by the text operators, which ignore case.
func folded(v any) string {
	return strings.ToLower(text(v))
}

func isScalar(v any) bool {
	switch reflect.ValueOf(v).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct, reflect.Pointer:
		_, isTime := v.(time.Time)
		return isTime
	}
	return true
}
