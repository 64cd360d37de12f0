package metadata

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/pitabwire/entitystore/model"
)

// Field error codes.
const (
	CodeRequired  = "REQUIRED"
	CodeType      = "INVALID_TYPE"
	CodeMinLength = "MIN_LENGTH"
	CodeMaxLength = "MAX_LENGTH"
	CodeMin       = "MIN"
	CodeMax       = "MAX"
	CodePattern   = "PATTERN"
)

// Validator checks entity records against the form validation rules and
// field types of their schema.
type Validator struct {
	registry *Registry

	mu       sync.Mutex
	patterns map[string]*regexp.Regexp
}

// NewValidator creates a Validator over the registry.
func NewValidator(registry *Registry) *Validator {
	return &Validator{registry: registry, patterns: make(map[string]*regexp.Regexp)}
}

// Validate returns a VALIDATION_ERROR envelope listing every violated rule,
// or nil. Unknown entity types and fields without rules pass.
func (v *Validator) Validate(_ context.Context, entityType string, data model.Entity) error {
	meta, ok := v.registry.Entity(entityType)
	if !ok {
		return nil
	}

	var errs []model.FieldError
	for _, f := range meta.Fields {
		if f.Computed || f.Name == model.IDField {
			continue
		}
		errs = append(errs, v.checkField(f, data[f.Name])...)
	}
	if len(errs) > 0 {
		return model.NewValidationError(errs)
	}
	return nil
}

func (v *Validator) checkField(f model.FieldDescriptor, value any) []model.FieldError {
	var rule model.ValidationRule
	if f.Form != nil && f.Form.Validation != nil {
		rule = *f.Form.Validation
	}
	fail := func(code, msg string) []model.FieldError {
		if rule.Message != "" {
			msg = rule.Message
		}
		return []model.FieldError{{Field: f.Name, Code: code, Message: msg}}
	}

	if isEmpty(value) {
		if rule.Required {
			return fail(CodeRequired, fmt.Sprintf("%s is required", label(f)))
		}
		return nil
	}

	switch f.Type {
	case model.TypeNumber:
		n, ok := model.AsNumber(value)
		if !ok {
			return fail(CodeType, fmt.Sprintf("%s must be a number", label(f)))
		}
		if rule.Min != nil && n < *rule.Min {
			return fail(CodeMin, fmt.Sprintf("%s must be at least %v", label(f), *rule.Min))
		}
		if rule.Max != nil && n > *rule.Max {
			return fail(CodeMax, fmt.Sprintf("%s must be at most %v", label(f), *rule.Max))
		}
		return nil

	case model.TypeBoolean:
		if _, ok := value.(bool); !ok {
			return fail(CodeType, fmt.Sprintf("%s must be true or false", label(f)))
		}
		return nil

	case model.TypeDate:
		switch d := value.(type) {
		case time.Time:
		case string:
			if _, err := time.Parse(time.RFC3339, d); err != nil {
				return fail(CodeType, fmt.Sprintf("%s must be an RFC 3339 date", label(f)))
			}
		default:
			return fail(CodeType, fmt.Sprintf("%s must be a date", label(f)))
		}
		return nil
	}

	s, ok := value.(string)
	if !ok {
		return fail(CodeType, fmt.Sprintf("%s must be text", label(f)))
	}
	n := utf8.RuneCountInString(s)
	if rule.MinLength != nil && n < *rule.MinLength {
		return fail(CodeMinLength, fmt.Sprintf("%s must be at least %d characters", label(f), *rule.MinLength))
	}
	if rule.MaxLength != nil && n > *rule.MaxLength {
		return fail(CodeMaxLength, fmt.Sprintf("%s must be at most %d characters", label(f), *rule.MaxLength))
	}
	if rule.Pattern != "" {
		re, err := v.pattern(rule.Pattern)
		if err != nil || !re.MatchString(s) {
			return fail(CodePattern, fmt.Sprintf("%s has an invalid format", label(f)))
		}
	}
	return nil
}

func (v *Validator) pattern(expr string) (*regexp.Regexp, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if re, ok := v.patterns[expr]; ok {
		return re, nil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	v.patterns[expr] = re
	return re, nil
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	}
	return false
}

func label(f model.FieldDescriptor) string {
	if f.Label != "" {
		return f.Label
	}
	return f.Name
}
