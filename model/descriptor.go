package model

// View selects which concern of a field descriptor applies.
type View string

// Views a field can be exposed in.
const (
	ViewForm   View = "form"
	ViewTable  View = "table"
	ViewSearch View = "search"
	ViewDetail View = "detail"
)

// FieldType is the declared value type of a field.
type FieldType string

// Field value types.
const (
	TypeString  FieldType = "string"
	TypeNumber  FieldType = "number"
	TypeBoolean FieldType = "boolean"
	TypeDate    FieldType = "date"
)

// SearchOperator is the comparison a search field applies to its value.
type SearchOperator string

// Search operators.
const (
	SearchEquals     SearchOperator = "equals"
	SearchContains   SearchOperator = "contains"
	SearchStartsWith SearchOperator = "startsWith"
	SearchEndsWith   SearchOperator = "endsWith"
	SearchRange      SearchOperator = "range"
)

// Option is a selectable value for select-style components.
type Option struct {
	Value string `yaml:"value" json:"value"`
	Label string `yaml:"label" json:"label"`
}

// ValidationRule constrains a form field. MinLength and MaxLength bound the
// length of string values; Min and Max bound numeric values. Message, when
// set, replaces the default message of every violation.
type ValidationRule struct {
	Required  bool     `yaml:"required,omitempty" json:"required,omitempty"`
	MinLength *int     `yaml:"min_length,omitempty" json:"min_length,omitempty"`
	MaxLength *int     `yaml:"max_length,omitempty" json:"max_length,omitempty"`
	Min       *float64 `yaml:"min,omitempty" json:"min,omitempty"`
	Max       *float64 `yaml:"max,omitempty" json:"max,omitempty"`
	Pattern   string   `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	Message   string   `yaml:"message,omitempty" json:"message,omitempty"`
}

// FormOptions describes how a field renders in a form.
type FormOptions struct {
	Order       int             `yaml:"order,omitempty" json:"order,omitempty"`
	Component   string          `yaml:"component,omitempty" json:"component,omitempty"`
	Width       string          `yaml:"width,omitempty" json:"width,omitempty"`
	Placeholder string          `yaml:"placeholder,omitempty" json:"placeholder,omitempty"`
	Options     []Option        `yaml:"options,omitempty" json:"options,omitempty"`
	Validation  *ValidationRule `yaml:"validation,omitempty" json:"validation,omitempty"`
}

// TableOptions describes how a field renders as a table column.
type TableOptions struct {
	Order      int    `yaml:"order,omitempty" json:"order,omitempty"`
	Width      int    `yaml:"width,omitempty" json:"width,omitempty"`
	Sortable   bool   `yaml:"sortable,omitempty" json:"sortable,omitempty"`
	Filterable bool   `yaml:"filterable,omitempty" json:"filterable,omitempty"`
	Renderer   string `yaml:"renderer,omitempty" json:"renderer,omitempty"`
}

// SearchOptions describes how a field participates in search.
type SearchOptions struct {
	Order       int            `yaml:"order,omitempty" json:"order,omitempty"`
	Searchable  *bool          `yaml:"searchable,omitempty" json:"searchable,omitempty"`
	Operator    SearchOperator `yaml:"operator,omitempty" json:"operator,omitempty"`
	Type        FieldType      `yaml:"type,omitempty" json:"type,omitempty"`
	Component   string         `yaml:"component,omitempty" json:"component,omitempty"`
	Placeholder string         `yaml:"placeholder,omitempty" json:"placeholder,omitempty"`
	Options     []Option       `yaml:"options,omitempty" json:"options,omitempty"`
}

// DetailOptions describes how a field renders on a detail page.
type DetailOptions struct {
	Order     int    `yaml:"order,omitempty" json:"order,omitempty"`
	Component string `yaml:"component,omitempty" json:"component,omitempty"`
	Renderer  string `yaml:"renderer,omitempty" json:"renderer,omitempty"`
}

// FieldDescriptor is the per-field metadata for one entity type. A field may
// carry any combination of the four view concerns; a nil concern means the
// field is not exposed in that view.
type FieldDescriptor struct {
	Name     string    `yaml:"name" json:"name"`
	Label    string    `yaml:"label,omitempty" json:"label,omitempty"`
	Type     FieldType `yaml:"type,omitempty" json:"type,omitempty"`
	Order    int       `yaml:"order,omitempty" json:"order,omitempty"`
	Hidden   bool      `yaml:"hidden,omitempty" json:"hidden,omitempty"`
	Computed bool      `yaml:"computed,omitempty" json:"computed,omitempty"`

	Form   *FormOptions   `yaml:"form,omitempty" json:"form,omitempty"`
	Table  *TableOptions  `yaml:"table,omitempty" json:"table,omitempty"`
	Search *SearchOptions `yaml:"search,omitempty" json:"search,omitempty"`
	Detail *DetailOptions `yaml:"detail,omitempty" json:"detail,omitempty"`
}

// Persisted reports whether the field is stored by the repository.
func (f FieldDescriptor) Persisted() bool {
	return !f.Computed
}

// Searchable reports whether free-text search matches against this field.
// Every persisted field is searchable unless its search concern opts out.
func (f FieldDescriptor) Searchable() bool {
	if !f.Persisted() {
		return false
	}
	if f.Search != nil && f.Search.Searchable != nil {
		return *f.Search.Searchable
	}
	return true
}

// SearchOperator returns the operator used for per-field filters, defaulting
// to equals.
func (f FieldDescriptor) SearchOperator() SearchOperator {
	if f.Search != nil && f.Search.Operator != "" {
		return f.Search.Operator
	}
	return SearchEquals
}

// ValueType returns the search value type, falling back to the declared
// field type and then to string.
func (f FieldDescriptor) ValueType() FieldType {
	if f.Search != nil && f.Search.Type != "" {
		return f.Search.Type
	}
	if f.Type != "" {
		return f.Type
	}
	return TypeString
}

// HasView reports whether the field exposes the given concern.
func (f FieldDescriptor) HasView(v View) bool {
	switch v {
	case ViewForm:
		return f.Form != nil
	case ViewTable:
		return f.Table != nil
	case ViewSearch:
		return f.Search != nil
	case ViewDetail:
		return f.Detail != nil
	}
	return false
}

// ViewOrder returns the ordering priority of the field in a view. A non-zero
// order on the concern wins over the field-level order.
func (f FieldDescriptor) ViewOrder(v View) int {
	var o int
	switch v {
	case ViewForm:
		if f.Form != nil {
			o = f.Form.Order
		}
	case ViewTable:
		if f.Table != nil {
			o = f.Table.Order
		}
	case ViewSearch:
		if f.Search != nil {
			o = f.Search.Order
		}
	case ViewDetail:
		if f.Detail != nil {
			o = f.Detail.Order
		}
	}
	if o != 0 {
		return o
	}
	return f.Order
}

// EntityMetadata describes one entity type.
type EntityMetadata struct {
	Name        string            `yaml:"name" json:"name"`
	DisplayName string            `yaml:"display_name,omitempty" json:"display_name,omitempty"`
	Description string            `yaml:"description,omitempty" json:"description,omitempty"`
	Icon        string            `yaml:"icon,omitempty" json:"icon,omitempty"`
	DefaultSort []SortKey         `yaml:"default_sort,omitempty" json:"default_sort,omitempty"`
	PageSize    int               `yaml:"page_size,omitempty" json:"page_size,omitempty"`
	Fields      []FieldDescriptor `yaml:"fields" json:"fields"`
}

// Field returns the descriptor of the named field.
func (m EntityMetadata) Field(name string) (FieldDescriptor, bool) {
	for _, f := range m.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDescriptor{}, false
}

// InitialQuery returns the first-page query configured for the entity.
func (m EntityMetadata) InitialQuery() QueryModel {
	q := DefaultQuery()
	if m.PageSize > 0 {
		q.PageSize = m.PageSize
	}
	if len(m.DefaultSort) > 0 {
		q.Sort = append([]SortKey(nil), m.DefaultSort...)
	}
	return q
}
