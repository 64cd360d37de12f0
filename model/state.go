package model

// ListResult is the outcome of a single list fetch.
type ListResult struct {
	Items    []Entity `json:"items"`
	Total    int      `json:"total"`
	Page     int      `json:"page"`
	PageSize int      `json:"page_size"`
}

// ListState is the observable state of a list store. Items and Total always
// come from the same query.
type ListState struct {
	Items    []Entity `json:"items"`
	Total    int      `json:"total"`
	Page     int      `json:"page"`
	PageSize int      `json:"page_size"`
	Loading  bool     `json:"loading"`
	Err      error    `json:"-"`
}

// DetailState is the observable state of a detail store.
type DetailState struct {
	ID      string `json:"id,omitempty"`
	Item    Entity `json:"item,omitempty"`
	Found   bool   `json:"found"`
	Loading bool   `json:"loading"`
	Err     error  `json:"-"`
}

// FormMode distinguishes creating a new entity from editing an existing one.
type FormMode string

// Form modes.
const (
	FormCreate FormMode = "create"
	FormEdit   FormMode = "edit"
)

// FormState is the observable state of a form store. Original is nil in
// create mode. A nil Draft means no form has been initialised.
type FormState struct {
	Mode     FormMode            `json:"mode"`
	Draft    Entity              `json:"draft,omitempty"`
	Original Entity              `json:"original,omitempty"`
	Errors   map[string][]string `json:"errors"`
	Saving   bool                `json:"saving"`
}
