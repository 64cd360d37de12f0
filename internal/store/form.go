package store

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/pitabwire/entitystore/model"
)

// FormCallbacks are notified after a submission settles.
type FormCallbacks struct {
	OnSuccess func(saved model.Entity)
	OnError   func(err error)
}

// FormStore holds the draft of a record being created or edited.
//
// It is idle in create mode until InitEdit or a successful create switches
// it to edit mode; Submit moves it through saving and back. Reset returns to
// an empty create form from any state.
type FormStore struct {
	repo   model.Repository
	cfg    settings
	list   *ListStore
	detail *DetailStore
	state  *Observable[model.FormState]

	mu        sync.Mutex
	callbacks FormCallbacks
}

// NewFormStore creates a form store over repo. When list is non-nil, saved
// records are reconciled into it.
func NewFormStore(repo model.Repository, list *ListStore, opts ...Option) *FormStore {
	return newFormStore(repo, list, buildSettings(opts))
}

func newFormStore(repo model.Repository, list *ListStore, cfg settings) *FormStore {
	return &FormStore{
		repo:  repo,
		cfg:   cfg,
		list:  list,
		state: NewObservable(emptyForm(), cloneFormState),
	}
}

func emptyForm() model.FormState {
	return model.FormState{Mode: model.FormCreate, Errors: map[string][]string{}}
}

func cloneFormState(s model.FormState) model.FormState {
	s.Draft = s.Draft.Clone()
	s.Original = s.Original.Clone()
	errs := make(map[string][]string, len(s.Errors))
	for k, v := range s.Errors {
		errs[k] = append([]string(nil), v...)
	}
	s.Errors = errs
	return s
}

// State returns a snapshot of the form state.
func (f *FormStore) State() model.FormState { return f.state.Get() }

// Subscribe registers fn for state changes.
func (f *FormStore) Subscribe(fn func(model.FormState)) (cancel func()) {
	return f.state.Subscribe(fn)
}

// SetCallbacks replaces the submission callbacks.
func (f *FormStore) SetCallbacks(cb FormCallbacks) {
	f.mu.Lock()
	f.callbacks = cb
	f.mu.Unlock()
}

// InitCreate starts a create form from initial, which may be nil.
func (f *FormStore) InitCreate(initial model.Entity) {
	draft := initial.Clone()
	if draft == nil {
		draft = model.Entity{}
	}
	f.state.Update(func(st *model.FormState) {
		*st = emptyForm()
		st.Draft = draft
	})
}

// InitEdit starts an edit form for entity.
func (f *FormStore) InitEdit(entity model.Entity) {
	original := entity.Clone()
	if original == nil {
		original = model.Entity{}
	}
	f.state.Update(func(st *model.FormState) {
		*st = emptyForm()
		st.Mode = model.FormEdit
		st.Original = original
		st.Draft = original.Clone()
	})
}

// SetField sets one draft value and clears the errors of that field.
func (f *FormStore) SetField(name string, value any) {
	f.SetFields(model.Entity{name: value})
}

// SetFields sets several draft values and clears their errors. Without an
// initialised form, a create draft is started.
func (f *FormStore) SetFields(values model.Entity) {
	f.state.Update(func(st *model.FormState) {
		if st.Draft == nil {
			st.Draft = model.Entity{}
		}
		for k, v := range values {
			st.Draft[k] = v
			delete(st.Errors, k)
		}
	})
}

// SetErrors replaces the field errors.
func (f *FormStore) SetErrors(errs map[string][]string) {
	f.state.Update(func(st *model.FormState) {
		st.Errors = make(map[string][]string, len(errs))
		for k, v := range errs {
			st.Errors[k] = append([]string(nil), v...)
		}
	})
}

// HasChanges reports whether the draft differs from what was last saved.
func (f *FormStore) HasChanges() bool {
	st := f.state.Get()
	return dirty(st)
}

func dirty(st model.FormState) bool {
	if st.Draft == nil {
		return false
	}
	if st.Mode == model.FormCreate {
		return len(st.Draft) > 0
	}
	return len(changes(st.Draft, st.Original)) > 0
}

// changes returns the draft values that differ from original. Numbers
// compare by value whatever their Go type.
func changes(draft, original model.Entity) model.Entity {
	out := model.Entity{}
	for k, v := range draft {
		if ov, ok := original[k]; !ok || !model.ValuesEqual(v, ov) {
			out[k] = v
		}
	}
	return out
}

// Submit saves the draft: an insert in create mode, an update of draft.id in
// edit mode carrying only the changed fields. An absent or unchanged draft
// is not submitted and the original is returned. On success the form
// switches to edit mode on the saved record; on failure the validation
// errors, if any, are recorded per field and the error is returned with
// the draft untouched.
func (f *FormStore) Submit(ctx context.Context) (model.Entity, error) {
	var (
		st        model.FormState
		start     bool
		busy      bool
		missingID bool
	)
	f.state.Update(func(s *model.FormState) {
		switch {
		case s.Saving:
			busy = true
		case !dirty(*s):
		case s.Mode == model.FormEdit && s.Draft.ID() == "":
			missingID = true
		default:
			s.Saving = true
			start = true
		}
		st = cloneFormState(*s)
	})

	switch {
	case busy:
		return nil, model.NewBadRequestError("a submission is already in progress")
	case missingID:
		return nil, model.NewBadRequestError("cannot update a record without an id")
	case !start:
		return st.Original, nil
	}

	var (
		saved model.Entity
		err   error
	)
	if st.Mode == model.FormCreate {
		saved, err = f.repo.Insert(ctx, st.Draft)
	} else {
		patch := changes(st.Draft, st.Original)
		delete(patch, model.IDField)
		saved, err = f.repo.Update(ctx, st.Draft.ID(), patch)
	}

	f.mu.Lock()
	cb := f.callbacks
	f.mu.Unlock()

	if err != nil {
		fieldErrs := model.FieldErrorMap(err)
		f.state.Update(func(s *model.FormState) {
			s.Saving = false
			if fieldErrs != nil {
				s.Errors = fieldErrs
			}
		})
		f.cfg.logger.Debug("form submit failed",
			zap.String("entity", f.repo.EntityType()),
			zap.String("mode", string(st.Mode)),
			zap.Error(err),
		)
		if cb.OnError != nil {
			cb.OnError(err)
		}
		return nil, err
	}

	f.state.Update(func(s *model.FormState) {
		s.Mode = model.FormEdit
		s.Original = saved.Clone()
		s.Draft = saved.Clone()
		s.Errors = map[string][]string{}
		s.Saving = false
	})

	if f.list != nil {
		if st.Mode == model.FormCreate {
			f.list.applyCreated(ctx, saved)
		} else {
			f.list.applyUpdated(saved)
		}
	}
	if f.detail != nil && st.Mode == model.FormEdit {
		f.detail.applyUpdated(saved)
	}
	if cb.OnSuccess != nil {
		cb.OnSuccess(saved.Clone())
	}
	return saved.Clone(), nil
}

// Reset returns to an empty create form.
func (f *FormStore) Reset() {
	f.state.Update(func(st *model.FormState) {
		*st = emptyForm()
	})
}
