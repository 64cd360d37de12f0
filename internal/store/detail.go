package store

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pitabwire/entitystore/model"
)

// DetailStore observes a single record, optionally kept live.
type DetailStore struct {
	repo  model.Repository
	cfg   settings
	slot  string
	state *Observable[model.DetailState]

	issued atomic.Uint64
	// Only touched inside state.Update.
	applied  uint64
	inflight int

	mu         sync.Mutex
	id         string
	liveCancel func()
}

// NewDetailStore creates a detail store over repo.
func NewDetailStore(repo model.Repository, opts ...Option) *DetailStore {
	return newDetailStore(repo, buildSettings(opts))
}

func newDetailStore(repo model.Repository, cfg settings) *DetailStore {
	return &DetailStore{
		repo: repo,
		cfg:  cfg,
		slot: repo.EntityType() + "/detail",
		state: NewObservable(model.DetailState{}, func(s model.DetailState) model.DetailState {
			s.Item = s.Item.Clone()
			return s
		}),
	}
}

// State returns a snapshot of the detail state.
func (s *DetailStore) State() model.DetailState { return s.state.Get() }

// Subscribe registers fn for state changes.
func (s *DetailStore) Subscribe(fn func(model.DetailState)) (cancel func()) {
	return s.state.Subscribe(fn)
}

// Get fetches the record with the given id.
func (s *DetailStore) Get(ctx context.Context, id string) (model.Entity, bool, error) {
	return s.fetch(ctx, id, model.ByID(id))
}

// GetWhere fetches the first record matching filter.
func (s *DetailStore) GetWhere(ctx context.Context, filter *model.Filter) (model.Entity, bool, error) {
	return s.fetch(ctx, "", filter)
}

// Use points the store at id. A different id cancels the live subscription
// of the previous one. The record is refetched, and when live is set the
// slot "<entity>/detail" keeps it current. The returned cancel ends the live
// subscription.
func (s *DetailStore) Use(ctx context.Context, id string, live bool) (cancel func(), err error) {
	s.mu.Lock()
	if id != s.id {
		s.stopLiveLocked()
	}
	s.id = id
	s.mu.Unlock()

	_, _, err = s.Get(ctx, id)

	if !live {
		s.StopLive()
		return func() {}, err
	}

	liveCancel := s.cfg.live.Subscribe(s.slot, s.repo,
		model.FindOptions{Filter: model.ByID(id), Limit: 1},
		func(items []model.Entity) { s.applyLive(id, items) },
		func(err error) {
			s.state.Update(func(st *model.DetailState) {
				st.Err = err
				st.Loading = s.inflight > 0
			})
		},
	)

	s.mu.Lock()
	s.liveCancel = liveCancel
	s.mu.Unlock()
	return s.StopLive, err
}

// StopLive ends the live subscription, if any.
func (s *DetailStore) StopLive() {
	s.mu.Lock()
	s.stopLiveLocked()
	s.mu.Unlock()
}

func (s *DetailStore) stopLiveLocked() {
	if s.liveCancel != nil {
		s.liveCancel()
		s.liveCancel = nil
	}
}

func (s *DetailStore) fetch(ctx context.Context, id string, filter *model.Filter) (model.Entity, bool, error) {
	seq := s.issued.Add(1)
	s.state.Update(func(st *model.DetailState) {
		s.inflight++
		st.Loading = true
	})

	item, found, err := s.repo.FindFirst(ctx, filter)

	s.state.Update(func(st *model.DetailState) {
		s.inflight--
		st.Loading = s.inflight > 0
		if seq <= s.applied {
			return
		}
		if err != nil {
			st.Err = err
			return
		}
		s.applied = seq
		if id == "" && found {
			id = item.ID()
		}
		st.ID = id
		st.Item = item
		st.Found = found
		st.Err = nil
	})
	if err != nil {
		return nil, false, err
	}
	return item.Clone(), found, nil
}

func (s *DetailStore) applyLive(id string, items []model.Entity) {
	s.mu.Lock()
	current := s.id
	s.mu.Unlock()
	if current != id {
		return
	}

	seq := s.issued.Add(1)
	s.state.Update(func(st *model.DetailState) {
		if seq <= s.applied {
			return
		}
		s.applied = seq
		st.ID = id
		st.Loading = s.inflight > 0
		st.Err = nil
		if len(items) > 0 {
			st.Item = items[0].Clone()
			st.Found = true
		} else {
			st.Item = nil
			st.Found = false
		}
	})
}

// applyUpdated refreshes the held record when it is the one that changed.
func (s *DetailStore) applyUpdated(updated model.Entity) {
	s.state.Update(func(st *model.DetailState) {
		if st.Found && st.Item.ID() == updated.ID() {
			st.Item = updated.Clone()
		}
	})
}
