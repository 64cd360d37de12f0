package store

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pitabwire/entitystore/internal/debounce"
	"github.com/pitabwire/entitystore/internal/observability"
	"github.com/pitabwire/entitystore/internal/query"
	"github.com/pitabwire/entitystore/model"
)

// ListStore holds one page of a filtered, sorted query together with the
// total number of matches.
//
// Every fetch takes a sequence number when it is issued; a result is applied
// only when no later-issued fetch has been applied already, so the state
// always reflects the most recently issued query that completed.
type ListStore struct {
	repo    model.Repository
	meta    model.EntityMetadata
	cfg     settings
	slot    string
	refresh *debounce.Debouncer
	state   *Observable[model.ListState]

	mu              sync.Mutex
	query           model.QueryModel
	liveCancel      func()
	liveFingerprint string
	onLive          func([]model.Entity)

	issued atomic.Uint64

	// Only touched inside state.Update.
	applied      uint64
	inflight     int
	awaitingLive bool
}

// NewListStore creates a list store over repo starting from the entity's
// initial query. Nothing is fetched until List, LiveQuery or SetQuery.
func NewListStore(repo model.Repository, opts ...Option) *ListStore {
	return newListStore(repo, buildSettings(opts))
}

func newListStore(repo model.Repository, cfg settings) *ListStore {
	meta := repo.Metadata()
	q := cfg.initialQuery(meta)
	return &ListStore{
		repo:    repo,
		meta:    meta,
		cfg:     cfg,
		slot:    repo.EntityType() + "/list",
		refresh: debounce.New(cfg.refreshWait),
		query:   q,
		state: NewObservable(model.ListState{
			Items:    []model.Entity{},
			Page:     q.Page,
			PageSize: q.PageSize,
		}, cloneListState),
	}
}

func cloneListState(s model.ListState) model.ListState {
	s.Items = model.CloneEntities(s.Items)
	return s
}

// State returns a snapshot of the list state.
func (s *ListStore) State() model.ListState { return s.state.Get() }

// Subscribe registers fn for state changes.
func (s *ListStore) Subscribe(fn func(model.ListState)) (cancel func()) {
	return s.state.Subscribe(fn)
}

// Query returns a copy of the current query model.
func (s *ListStore) Query() model.QueryModel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.query.Clone()
}

// SetQuery merges p into the current query and returns the result. With
// auto-fetch enabled a refetch is scheduled after the refresh debounce; a
// live query is (re)subscribed, itself debounced by the live manager.
func (s *ListStore) SetQuery(p model.QueryPatch) model.QueryModel {
	s.mu.Lock()
	s.query = query.Merge(s.query, p)
	q := s.query.Clone()
	s.mu.Unlock()

	switch {
	case q.Live:
		s.subscribeLive(q)
	case p.Live != nil:
		s.stopLive()
	}

	if s.cfg.autoFetch {
		s.refresh.Trigger(func() {
			if _, err := s.List(context.Background(), nil); err != nil {
				s.cfg.logger.Warn("list refresh failed",
					zap.String("entity", s.meta.Name),
					zap.Error(err),
				)
			}
		})
	}
	return q
}

// List fetches the page described by m, or by the current query when m is
// nil, and applies items and total in one transition. Find and Count run
// concurrently. On failure the state keeps its last good value and records
// the error.
func (s *ListStore) List(ctx context.Context, m *model.QueryModel) (model.ListResult, error) {
	q := s.useQuery(m)
	opts := query.Build(q, s.meta.Fields)
	seq := s.issued.Add(1)

	ctx, span := observability.StartSpan(ctx, "list.fetch",
		observability.AttrEntity.String(s.meta.Name),
		observability.AttrFingerprint.String(opts.Fingerprint()),
	)

	s.state.Update(func(st *model.ListState) {
		s.inflight++
		st.Loading = true
	})

	var (
		items []model.Entity
		total int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		items, err = s.repo.Find(gctx, opts)
		return err
	})
	g.Go(func() error {
		var err error
		total, err = s.repo.Count(gctx, opts.Filter)
		return err
	})
	err := g.Wait()

	s.cfg.metrics.RecordListFetch(s.meta.Name, err)
	observability.EndSpanWithError(span, err)

	s.state.Update(func(st *model.ListState) {
		s.inflight--
		if seq > s.applied {
			if err != nil {
				st.Err = err
			} else {
				s.applied = seq
				st.Items = items
				st.Total = total
				st.Page = q.Page
				st.PageSize = q.PageSize
				st.Err = nil
			}
		}
		st.Loading = s.inflight > 0 || s.awaitingLive
	})

	if err != nil {
		s.cfg.logger.Debug("list fetch failed",
			zap.String("entity", s.meta.Name),
			zap.Error(err),
		)
		return model.ListResult{}, err
	}
	return model.ListResult{
		Items:    model.CloneEntities(items),
		Total:    total,
		Page:     q.Page,
		PageSize: q.PageSize,
	}, nil
}

// LiveQuery keeps the list current with a live subscription on the slot
// "<entity>/list" and fetches once right away, so the state is populated
// before the first emission. onChange, when set, also receives every
// emitted page. The returned cancel ends live mode.
func (s *ListStore) LiveQuery(ctx context.Context, m *model.QueryModel, onChange func([]model.Entity)) (cancel func(), err error) {
	s.mu.Lock()
	if m != nil {
		s.query = normalize(*m)
	}
	s.query.Live = true
	s.onLive = onChange
	q := s.query.Clone()
	s.mu.Unlock()

	s.subscribeLive(q)
	if _, err := s.List(ctx, nil); err != nil {
		return s.stopLive, err
	}
	return s.stopLive, nil
}

// Create inserts data and counts it into the total. With relist-on-create
// the list is refetched instead.
func (s *ListStore) Create(ctx context.Context, data model.Entity) (model.Entity, error) {
	created, err := s.repo.Insert(ctx, data)
	if err != nil {
		return nil, err
	}
	s.applyCreated(ctx, created)
	return created, nil
}

// Update writes data to the record id and replaces it in the current page.
func (s *ListStore) Update(ctx context.Context, id string, data model.Entity) (model.Entity, error) {
	updated, err := s.repo.Update(ctx, id, data)
	if err != nil {
		return nil, err
	}
	s.applyUpdated(updated)
	return updated, nil
}

// Delete removes the record id and drops it from the current page.
func (s *ListStore) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.applyDeleted(id)
	return nil
}

// Sort orders by keys and refetches the first page. Nil keys clear the sort.
func (s *ListStore) Sort(ctx context.Context, keys []model.SortKey) (model.ListResult, error) {
	if keys == nil {
		keys = []model.SortKey{}
	}
	return s.requery(ctx, model.QueryPatch{Sort: keys})
}

// Filter replaces the explicit filter and refetches the first page. A nil
// filter removes it.
func (s *ListStore) Filter(ctx context.Context, where *model.Filter) (model.ListResult, error) {
	if where == nil {
		return s.requery(ctx, model.QueryPatch{ClearWhere: true})
	}
	return s.requery(ctx, model.QueryPatch{Where: where})
}

// Reset restores the initial query, keeping the page size and live mode,
// and refetches.
func (s *ListStore) Reset(ctx context.Context) (model.ListResult, error) {
	s.mu.Lock()
	q := s.cfg.initialQuery(s.meta)
	q.PageSize = s.query.PageSize
	q.Live = s.query.Live
	s.query = q
	s.mu.Unlock()

	s.refresh.Cancel()
	if q.Live {
		s.subscribeLive(q.Clone())
	}
	return s.List(ctx, nil)
}

// Close drops a pending refresh and ends live mode.
func (s *ListStore) Close() {
	s.refresh.Cancel()
	s.stopLive()
}

func (s *ListStore) requery(ctx context.Context, p model.QueryPatch) (model.ListResult, error) {
	p.Page = query.Ptr(1)

	s.mu.Lock()
	s.query = query.Merge(s.query, p)
	q := s.query.Clone()
	s.mu.Unlock()

	s.refresh.Cancel()
	if q.Live {
		s.subscribeLive(q)
	}
	return s.List(ctx, nil)
}

func (s *ListStore) useQuery(m *model.QueryModel) model.QueryModel {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m != nil {
		s.query = normalize(*m)
	}
	return s.query.Clone()
}

func (s *ListStore) subscribeLive(q model.QueryModel) {
	opts := query.Build(q, s.meta.Fields)
	fingerprint := opts.Fingerprint()

	s.mu.Lock()
	unchanged := s.liveCancel != nil && s.liveFingerprint == fingerprint
	s.liveFingerprint = fingerprint
	s.mu.Unlock()

	if !unchanged {
		s.state.Update(func(st *model.ListState) {
			s.awaitingLive = true
			st.Loading = true
		})
	}

	cancel := s.cfg.live.Subscribe(s.slot, s.repo, opts,
		func(items []model.Entity) { s.applyLive(q, opts, items) },
		func(err error) {
			s.state.Update(func(st *model.ListState) {
				s.awaitingLive = false
				st.Err = err
				st.Loading = s.inflight > 0
			})
		},
	)

	s.mu.Lock()
	s.liveCancel = cancel
	s.mu.Unlock()
}

func (s *ListStore) stopLive() {
	s.mu.Lock()
	cancel := s.liveCancel
	s.liveCancel = nil
	s.liveFingerprint = ""
	s.onLive = nil
	s.query.Live = false
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	s.state.Update(func(st *model.ListState) {
		s.awaitingLive = false
		st.Loading = s.inflight > 0
	})
}

// applyLive pairs an emitted page with a fresh count for the same filter so
// items and total still change together.
func (s *ListStore) applyLive(q model.QueryModel, opts model.FindOptions, items []model.Entity) {
	seq := s.issued.Add(1)
	total, err := s.repo.Count(context.Background(), opts.Filter)

	s.state.Update(func(st *model.ListState) {
		s.awaitingLive = false
		if seq > s.applied {
			if err != nil {
				st.Err = err
			} else {
				s.applied = seq
				st.Items = model.CloneEntities(items)
				st.Total = total
				st.Page = q.Page
				st.PageSize = q.PageSize
				st.Err = nil
			}
		}
		st.Loading = s.inflight > 0
	})

	s.mu.Lock()
	fn := s.onLive
	s.mu.Unlock()
	if fn != nil {
		fn(model.CloneEntities(items))
	}
}

func (s *ListStore) applyCreated(ctx context.Context, created model.Entity) {
	if s.cfg.relistOnCreate {
		if _, err := s.List(ctx, nil); err != nil {
			s.cfg.logger.Warn("relist after create failed",
				zap.String("entity", s.meta.Name),
				zap.Error(err),
			)
		}
		return
	}
	s.state.Update(func(st *model.ListState) {
		st.Total++
	})
}

func (s *ListStore) applyUpdated(updated model.Entity) {
	id := updated.ID()
	s.state.Update(func(st *model.ListState) {
		for i, it := range st.Items {
			if it.ID() == id {
				st.Items[i] = updated.Clone()
				return
			}
		}
	})
}

func (s *ListStore) applyDeleted(id string) {
	s.state.Update(func(st *model.ListState) {
		for i, it := range st.Items {
			if it.ID() == id {
				st.Items = append(st.Items[:i:i], st.Items[i+1:]...)
				break
			}
		}
		if st.Total > 0 {
			st.Total--
		}
	})
}

func normalize(q model.QueryModel) model.QueryModel {
	q = q.Clone()
	if q.Page < 1 {
		q.Page = model.DefaultPage
	}
	if q.PageSize < 1 {
		q.PageSize = model.DefaultPageSize
	}
	return q
}
