// Package live manages live query subscriptions keyed by slot. Each slot holds
// at most one active subscription; changing the query of a slot replaces the
// subscription after a debounce window.
package live

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pitabwire/entitystore/internal/debounce"
	"github.com/pitabwire/entitystore/internal/observability"
	"github.com/pitabwire/entitystore/model"
)

// DefaultDebounce is the activation quiet period used when none is configured.
const DefaultDebounce = 300 * time.Millisecond

// Source establishes live queries. model.Repository satisfies it.
type Source interface {
	Subscribe(ctx context.Context, opts model.FindOptions, h model.LiveHandler) (cancel func(), err error)
}

// Manager owns the live subscriptions of a set of slots.
type Manager struct {
	wait    time.Duration
	logger  *zap.Logger
	metrics *observability.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	slots map[string]*slot
}

// Option configures a Manager.
type Option func(*Manager)

// WithDebounce sets the activation quiet period.
func WithDebounce(d time.Duration) Option {
	return func(m *Manager) { m.wait = d }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// NewManager creates a Manager.
func NewManager(opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		wait:   DefaultDebounce,
		logger: zap.NewNop(),
		ctx:    ctx,
		cancel: cancel,
		slots:  make(map[string]*slot),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

type request struct {
	src      Source
	opts     model.FindOptions
	onChange func([]model.Entity)
	onError  func(error)
}

type slot struct {
	name      string
	debouncer *debounce.Debouncer

	// activateMu serialises activations of this slot.
	activateMu sync.Mutex

	mu     sync.Mutex
	active *subscription
	epoch  uint64
	closed bool
}

// Subscribe schedules a live query on slot. Calls for the same slot within
// the debounce window coalesce and only the last arguments are used. When the
// debounced query has the same fingerprint as the active subscription, that
// subscription is kept, its callbacks are replaced and its latest emission is
// handed to the new onChange; otherwise the
// active subscription is cancelled before the new one is established.
//
// onError may be nil. The returned cancel is idempotent and synchronously
// drops the pending activation and the active subscription of the slot.
func (m *Manager) Subscribe(slotName string, src Source, q model.FindOptions, onChange func([]model.Entity), onError func(error)) (cancel func()) {
	s := m.slot(slotName)
	req := request{src: src, opts: q, onChange: onChange, onError: onError}
	s.debouncer.Trigger(func() { m.activate(s, req) })

	var once sync.Once
	return func() {
		once.Do(func() { m.teardown(s) })
	}
}

// Active returns the number of slots holding an established subscription.
func (m *Manager) Active() int {
	m.mu.Lock()
	slots := make([]*slot, 0, len(m.slots))
	for _, s := range m.slots {
		slots = append(slots, s)
	}
	m.mu.Unlock()

	n := 0
	for _, s := range slots {
		s.mu.Lock()
		if s.active != nil {
			n++
		}
		s.mu.Unlock()
	}
	return n
}

// Close cancels every slot. The manager must not be used afterwards.
func (m *Manager) Close() {
	m.mu.Lock()
	slots := make([]*slot, 0, len(m.slots))
	for _, s := range m.slots {
		slots = append(slots, s)
	}
	m.mu.Unlock()

	for _, s := range slots {
		m.teardown(s)
	}
	m.cancel()
}

func (m *Manager) slot(name string) *slot {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.slots[name]; ok {
		return s
	}
	s := &slot{name: name, debouncer: debounce.New(m.wait)}
	m.slots[name] = s
	return s
}

func (m *Manager) teardown(s *slot) {
	s.debouncer.Cancel()

	s.mu.Lock()
	s.epoch++
	s.closed = true
	old := s.active
	s.active = nil
	s.mu.Unlock()

	m.mu.Lock()
	if m.slots[s.name] == s {
		delete(m.slots, s.name)
	}
	m.mu.Unlock()

	if old != nil {
		m.close(s, old)
	}
}

func (m *Manager) activate(s *slot, req request) {
	s.activateMu.Lock()
	defer s.activateMu.Unlock()

	fingerprint := req.opts.Fingerprint()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if kept := s.active; kept != nil && kept.fingerprint == fingerprint {
		kept.setHandlers(req.onChange, req.onError)
		s.mu.Unlock()
		m.logger.Debug("live query unchanged",
			zap.String("slot", s.name),
			zap.String("subscription_id", kept.id),
		)
		// The caller may be waiting on a result the subscription already
		// delivered to its previous callbacks.
		kept.redeliver()
		return
	}
	old := s.active
	s.active = nil
	s.epoch++
	epoch := s.epoch
	s.mu.Unlock()

	if old != nil {
		m.close(s, old)
	}

	sub := &subscription{id: uuid.NewString(), fingerprint: fingerprint}
	sub.setHandlers(req.onChange, req.onError)

	handler := model.LiveHandler{
		OnChange: sub.deliver,
		OnError: func(err error) {
			if sub.closed.Load() {
				return
			}
			m.metrics.RecordLiveError(s.name)
			m.logger.Warn("live query error",
				zap.String("slot", s.name),
				zap.String("subscription_id", sub.id),
				zap.Error(err),
			)
			sub.fail(err)
		},
	}

	cancel, err := req.src.Subscribe(m.ctx, req.opts, handler)
	if err != nil {
		m.metrics.RecordLiveError(s.name)
		m.logger.Warn("live subscribe failed",
			zap.String("slot", s.name),
			zap.Error(err),
		)
		sub.fail(err)
		return
	}
	sub.cancel = cancel

	s.mu.Lock()
	if s.epoch != epoch || s.closed {
		// Torn down while establishing.
		s.mu.Unlock()
		sub.close()
		return
	}
	s.active = sub
	s.mu.Unlock()

	m.metrics.RecordLiveSubscribe(s.name)
	m.logger.Debug("live query established",
		zap.String("slot", s.name),
		zap.String("subscription_id", sub.id),
		zap.String("fingerprint", fingerprint),
	)
}

func (m *Manager) close(s *slot, sub *subscription) {
	if sub.close() {
		m.metrics.RecordLiveCancel(s.name)
		m.logger.Debug("live query cancelled",
			zap.String("slot", s.name),
			zap.String("subscription_id", sub.id),
		)
	}
}

type subscription struct {
	id          string
	fingerprint string
	cancel      func()
	closed      atomic.Bool

	mu       sync.Mutex
	onChange func([]model.Entity)
	onError  func(error)
	last     []model.Entity
	hasLast  bool
}

func (s *subscription) setHandlers(onChange func([]model.Entity), onError func(error)) {
	s.mu.Lock()
	s.onChange = onChange
	s.onError = onError
	s.mu.Unlock()
}

func (s *subscription) deliver(items []model.Entity) {
	if s.closed.Load() {
		return
	}
	s.mu.Lock()
	fn := s.onChange
	s.last = model.CloneEntities(items)
	s.hasLast = true
	s.mu.Unlock()
	if fn != nil && !s.closed.Load() {
		fn(items)
	}
}

// redeliver hands the most recent emission, if any, to the current onChange.
func (s *subscription) redeliver() {
	s.mu.Lock()
	fn, items, ok := s.onChange, model.CloneEntities(s.last), s.hasLast
	s.mu.Unlock()
	if ok && fn != nil && !s.closed.Load() {
		fn(items)
	}
}

func (s *subscription) fail(err error) {
	if s.closed.Load() {
		return
	}
	s.mu.Lock()
	fn := s.onError
	s.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// close reports whether this call closed the subscription.
func (s *subscription) close() bool {
	if !s.closed.CompareAndSwap(false, true) {
		return false
	}
	if s.cancel != nil {
		s.cancel()
	}
	return true
}
