package store

import "sync"

// Observable holds a state value and notifies listeners after every update.
// Updates are atomic: listeners only ever see complete post-update
// snapshots, delivered in update order. A listener may itself call Update;
// the nested notification is queued behind the current one.
type Observable[S any] struct {
	clone func(S) S

	mu        sync.Mutex
	state     S
	listeners map[uint64]func(S)
	nextID    uint64
	queue     []S
	draining  bool
}

// NewObservable creates an Observable holding initial. clone copies a state
// so snapshots handed out share nothing mutable with the held value.
func NewObservable[S any](initial S, clone func(S) S) *Observable[S] {
	if clone == nil {
		clone = func(s S) S { return s }
	}
	return &Observable[S]{
		clone:     clone,
		state:     initial,
		listeners: make(map[uint64]func(S)),
	}
}

// Get returns a snapshot of the current state.
func (o *Observable[S]) Get() S {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.clone(o.state)
}

// Update applies fn to the state under the lock and then notifies
// listeners. It returns the post-update snapshot.
func (o *Observable[S]) Update(fn func(*S)) S {
	o.mu.Lock()
	fn(&o.state)
	snap := o.clone(o.state)
	o.queue = append(o.queue, snap)
	if o.draining {
		o.mu.Unlock()
		return snap
	}
	o.draining = true
	o.mu.Unlock()

	o.drain()
	return snap
}

// Subscribe registers fn for future updates.
func (o *Observable[S]) Subscribe(fn func(S)) (cancel func()) {
	o.mu.Lock()
	o.nextID++
	id := o.nextID
	o.listeners[id] = fn
	o.mu.Unlock()

	return func() {
		o.mu.Lock()
		delete(o.listeners, id)
		o.mu.Unlock()
	}
}

func (o *Observable[S]) drain() {
	for {
		o.mu.Lock()
		if len(o.queue) == 0 {
			o.draining = false
			o.mu.Unlock()
			return
		}
		snap := o.queue[0]
		o.queue = o.queue[1:]
		fns := make([]func(S), 0, len(o.listeners))
		for _, fn := range o.listeners {
			fns = append(fns, fn)
		}
		o.mu.Unlock()

		for _, fn := range fns {
			fn(o.clone(snap))
		}
	}
}
