// Package pool provides a keyed singleton cache. Each key is constructed at
// most once per Pool; concurrent callers for the same key share the result of
// the first construction.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrCyclicConstruction is returned when a factory asks, directly or
	// transitively, for the key it is constructing.
	ErrCyclicConstruction = errors.New("pool: cyclic construction")

	// ErrTypeMismatch is returned when the cached value for a key is not of
	// the requested type.
	ErrTypeMismatch = errors.New("pool: type mismatch")
)

type entry struct {
	ready chan struct{}
	value any
	err   error
}

// Pool memoizes values by key. The zero value is not usable; call New.
type Pool struct {
	mu      sync.Mutex
	entries map[string]*entry

	onHit  func(key string)
	onMiss func(key string)
}

// Option configures a Pool.
type Option func(*Pool)

// WithObserver registers callbacks invoked on cache hits and misses.
func WithObserver(hit, miss func(key string)) Option {
	return func(p *Pool) {
		p.onHit = hit
		p.onMiss = miss
	}
}

// New creates an empty Pool.
func New(opts ...Option) *Pool {
	p := &Pool{entries: make(map[string]*entry)}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Get returns the value cached under key, invoking factory to create it on
// first use. The key is reserved before factory runs: other goroutines asking
// for the same key wait for the construction, and a factory that asks for its
// own key (through the context it was given) gets ErrCyclicConstruction. A
// factory error is returned to every waiter and is not cached.
//
// A factory that hands the key to another goroutine without passing its
// context along will deadlock; always propagate the context.
func Get[T any](ctx context.Context, p *Pool, key string, factory func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	if constructing(ctx, key) {
		return zero, fmt.Errorf("%w: %q", ErrCyclicConstruction, key)
	}

	p.mu.Lock()
	if e, ok := p.entries[key]; ok {
		p.mu.Unlock()
		select {
		case <-e.ready:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
		if e.err != nil {
			return zero, e.err
		}
		if p.onHit != nil {
			p.onHit(key)
		}
		return cast[T](key, e.value)
	}
	e := &entry{ready: make(chan struct{})}
	p.entries[key] = e
	p.mu.Unlock()

	if p.onMiss != nil {
		p.onMiss(key)
	}

	done := false
	defer func() {
		if done {
			return
		}
		// factory panicked
		e.err = fmt.Errorf("pool: factory for %q panicked", key)
		p.release(key)
		close(e.ready)
	}()

	v, err := factory(withConstructing(ctx, key))
	done = true
	if err != nil {
		e.err = err
		p.release(key)
		close(e.ready)
		return zero, err
	}

	e.value = v
	close(e.ready)
	return v, nil
}

// Has reports whether a value (or a construction in progress) exists for key.
func (p *Pool) Has(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.entries[key]
	return ok
}

// Len returns the number of cached keys, including constructions in progress.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

func (p *Pool) release(key string) {
	p.mu.Lock()
	delete(p.entries, key)
	p.mu.Unlock()
}

func cast[T any](key string, v any) (T, error) {
	t, ok := v.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %q holds %T", ErrTypeMismatch, key, v)
	}
	return t, nil
}

type constructingKey struct{}

// constructing reports whether key is being built further up the call chain.
func constructing(ctx context.Context, key string) bool {
	keys, _ := ctx.Value(constructingKey{}).(map[string]struct{})
	_, ok := keys[key]
	return ok
}

func withConstructing(ctx context.Context, key string) context.Context {
	parent, _ := ctx.Value(constructingKey{}).(map[string]struct{})
	keys := make(map[string]struct{}, len(parent)+1)
	for k := range parent {
		keys[k] = struct{}{}
	}
	keys[key] = struct{}{}
	return context.WithValue(ctx, constructingKey{}, keys)
}
