package live

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/entitystore/model"
)

const (
	testWait = 20 * time.Millisecond
	waitFor  = time.Second
	tick     = 5 * time.Millisecond
)

// fakeSource records subscribe calls and lets tests push emissions.
type fakeSource struct {
	mu        sync.Mutex
	calls     []model.FindOptions
	handlers  []model.LiveHandler
	cancelled []bool
	err       error
}

func (f *fakeSource) Subscribe(_ context.Context, opts model.FindOptions, h model.LiveHandler) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, opts)
	if f.err != nil {
		return nil, f.err
	}
	idx := len(f.handlers)
	f.handlers = append(f.handlers, h)
	f.cancelled = append(f.cancelled, false)
	return func() {
		f.mu.Lock()
		f.cancelled[idx] = true
		f.mu.Unlock()
	}, nil
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeSource) call(i int) model.FindOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[i]
}

func (f *fakeSource) isCancelled(i int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled[i]
}

func (f *fakeSource) emit(i int, items []model.Entity) {
	f.mu.Lock()
	h := f.handlers[i]
	f.mu.Unlock()
	h.OnChange(items)
}

func (f *fakeSource) emitError(i int, err error) {
	f.mu.Lock()
	h := f.handlers[i]
	f.mu.Unlock()
	h.OnError(err)
}

func page(n int) model.FindOptions {
	return model.FindOptions{Limit: 10, Page: n}
}

func TestSubscribe_coalescesBurstIntoOneCall(t *testing.T) {
	m := NewManager(WithDebounce(testWait))
	defer m.Close()
	src := &fakeSource{}

	m.Subscribe("tasks/list", src, page(1), nil, nil)
	m.Subscribe("tasks/list", src, page(2), nil, nil)
	m.Subscribe("tasks/list", src, page(3), nil, nil)

	require.Eventually(t, func() bool { return src.callCount() == 1 }, waitFor, tick)
	time.Sleep(3 * testWait)

	assert.Equal(t, 1, src.callCount(), "burst should produce exactly one subscribe")
	assert.Equal(t, 3, src.call(0).Page, "last arguments should win")
	assert.Equal(t, 1, m.Active())
}

func TestSubscribe_doesNotActivateInline(t *testing.T) {
	m := NewManager(WithDebounce(testWait))
	defer m.Close()
	src := &fakeSource{}

	cancel := m.Subscribe("s", src, page(1), nil, nil)
	defer cancel()

	assert.Equal(t, 0, src.callCount(), "activation must wait for the debounce window")
	require.Eventually(t, func() bool { return src.callCount() == 1 }, waitFor, tick)
}

func TestSubscribe_changedQueryCancelsPreviousFirst(t *testing.T) {
	m := NewManager(WithDebounce(testWait))
	defer m.Close()
	src := &fakeSource{}

	m.Subscribe("tasks/list", src, page(1), nil, nil)
	require.Eventually(t, func() bool { return src.callCount() == 1 }, waitFor, tick)

	m.Subscribe("tasks/list", src, page(2), nil, nil)
	require.Eventually(t, func() bool { return src.callCount() == 2 }, waitFor, tick)

	assert.True(t, src.isCancelled(0), "previous subscription must be cancelled")
	assert.False(t, src.isCancelled(1))
	require.Eventually(t, func() bool { return m.Active() == 1 }, waitFor, tick)
}

func TestSubscribe_sameFingerprintKeepsSubscription(t *testing.T) {
	m := NewManager(WithDebounce(testWait))
	defer m.Close()
	src := &fakeSource{}

	var mu sync.Mutex
	var got string
	m.Subscribe("s", src, page(1), func([]model.Entity) {
		mu.Lock()
		got = "first"
		mu.Unlock()
	}, nil)
	require.Eventually(t, func() bool { return src.callCount() == 1 }, waitFor, tick)

	m.Subscribe("s", src, page(1), func([]model.Entity) {
		mu.Lock()
		got = "second"
		mu.Unlock()
	}, nil)
	time.Sleep(3 * testWait)

	assert.Equal(t, 1, src.callCount(), "identical query should not resubscribe")
	assert.False(t, src.isCancelled(0))

	src.emit(0, nil)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "second", got, "latest callbacks should receive emissions")
}

func TestSubscribe_keptSubscriptionRedeliversLastEmission(t *testing.T) {
	m := NewManager(WithDebounce(testWait))
	defer m.Close()
	src := &fakeSource{}

	m.Subscribe("s", src, page(1), nil, nil)
	require.Eventually(t, func() bool { return src.callCount() == 1 }, waitFor, tick)
	src.emit(0, []model.Entity{{"id": "1"}, {"id": "2"}})

	received := make(chan []model.Entity, 1)
	m.Subscribe("s", src, page(2), nil, nil)
	m.Subscribe("s", src, page(1), func(items []model.Entity) { received <- items }, nil)

	select {
	case items := <-received:
		assert.Len(t, items, 2)
	case <-time.After(waitFor):
		t.Fatal("kept subscription did not hand over its last emission")
	}
	assert.Equal(t, 1, src.callCount())
}

func TestSubscribe_deliversEmissions(t *testing.T) {
	m := NewManager(WithDebounce(testWait))
	defer m.Close()
	src := &fakeSource{}

	received := make(chan []model.Entity, 1)
	m.Subscribe("s", src, page(1), func(items []model.Entity) { received <- items }, nil)
	require.Eventually(t, func() bool { return src.callCount() == 1 }, waitFor, tick)

	src.emit(0, []model.Entity{{"id": "1"}})
	select {
	case items := <-received:
		assert.Len(t, items, 1)
	case <-time.After(waitFor):
		t.Fatal("emission not delivered")
	}
}

func TestCancel_beforeDebounceFiresPreventsSubscribe(t *testing.T) {
	m := NewManager(WithDebounce(testWait))
	defer m.Close()
	src := &fakeSource{}

	cancel := m.Subscribe("s", src, page(1), nil, nil)
	cancel()
	time.Sleep(3 * testWait)

	assert.Equal(t, 0, src.callCount())
	assert.Equal(t, 0, m.Active())
}

func TestCancel_stopsCallbacks(t *testing.T) {
	m := NewManager(WithDebounce(testWait))
	defer m.Close()
	src := &fakeSource{}

	var mu sync.Mutex
	calls := 0
	cancel := m.Subscribe("s", src, page(1), func([]model.Entity) {
		mu.Lock()
		calls++
		mu.Unlock()
	}, nil)
	require.Eventually(t, func() bool { return m.Active() == 1 }, waitFor, tick)

	cancel()
	cancel() // idempotent

	src.emit(0, []model.Entity{{"id": "1"}})
	assert.True(t, src.isCancelled(0))
	assert.Equal(t, 0, m.Active())
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, calls, "no callback may run after cancel")
}

func TestSubscribe_errorGoesToOnError(t *testing.T) {
	m := NewManager(WithDebounce(testWait))
	defer m.Close()
	src := &fakeSource{err: errors.New("backend down")}

	errs := make(chan error, 1)
	m.Subscribe("s", src, page(1), nil, func(err error) { errs <- err })

	select {
	case err := <-errs:
		assert.EqualError(t, err, "backend down")
	case <-time.After(waitFor):
		t.Fatal("error not surfaced")
	}
	assert.Equal(t, 0, m.Active())
}

func TestSubscribe_errorWithoutHandlerIsSwallowed(t *testing.T) {
	m := NewManager(WithDebounce(testWait))
	defer m.Close()
	src := &fakeSource{err: errors.New("backend down")}

	m.Subscribe("s", src, page(1), nil, nil)
	require.Eventually(t, func() bool { return src.callCount() == 1 }, waitFor, tick)
}

func TestSubscribe_streamErrorReachesOnError(t *testing.T) {
	m := NewManager(WithDebounce(testWait))
	defer m.Close()
	src := &fakeSource{}

	errs := make(chan error, 1)
	m.Subscribe("s", src, page(1), nil, func(err error) { errs <- err })
	require.Eventually(t, func() bool { return src.callCount() == 1 }, waitFor, tick)

	src.emitError(0, errors.New("stream broke"))
	select {
	case err := <-errs:
		assert.EqualError(t, err, "stream broke")
	case <-time.After(waitFor):
		t.Fatal("stream error not surfaced")
	}
}

func TestSlotsAreIndependent(t *testing.T) {
	m := NewManager(WithDebounce(testWait))
	defer m.Close()
	src := &fakeSource{}

	m.Subscribe("tasks/list", src, page(1), nil, nil)
	m.Subscribe("tasks/detail", src, page(1), nil, nil)

	require.Eventually(t, func() bool { return m.Active() == 2 }, waitFor, tick)
	assert.Equal(t, 2, src.callCount())
}

func TestClose_cancelsEverything(t *testing.T) {
	m := NewManager(WithDebounce(testWait))
	src := &fakeSource{}

	m.Subscribe("a", src, page(1), nil, nil)
	m.Subscribe("b", src, page(1), nil, nil)
	require.Eventually(t, func() bool { return m.Active() == 2 }, waitFor, tick)

	m.Close()
	assert.Equal(t, 0, m.Active())
	assert.True(t, src.isCancelled(0))
	assert.True(t, src.isCancelled(1))
}
