// Package breaker stops calling a failing repository backend for a while so
// that callers fail fast with BACKEND_UNAVAILABLE instead of queueing on a
// dead connection.
package breaker

import (
	"sync"
	"time"
)

// State is the position of a Breaker.
type State int

const (
	// Closed lets every call through and counts failures.
	Closed State = iota
	// Open rejects calls until the open timeout elapses.
	Open
	// HalfOpen lets calls through as probes.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	}
	return "unknown"
}

// minRateSamples is the number of calls a window needs before the error rate
// can trip the breaker.
const minRateSamples = 10

// Settings configures a Breaker. Zero values fall back to defaults; a zero
// ErrorRateThreshold or ErrorRateWindow disables rate-based tripping.
type Settings struct {
	FailureThreshold   int
	SuccessThreshold   int
	OpenTimeout        time.Duration
	ErrorRateThreshold float64
	ErrorRateWindow    time.Duration

	// OnStateChange, when set, is called outside the lock after every
	// transition.
	OnStateChange func(from, to State)
}

// Breaker trips Open after FailureThreshold consecutive failures or when the
// error rate of the current window reaches ErrorRateThreshold. It is safe for
// concurrent use.
type Breaker struct {
	settings Settings
	now      func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	openedAt  time.Time

	windowStart    time.Time
	windowTotal    int
	windowFailures int
}

// New creates a closed Breaker.
func New(s Settings) *Breaker {
	if s.FailureThreshold < 1 {
		s.FailureThreshold = 5
	}
	if s.SuccessThreshold < 1 {
		s.SuccessThreshold = 2
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = 30 * time.Second
	}
	b := &Breaker{settings: s, now: time.Now}
	b.windowStart = b.now()
	return b
}

// Allow reports whether a call may proceed. An Open breaker whose timeout
// has elapsed moves to HalfOpen and allows the call.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	from := b.state
	b.expireOpen()
	allowed := b.state != Open
	to := b.state
	b.mu.Unlock()

	b.notify(from, to)
	return allowed
}

// Success records a call that reached the backend.
func (b *Breaker) Success() {
	b.mu.Lock()
	from := b.state
	switch b.state {
	case Closed:
		b.failures = 0
		b.observe(false)
	case HalfOpen:
		b.successes++
		if b.successes >= b.settings.SuccessThreshold {
			b.state = Closed
			b.failures = 0
			b.successes = 0
			b.resetWindow()
		}
	}
	to := b.state
	b.mu.Unlock()

	b.notify(from, to)
}

// Failure records a call that could not reach the backend.
func (b *Breaker) Failure() {
	b.mu.Lock()
	from := b.state
	switch b.state {
	case Closed:
		b.failures++
		b.observe(true)
		if b.failures >= b.settings.FailureThreshold || b.rateExceeded() {
			b.trip()
		}
	case HalfOpen:
		b.trip()
	}
	to := b.state
	b.mu.Unlock()

	b.notify(from, to)
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	from := b.state
	b.expireOpen()
	to := b.state
	b.mu.Unlock()

	b.notify(from, to)
	return to
}

func (b *Breaker) notify(from, to State) {
	if from != to && b.settings.OnStateChange != nil {
		b.settings.OnStateChange(from, to)
	}
}

// The helpers below run with mu held.

func (b *Breaker) trip() {
	b.state = Open
	b.openedAt = b.now()
	b.successes = 0
	b.resetWindow()
}

func (b *Breaker) expireOpen() {
	if b.state == Open && b.now().Sub(b.openedAt) >= b.settings.OpenTimeout {
		b.state = HalfOpen
		b.successes = 0
	}
}

func (b *Breaker) observe(failed bool) {
	if b.settings.ErrorRateWindow <= 0 {
		return
	}
	if b.now().Sub(b.windowStart) > b.settings.ErrorRateWindow {
		b.resetWindow()
	}
	b.windowTotal++
	if failed {
		b.windowFailures++
	}
}

func (b *Breaker) resetWindow() {
	b.windowStart = b.now()
	b.windowTotal = 0
	b.windowFailures = 0
}

func (b *Breaker) rateExceeded() bool {
	if b.settings.ErrorRateThreshold <= 0 || b.settings.ErrorRateWindow <= 0 {
		return false
	}
	if b.windowTotal < minRateSamples {
		return false
	}
	return float64(b.windowFailures)/float64(b.windowTotal) >= b.settings.ErrorRateThreshold
}
