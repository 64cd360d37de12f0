package debounce

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestDebouncer_lastCallWins(t *testing.T) {
	d := New(30 * time.Millisecond)
	var got atomic.Int32
	var runs atomic.Int32

	for i := 1; i <= 3; i++ {
		v := int32(i)
		d.Trigger(func() {
			runs.Add(1)
			got.Store(v)
		})
	}

	time.Sleep(100 * time.Millisecond)

	if runs.Load() != 1 {
		t.Errorf("runs = %d, want 1", runs.Load())
	}
	if got.Load() != 3 {
		t.Errorf("value = %d, want 3", got.Load())
	}
}

func TestDebouncer_notSynchronous(t *testing.T) {
	d := New(0)
	var ran atomic.Bool
	d.Trigger(func() { ran.Store(true) })
	if ran.Load() {
		t.Fatal("Trigger ran fn synchronously")
	}
	deadline := time.Now().Add(time.Second)
	for !ran.Load() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !ran.Load() {
		t.Error("fn never ran")
	}
}

func TestDebouncer_cancel(t *testing.T) {
	d := New(20 * time.Millisecond)
	var ran atomic.Bool
	d.Trigger(func() { ran.Store(true) })
	d.Cancel()

	time.Sleep(60 * time.Millisecond)
	if ran.Load() {
		t.Error("cancelled fn ran")
	}
	if d.Pending() {
		t.Error("Pending() = true after Cancel")
	}
}

func TestDebouncer_flush(t *testing.T) {
	d := New(time.Hour)
	runs := 0
	d.Trigger(func() { runs++ })

	if !d.Pending() {
		t.Fatal("Pending() = false after Trigger")
	}
	if !d.Flush() {
		t.Fatal("Flush() = false, want true")
	}
	if runs != 1 {
		t.Errorf("runs = %d, want 1", runs)
	}
	if d.Flush() {
		t.Error("second Flush() = true, want false")
	}
}

func TestDebouncer_separateBursts(t *testing.T) {
	d := New(10 * time.Millisecond)
	var runs atomic.Int32

	d.Trigger(func() { runs.Add(1) })
	time.Sleep(50 * time.Millisecond)
	d.Trigger(func() { runs.Add(1) })
	time.Sleep(50 * time.Millisecond)

	if runs.Load() != 2 {
		t.Errorf("runs = %d, want 2", runs.Load())
	}
}
