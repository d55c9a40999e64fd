package inflight

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestTryAcquire(t *testing.T) {
	s := New()
	if !s.TryAcquire("a") {
		t.Fatal("first acquire should succeed")
	}
	if s.TryAcquire("a") {
		t.Error("second acquire should fail")
	}
	s.Release("a")
	if s.Busy("a") || !s.TryAcquire("a") {
		t.Error("released id should be acquirable")
	}
}

func TestReleaseMany(t *testing.T) {
	s := New()
	for _, id := range []string{"a", "b", "c"} {
		s.TryAcquire(id)
	}
	s.Release("a", "c", "missing")
	if s.Len() != 1 || !s.Busy("b") {
		t.Errorf("expected only b busy, got %d busy", s.Len())
	}
}

func TestConcurrentAcquire(t *testing.T) {
	s := New()
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.TryAcquire("node") {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Errorf("expected exactly one winner, got %d", wins.Load())
	}
}
