package relay

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func testSession(id string, lastActivity time.Time) *Session {
	return newSession(id, "user-1", newFakeConn(), 1, lastActivity)
}

func TestSessionRegistry_AddAndRemove(t *testing.T) {
	r := NewSessionRegistry()
	now := time.Now()

	if r.ActiveCount() != 0 {
		t.Errorf("ActiveCount() = %d, want 0", r.ActiveCount())
	}

	if !r.Add(testSession("a", now)) {
		t.Error("Add() should return true when not draining")
	}
	if !r.Add(testSession("b", now)) {
		t.Error("Add() should return true when not draining")
	}
	if r.ActiveCount() != 2 {
		t.Errorf("ActiveCount() = %d, want 2", r.ActiveCount())
	}

	if _, ok := r.Get("a"); !ok {
		t.Error("Get(a) should find the session")
	}

	if !r.Remove("a") {
		t.Error("first Remove() should report removal")
	}
	if r.Remove("a") {
		t.Error("second Remove() should be a no-op")
	}
	if r.ActiveCount() != 1 {
		t.Errorf("ActiveCount() = %d, want 1 after Remove()", r.ActiveCount())
	}
	if _, ok := r.Get("a"); ok {
		t.Error("Get(a) should not find a removed session")
	}
}

func TestSessionRegistry_RejectsDuplicateID(t *testing.T) {
	r := NewSessionRegistry()
	now := time.Now()

	if !r.Add(testSession("a", now)) {
		t.Fatal("Add() should succeed")
	}
	if r.Add(testSession("a", now)) {
		t.Error("Add() should reject a duplicate session ID")
	}
	if r.ActiveCount() != 1 {
		t.Errorf("ActiveCount() = %d, want 1", r.ActiveCount())
	}
	r.Done()
}

func TestSessionRegistry_Draining(t *testing.T) {
	r := NewSessionRegistry()
	now := time.Now()

	if r.IsDraining() {
		t.Error("IsDraining() should be false initially")
	}

	if !r.Add(testSession("a", now)) {
		t.Error("Add() should succeed before draining")
	}

	r.StartDraining()

	if !r.IsDraining() {
		t.Error("IsDraining() should be true after StartDraining()")
	}
	if r.Add(testSession("b", now)) {
		t.Error("Add() should return false when draining")
	}
	if r.ActiveCount() != 1 {
		t.Errorf("ActiveCount() = %d, want 1", r.ActiveCount())
	}
}

func TestSessionRegistry_WaitBlocksUntilDone(t *testing.T) {
	r := NewSessionRegistry()
	now := time.Now()

	r.Add(testSession("a", now))
	r.Add(testSession("b", now))

	done := make(chan struct{})
	go func() {
		r.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.Error("Wait() should block while sessions are active")
	default:
	}

	// Removal from the active set alone does not release Wait.
	r.Remove("a")
	r.Remove("b")
	r.Done()

	select {
	case <-done:
		t.Error("Wait() should block while sessions are active")
	default:
	}

	r.Done()
	<-done
}

func TestSessionRegistry_Idle(t *testing.T) {
	r := NewSessionRegistry()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	r.Add(testSession("stale", base))
	r.Add(testSession("edge", base.Add(30*time.Second)))
	r.Add(testSession("fresh", base.Add(50*time.Second)))

	idle := r.Idle(base.Add(30 * time.Second))
	if len(idle) != 1 || idle[0].ID != "stale" {
		ids := make([]string, 0, len(idle))
		for _, s := range idle {
			ids = append(ids, s.ID)
		}
		t.Errorf("Idle() = %v, want [stale]", ids)
	}
}

func TestSessionRegistry_ConcurrentAddAndRemove(t *testing.T) {
	r := NewSessionRegistry()
	const n = 100
	now := time.Now()

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("s-%d", i)
			if r.Add(testSession(id, now)) {
				r.Remove(id)
				r.Done()
			}
		}(i)
	}
	wg.Wait()

	if r.ActiveCount() != 0 {
		t.Errorf("ActiveCount() = %d, want 0", r.ActiveCount())
	}
	r.Wait()
}
