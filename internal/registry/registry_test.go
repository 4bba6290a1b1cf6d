package registry

import (
	"fmt"
	"sync"
	"testing"
)

type nopSink struct{}

func (nopSink) Enqueue([]byte) bool { return true }

func TestPutGetRemove(t *testing.T) {
	r := New()

	r.Put("h1", "alice", "a.png", "group1", nopSink{})

	s, ok := r.Get("h1")
	if !ok {
		t.Fatal("expected session for h1")
	}
	if s.Identity != "alice" || s.RoomID != "group1" || !s.Authenticated {
		t.Fatalf("unexpected session: %+v", s)
	}

	removed, ok := r.Remove("h1")
	if !ok || removed.Identity != "alice" {
		t.Fatalf("expected removed alice session, got %+v ok=%v", removed, ok)
	}

	if _, ok := r.Get("h1"); ok {
		t.Fatal("session should be gone after remove")
	}

	// Remove is idempotent.
	if _, ok := r.Remove("h1"); ok {
		t.Fatal("second remove should report absent")
	}
}

func TestPutReplacesExistingHandle(t *testing.T) {
	r := New()

	r.Put("h1", "alice", "", "group1", nopSink{})
	r.Put("h1", "alice", "new.png", "group2", nopSink{})

	s, ok := r.Get("h1")
	if !ok || s.Avatar != "new.png" || s.RoomID != "group2" {
		t.Fatalf("expected replaced entry, got %+v", s)
	}
	if got := len(r.ListByRoom("group1")); got != 0 {
		t.Fatalf("expected no sessions left in group1, got %d", got)
	}
}

func TestListByRoomIsolatesRooms(t *testing.T) {
	r := New()

	r.Put("h1", "alice", "", "group1", nopSink{})
	r.Put("h2", "bob", "", "group2", nopSink{})
	r.Put("h3", "carol", "", "group1", nopSink{})

	sessions := r.ListByRoom("group1")
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions in group1, got %d", len(sessions))
	}
	for _, s := range sessions {
		if s.RoomID != "group1" {
			t.Fatalf("session %s leaked from room %s", s.Identity, s.RoomID)
		}
	}
}

func TestListByRoomPreservesRegistrationOrder(t *testing.T) {
	r := New()

	for i := 0; i < 10; i++ {
		r.Put(fmt.Sprintf("h%d", i), fmt.Sprintf("user%d", i), "", "group1", nopSink{})
	}

	sessions := r.ListByRoom("group1")
	if len(sessions) != 10 {
		t.Fatalf("expected 10 sessions, got %d", len(sessions))
	}
	for i, s := range sessions {
		if want := fmt.Sprintf("user%d", i); s.Identity != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, s.Identity)
		}
	}
}

func TestIdentitiesByRoomDeduplicates(t *testing.T) {
	r := New()

	// alice connects twice (two tabs), then bob.
	r.Put("h1", "alice", "", "group1", nopSink{})
	r.Put("h2", "alice", "", "group1", nopSink{})
	r.Put("h3", "bob", "", "group1", nopSink{})

	users := r.IdentitiesByRoom("group1")
	if len(users) != 2 || users[0] != "alice" || users[1] != "bob" {
		t.Fatalf("expected [alice bob], got %v", users)
	}
}

// Presence must equal exactly the authenticated sessions that survive a
// churn of concurrent joins and leaves.
func TestConcurrentPutRemove(t *testing.T) {
	r := New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handle := fmt.Sprintf("h%d", i)
			r.Put(handle, fmt.Sprintf("user%d", i), "", "group1", nopSink{})
			if i%2 == 0 {
				r.Remove(handle)
			}
		}(i)
	}

	// Readers race the writers; they must never observe a torn entry.
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, s := range r.ListByRoom("group1") {
				if s.Identity == "" || !s.Authenticated {
					t.Error("observed half-written session")
					return
				}
			}
		}()
	}
	wg.Wait()

	if got := len(r.ListByRoom("group1")); got != 25 {
		t.Fatalf("expected 25 surviving sessions, got %d", got)
	}
}
