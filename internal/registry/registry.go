package registry

import (
	"sort"
	"sync"
)

// Sink is a session's outbound delivery channel. Enqueue must never block;
// it reports false when the frame could not be accepted.
type Sink interface {
	Enqueue(data []byte) bool
}

// Session binds one live connection to an authenticated identity and room.
// It is created only after the connection's login frame verifies; the Sink
// is owned by the connection's write pump.
type Session struct {
	Handle        string
	Identity      string
	Avatar        string
	RoomID        string
	Authenticated bool
	Sink          Sink

	seq uint64
}

// Registry is the single in-process source of truth for who is online
// where. All mutation happens under one mutex; entries are fully
// constructed before insertion so snapshot readers never observe a
// half-written session.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	nextSeq  uint64
}

func New() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
	}
}

// Put registers or replaces the session for a connection handle. Called
// exactly once per successful authentication.
func (r *Registry) Put(handle, identity, avatar, roomID string, sink Sink) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextSeq++
	s := &Session{
		Handle:        handle,
		Identity:      identity,
		Avatar:        avatar,
		RoomID:        roomID,
		Authenticated: true,
		Sink:          sink,
		seq:           r.nextSeq,
	}
	r.sessions[handle] = s
	return s
}

// Remove deletes the session for a handle. Idempotent.
func (r *Registry) Remove(handle string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[handle]
	if ok {
		delete(r.sessions, handle)
	}
	return s, ok
}

func (r *Registry) Get(handle string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[handle]
	return s, ok
}

// ListByRoom returns a consistent snapshot of the sessions registered to
// roomID, in registration order.
func (r *Registry) ListByRoom(roomID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Session
	for _, s := range r.sessions {
		if s.RoomID == roomID && s.Authenticated {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// IdentitiesByRoom returns the de-duplicated identities in roomID, in
// registration order. This is the presence snapshot; it is always derived
// from the live sessions, never cached.
func (r *Registry) IdentitiesByRoom(roomID string) []string {
	sessions := r.ListByRoom(roomID)

	seen := make(map[string]struct{}, len(sessions))
	users := make([]string, 0, len(sessions))
	for _, s := range sessions {
		if _, ok := seen[s.Identity]; ok {
			continue
		}
		seen[s.Identity] = struct{}{}
		users = append(users, s.Identity)
	}
	return users
}
