package session

import (
	"sort"
	"sync"
)

// Registry maintains the remote id → session table. It holds at most one
// session per remote id.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*RemoteSession
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*RemoteSession),
	}
}

// Get looks up the session for a remote id.
func (r *Registry) Get(id string) (*RemoteSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Upsert stores s and returns the session it displaced, if any. The caller
// owns closing the displaced session.
func (r *Registry) Upsert(s *RemoteSession) (*RemoteSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	old, existed := r.sessions[s.ID()]
	r.sessions[s.ID()] = s
	return old, existed
}

// Remove deletes the entry for id only if it still points at s. A stale
// caller holding an older session cannot evict its replacement.
func (r *Registry) Remove(s *RemoteSession) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.sessions[s.ID()]
	if !ok || cur != s {
		return false
	}
	delete(r.sessions, s.ID())
	return true
}

// Len returns the number of sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// ForEach calls fn for every session in id order. fn must not mutate the
// registry.
func (r *Registry) ForEach(fn func(*RemoteSession)) {
	for _, s := range r.list() {
		fn(s)
	}
}

// Drain removes and returns every session.
func (r *Registry) Drain() []*RemoteSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*RemoteSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.sessions = make(map[string]*RemoteSession)
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Snapshot returns a copy of every session, sorted by id.
func (r *Registry) Snapshot() []Info {
	list := r.list()
	out := make([]Info, 0, len(list))
	for _, s := range list {
		out = append(out, s.Info())
	}
	return out
}

func (r *Registry) list() []*RemoteSession {
	r.mu.RLock()
	out := make([]*RemoteSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}
