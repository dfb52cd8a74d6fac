package session

import (
	"sort"
	"sync"
)

// Registry is the set of live sessions. It is keyed by session, not by
// identity, so a reconnect that races the old connection's teardown never
// removes the new session.
type Registry struct {
	mu       sync.RWMutex
	sessions map[*Session]struct{}
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[*Session]struct{})}
}

func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s] = struct{}{}
}

// Remove is a no-op for a session that is not registered.
func (r *Registry) Remove(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, s)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Get returns the most recently connected session with the given identity.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var found *Session
	for s := range r.sessions {
		if s.id != id {
			continue
		}
		if found == nil || s.connectedAt.After(found.connectedAt) {
			found = s
		}
	}
	return found, found != nil
}

// Sessions returns a snapshot ordered by identity and connection time.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	list := make([]*Session, 0, len(r.sessions))
	for s := range r.sessions {
		list = append(list, s)
	}
	r.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		if list[i].id != list[j].id {
			return list[i].id < list[j].id
		}
		return list[i].connectedAt.Before(list[j].connectedAt)
	})
	return list
}

// CloseAll closes every registered session.
func (r *Registry) CloseAll() {
	for _, s := range r.Sessions() {
		s.Close()
	}
}
