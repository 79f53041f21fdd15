// Package targets remembers which backend connection each caller session
// is currently addressing.
package targets

import (
	"sync"
)

const (
	// DefaultSessionKey is shared by every caller when no tenant or caller id exists.
	DefaultSessionKey = "default"
)

// SessionKey partitions active-target state. A caller id wins over a tenant;
// caller ids are always scoped by tenant so they never collide across tenants.
func SessionKey(tenantID, callerID string) string {
	switch {
	case callerID != "":
		return "caller:" + tenantID + ":" + callerID
	case tenantID != "":
		return "tenant:" + tenantID
	default:
		return DefaultSessionKey
	}
}

// Store maps session keys to connection ids. Entries never expire; they are
// replaced by selection, removed by Clear, or dropped when the connection goes away.
type Store struct {
	mu     sync.Mutex
	active map[string]string
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{active: make(map[string]string)}
}

// Get returns the active connection for sessionKey.
func (s *Store) Get(sessionKey string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	connID, ok := s.active[sessionKey]
	return connID, ok
}

// Set records connID as the active target for sessionKey.
func (s *Store) Set(sessionKey, connID string) {
	s.mu.Lock()
	s.active[sessionKey] = connID
	s.mu.Unlock()
}

// SetIfLive records connID for sessionKey only while live(connID) holds.
// The check runs under the store lock, so it cannot interleave with Detach.
func (s *Store) SetIfLive(sessionKey, connID string, live func(connID string) bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !live(connID) {
		return false
	}
	s.active[sessionKey] = connID
	return true
}

// Detach runs unregister and drops every selection pointing at connID as one
// step with respect to SetIfLive. It returns how many selections were dropped.
func (s *Store) Detach(connID string, unregister func(connID string) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	unregister(connID)
	return s.forget(connID)
}

// Clear forgets the selection for sessionKey.
func (s *Store) Clear(sessionKey string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[sessionKey]
	delete(s.active, sessionKey)
	return ok
}

// ForgetConnection drops every selection pointing at connID and returns how many.
func (s *Store) ForgetConnection(connID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.forget(connID)
}

// must be called with lock held
func (s *Store) forget(connID string) int {
	n := 0
	for key, id := range s.active {
		if id == connID {
			delete(s.active, key)
			n++
		}
	}
	return n
}

// Len returns the number of recorded selections.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}
