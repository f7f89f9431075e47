// Package registry maps authenticated user ids to their live sessions,
// turning isolated connections into a router: any session can look up a
// peer and push a frame straight into its write path.
package registry

import (
	"sync"

	"github.com/fluxchat/fluxchat/internal/protocol"
)

// Peer is the slice of a session the registry needs: a way to push frames
// into its connection and to evict it when its user logs in elsewhere.
type Peer interface {
	Push(msg protocol.Message) error
	Evict(reason string)
}

// Registry is the process-wide map of online users. It is constructed
// once at bootstrap and injected into every session; there are no package
// globals. All methods are safe for concurrent use, including lookups
// made from another session's handling context.
type Registry struct {
	mu       sync.RWMutex
	sessions map[uint]Peer
}

func New() *Registry {
	return &Registry{sessions: make(map[uint]Peer)}
}

// Register installs the session for a user and returns the previously
// registered one, if any. The caller evicts the returned peer: a user has
// at most one live session and a second login displaces the first.
func (r *Registry) Register(userID uint, p Peer) Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.sessions[userID]
	r.sessions[userID] = p
	if prev == p {
		return nil
	}
	return prev
}

// Unregister removes the user's entry, but only if p still owns the slot.
// A session evicted by a newer login must not tear down its successor's
// registration. Reports whether the entry was removed.
func (r *Registry) Unregister(userID uint, p Peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[userID] != p {
		return false
	}
	delete(r.sessions, userID)
	return true
}

// Lookup returns the live session for a user, or nil if offline.
func (r *Registry) Lookup(userID uint) Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[userID]
}

// Count returns the number of online users.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
