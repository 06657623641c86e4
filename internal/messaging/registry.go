package messaging

import (
	"sort"
	"sync"
)

// Registry tracks which users currently hold at least one open connection
// anywhere in the process. It is independent of conversation groups.
//
// A single Registry is created at start-up and handed to every component
// that needs presence; it keeps both indexes under one mutex so no caller
// ever sees a connection that is known by id but not by username.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]map[string]struct{} // username -> connection ids
	byConn map[string]string              // connection id -> username
}

// NewRegistry returns an empty presence registry.
func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[string]map[string]struct{}),
		byConn: make(map[string]string),
	}
}

// AddConnection registers connectionID for username. It is idempotent per
// connection id and reports whether username went from absent to present.
func (r *Registry) AddConnection(username, connectionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if owner, ok := r.byConn[connectionID]; ok {
		if owner == username {
			return false
		}
		r.removeLocked(connectionID)
	}

	conns, online := r.byUser[username]
	if !online {
		conns = make(map[string]struct{})
		r.byUser[username] = conns
	}
	conns[connectionID] = struct{}{}
	r.byConn[connectionID] = username
	return !online
}

// RemoveConnection drops connectionID. It returns the owning username and
// whether that user has no connections left. Unknown ids return ("", false).
func (r *Registry) RemoveConnection(connectionID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(connectionID)
}

func (r *Registry) removeLocked(connectionID string) (string, bool) {
	username, ok := r.byConn[connectionID]
	if !ok {
		return "", false
	}
	delete(r.byConn, connectionID)

	conns := r.byUser[username]
	delete(conns, connectionID)
	if len(conns) == 0 {
		delete(r.byUser, username)
		return username, true
	}
	return username, false
}

// ConnectionsFor returns a copy of the live connection ids of username,
// empty when the user is offline.
func (r *Registry) ConnectionsFor(username string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.byUser[username]
	out := make([]string, 0, len(conns))
	for id := range conns {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// IsOnline reports whether username has any open connection.
func (r *Registry) IsOnline(username string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byUser[username]
	return ok
}

// OnlineUsers returns the sorted usernames that are currently present.
func (r *Registry) OnlineUsers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.byUser))
	for username := range r.byUser {
		out = append(out, username)
	}
	sort.Strings(out)
	return out
}

// Count returns the number of online users.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}
