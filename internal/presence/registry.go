// Package presence tracks which authenticated users currently hold
// open connections. It is the source of truth for "who is online now".
package presence

import (
	"sort"
	"sync"

	"securechat/internal/protocol"
)

// Sink is the delivery end of a registered connection. Send must be
// safe for concurrent use; a failed send is the caller's signal that
// the connection is gone.
type Sink interface {
	ConnID() string
	Username() string
	Send(e protocol.Event) error
}

// Registry maps connection ids to authenticated usernames. All methods
// hold the mutex only for map manipulation; no I/O happens under lock,
// so a push may race a concurrent unregister. That race is tolerated:
// pushing to a just-closed connection fails silently downstream.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]Sink
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]Sink)}
}

// Register adds a connection, overwriting any prior entry with the
// same connection id. Multiple connections for one username coexist;
// they are not collapsed into a single logical presence.
func (r *Registry) Register(s Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[s.ConnID()] = s
}

// Unregister removes the connection. Unknown ids are a no-op.
func (r *Registry) Unregister(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, connID)
}

// Connections returns every open connection for the username.
func (r *Registry) Connections(username string) []Sink {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var res []Sink
	for _, s := range r.conns {
		if s.Username() == username {
			res = append(res, s)
		}
	}
	return res
}

// All returns every registered connection.
func (r *Registry) All() []Sink {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res := make([]Sink, 0, len(r.conns))
	for _, s := range r.conns {
		res = append(res, s)
	}
	return res
}

// Snapshot returns the distinct online usernames, sorted.
func (r *Registry) Snapshot() []string {
	r.mu.RLock()
	seen := make(map[string]struct{}, len(r.conns))
	for _, s := range r.conns {
		seen[s.Username()] = struct{}{}
	}
	r.mu.RUnlock()

	res := make([]string, 0, len(seen))
	for u := range seen {
		res = append(res, u)
	}
	sort.Strings(res)
	return res
}
