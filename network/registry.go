package network

import (
	"sync"
	"time"

	"github.com/linemq/lmq/pkg/logger"
)

type registryEntry struct {
	conn *Connection
	done <-chan struct{}
}

// Registry tracks live client connections. It gates new connections
// against a maximum and joins handler goroutines on shutdown.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registryEntry
	max     int
}

// NewRegistry creates a Registry. max <= 0 means unlimited.
func NewRegistry(max int) *Registry {
	return &Registry{
		entries: make(map[string]registryEntry),
		max:     max,
	}
}

// Add registers a connection and the done channel of its handler. Returns
// ErrConnectionLimit when the registry is full.
func (r *Registry) Add(conn *Connection, done <-chan struct{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.max > 0 && len(r.entries) >= r.max {
		return ErrConnectionLimit
	}

	r.entries[conn.ID()] = registryEntry{conn: conn, done: done}
	return nil
}

func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[id]; !ok {
		return ErrConnectionNotFound
	}

	delete(r.entries, id)
	return nil
}

func (r *Registry) Get(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[id]
	return entry.conn, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Join waits for every registered handler to exit, at most timeout per
// handler. Handlers that overrun are abandoned with a warning; the
// process is exiting anyway.
func (r *Registry) Join(timeout time.Duration, log *logger.Logger) {
	r.mu.RLock()
	entries := make(map[string]registryEntry, len(r.entries))
	for id, entry := range r.entries {
		entries[id] = entry
	}
	r.mu.RUnlock()

	for id, entry := range entries {
		select {
		case <-entry.done:
		case <-time.After(timeout):
			log.Warn("handler did not exit in time, abandoning", "conn_id", id)
		}
	}
}
