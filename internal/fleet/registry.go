// ABOUTME: In-memory registry of bot sessions that are live in this process
// ABOUTME: Single source of truth for "connected"; all operations are atomic under an RWMutex

package fleet

import (
	"log/slog"
	"sort"
	"sync"
)

// Entry is one active connection.
type Entry struct {
	Name    string
	Session Session
	Token   string
}

// Registry maps bot names to live sessions.
type Registry struct {
	entries map[string]*Entry
	mu      sync.RWMutex
	logger  *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		entries: make(map[string]*Entry),
		logger:  logger,
	}
}

// Has reports whether name has a live session.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// Get returns the session registered under name.
func (r *Registry) Get(name string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.Session, true
}

// Put registers a session. Returns false, leaving the registry unchanged,
// when name is already present.
func (r *Registry) Put(name string, s Session, token string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[name]; exists {
		return false
	}
	r.entries[name] = &Entry{Name: name, Session: s, Token: token}
	r.logger.Info("=== BOT CONNECTED ===",
		"name", name,
		"tag", s.Tag(),
		"total_bots", len(r.entries),
	)
	return true
}

// Remove deletes name and returns the session it held.
func (r *Registry) Remove(name string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(name)
}

// RemoveIf deletes name only while it still maps to s.
func (r *Registry) RemoveIf(name string, s Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[name]
	if !ok || e.Session != s {
		return false
	}
	r.removeLocked(name)
	return true
}

func (r *Registry) removeLocked(name string) (Session, bool) {
	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	delete(r.entries, name)
	r.logger.Info("=== BOT DISCONNECTED ===",
		"name", name,
		"total_bots", len(r.entries),
	)
	return e.Session, true
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshot returns copies of all entries ordered by name.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
