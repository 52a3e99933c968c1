// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows supervisor, command and API tests to run without a database

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
// SetFailure makes every subsequent call return the given error.
type MockStore struct {
	mu       sync.RWMutex
	bots     map[string]*Bot
	failWith error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		bots: make(map[string]*Bot),
	}
}

// UpsertBot creates or re-enables a bot.
func (m *MockStore) UpsertBot(ctx context.Context, name, token string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}

	if b, ok := m.bots[name]; ok {
		b.Token = token
		b.Enabled = true
		b.DisabledOn = nil
		b.LogonError = ""
		return nil
	}
	m.bots[name] = &Bot{
		Name:      name,
		Token:     token,
		Enabled:   true,
		CreatedOn: at,
	}
	return nil
}

// GetBot returns a copy of the bot.
func (m *MockStore) GetBot(ctx context.Context, name string) (*Bot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.failWith != nil {
		return nil, m.failWith
	}

	b, ok := m.bots[name]
	if !ok {
		return nil, ErrNotFound
	}
	c := *b
	return &c, nil
}

// ListBots returns copies of all bots ordered by name.
func (m *MockStore) ListBots(ctx context.Context) ([]*Bot, error) {
	return m.list(false)
}

// ListEnabledBots returns copies of the enabled bots ordered by name.
func (m *MockStore) ListEnabledBots(ctx context.Context) ([]*Bot, error) {
	return m.list(true)
}

func (m *MockStore) list(enabledOnly bool) ([]*Bot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.failWith != nil {
		return nil, m.failWith
	}

	var out []*Bot
	for _, b := range m.bots {
		if enabledOnly && !b.Enabled {
			continue
		}
		c := *b
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// MarkConnected records a successful logon.
func (m *MockStore) MarkConnected(ctx context.Context, name string, at time.Time) error {
	return m.mutate(name, func(b *Bot) {
		b.LastConnectedOn = &at
		b.LogonError = ""
		b.Enabled = true
		b.DisabledOn = nil
	})
}

// MarkFailed records a failure and disables the bot.
func (m *MockStore) MarkFailed(ctx context.Context, name, reason string, at time.Time) error {
	return m.mutate(name, func(b *Bot) {
		b.Enabled = false
		b.LogonError = reason
		b.DisabledOn = &at
	})
}

// Disable clears the enabled flag.
func (m *MockStore) Disable(ctx context.Context, name string, at time.Time) error {
	return m.mutate(name, func(b *Bot) {
		b.Enabled = false
		b.DisabledOn = &at
	})
}

// SetInitPresenceURL stores the init callback URL.
func (m *MockStore) SetInitPresenceURL(ctx context.Context, name, url string) error {
	return m.mutate(name, func(b *Bot) {
		b.InitPresenceURL = url
	})
}

func (m *MockStore) mutate(name string, fn func(*Bot)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}

	b, ok := m.bots[name]
	if !ok {
		return ErrNotFound
	}
	fn(b)
	return nil
}

// SetFailure injects an error returned by every call until cleared with nil.
func (m *MockStore) SetFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}

// Ensure MockStore implements Store
var _ Store = (*MockStore)(nil)
