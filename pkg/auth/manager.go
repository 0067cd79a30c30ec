package auth

import (
	"sync"

	"github.com/veiloq/broker-connector/pkg/interfaces"
)

// Manager caches the current token and decides validity. It is the only
// component allowed to mutate the token, and it does so by replacement:
// readers get either the current or the immediately-prior value, never a
// half-written one.
type Manager struct {
	mu     sync.RWMutex
	store  Store
	cached *Token
}

// NewManager creates a token manager backed by store. A nil store is
// replaced with an in-memory one.
func NewManager(store Store) *Manager {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Manager{store: store}
}

// Get returns the current non-expired token. With forceReload the cache
// is bypassed and the store is consulted directly. Returns
// interfaces.ErrTokenNotFound when neither cache nor store holds a
// usable token.
func (m *Manager) Get(forceReload bool) (*Token, error) {
	m.mu.RLock()
	cached := m.cached
	m.mu.RUnlock()

	if !forceReload && cached != nil && !cached.IsExpired() {
		return cached, nil
	}

	token, err := m.store.Load()
	if err != nil {
		return nil, err
	}
	if token == nil || token.AccessToken == "" || token.IsExpired() {
		return nil, interfaces.ErrTokenNotFound
	}

	m.mu.Lock()
	m.cached = token
	m.mu.Unlock()
	return token, nil
}

// Set replaces the cached token and persists it.
func (m *Manager) Set(token *Token) error {
	m.mu.Lock()
	m.cached = token
	m.mu.Unlock()
	return m.store.Save(token)
}

// Clear drops the cached token and deletes the persisted record.
func (m *Manager) Clear() error {
	m.mu.Lock()
	m.cached = nil
	m.mu.Unlock()
	return m.store.Delete()
}
