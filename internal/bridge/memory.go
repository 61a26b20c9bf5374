package bridge

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]string)}
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.data)
	return nil
}

// Sessions hands out a Store per browser session id.
type Sessions interface {
	// Session returns the store for id, creating it if needed. Each call
	// extends the session lifetime.
	Session(ctx context.Context, id string) (Store, error)
	// Delete drops the session and everything stored in it.
	Delete(ctx context.Context, id string) error
}

type memorySession struct {
	store   *MemoryStore
	expires time.Time
}

// MemorySessions keeps session stores in process. Expired sessions are
// dropped when next accessed and by Sweep.
type MemorySessions struct {
	mu       sync.Mutex
	ttl      time.Duration
	now      func() time.Time
	sessions map[string]*memorySession
}

// NewMemorySessions creates a registry whose sessions live for ttl after
// their last access.
func NewMemorySessions(ttl time.Duration) *MemorySessions {
	return &MemorySessions{
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]*memorySession),
	}
}

func (m *MemorySessions) Session(_ context.Context, id string) (Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	s, ok := m.sessions[id]
	if !ok || now.After(s.expires) {
		s = &memorySession{store: NewMemoryStore()}
		m.sessions[id] = s
	}
	s.expires = now.Add(m.ttl)
	return s.store, nil
}

func (m *MemorySessions) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

// Sweep removes expired sessions and returns how many were removed.
func (m *MemorySessions) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	n := 0
	for id, s := range m.sessions {
		if now.After(s.expires) {
			delete(m.sessions, id)
			n++
		}
	}
	return n
}

// Len returns the number of tracked sessions, expired ones included.
func (m *MemorySessions) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
