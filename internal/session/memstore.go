package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Compile-time assertion: *MemoryStore satisfies Store.
var _ Store = (*MemoryStore)(nil)

// MemoryStore implements Store using Go maps. Thread-safe via sync.RWMutex.
// Sessions are copied on the way in and out.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[Key]*Session
	now      func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[Key]*Session),
		now:      time.Now,
	}
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error {
	return nil
}

func (m *MemoryStore) Get(_ context.Context, key Key) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[key]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", key, ErrNotFound)
	}
	return cloneJSON(sess), nil
}

func (m *MemoryStore) Create(_ context.Context, key Key, state map[string]any) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[key]; ok {
		return nil, fmt.Errorf("session %s: %w", key, ErrExists)
	}
	if state == nil {
		state = map[string]any{}
	}
	sess := &Session{
		Key:        key,
		State:      cloneJSON(state),
		LastUpdate: m.now().UTC(),
	}
	m.sessions[key] = sess
	return cloneJSON(sess), nil
}

func (m *MemoryStore) Append(_ context.Context, key Key, turns ...Content) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[key]
	if !ok {
		return fmt.Errorf("session %s: %w", key, ErrNotFound)
	}
	sess.History = append(sess.History, cloneJSON(turns)...)
	sess.LastUpdate = m.now().UTC()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[key]; !ok {
		return fmt.Errorf("session %s: %w", key, ErrNotFound)
	}
	delete(m.sessions, key)
	return nil
}

func (m *MemoryStore) List(_ context.Context, appName, userID string) ([]Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []Session{}
	for key, sess := range m.sessions {
		if key.AppName != appName || key.UserID != userID {
			continue
		}
		s := cloneJSON(*sess)
		s.History = nil
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key.SessionID < out[j].Key.SessionID
	})
	return out, nil
}
