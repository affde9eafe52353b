package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

var (
	// ErrNotFound is returned when no session exists for a key.
	ErrNotFound = errors.New("session: not found")

	// ErrExists is returned by Create when the key is already taken.
	ErrExists = errors.New("session: already exists")
)

// Key identifies a session. All three fields together are unique.
type Key struct {
	AppName   string `json:"appName"`
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
}

func (k Key) String() string {
	return k.AppName + "/" + k.UserID + "/" + k.SessionID
}

// Session is the persisted conversational state for one Key.
type Session struct {
	Key        Key            `json:"key"`
	State      map[string]any `json:"state"`
	History    []Content      `json:"history,omitempty"`
	LastUpdate time.Time      `json:"lastUpdate"`
}

// Store persists sessions. Implementations: MemoryStore, KuzuStore (cgo).
type Store interface {
	io.Closer

	// Get returns the session for key, or an error wrapping ErrNotFound.
	Get(ctx context.Context, key Key) (*Session, error)

	// Create atomically creates an empty-history session. If key already
	// exists the stored session is left untouched and the error wraps
	// ErrExists.
	Create(ctx context.Context, key Key, state map[string]any) (*Session, error)

	// Append adds turns to the session history.
	Append(ctx context.Context, key Key, turns ...Content) error

	// Delete removes a session and its history.
	Delete(ctx context.Context, key Key) error

	// List returns the sessions of one user of one app, without history,
	// ordered by session id.
	List(ctx context.Context, appName, userID string) ([]Session, error)
}

// GetOrCreate returns the session for key, creating it with empty state
// when absent. A concurrent creator winning the race is not an error; the
// winner's session is returned.
func GetOrCreate(ctx context.Context, store Store, key Key) (*Session, error) {
	sess, err := store.Get(ctx, key)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	sess, err = store.Create(ctx, key, map[string]any{})
	if errors.Is(err, ErrExists) {
		return store.Get(ctx, key)
	}
	return sess, err
}

// cloneJSON deep-copies v through its JSON form.
func cloneJSON[T any](v T) T {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("session: clone: %v", err))
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("session: clone: %v", err))
	}
	return out
}
