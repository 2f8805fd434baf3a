package app

import (
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// ErrSessionNotFound is returned for ids that were never issued or have been removed.
var ErrSessionNotFound = errors.New("session not found")

// SessionTable maps session ids issued by the remote endpoint to the state
// kept for each of them, in a concurrent-safe manner.
type SessionTable[T io.Closer] struct {
	mu       sync.Mutex
	sessions map[string]T
}

// NewSessionTable creates an empty table.
func NewSessionTable[T io.Closer]() *SessionTable[T] {
	return &SessionTable[T]{sessions: make(map[string]T)}
}

// Create stores v under a fresh random id and returns the id.
func (t *SessionTable[T]) Create(v T) string {
	id := uuid.NewString()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions[id] = v
	return id
}

// Get returns the state stored under id.
func (t *SessionTable[T]) Get(id string) (T, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.sessions[id]
	if !ok {
		var zero T
		return zero, ErrSessionNotFound
	}
	return v, nil
}

// Close removes the session and closes its state. Closing an unknown id
// returns ErrSessionNotFound.
func (t *SessionTable[T]) Close(id string) error {
	t.mu.Lock()
	v, ok := t.sessions[id]
	delete(t.sessions, id)
	t.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	return v.Close()
}

// Len returns the number of live sessions.
func (t *SessionTable[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// CloseAll closes and removes every session.
func (t *SessionTable[T]) CloseAll() {
	t.mu.Lock()
	sessions := t.sessions
	t.sessions = make(map[string]T)
	t.mu.Unlock()

	for id, v := range sessions {
		if err := v.Close(); err != nil {
			slog.Warn("Failed to close session", "session_id", id, "error", err)
		}
	}
}
