package agent

import (
	"context"
	"sync"

	"github.com/avidal-labs/docintel/llm"
)

// SessionStore is the per-conversation memory: an append-only, ordered
// message history keyed by session id. Implementations must allow at
// most one concurrent mutator per session id.
type SessionStore interface {
	History(ctx context.Context, sessionID string) ([]llm.Message, error)
	Append(ctx context.Context, sessionID string, messages ...llm.Message) error
	Clear(ctx context.Context, sessionID string) error
}

// MemorySessionStore keeps histories in process memory.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string][]llm.Message
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string][]llm.Message)}
}

var _ SessionStore = (*MemorySessionStore)(nil)

func (s *MemorySessionStore) History(_ context.Context, sessionID string) ([]llm.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.sessions[sessionID]
	out := make([]llm.Message, len(history))
	copy(out, history)
	return out, nil
}

func (s *MemorySessionStore) Append(_ context.Context, sessionID string, messages ...llm.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = append(s.sessions[sessionID], messages...)
	return nil
}

func (s *MemorySessionStore) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}
