package chat

import (
	"context"
	"sync"
	"time"

	"github.com/zhouzirui/newsdesk/internal/model/chat"
)

// MemoryStore keeps sessions in process memory, suitable for local runs and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]chat.Session
	messages map[string][]chat.Message
}

// NewMemoryStore bootstraps an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]chat.Session),
		messages: make(map[string][]chat.Message),
	}
}

// CreateSession provisions an anonymous session.
func (s *MemoryStore) CreateSession(_ context.Context) (chat.Session, error) {
	session := chat.Session{
		ID:        newSessionID(),
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.messages[session.ID] = make([]chat.Message, 0, 16)
	s.mu.Unlock()

	return session, nil
}

// GetSession retrieves a session by identifier.
func (s *MemoryStore) GetSession(_ context.Context, sessionID string) (chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	return session, nil
}

// DeleteSession drops a session together with its transcript.
func (s *MemoryStore) DeleteSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, sessionID)
	delete(s.messages, sessionID)
	return nil
}

// SaveMessage appends a message to the session history and returns it with its ID.
func (s *MemoryStore) SaveMessage(_ context.Context, message chat.Message) (chat.Message, error) {
	if err := validateMessage(message); err != nil {
		return chat.Message{}, err
	}

	saved, err := s.append(message)
	if err != nil {
		return chat.Message{}, err
	}
	return saved[0], nil
}

// SaveExchange appends both turns under a single lock.
func (s *MemoryStore) SaveExchange(_ context.Context, user, agent chat.Message) ([]chat.Message, error) {
	if err := validateExchange(user, agent); err != nil {
		return nil, err
	}
	return s.append(user, agent)
}

func (s *MemoryStore) append(messages ...chat.Message) ([]chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessionID := messages[0].SessionID
	if _, ok := s.sessions[sessionID]; !ok {
		return nil, ErrSessionNotFound
	}

	history := s.messages[sessionID]
	now := time.Now().UTC()
	saved := make([]chat.Message, 0, len(messages))
	for _, message := range messages {
		message = withDefaults(message, now)
		message.ID = uint64(len(history)) + 1
		history = append(history, message)
		saved = append(saved, message)
	}
	s.messages[sessionID] = history
	return saved, nil
}

// LoadTranscript returns stored messages for the provided session.
func (s *MemoryStore) LoadTranscript(_ context.Context, sessionID string) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	messages, ok := s.messages[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}

	copied := make([]chat.Message, len(messages))
	copy(copied, messages)
	return copied, nil
}
