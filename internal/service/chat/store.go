// Package chat persists answering-service sessions and their transcripts.
package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/newsdesk/internal/model/chat"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionRequired = errors.New("session id is required")
	ErrInvalidMessage  = errors.New("message author and content are required")
)

// Store keeps sessions and their ordered messages. Message IDs assigned by
// SaveMessage and SaveExchange increase strictly within a session.
type Store interface {
	CreateSession(ctx context.Context) (chat.Session, error)
	GetSession(ctx context.Context, sessionID string) (chat.Session, error)
	DeleteSession(ctx context.Context, sessionID string) error
	SaveMessage(ctx context.Context, message chat.Message) (chat.Message, error)
	// SaveExchange stores a question and its answer together: either both
	// land in the transcript or neither does.
	SaveExchange(ctx context.Context, user, agent chat.Message) ([]chat.Message, error)
	LoadTranscript(ctx context.Context, sessionID string) ([]chat.Message, error)
}

func newSessionID() string {
	return uuid.Must(uuid.NewV7()).String()
}

func validateExchange(user, agent chat.Message) error {
	if err := validateMessage(user); err != nil {
		return err
	}
	if err := validateMessage(agent); err != nil {
		return err
	}
	if user.SessionID != agent.SessionID {
		return ErrInvalidMessage
	}
	return nil
}

func withDefaults(message chat.Message, now time.Time) chat.Message {
	if message.CreatedAt.IsZero() {
		message.CreatedAt = now
	}
	if message.Status == "" {
		message.Status = chat.StatusSent
	}
	return message
}

func validateMessage(message chat.Message) error {
	if message.SessionID == "" {
		return ErrSessionRequired
	}
	if message.Author == "" || strings.TrimSpace(message.Content) == "" {
		return ErrInvalidMessage
	}
	return nil
}
