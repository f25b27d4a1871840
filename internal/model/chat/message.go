package chat

import "time"

// Author identifies who produced a transcript entry.
type Author string

const (
	AuthorUser  Author = "user"
	AuthorAgent Author = "agent"
)

// Status marks whether an entry is a regular turn or a substituted failure.
type Status string

const (
	StatusSent  Status = "sent"
	StatusError Status = "error"
)

// Message is one immutable transcript entry. IDs increase strictly within a session.
type Message struct {
	ID        uint64    `json:"id"`
	SessionID string    `json:"sessionId,omitempty"`
	Author    Author    `json:"author"`
	Content   string    `json:"content"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// IsUser reports whether the message was written by the user.
func (m Message) IsUser() bool {
	return m.Author == AuthorUser
}

// Failed reports whether the message stands in for a failed exchange.
func (m Message) Failed() bool {
	return m.Status == StatusError
}
