package transcript

import (
	"context"

	"github.com/zhouzirui/newsdesk/internal/model/chat"
)

// AnswerProvider turns a user query into an answer for the given session.
// Implementations must fail rather than block forever.
type AnswerProvider interface {
	Ask(ctx context.Context, text, sessionID string) (string, error)
}

// HistoryLoader returns the ordered prior messages of a session.
type HistoryLoader interface {
	LoadTranscript(ctx context.Context, sessionID string) ([]chat.Message, error)
}
