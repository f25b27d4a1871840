// Package answer runs a question through the model and records the exchange
// in the session history.
package answer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/zhouzirui/newsdesk/internal/model/chat"
	chatservice "github.com/zhouzirui/newsdesk/internal/service/chat"
)

// MaxMessageLength bounds a question, counted in characters after trimming.
const MaxMessageLength = 1000

// MaxContextArticles caps how many retrieved articles reach the prompt.
const MaxContextArticles = 3

var (
	ErrMessageRequired = errors.New("message is required")
	ErrMessageTooLong  = fmt.Errorf("message exceeds %d characters", MaxMessageLength)
	ErrUnavailable     = errors.New("answering is not configured")
	ErrEmptyResponse   = errors.New("model returned an empty response")
)

// Generator produces model replies. *ai.Service satisfies it.
type Generator interface {
	GenerateResponse(ctx context.Context, sessionID string, history []chat.Message, articles []chat.Article, query string) (*schema.Message, error)
	StreamResponse(ctx context.Context, history []chat.Message, articles []chat.Article, query string) (*schema.StreamReader[*schema.Message], error)
	StreamingEnabled() bool
}

// Retriever finds news articles related to a question, best match first.
type Retriever interface {
	Search(ctx context.Context, query string) ([]chat.Article, error)
}

// Service validates questions, grounds them in retrieved articles, consults
// the model with the session history and persists both turns once an answer
// exists.
type Service struct {
	store     chatservice.Store
	generator Generator
	retriever Retriever
	logger    *zap.Logger
}

// Option customises a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRetriever grounds answers in articles found by r.
func WithRetriever(r Retriever) Option {
	return func(s *Service) {
		s.retriever = r
	}
}

// New wires a Service. A nil generator leaves session endpoints working and
// makes every question fail with ErrUnavailable.
func New(store chatservice.Store, generator Generator, opts ...Option) *Service {
	s := &Service{
		store:     store,
		generator: generator,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Available reports whether a model is configured.
func (s *Service) Available() bool {
	return s.generator != nil
}

// CreateSession provisions an empty session.
func (s *Service) CreateSession(ctx context.Context) (chat.Session, error) {
	return s.store.CreateSession(ctx)
}

// GetSession looks a session up.
func (s *Service) GetSession(ctx context.Context, sessionID string) (chat.Session, error) {
	return s.store.GetSession(ctx, sessionID)
}

// ResetSession forgets a session and its history.
func (s *Service) ResetSession(ctx context.Context, sessionID string) error {
	return s.store.DeleteSession(ctx, sessionID)
}

// LoadTranscript returns the stored history of a session.
func (s *Service) LoadTranscript(ctx context.Context, sessionID string) ([]chat.Message, error) {
	return s.store.LoadTranscript(ctx, sessionID)
}

// Ask answers text within sessionID.
func (s *Service) Ask(ctx context.Context, text, sessionID string) (string, error) {
	return s.answer(ctx, text, sessionID, nil)
}

// Stream answers text within sessionID, reporting partial content to onDelta
// as it arrives when the generator streams.
func (s *Service) Stream(ctx context.Context, text, sessionID string, onDelta func(string)) (string, error) {
	return s.answer(ctx, text, sessionID, onDelta)
}

func (s *Service) answer(ctx context.Context, text, sessionID string, onDelta func(string)) (string, error) {
	query, err := ValidateMessage(text)
	if err != nil {
		return "", err
	}

	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return "", err
	}

	if s.generator == nil {
		return "", ErrUnavailable
	}

	history, err := s.store.LoadTranscript(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("failed to load history: %w", err)
	}

	articles := s.retrieve(ctx, sessionID, query)

	var reply string
	if onDelta != nil && s.generator.StreamingEnabled() {
		reply, err = s.stream(ctx, history, articles, query, onDelta)
	} else {
		reply, err = s.generate(ctx, sessionID, history, articles, query)
	}
	if err != nil {
		return "", err
	}

	if strings.TrimSpace(reply) == "" {
		return "", ErrEmptyResponse
	}

	if err := s.persist(ctx, sessionID, query, reply); err != nil {
		return "", err
	}
	return reply, nil
}

// retrieve returns at most MaxContextArticles articles. A failed search is
// logged and answered without context.
func (s *Service) retrieve(ctx context.Context, sessionID, query string) []chat.Article {
	if s.retriever == nil {
		return nil
	}

	articles, err := s.retriever.Search(ctx, query)
	if err != nil {
		s.logger.Warn("news retrieval failed, answering without context",
			zap.String("session", sessionID),
			zap.Error(err),
		)
		return nil
	}
	if len(articles) > MaxContextArticles {
		articles = articles[:MaxContextArticles]
	}
	return articles
}

func (s *Service) generate(ctx context.Context, sessionID string, history []chat.Message, articles []chat.Article, query string) (string, error) {
	response, err := s.generator.GenerateResponse(ctx, sessionID, history, articles, query)
	if err != nil {
		return "", err
	}
	if response == nil {
		return "", ErrEmptyResponse
	}
	return response.Content, nil
}

func (s *Service) stream(ctx context.Context, history []chat.Message, articles []chat.Article, query string, onDelta func(string)) (string, error) {
	stream, err := s.generator.StreamResponse(ctx, history, articles, query)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	chunks := make([]*schema.Message, 0, 8)
	for {
		chunk, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			return "", recvErr
		}
		if chunk == nil {
			continue
		}

		chunks = append(chunks, chunk)
		if chunk.Content != "" {
			onDelta(chunk.Content)
		}
	}

	if len(chunks) == 0 {
		return "", ErrEmptyResponse
	}
	response, err := schema.ConcatMessages(chunks)
	if err != nil {
		return "", err
	}
	return response.Content, nil
}

func (s *Service) persist(ctx context.Context, sessionID, query, reply string) error {
	user := chat.Message{SessionID: sessionID, Author: chat.AuthorUser, Content: query, Status: chat.StatusSent}
	agent := chat.Message{SessionID: sessionID, Author: chat.AuthorAgent, Content: reply, Status: chat.StatusSent}
	if _, err := s.store.SaveExchange(ctx, user, agent); err != nil {
		s.logger.Error("failed to save exchange",
			zap.String("session", sessionID),
			zap.Error(err),
		)
		return fmt.Errorf("failed to save exchange: %w", err)
	}
	return nil
}

// ValidateMessage trims text and enforces the length bounds.
func ValidateMessage(text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	switch n := utf8.RuneCountInString(trimmed); {
	case n == 0:
		return "", ErrMessageRequired
	case n > MaxMessageLength:
		return "", ErrMessageTooLong
	}
	return trimmed, nil
}
