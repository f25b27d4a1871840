package answer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/zhouzirui/newsdesk/internal/model/chat"
	chatservice "github.com/zhouzirui/newsdesk/internal/service/chat"
)

type fakeGenerator struct {
	reply     string
	chunks    []string
	err       error
	streaming bool
	histories [][]chat.Message
	articles  [][]chat.Article
}

func (g *fakeGenerator) GenerateResponse(_ context.Context, _ string, history []chat.Message, articles []chat.Article, _ string) (*schema.Message, error) {
	g.histories = append(g.histories, history)
	g.articles = append(g.articles, articles)
	if g.err != nil {
		return nil, g.err
	}
	return schema.AssistantMessage(g.reply, nil), nil
}

func (g *fakeGenerator) StreamResponse(_ context.Context, history []chat.Message, articles []chat.Article, _ string) (*schema.StreamReader[*schema.Message], error) {
	g.histories = append(g.histories, history)
	g.articles = append(g.articles, articles)
	if g.err != nil {
		return nil, g.err
	}
	msgs := make([]*schema.Message, 0, len(g.chunks))
	for _, c := range g.chunks {
		msgs = append(msgs, schema.AssistantMessage(c, nil))
	}
	return schema.StreamReaderFromArray(msgs), nil
}

func (g *fakeGenerator) StreamingEnabled() bool { return g.streaming }

type fakeRetriever struct {
	articles []chat.Article
	err      error
	queries  []string
}

func (r *fakeRetriever) Search(_ context.Context, query string) ([]chat.Article, error) {
	r.queries = append(r.queries, query)
	return r.articles, r.err
}

// splitStore refuses agent messages written one at a time, so only an
// exchange saved as a unit can reach the transcript.
type splitStore struct {
	*chatservice.MemoryStore
	exchangeErr error
}

func (s *splitStore) SaveMessage(ctx context.Context, message chat.Message) (chat.Message, error) {
	if message.Author == chat.AuthorAgent {
		return chat.Message{}, errors.New("agent write refused")
	}
	return s.MemoryStore.SaveMessage(ctx, message)
}

func (s *splitStore) SaveExchange(ctx context.Context, user, agent chat.Message) ([]chat.Message, error) {
	if s.exchangeErr != nil {
		return nil, s.exchangeErr
	}
	return s.MemoryStore.SaveExchange(ctx, user, agent)
}

func newSession(t *testing.T, svc *Service) string {
	t.Helper()
	session, err := svc.CreateSession(context.Background())
	require.NoError(t, err)
	return session.ID
}

func TestAskPersistsBothTurns(t *testing.T) {
	gen := &fakeGenerator{reply: "Oil prices fell 2%."}
	svc := New(chatservice.NewMemoryStore(), gen)
	ctx := context.Background()
	id := newSession(t, svc)

	reply, err := svc.Ask(ctx, "  What happened to oil?  ", id)
	require.NoError(t, err)
	assert.Equal(t, "Oil prices fell 2%.", reply)

	history, err := svc.LoadTranscript(ctx, id)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, chat.AuthorUser, history[0].Author)
	assert.Equal(t, "What happened to oil?", history[0].Content)
	assert.Equal(t, chat.AuthorAgent, history[1].Author)
	assert.Equal(t, uint64(2), history[1].ID)
}

func TestAskPassesPriorHistory(t *testing.T) {
	gen := &fakeGenerator{reply: "ok"}
	svc := New(chatservice.NewMemoryStore(), gen)
	ctx := context.Background()
	id := newSession(t, svc)

	_, err := svc.Ask(ctx, "first", id)
	require.NoError(t, err)
	_, err = svc.Ask(ctx, "second", id)
	require.NoError(t, err)

	require.Len(t, gen.histories, 2)
	assert.Empty(t, gen.histories[0])
	assert.Len(t, gen.histories[1], 2)
}

func TestAskFailureLeavesHistoryUntouched(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("upstream timeout")}
	svc := New(chatservice.NewMemoryStore(), gen)
	ctx := context.Background()
	id := newSession(t, svc)

	_, err := svc.Ask(ctx, "hello", id)
	require.Error(t, err)

	history, err := svc.LoadTranscript(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestAskSavesExchangeAsUnit(t *testing.T) {
	store := &splitStore{MemoryStore: chatservice.NewMemoryStore()}
	svc := New(store, &fakeGenerator{reply: "Oil fell."})
	ctx := context.Background()
	id := newSession(t, svc)

	_, err := svc.Ask(ctx, "oil?", id)
	require.NoError(t, err)

	history, err := svc.LoadTranscript(ctx, id)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "Oil fell.", history[1].Content)
}

func TestAskFailedSaveLeavesNoOrphanQuestion(t *testing.T) {
	boom := errors.New("connection reset")
	store := &splitStore{MemoryStore: chatservice.NewMemoryStore(), exchangeErr: boom}
	svc := New(store, &fakeGenerator{reply: "Oil fell."})
	ctx := context.Background()
	id := newSession(t, svc)

	_, err := svc.Ask(ctx, "oil?", id)
	require.ErrorIs(t, err, boom)

	history, err := svc.LoadTranscript(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestAskGroundsAnswerInTopArticles(t *testing.T) {
	articles := make([]chat.Article, 5)
	for i := range articles {
		articles[i] = chat.Article{Title: strings.Repeat("a", i+1), URL: "https://news.example/a"}
	}
	retriever := &fakeRetriever{articles: articles}
	gen := &fakeGenerator{reply: "grounded"}
	svc := New(chatservice.NewMemoryStore(), gen, WithRetriever(retriever))
	id := newSession(t, svc)

	_, err := svc.Ask(context.Background(), "  latest on rates?  ", id)
	require.NoError(t, err)

	assert.Equal(t, []string{"latest on rates?"}, retriever.queries)
	require.Len(t, gen.articles, 1)
	assert.Equal(t, articles[:MaxContextArticles], gen.articles[0])
}

func TestStreamGroundsAnswerInArticles(t *testing.T) {
	retriever := &fakeRetriever{articles: []chat.Article{{Title: "Rates hold"}}}
	gen := &fakeGenerator{chunks: []string{"held"}, streaming: true}
	svc := New(chatservice.NewMemoryStore(), gen, WithRetriever(retriever))
	id := newSession(t, svc)

	_, err := svc.Stream(context.Background(), "rates?", id, func(string) {})
	require.NoError(t, err)

	require.Len(t, gen.articles, 1)
	assert.Equal(t, retriever.articles, gen.articles[0])
}

func TestAskRetrievalFailureAnswersWithoutContext(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	retriever := &fakeRetriever{err: errors.New("news service down")}
	gen := &fakeGenerator{reply: "from memory"}
	svc := New(chatservice.NewMemoryStore(), gen, WithRetriever(retriever), WithLogger(zap.New(core)))
	id := newSession(t, svc)

	reply, err := svc.Ask(context.Background(), "anything new?", id)
	require.NoError(t, err)
	assert.Equal(t, "from memory", reply)

	require.Len(t, gen.articles, 1)
	assert.Empty(t, gen.articles[0])
	entries := logs.FilterMessage("news retrieval failed, answering without context").All()
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].ContextMap()["session"])
}

func TestAskErrors(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		gen     Generator
		text    string
		session func(*Service) string
		want    error
	}{
		{"blank", &fakeGenerator{reply: "x"}, "   ", nil, ErrMessageRequired},
		{"too long", &fakeGenerator{reply: "x"}, strings.Repeat("é", MaxMessageLength+1), nil, ErrMessageTooLong},
		{"unknown session", &fakeGenerator{reply: "x"}, "hi", func(*Service) string { return "missing" }, chatservice.ErrSessionNotFound},
		{"no generator", nil, "hi", nil, ErrUnavailable},
		{"empty reply", &fakeGenerator{reply: "  "}, "hi", nil, ErrEmptyResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := New(chatservice.NewMemoryStore(), tt.gen)
			id := newSession(t, svc)
			if tt.session != nil {
				id = tt.session(svc)
			}

			_, err := svc.Ask(ctx, tt.text, id)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestAskAcceptsMaxLength(t *testing.T) {
	svc := New(chatservice.NewMemoryStore(), &fakeGenerator{reply: "ok"})
	id := newSession(t, svc)

	_, err := svc.Ask(context.Background(), strings.Repeat("é", MaxMessageLength), id)
	assert.NoError(t, err)
}

func TestStreamReportsDeltas(t *testing.T) {
	gen := &fakeGenerator{chunks: []string{"Stocks ", "", "rallied."}, streaming: true}
	svc := New(chatservice.NewMemoryStore(), gen)
	ctx := context.Background()
	id := newSession(t, svc)

	var deltas []string
	reply, err := svc.Stream(ctx, "markets?", id, func(d string) { deltas = append(deltas, d) })
	require.NoError(t, err)
	assert.Equal(t, "Stocks rallied.", reply)
	assert.Equal(t, []string{"Stocks ", "rallied."}, deltas)

	history, err := svc.LoadTranscript(ctx, id)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "Stocks rallied.", history[1].Content)
}

func TestStreamFallsBackToGenerate(t *testing.T) {
	gen := &fakeGenerator{reply: "whole answer", streaming: false}
	svc := New(chatservice.NewMemoryStore(), gen)
	id := newSession(t, svc)

	var deltas []string
	reply, err := svc.Stream(context.Background(), "q", id, func(d string) { deltas = append(deltas, d) })
	require.NoError(t, err)
	assert.Equal(t, "whole answer", reply)
	assert.Empty(t, deltas)
}

func TestStreamWithNoChunksIsEmpty(t *testing.T) {
	gen := &fakeGenerator{streaming: true}
	svc := New(chatservice.NewMemoryStore(), gen)
	id := newSession(t, svc)

	_, err := svc.Stream(context.Background(), "q", id, func(string) {})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}
