package stream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/newsdesk/internal/model/chat"
	"github.com/zhouzirui/newsdesk/internal/service/answer"
	chatservice "github.com/zhouzirui/newsdesk/internal/service/chat"
)

type chunkGenerator struct {
	chunks []string
	err    error
}

func (g chunkGenerator) GenerateResponse(context.Context, string, []chat.Message, []chat.Article, string) (*schema.Message, error) {
	return nil, errors.New("unused")
}

func (g chunkGenerator) StreamResponse(context.Context, []chat.Message, []chat.Article, string) (*schema.StreamReader[*schema.Message], error) {
	if g.err != nil {
		return nil, g.err
	}
	msgs := make([]*schema.Message, 0, len(g.chunks))
	for _, c := range g.chunks {
		msgs = append(msgs, schema.AssistantMessage(c, nil))
	}
	return schema.StreamReaderFromArray(msgs), nil
}

func (g chunkGenerator) StreamingEnabled() bool { return true }

func setup(t *testing.T, gen answer.Generator) (http.Handler, string) {
	t.Helper()
	svc := answer.New(chatservice.NewMemoryStore(), gen)
	session, err := svc.CreateSession(context.Background())
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}

	r := chi.NewRouter()
	New(svc, nil).RegisterRoutes(r)
	return r, session.ID
}

func get(h http.Handler, sessionID, message string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/stream/"+sessionID+"?message="+url.QueryEscape(message), nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func eventNames(body string) []string {
	var names []string
	for _, line := range strings.Split(body, "\n") {
		if name, ok := strings.CutPrefix(line, "event: "); ok {
			names = append(names, name)
		}
	}
	return names
}

func TestStreamEmitsDeltasThenMessage(t *testing.T) {
	h, id := setup(t, chunkGenerator{chunks: []string{"Hello ", "world"}})

	rec := get(h, id, "greet me")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	got := strings.Join(eventNames(rec.Body.String()), ",")
	if got != "start,delta,delta,message,end" {
		t.Fatalf("unexpected events %s", got)
	}
	if !strings.Contains(rec.Body.String(), `"content":"Hello world"`) {
		t.Fatalf("final message missing: %s", rec.Body.String())
	}
}

func TestStreamReportsFailureAsEvent(t *testing.T) {
	h, id := setup(t, chunkGenerator{err: errors.New("model down")})

	rec := get(h, id, "hi")
	got := strings.Join(eventNames(rec.Body.String()), ",")
	if got != "start,error" {
		t.Fatalf("unexpected events %s", got)
	}
	if strings.Contains(rec.Body.String(), "model down") {
		t.Fatal("internal error leaked to client")
	}
}

func TestStreamUnknownSession(t *testing.T) {
	h, _ := setup(t, chunkGenerator{chunks: []string{"x"}})

	rec := get(h, "missing", "hi")
	if !strings.Contains(rec.Body.String(), "session not found") {
		t.Fatalf("expected session error, got %s", rec.Body.String())
	}
}

func TestStreamRejectsBadRequests(t *testing.T) {
	h, id := setup(t, chunkGenerator{})
	if rec := get(h, id, "   "); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	h, id = setup(t, nil)
	if rec := get(h, id, "hi"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
