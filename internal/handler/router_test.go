package handler

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/zhouzirui/newsdesk/internal/config"
	"github.com/zhouzirui/newsdesk/internal/service/answer"
	chatservice "github.com/zhouzirui/newsdesk/internal/service/chat"
)

func TestHealthz(t *testing.T) {
	r := NewRouter(answer.New(chatservice.NewMemoryStore(), nil), config.RateLimitConfig{}, nil)

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), `"ai":false`) {
		t.Fatalf("unexpected body %s", resp.Body.String())
	}
}

func TestSessionRoutesMounted(t *testing.T) {
	r := NewRouter(answer.New(chatservice.NewMemoryStore(), nil), config.RateLimitConfig{}, nil)

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/api/v1/session", nil))

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.Code)
	}
	if resp.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("expected CORS header")
	}
}

func TestChatRouteIsRateLimited(t *testing.T) {
	r := NewRouter(answer.New(chatservice.NewMemoryStore(), nil), config.RateLimitConfig{QPS: 0.01, Burst: 1}, nil)

	post := func() int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/", bytes.NewBufferString(`{"sessionId":"x","message":"hi"}`))
		req.RemoteAddr = "203.0.113.7:4000"
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, req)
		return resp.Code
	}

	if code := post(); code == http.StatusTooManyRequests {
		t.Fatal("first request should pass the limiter")
	}
	if code := post(); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", code)
	}
}
