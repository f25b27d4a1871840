package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/newsdesk/internal/config"
	chatmodel "github.com/zhouzirui/newsdesk/internal/model/chat"
	"github.com/zhouzirui/newsdesk/internal/service/chat"
)

func TestOpenStoreMemory(t *testing.T) {
	store, closeStore, err := openStore(context.Background(), config.HistoryConfig{Backend: config.HistoryMemory}, zap.NewNop())
	if err != nil {
		t.Fatalf("openStore err: %v", err)
	}
	defer closeStore()

	if _, ok := store.(*chat.MemoryStore); !ok {
		t.Fatalf("expected memory store, got %T", store)
	}
}

func TestOpenStoreUnknownBackend(t *testing.T) {
	if _, _, err := openStore(context.Background(), config.HistoryConfig{Backend: "etcd"}, zap.NewNop()); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestNewRetrieverDisabledWithoutURL(t *testing.T) {
	if r := newRetriever(config.RetrievalConfig{}, zap.NewNop()); r != nil {
		t.Fatalf("expected no retriever, got %T", r)
	}
}

func TestNewRetrieverSearchesNewsService(t *testing.T) {
	news := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/news/search" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]chatmodel.Article{{Title: "Rates hold", URL: "https://news.example/rates"}})
	}))
	defer news.Close()

	r := newRetriever(config.RetrievalConfig{NewsURL: news.URL, Timeout: time.Second}, zap.NewNop())
	if r == nil {
		t.Fatal("expected retriever")
	}

	articles, err := r.Search(context.Background(), "rates")
	if err != nil {
		t.Fatalf("Search err: %v", err)
	}
	if len(articles) != 1 || articles[0].Title != "Rates hold" {
		t.Fatalf("unexpected articles %+v", articles)
	}
}

func TestRunServerStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	srv := &http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler()}

	done := make(chan error, 1)
	go func() { done <- runServer(ctx, srv) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runServer err: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
