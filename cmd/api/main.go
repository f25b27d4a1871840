package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/zhouzirui/newsdesk/internal/client"
	"github.com/zhouzirui/newsdesk/internal/config"
	"github.com/zhouzirui/newsdesk/internal/handler"
	"github.com/zhouzirui/newsdesk/internal/logging"
	"github.com/zhouzirui/newsdesk/internal/service/ai"
	"github.com/zhouzirui/newsdesk/internal/service/answer"
	"github.com/zhouzirui/newsdesk/internal/service/chat"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	if envErr != nil {
		logger.Info("no .env file loaded, continuing with system environment variables only", zap.Error(envErr))
	}

	store, closeStore, err := openStore(ctx, cfg.History, logger)
	if err != nil {
		logger.Fatal("failed to open history store", zap.String("backend", cfg.History.Backend), zap.Error(err))
	}
	defer closeStore()

	var generator answer.Generator
	if cfg.AI.Enabled() {
		aiService, err := ai.NewService(ctx, cfg.AI, ai.WithLogger(logger.Named("ai")))
		if err != nil {
			logger.Warn("failed to initialize AI service, continuing without answers", zap.Error(err))
		} else {
			generator = aiService
			logger.Info("AI service initialized", zap.String("model", cfg.AI.Model), zap.Bool("stream", cfg.AI.StreamResponse))
		}
	} else {
		logger.Warn("Ark credentials not configured, chat endpoints will answer 503")
	}

	opts := []answer.Option{answer.WithLogger(logger.Named("answer"))}
	if retriever := newRetriever(cfg.Retrieval, logger); retriever != nil {
		opts = append(opts, answer.WithRetriever(retriever))
	}

	answers := answer.New(store, generator, opts...)
	router := handler.NewRouter(answers, cfg.RateLimit, logger.Named("http"))

	startServer(ctx, cfg.Server, router, logger)
}

// newRetriever returns nil when no news service is configured.
func newRetriever(cfg config.RetrievalConfig, logger *zap.Logger) answer.Retriever {
	if !cfg.Enabled() {
		logger.Info("NEWS_API_URL not set, answering without retrieved articles")
		return nil
	}

	news := client.New(
		config.ClientConfig{BaseURL: cfg.NewsURL, NewsBaseURL: cfg.NewsURL, Timeout: cfg.Timeout},
		client.WithLogger(logger.Named("news")),
	)
	logger.Info("grounding answers in news search", zap.String("url", cfg.NewsURL))
	return client.NewsRetriever{Client: news}
}

// openStore selects the history backend named by cfg.
func openStore(ctx context.Context, cfg config.HistoryConfig, logger *zap.Logger) (chat.Store, func(), error) {
	noop := func() {}

	switch cfg.Backend {
	case config.HistoryRedis:
		rdb, err := chat.NewRedisClient(cfg.RedisURL)
		if err != nil {
			return nil, noop, err
		}
		store, err := chat.NewRedisStore(ctx, rdb, cfg.SessionTTL)
		if err != nil {
			_ = rdb.Close()
			return nil, noop, err
		}
		logger.Info("using redis history store", zap.Duration("ttl", cfg.SessionTTL))
		return store, func() { _ = store.Close() }, nil

	case config.HistoryPostgres:
		db, err := chat.OpenPostgres(cfg.DatabaseDSN)
		if err != nil {
			return nil, noop, err
		}
		logger.Info("using postgres history store")
		return chat.NewPostgresStore(db), func() {
			if sqlDB, err := db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		}, nil

	case config.HistoryMemory:
		logger.Info("using in-memory history store")
		return chat.NewMemoryStore(), noop, nil

	default:
		return nil, noop, fmt.Errorf("unknown history backend %q", cfg.Backend)
	}
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, logger *zap.Logger) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("newsdesk api listening", zap.String("addr", addr))
	if err := runServer(ctx, srv); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
