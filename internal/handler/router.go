package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/zhouzirui/newsdesk/internal/config"
	"github.com/zhouzirui/newsdesk/internal/handler/chat"
	"github.com/zhouzirui/newsdesk/internal/handler/live"
	"github.com/zhouzirui/newsdesk/internal/handler/stream"
	middlewarePkg "github.com/zhouzirui/newsdesk/internal/middleware"
	"github.com/zhouzirui/newsdesk/internal/service/answer"
	"github.com/zhouzirui/newsdesk/pkg/utils"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(answers *answer.Service, limits config.RateLimitConfig, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"ai":     answers.Available(),
		})
	})

	chatHandler := chat.New(answers, logger)
	streamHandler := stream.New(answers, logger)
	liveHandler := live.New(answers, logger)

	r.Route("/api/v1", func(api chi.Router) {
		chatHandler.RegisterRoutes(api)
		liveHandler.RegisterRoutes(api)

		// Model-backed endpoints share the per-IP budget.
		api.Group(func(limited chi.Router) {
			if limits.Enabled() {
				limited.Use(middlewarePkg.NewRateLimiter(limits.QPS, limits.Burst).Middleware)
			}
			chatHandler.RegisterChatRoutes(limited)
			streamHandler.RegisterRoutes(limited)
		})
	})

	return r
}
