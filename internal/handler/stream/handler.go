package stream

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/newsdesk/internal/service/answer"
	chatservice "github.com/zhouzirui/newsdesk/internal/service/chat"
	"github.com/zhouzirui/newsdesk/pkg/utils"
)

// Handler 通过 Server-Sent Events 向浏览器流式推送回答。
type Handler struct {
	answers *answer.Service
	logger  *zap.Logger
}

// New 创建流式处理器
func New(answers *answer.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{answers: answers, logger: logger}
}

// Event 是每个 SSE 帧的数据负载。
type Event struct {
	SessionID string `json:"sessionId,omitempty"`
	Content   string `json:"content,omitempty"`
	Finished  bool   `json:"finished,omitempty"`
	Error     string `json:"error,omitempty"`
}

// RegisterRoutes 注册 GET /stream/{sessionID}?message= 路由。
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/stream/{sessionID}", h.handleStream)
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	query, err := answer.ValidateMessage(r.URL.Query().Get("message"))
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !h.answers.Available() {
		utils.RespondError(w, http.StatusServiceUnavailable, "ai streaming unavailable")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	if err := utils.SendSSEEvent(w, flusher, "start", Event{SessionID: sessionID}); err != nil {
		return
	}

	response, err := h.answers.Stream(r.Context(), query, sessionID, func(delta string) {
		_ = utils.SendSSEEvent(w, flusher, "delta", Event{SessionID: sessionID, Content: delta})
	})
	if err != nil {
		h.sendError(w, flusher, sessionID, err)
		return
	}

	_ = utils.SendSSEEvent(w, flusher, "message", Event{SessionID: sessionID, Content: response})
	_ = utils.SendSSEEvent(w, flusher, "end", Event{SessionID: sessionID, Finished: true})
	h.logger.Debug("stream completed", zap.String("session", sessionID))
}

func (h *Handler) sendError(w http.ResponseWriter, flusher http.Flusher, sessionID string, err error) {
	message := "AI generation failed"
	if errors.Is(err, chatservice.ErrSessionNotFound) {
		message = err.Error()
	} else {
		h.logger.Error("stream failed", zap.String("session", sessionID), zap.Error(err))
	}
	_ = utils.SendSSEEvent(w, flusher, "error", Event{SessionID: sessionID, Error: message})
}
