package chat

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/newsdesk/internal/model/chat"
	"github.com/zhouzirui/newsdesk/internal/service/answer"
	chatservice "github.com/zhouzirui/newsdesk/internal/service/chat"
	"github.com/zhouzirui/newsdesk/pkg/utils"
)

// Handler 聊天服务的HTTP处理器
type Handler struct {
	answers *answer.Service
	logger  *zap.Logger
}

// New 创建聊天处理器
func New(answers *answer.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{answers: answers, logger: logger}
}

// RegisterRoutes 注册会话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/session", h.handleCreateSession)
	r.Delete("/session/{sessionID}", h.handleResetSession)
	r.Get("/session/{sessionID}/messages", h.handleLoadTranscript)
}

// RegisterChatRoutes 注册问答路由, 调用方可以在外层挂限流。
func (h *Handler) RegisterChatRoutes(r chi.Router) {
	r.Post("/chat/", h.handleChat)
}

type sessionPayload struct {
	SessionID string         `json:"sessionId"`
	Messages  []chat.Message `json:"messages"`
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.answers.CreateSession(r.Context())
	if err != nil {
		h.logger.Error("create session failed", zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, "Error creating session")
		return
	}

	utils.RespondJSON(w, http.StatusCreated, sessionPayload{SessionID: session.ID, Messages: []chat.Message{}})
}

func (h *Handler) handleResetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := h.answers.ResetSession(r.Context(), sessionID); err != nil {
		h.respondServiceError(w, err, "Error resetting session")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (h *Handler) handleLoadTranscript(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	messages, err := h.answers.LoadTranscript(r.Context(), sessionID)
	if err != nil {
		h.respondServiceError(w, err, "Error loading session")
		return
	}
	if messages == nil {
		messages = []chat.Message{}
	}

	utils.RespondJSON(w, http.StatusOK, sessionPayload{SessionID: sessionID, Messages: messages})
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		SessionID string `json:"sessionId"`
		Message   string `json:"message"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.SessionID == "" {
		utils.RespondError(w, http.StatusBadRequest, "sessionId is required")
		return
	}

	response, err := h.answers.Ask(r.Context(), payload.Message, payload.SessionID)
	if err != nil {
		h.respondServiceError(w, err, "Error processing chat request")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{"response": response})
}

// respondServiceError 将业务错误映射为状态码，未知错误记录日志后返回通用提示。
func (h *Handler) respondServiceError(w http.ResponseWriter, err error, generic string) {
	switch {
	case errors.Is(err, answer.ErrMessageRequired), errors.Is(err, answer.ErrMessageTooLong):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, chatservice.ErrSessionNotFound):
		utils.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, answer.ErrUnavailable):
		utils.RespondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.logger.Error(generic, zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, generic)
	}
}
