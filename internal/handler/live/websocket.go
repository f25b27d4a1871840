// Package live 将浏览器 WebSocket 连接桥接到服务端的会话记录管理器，每次变化后推送最新快照。
package live

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/newsdesk/internal/model/chat"
	"github.com/zhouzirui/newsdesk/internal/service/answer"
	chatservice "github.com/zhouzirui/newsdesk/internal/service/chat"
	"github.com/zhouzirui/newsdesk/internal/transcript"
)

const (
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
	pingInterval = 54 * time.Second
)

// Handler 升级 /ws/{sessionID} 连接，每个连接驱动一个 Manager。
type Handler struct {
	answers  *answer.Service
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// New 创建实时会话处理器
func New(answers *answer.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		answers: answers,
		logger:  logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/{sessionID}", h.handleWebSocket)
}

// 客户端发送的帧类型。
const (
	TypeInit  = "init"
	TypeSend  = "send"
	TypeClear = "clear"
)

type inboundMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Text      string `json:"text"`
}

type outgoingMessage struct {
	Type      string         `json:"type"`
	SessionID string         `json:"sessionId,omitempty"`
	Snapshot  *chat.Snapshot `json:"snapshot,omitempty"`
	Error     string         `json:"error,omitempty"`
	Timestamp int64          `json:"timestamp"`
}

// conn 串行化写操作，gorilla 只允许一个并发写者。
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) write(msg outgoingMessage) error {
	msg.Timestamp = time.Now().Unix()
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteJSON(msg)
}

func (c *conn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if _, err := h.answers.GetSession(r.Context(), sessionID); err != nil {
		if errors.Is(err, chatservice.ErrSessionNotFound) {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		http.Error(w, "session lookup failed", http.StatusInternalServerError)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer ws.Close()

	c := &conn{ws: ws}
	h.logger.Debug("websocket connected", zap.String("session", sessionID))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager := transcript.New(h.answers, h.answers, transcript.WithLogger(h.logger))
	snapshots, unsubscribe := manager.Subscribe()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		h.forward(c, snapshots)
	}()
	go func() {
		defer wg.Done()
		h.pingLoop(ctx, c)
	}()

	defer func() {
		cancel()
		manager.Wait()
		unsubscribe()
		wg.Wait()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		manager.Initialize(ctx, sessionID)
	}()

	h.readLoop(ctx, c, manager, &wg)
}

func (h *Handler) readLoop(ctx context.Context, c *conn, manager *transcript.Manager, wg *sync.WaitGroup) {
	_ = c.ws.SetReadDeadline(time.Now().Add(readTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(readTimeout))

		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.sendError(c, "invalid payload")
			continue
		}

		switch msg.Type {
		case TypeInit:
			sessionID := strings.TrimSpace(msg.SessionID)
			if !h.sessionExists(ctx, c, sessionID) {
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				manager.Initialize(ctx, sessionID)
			}()
		case TypeSend:
			if err := manager.Dispatch(ctx, msg.Text); errors.Is(err, transcript.ErrBusy) {
				h.sendError(c, "busy")
			}
		case TypeClear:
			manager.Clear()
		default:
			h.sendError(c, "unknown message type")
		}
	}
}

// forward 持续推送快照直到订阅关闭。
func (h *Handler) forward(c *conn, snapshots <-chan chat.Snapshot) {
	for snap := range snapshots {
		if err := c.write(outgoingMessage{Type: "snapshot", SessionID: snap.SessionID, Snapshot: &snap}); err != nil {
			h.logger.Debug("websocket write failed", zap.Error(err))
		}
	}
}

// sessionExists 校验 init 帧指向的会话，空 ID 表示回到未绑定状态。
func (h *Handler) sessionExists(ctx context.Context, c *conn, sessionID string) bool {
	if sessionID == "" {
		return true
	}
	if _, err := h.answers.GetSession(ctx, sessionID); err != nil {
		if errors.Is(err, chatservice.ErrSessionNotFound) {
			h.sendError(c, "session not found")
			return false
		}
		h.logger.Error("session lookup failed", zap.String("session", sessionID), zap.Error(err))
		h.sendError(c, "session lookup failed")
		return false
	}
	return true
}

func (h *Handler) sendError(c *conn, message string) {
	if err := c.write(outgoingMessage{Type: "error", Error: message}); err != nil {
		h.logger.Debug("websocket write error failed", zap.Error(err))
	}
}

// pingLoop 定期发送ping消息
func (h *Handler) pingLoop(ctx context.Context, c *conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.ping(); err != nil {
				return
			}
		}
	}
}
