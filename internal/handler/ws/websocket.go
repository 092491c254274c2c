package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/docchat/internal/middleware"
	chatService "github.com/zhouzirui/docchat/internal/service/chat"
	"github.com/zhouzirui/docchat/internal/service/events"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second
)

// WebSocketHandler 通过 WebSocket 推送会话事件并接收命令
type WebSocketHandler struct {
	chatSvc    *chatService.Service
	subscriber events.Subscriber
	logger     *zap.Logger
	upgrader   websocket.Upgrader
}

// NewWebSocketHandler 创建WebSocket处理器；allowedOrigins 与 REST 路由的 CORS 配置一致
func NewWebSocketHandler(chatSvc *chatService.Service, subscriber events.Subscriber, logger *zap.Logger, allowedOrigins ...string) *WebSocketHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	origins := middleware.NewOriginMatcher(allowedOrigins...)
	return &WebSocketHandler{
		chatSvc:    chatSvc,
		subscriber: subscriber,
		logger:     logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return checkOrigin(origins, r)
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterWebSocketRoutes 注册WebSocket路由
func (h *WebSocketHandler) RegisterWebSocketRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
}

// checkOrigin 允许非浏览器客户端、同源页面以及配置的来源
func checkOrigin(origins middleware.OriginMatcher, r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if origins.Allowed(origin) {
		return true
	}
	u, err := url.Parse(origin)
	return err == nil && u.Host == r.Host
}

type inboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// TextMessage 文本消息
type TextMessage struct {
	Text string `json:"text"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	Seq       uint64      `json:"seq,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// conn serializes writes; gorilla allows one concurrent writer.
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(v)
}

func (c *conn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// handleWebSocket 处理WebSocket连接
func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer wsConn.Close()
	c := &conn{ws: wsConn}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := h.subscriber.Subscribe(ctx)
	if err != nil {
		h.logger.Error("subscribe failed", zap.Error(err))
		h.sendError(c, "event stream unavailable")
		return
	}

	wsConn.SetReadDeadline(time.Now().Add(pongWait))
	wsConn.SetPongHandler(func(string) error {
		wsConn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	snapshot := h.chatSvc.Snapshot()
	if err := c.writeJSON(outgoingMessage{Type: "snapshot", Seq: snapshot.Seq, Data: snapshot, Timestamp: time.Now().Unix()}); err != nil {
		return
	}

	go h.pingLoop(ctx, c)
	go h.forwardEvents(ctx, cancel, c, stream, snapshot.Seq)

	h.logger.Debug("websocket connected", zap.String("remote", r.RemoteAddr))

	for {
		var msg inboundMessage
		if err := wsConn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket read error", zap.Error(err))
			}
			return
		}
		wsConn.SetReadDeadline(time.Now().Add(pongWait))

		// 命令异步执行，避免阻塞读循环；结果通过事件推送
		go h.handleMessage(context.Background(), c, &msg)
	}
}

func (h *WebSocketHandler) forwardEvents(ctx context.Context, cancel context.CancelFunc, c *conn, stream <-chan events.Event, lastSeq uint64) {
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-stream:
			if !ok {
				return
			}
			if evt.Seq <= lastSeq {
				continue
			}
			lastSeq = evt.Seq
			msg := outgoingMessage{Type: string(evt.Type), Seq: evt.Seq, Data: evt, Timestamp: evt.OccurredAt.Unix()}
			if err := c.writeJSON(msg); err != nil {
				h.logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		}
	}
}

func (h *WebSocketHandler) handleMessage(ctx context.Context, c *conn, msg *inboundMessage) {
	switch msg.Type {
	case "input":
		var text TextMessage
		if err := json.Unmarshal(msg.Data, &text); err != nil {
			h.sendError(c, "invalid input payload")
			return
		}
		h.chatSvc.SetInput(ctx, text.Text)
	case "send":
		if len(msg.Data) > 0 {
			var text TextMessage
			if err := json.Unmarshal(msg.Data, &text); err != nil {
				h.sendError(c, "invalid send payload")
				return
			}
			h.chatSvc.SetInput(ctx, text.Text)
		}
		h.reportError(c, h.chatSvc.Send(ctx))
	case "reset":
		h.reportError(c, h.chatSvc.Reset(ctx))
	default:
		h.sendError(c, "unsupported message type: "+msg.Type)
	}
}

// reportError 仅回报调用方需要知道的错误；后端失败已经体现在事件的通知里
func (h *WebSocketHandler) reportError(c *conn, err error) {
	switch {
	case err == nil, errors.Is(err, chatService.ErrStaleResponse):
	case errors.Is(err, chatService.ErrChatInFlight), errors.Is(err, chatService.ErrResetInFlight):
		h.sendError(c, err.Error())
	default:
		h.logger.Warn("websocket command failed", zap.Error(err))
	}
}

func (h *WebSocketHandler) sendError(c *conn, message string) {
	msg := outgoingMessage{
		Type:      "error",
		Data:      map[string]string{"message": message},
		Timestamp: time.Now().Unix(),
	}
	if err := c.writeJSON(msg); err != nil {
		h.logger.Debug("write error failed", zap.Error(err))
	}
}

// pingLoop 定期发送ping消息
func (h *WebSocketHandler) pingLoop(ctx context.Context, c *conn) {
	ticker := time.NewTicker(pingPeriod)
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
