package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/alphaworks/marketplace-messaging/internal/middleware"
	"github.com/alphaworks/marketplace-messaging/internal/model"
	"github.com/alphaworks/marketplace-messaging/internal/notifier"
	"github.com/alphaworks/marketplace-messaging/internal/service"
	"github.com/alphaworks/marketplace-messaging/pkg/logger"
	"github.com/alphaworks/marketplace-messaging/pkg/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 1024
	sendBufferSize = 32
)

// WSHandler upgrades clients to WebSocket and bridges them onto the
// notifier. A connection holds at most one conversation subscription;
// joining another channel leaves the previous one first.
type WSHandler struct {
	conversationService *service.ConversationService
	notifier            notifier.Notifier
	jwtSecret           string
	logger              *logger.Logger
	upgrader            websocket.Upgrader
}

// NewWSHandler creates a new WebSocket gateway handler.
func NewWSHandler(
	convSvc *service.ConversationService,
	notif notifier.Notifier,
	jwtSecret string,
	log *logger.Logger,
) *WSHandler {
	return &WSHandler{
		conversationService: convSvc,
		notifier:            notif,
		jwtSecret:           jwtSecret,
		logger:              log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin allowance mirrors the CORS policy on the REST routes.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// clientEnvelope is the frame clients send.
type clientEnvelope struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
}

// serverEnvelope is the non-event frame the server sends.
type serverEnvelope struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id,omitempty"`
	Error          string `json:"error,omitempty"`
}

// Handle handles GET /api/v1/ws?token=…
//
// Browsers cannot set headers on a WebSocket upgrade, so the bearer
// token travels in the query string.
func (h *WSHandler) Handle(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeError(w, http.StatusUnauthorized, "missing token")
		return
	}
	userID, err := middleware.ParseToken(token, h.jwtSecret)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		return
	}

	client := &wsClient{
		id:      "ws-" + uuid.New().String(),
		userID:  userID,
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		done:    make(chan struct{}),
		handler: h,
	}

	metrics.WSConnectionsActive.Inc()
	h.logger.Debug("ws client connected", zap.String("user_id", userID))

	go client.writePump()
	client.readPump()
}

// wsClient is one connected WebSocket session.
type wsClient struct {
	id      string
	userID  string
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	handler *WSHandler

	mu      sync.Mutex
	current string // conversation currently subscribed, if any
}

func (c *wsClient) readPump() {
	defer func() {
		c.leaveLocked("")
		// send stays open: a publish racing the unsubscribe may still
		// invoke the handler, which must never hit a closed channel.
		close(c.done)
		_ = c.conn.Close()
		metrics.WSConnectionsActive.Dec()
		c.handler.logger.Debug("ws client disconnected", zap.String("user_id", c.userID))
	}()

	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var env clientEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.reply(serverEnvelope{Type: "error", Error: "invalid frame"})
			continue
		}

		switch env.Type {
		case "joinConversation":
			c.join(env.ConversationID)
		case "leaveConversation":
			c.leave(env.ConversationID)
		default:
			c.reply(serverEnvelope{Type: "error", Error: "unknown frame type"})
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// join subscribes the connection to a conversation channel, leaving
// any previous channel first so a connection never holds two.
func (c *wsClient) join(conversationID string) {
	h := c.handler

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		c.reply(serverEnvelope{Type: "error", Error: err.Error()})
		return
	}

	// Membership gate; non-participants see the same answer as an
	// unknown id.
	if _, err := h.conversationService.Get(context.Background(), c.userID, conversationID); err != nil {
		c.reply(serverEnvelope{Type: "error", Error: "conversation not found"})
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == conversationID {
		c.reply(serverEnvelope{Type: "joined", ConversationID: conversationID})
		return
	}
	if c.current != "" {
		h.notifier.Unsubscribe(c.current, c.id)
		metrics.SubscriptionsActive.Dec()
		c.current = ""
	}

	err := h.notifier.Subscribe(conversationID, c.id, func(ev model.MessageEvent) {
		data, merr := json.Marshal(ev)
		if merr != nil {
			return
		}
		select {
		case c.send <- data:
		default:
			// Slow consumer; the event is advisory, drop it.
		}
	})
	if err != nil {
		h.logger.Error("failed to subscribe ws client",
			zap.String("conversation_id", conversationID), zap.Error(err))
		c.reply(serverEnvelope{Type: "error", Error: "failed to join"})
		return
	}

	c.current = conversationID
	metrics.SubscriptionsActive.Inc()
	c.reply(serverEnvelope{Type: "joined", ConversationID: conversationID})
}

// leave drops the current subscription if it matches conversationID
// (or unconditionally when conversationID is empty).
func (c *wsClient) leave(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.leaveCurrent(conversationID)
	c.reply(serverEnvelope{Type: "left", ConversationID: conversationID})
}

// leaveLocked is the teardown path used on disconnect.
func (c *wsClient) leaveLocked(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.leaveCurrent(conversationID)
}

func (c *wsClient) leaveCurrent(conversationID string) {
	if c.current == "" {
		return
	}
	if conversationID != "" && conversationID != c.current {
		return
	}
	c.handler.notifier.Unsubscribe(c.current, c.id)
	metrics.SubscriptionsActive.Dec()
	c.current = ""
}

func (c *wsClient) reply(env serverEnvelope) {
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}
