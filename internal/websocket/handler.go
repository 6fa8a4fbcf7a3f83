package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"safetrade-chat/internal/events"
	"safetrade-chat/internal/services"
	"safetrade-chat/internal/transport/httpdto"
)

// Authorizer decides whether a user may follow a topic.
type Authorizer interface {
	CanSubscribe(ctx context.Context, userID, topic string) (bool, error)
}

type Handler struct {
	auth       *services.AuthService
	hub        *Hub
	authorizer Authorizer
	logger     *WebSocketLogger
	upgrader   websocket.Upgrader
}

func NewHandler(auth *services.AuthService, hub *Hub, authorizer Authorizer, l *zap.Logger) *Handler {
	return &Handler{
		auth:       auth,
		hub:        hub,
		authorizer: authorizer,
		logger:     NewWebSocketLogger(l),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (h *Handler) Connect(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
		return
	}

	claims, err := h.auth.ParseAccessToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	userID := strings.TrimSpace(claims.UserID)
	client := NewClient(conn, userID)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.hub.Register(client)
	h.logger.Info("connected", userID, client.ID)
	go client.WriteLoop(ctx)

	conn.SetReadLimit(64 * 1024)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn("read_failed", userID, client.ID, zap.Error(err))
			}
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		h.handleFrame(c.Request.Context(), client, data)
	}

	h.hub.Unregister(client)
	h.logger.Info("disconnected", userID, client.ID)
}

func (h *Handler) handleFrame(ctx context.Context, client *Client, data []byte) {
	var fr events.Frame
	if err := json.Unmarshal(data, &fr); err != nil {
		client.SendFrame(events.Frame{Type: events.FrameError, Error: "malformed frame"})
		return
	}
	topic := strings.TrimSpace(fr.Topic)

	switch fr.Type {
	case events.FrameSubscribe:
		if topic == "" {
			client.SendFrame(events.Frame{Type: events.FrameError, Error: "topic is required"})
			return
		}
		if client.IsSubscribed(topic) {
			client.SendFrame(events.Frame{Type: events.FrameAck, Topic: topic})
			return
		}
		ok, err := h.authorizer.CanSubscribe(ctx, client.UserID, topic)
		if err != nil {
			h.logger.Error("authorize", client.UserID, client.ID, err, zap.String("topic", topic))
			client.SendFrame(events.Frame{Type: events.FrameError, Topic: topic, Error: "subscription unavailable"})
			return
		}
		if !ok {
			h.logger.Warn("subscribe_denied", client.UserID, client.ID, zap.String("topic", topic))
			client.SendFrame(events.Frame{Type: events.FrameError, Topic: topic, Error: "forbidden"})
			return
		}
		h.hub.Subscribe(client, topic)
	case events.FrameUnsubscribe:
		h.hub.Unsubscribe(client, topic)
	default:
		client.SendFrame(events.Frame{Type: events.FrameError, Topic: topic, Error: "unsupported frame type"})
	}
}
