package websocket

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
)

type Handler struct {
	hub         *Hub
	redisClient *redis.Client
	upgrader    websocket.Upgrader
	ctx         context.Context
	logger      *slog.Logger
}

// NewHandler serves rooms of hub, fed by the Redis channel of the same name.
// Subscriptions stop when ctx is cancelled.
func NewHandler(ctx context.Context, h *Hub, redisClient *redis.Client, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		hub:         h,
		redisClient: redisClient,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		ctx:    ctx,
		logger: logger.With("component", "websocket"),
	}
}

func (h *Handler) subscribeToRoomChannel(roomID string) {
	h.logger.Info("subscribing to redis channel", "room", roomID)
	subscriber := h.redisClient.Subscribe(h.ctx, roomID)
	defer subscriber.Close()

	ch := subscriber.Channel()
	for {
		select {
		case <-h.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				h.logger.Info("redis channel closed", "room", roomID)
				return
			}
			h.hub.broadcast(h.ctx, &WSMessage{
				Content:   msg.Payload,
				RoomID:    roomID,
				Timestamp: time.Now().Unix(),
			})
		}
	}
}

// EnsureRoom creates the room and its Redis subscription once.
func (h *Handler) EnsureRoom(id string) {
	if h.hub.addRoom(id) {
		go h.subscribeToRoomChannel(id)
	}
}

func (h *Handler) JoinRoom(w http.ResponseWriter, r *http.Request, roomID, clientID string) {
	h.EnsureRoom(roomID)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		h.logger.Warn("websocket upgrade failed", "room", roomID, "error", err)
		return
	}

	cl := &WSClient{
		Conn:    conn,
		Message: make(chan *WSMessage, 10),
		ID:      clientID,
		RoomID:  roomID,
		done:    make(chan struct{}),
		logger:  h.logger.With("room", roomID, "client_id", clientID),
	}

	select {
	case h.hub.Register <- cl:
	case <-h.hub.stopped:
		conn.Close()
		return
	}

	go cl.keepAlive()
	go cl.writeMessage()
	go cl.readMessage(h.hub)
}
