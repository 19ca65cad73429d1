package websocket

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type Hub struct {
	mu         sync.RWMutex
	rooms      map[string]*Room
	Register   chan *WSClient
	Unregister chan *WSClient
	Broadcast  chan *WSMessage
	metrics    *metrics
	stopped    chan struct{}
}

func NewHub(reg prometheus.Registerer) *Hub {
	return &Hub{
		rooms:      make(map[string]*Room),
		Register:   make(chan *WSClient),
		Unregister: make(chan *WSClient),
		Broadcast:  make(chan *WSMessage),
		metrics:    newMetrics(reg),
		stopped:    make(chan struct{}),
	}
}

// addRoom creates the room if missing and reports whether it was created.
func (h *Hub) addRoom(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.rooms[id]; exists {
		return false
	}
	h.rooms[id] = &Room{ID: id, Clients: make(map[string]*WSClient)}
	h.metrics.rooms.Set(float64(len(h.rooms)))
	return true
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.stopped)
	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.Register:
			h.mu.Lock()
			if room, ok := h.rooms[client.RoomID]; ok {
				room.Clients[client.ID] = client
				h.metrics.connections.Inc()
			}
			h.mu.Unlock()

		case client := <-h.Unregister:
			h.mu.Lock()
			if room, ok := h.rooms[client.RoomID]; ok {
				if _, ok := room.Clients[client.ID]; ok {
					delete(room.Clients, client.ID)
					close(client.Message)
					h.metrics.connections.Dec()
				}
			}
			h.mu.Unlock()

		case message := <-h.Broadcast:
			h.mu.Lock()
			room, ok := h.rooms[message.RoomID]
			if !ok {
				h.mu.Unlock()
				continue
			}
			delivered := 0
			for _, client := range room.Clients {
				select {
				case client.Message <- message:
					delivered++
				default:
					// Slow consumer.
					close(client.Message)
					delete(room.Clients, client.ID)
					h.metrics.connections.Dec()
				}
			}
			h.mu.Unlock()
			if delivered > 0 {
				h.metrics.delivered.Add(float64(delivered))
			}
		}
	}
}

// unregister hands the client back to Run, or drops it once Run has exited.
func (h *Hub) unregister(cl *WSClient) {
	select {
	case h.Unregister <- cl:
	case <-h.stopped:
	}
}

func (h *Hub) broadcast(ctx context.Context, msg *WSMessage) bool {
	select {
	case h.Broadcast <- msg:
		return true
	case <-h.stopped:
		return false
	case <-ctx.Done():
		return false
	}
}
