package hub

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Broadcast topics. Clients receive every topic and filter on the
// envelope's topic field.
const (
	TopicMachines      = "machines"
	TopicNotifications = "notifications"
	TopicWashHistory   = "washHistory"
)

type envelope struct {
	Topic string `json:"topic"`
	Data  any    `json:"data"`
}

// Hub broadcasts engine snapshots and notification events to all
// connected websocket clients.
type Hub struct {
	mu       sync.Mutex
	conns    map[*websocket.Conn]struct{}
	upgrader websocket.Upgrader
}

func New() *Hub {
	return &Hub{
		conns: make(map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler upgrades the request and keeps the connection registered
// until the client goes away.
func (h *Hub) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgrade has already written the error response.
			return
		}

		h.mu.Lock()
		h.conns[conn] = struct{}{}
		h.mu.Unlock()

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}

		h.mu.Lock()
		delete(h.conns, conn)
		h.mu.Unlock()
		conn.Close()
	}
}

// Publish sends {topic, data} to every client. Connections that fail
// to accept the write are dropped.
func (h *Hub) Publish(topic string, data any) {
	payload, err := json.Marshal(envelope{Topic: topic, Data: data})
	if err != nil {
		log.Printf("hub: failed to marshal %s payload: %v", topic, err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			conn.Close()
			delete(h.conns, conn)
		}
	}
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}
