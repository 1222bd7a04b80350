package hub

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesConnectedClients(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := New()
	r := gin.New()
	r.GET("/ws", h.Handler())

	server := httptest.NewServer(r)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Wait for the handler goroutine to register the connection.
	require.Eventually(t, func() bool { return h.ClientCount() == 1 },
		time.Second, 10*time.Millisecond)

	h.Publish(TopicNotifications, map[string]any{"type": "PRE_NOTIFY", "userId": 7})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var env struct {
		Topic string          `json:"topic"`
		Data  json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(payload, &env))
	assert.Equal(t, TopicNotifications, env.Topic)
	assert.Contains(t, string(env.Data), `"PRE_NOTIFY"`)
}

func TestDisconnectedClientIsDropped(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := New()
	r := gin.New()
	r.GET("/ws", h.Handler())

	server := httptest.NewServer(r)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return h.ClientCount() == 1 },
		time.Second, 10*time.Millisecond)

	conn.Close()

	require.Eventually(t, func() bool { return h.ClientCount() == 0 },
		time.Second, 10*time.Millisecond)
}
