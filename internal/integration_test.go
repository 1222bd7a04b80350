package internal

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"wash-queue-backend/config"
	"wash-queue-backend/internal/api"
	"wash-queue-backend/internal/db"
	"wash-queue-backend/internal/hub"
	"wash-queue-backend/internal/model"
	"wash-queue-backend/internal/relay"
	"wash-queue-backend/internal/sched"
	"wash-queue-backend/internal/store"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

type envelope struct {
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

// readUntilTopic drains broadcast envelopes until one matches the
// wanted topic.
func readUntilTopic(t *testing.T, conn *websocket.Conn, topic string) json.RawMessage {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn.SetReadDeadline(deadline)
		_, payload, err := conn.ReadMessage()
		require.NoError(t, err)
		var env envelope
		require.NoError(t, json.Unmarshal(payload, &env))
		if env.Topic == topic {
			return env.Data
		}
	}
	t.Fatalf("no %q envelope received", topic)
	return nil
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	return resp
}

// TestWashLifecycle drives a full day at the laundry room: a walk-up
// start, a queued user drifting into the notification window, lazy
// session expiry feeding the daily guard, and the queue head taking
// over the freed machine.
func TestWashLifecycle(t *testing.T) {
	gin.SetMode(gin.TestMode)

	testDB, err := gorm.Open(sqlite.Open("file:lifecycle?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, _ := testDB.DB()
	defer sqlDB.Close()
	require.NoError(t, db.Migrate(testDB))

	appStore := store.NewGormStore(testDB)
	clock := &fakeClock{now: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)}
	completed := relay.NewCompletedSet(clock, time.UTC)

	engine := sched.NewEngine([]sched.MachineConfig{
		{ID: 1, Name: "Machine 1"},
		{ID: 2, Name: "Machine 2"},
	}, completed, clock, 2*time.Minute)

	broadcastHub := hub.New()
	eventRelay := relay.New(engine, appStore, broadcastHub, nil, completed, time.Second)
	engine.SetSink(eventRelay)

	cfg := &config.ServerConfig{RateLimitPerSec: 1000, RateLimitBurst: 1000, CacheTTLSeconds: 1}
	router := api.NewRouter(engine, appStore, eventRelay, broadcastHub, nil, cfg)

	server := httptest.NewServer(router)
	defer server.Close()

	// Subscribe to the broadcast channel before any command.
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return broadcastHub.ClientCount() == 1 },
		time.Second, 10*time.Millisecond)

	// U1 starts a 20-minute wash on machine 1.
	resp := postJSON(t, server.URL+"/api/machines/start", gin.H{"machineId": 1, "userId": 1, "minutes": 20})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	data := readUntilTopic(t, conn, hub.TopicMachines)
	var snap []sched.MachineSnapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	assert.True(t, snap[0].InUse)

	// U2 queues behind U1.
	resp = postJSON(t, server.URL+"/api/machines/join", gin.H{"machineId": 1, "userId": 2, "minutes": 30})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	readUntilTopic(t, conn, hub.TopicMachines)

	// 19 minutes later U2's predicted start enters the lead window.
	clock.now = clock.now.Add(19 * time.Minute)
	engine.Tick()

	data = readUntilTopic(t, conn, hub.TopicNotifications)
	var notify sched.PreNotify
	require.NoError(t, json.Unmarshal(data, &notify))
	assert.Equal(t, sched.EventPreNotify, notify.Type)
	assert.Equal(t, int64(2), notify.UserID)
	assert.Equal(t, "Machine 1", notify.MachineName)
	assert.Equal(t, 1, notify.MinutesUntilStart)

	// The session runs out; lazy expiry records U1's completed wash.
	clock.now = clock.now.Add(2 * time.Minute)
	engine.Tick()

	data = readUntilTopic(t, conn, hub.TopicWashHistory)
	var completedIDs []int64
	require.NoError(t, json.Unmarshal(data, &completedIDs))
	assert.Equal(t, []int64{1}, completedIDs)

	// The same tick also broadcast the freed machine with U2 still queued.
	data = readUntilTopic(t, conn, hub.TopicMachines)
	require.NoError(t, json.Unmarshal(data, &snap))
	assert.False(t, snap[0].InUse)
	require.Len(t, snap[0].Queue, 1)
	assert.Equal(t, int64(2), snap[0].Queue[0].UserID)

	var record model.WashRecord
	require.NoError(t, testDB.Where("user_id = ?", 1).First(&record).Error)
	assert.Equal(t, "2025-06-01", record.Day)
	assert.Equal(t, int64(1), record.MachineID)

	// The daily guard now rejects U1 everywhere.
	resp = postJSON(t, server.URL+"/api/machines/join", gin.H{"machineId": 2, "userId": 1, "minutes": 10})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	// U2, the queue head, takes over the freed machine.
	resp = postJSON(t, server.URL+"/api/machines/start", gin.H{"machineId": 1, "userId": 2, "minutes": 30})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	data = readUntilTopic(t, conn, hub.TopicMachines)
	require.NoError(t, json.Unmarshal(data, &snap))
	require.NotNil(t, snap[0].CurrentUserID)
	assert.Equal(t, int64(2), *snap[0].CurrentUserID)
	assert.Empty(t, snap[0].Queue)
}
