package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"wash-queue-backend/config"
	"wash-queue-backend/internal/db"
	"wash-queue-backend/internal/hub"
	"wash-queue-backend/internal/relay"
	"wash-queue-backend/internal/sched"
	"wash-queue-backend/internal/store"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

type testEnv struct {
	router *gin.Engine
	engine *sched.Engine
	clock  *fakeClock
	store  store.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:api_%s?mode=memory&cache=shared", t.Name())
	gormDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gormDB))

	appStore := store.NewGormStore(gormDB)
	clock := &fakeClock{now: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)}
	completed := relay.NewCompletedSet(clock, time.UTC)

	engine := sched.NewEngine([]sched.MachineConfig{
		{ID: 1, Name: "Machine 1"},
		{ID: 2, Name: "Machine 2"},
	}, completed, clock, 2*time.Minute)

	eventRelay := relay.New(engine, appStore, hub.New(), nil, completed, time.Second)
	engine.SetSink(eventRelay)

	cfg := &config.ServerConfig{
		RateLimitPerSec: 1000,
		RateLimitBurst:  1000,
		CacheTTLSeconds: 1,
	}
	router := NewRouter(engine, appStore, eventRelay, hub.New(), nil, cfg)

	return &testEnv{router: router, engine: engine, clock: clock, store: appStore}
}

func mustJSON(t *testing.T, body any) *bytes.Reader {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	return bytes.NewReader(payload)
}

func (env *testEnv) post(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	env.router.ServeHTTP(w, req)
	return w
}

func (env *testEnv) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, path, nil)
	env.router.ServeHTTP(w, req)
	return w
}

func errorKind(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Error
}

func TestJoinEndpoint(t *testing.T) {
	env := newTestEnv(t)

	w := env.post(t, "/api/machines/join", gin.H{"machineId": 1, "userId": 10, "minutes": 50})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"queued":true,"position":1}`, w.Body.String())

	// Second reservation anywhere is rejected.
	w = env.post(t, "/api/machines/join", gin.H{"machineId": 2, "userId": 10, "minutes": 30})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "already_reserved", errorKind(t, w))

	w = env.post(t, "/api/machines/join", gin.H{"machineId": 1, "userId": 20, "minutes": 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_duration", errorKind(t, w))

	w = env.post(t, "/api/machines/join", gin.H{"machineId": 99, "userId": 20, "minutes": 30})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", errorKind(t, w))
}

func TestStartEndpoint(t *testing.T) {
	env := newTestEnv(t)

	w := env.post(t, "/api/machines/start", gin.H{"machineId": 1, "userId": 10, "minutes": 50})
	assert.Equal(t, http.StatusOK, w.Code)

	var started struct {
		Started bool      `json:"started"`
		EndTime time.Time `json:"endTime"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &started))
	assert.True(t, started.Started)
	assert.WithinDuration(t, env.clock.Now().Add(50*time.Minute), started.EndTime, time.Second)

	// A non-occupant may not start a busy machine.
	w = env.post(t, "/api/machines/start", gin.H{"machineId": 1, "userId": 20, "minutes": 30})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "machine_busy", errorKind(t, w))

	// The snapshot reflects the session.
	w = env.get(t, "/api/machines")
	assert.Equal(t, http.StatusOK, w.Code)
	var snap []sched.MachineSnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	require.Len(t, snap, 2)
	assert.True(t, snap[0].InUse)
	require.NotNil(t, snap[0].CurrentUserID)
	assert.Equal(t, int64(10), *snap[0].CurrentUserID)
}

func TestQueueBlocksStartOverAPI(t *testing.T) {
	env := newTestEnv(t)

	w := env.post(t, "/api/machines/join", gin.H{"machineId": 1, "userId": 10, "minutes": 50})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.post(t, "/api/machines/start", gin.H{"machineId": 1, "userId": 20, "minutes": 30})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "queue_blocks_start", errorKind(t, w))
}

func TestLeaveEndpoint(t *testing.T) {
	env := newTestEnv(t)

	w := env.post(t, "/api/machines/join", gin.H{"machineId": 1, "userId": 10, "minutes": 50})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.post(t, "/api/machines/leave", gin.H{"machineId": 1, "userId": 10})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"left":true}`, w.Body.String())

	w = env.post(t, "/api/machines/leave", gin.H{"machineId": 1, "userId": 10})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "not_queued", errorKind(t, w))
}

func TestQueueEndpoint(t *testing.T) {
	env := newTestEnv(t)

	env.post(t, "/api/machines/start", gin.H{"machineId": 1, "userId": 10, "minutes": 20})
	env.post(t, "/api/machines/join", gin.H{"machineId": 1, "userId": 20, "minutes": 30})

	w := env.get(t, "/api/machines/queue/1")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[{"userId":20,"minutes":30}]`, w.Body.String())

	w = env.get(t, "/api/machines/queue/99")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.get(t, "/api/machines/queue/abc")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestResetEndpoint(t *testing.T) {
	env := newTestEnv(t)

	env.post(t, "/api/machines/start", gin.H{"machineId": 1, "userId": 10, "minutes": 50})
	env.post(t, "/api/machines/join", gin.H{"machineId": 1, "userId": 20, "minutes": 30})

	w := env.post(t, "/api/machines/reset", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"reset":true}`, w.Body.String())

	snap := env.engine.Snapshot()
	for _, m := range snap {
		assert.False(t, m.InUse)
		assert.Empty(t, m.Queue)
	}
}

func TestCompletedWashGuardOverAPI(t *testing.T) {
	env := newTestEnv(t)

	w := env.post(t, "/api/machines/start", gin.H{"machineId": 1, "userId": 10, "minutes": 20})
	require.Equal(t, http.StatusOK, w.Code)

	// Session runs out; the tick records the completion.
	env.clock.now = env.clock.now.Add(21 * time.Minute)
	env.engine.Tick()

	w = env.get(t, "/api/wash_history")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[10]`, w.Body.String())

	w = env.post(t, "/api/machines/join", gin.H{"machineId": 2, "userId": 10, "minutes": 30})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "already_completed_today", errorKind(t, w))
}

func TestUserEndpoints(t *testing.T) {
	env := newTestEnv(t)

	w := env.post(t, "/api/users", gin.H{"name": "alice"})
	assert.Equal(t, http.StatusCreated, w.Code)

	w = env.post(t, "/api/users", gin.H{"name": "alice"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.post(t, "/api/users", gin.H{"name": "   "})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.get(t, "/api/users")
	assert.Equal(t, http.StatusOK, w.Code)
	var users []struct {
		Name string `json:"name"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &users))
	require.Len(t, users, 1)
	assert.Equal(t, "alice", users[0].Name)
}
