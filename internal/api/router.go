package api

import (
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"wash-queue-backend/config"
	"wash-queue-backend/internal/hub"
	"wash-queue-backend/internal/mw"
	"wash-queue-backend/internal/relay"
	"wash-queue-backend/internal/sched"
	"wash-queue-backend/internal/store"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(engine *sched.Engine, s store.Store, rl *relay.Relay, h *hub.Hub, webpushOptions *webpush.Options, cfg *config.ServerConfig) *gin.Engine {
	r := gin.Default()

	cacheTTL := time.Duration(cfg.CacheTTLSeconds) * time.Second
	userCache := cache.New(cacheTTL, 10*time.Minute)

	handler := NewHandler(engine, s, rl, webpushOptions, userCache)

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst)
	caching := mw.Cache(userCache, cacheTTL)

	// Websocket subscribers sit outside the rate-limited API group.
	r.GET("/ws", h.Handler())

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.GET("/machines", handler.GetMachines)
		api.POST("/machines/join", handler.JoinQueue)
		api.POST("/machines/start", handler.StartWash)
		api.POST("/machines/leave", handler.LeaveQueue)
		api.POST("/machines/reset", handler.Reset)
		api.GET("/machines/queue/:machine_id", handler.GetQueue)

		api.GET("/wash_history", handler.GetWashHistory)

		api.POST("/users", handler.CreateUser)
		api.GET("/users", caching, handler.ListUsers)

		api.GET("/subscriptions", handler.GetSubscription)
		api.PUT("/subscriptions", handler.PutSubscription)
		api.DELETE("/subscriptions", handler.DeleteSubscription)
		api.GET("/vapid_public_key", handler.GetVAPIDPublicKey)
	}

	return r
}
