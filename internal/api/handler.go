package api

import (
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"

	"wash-queue-backend/internal/relay"
	"wash-queue-backend/internal/sched"
	"wash-queue-backend/internal/store"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	engine    *sched.Engine
	store     store.Store
	relay     *relay.Relay
	webpush   *webpush.Options
	userCache *cache.Cache
}

// NewHandler creates a new API handler.
func NewHandler(engine *sched.Engine, s store.Store, r *relay.Relay, webpushOptions *webpush.Options, userCache *cache.Cache) *Handler {
	return &Handler{
		engine:    engine,
		store:     s,
		relay:     r,
		webpush:   webpushOptions,
		userCache: userCache,
	}
}

// engineError maps an engine failure kind to an HTTP response. The
// kind string is the stable part of the contract.
func engineError(c *gin.Context, err error) {
	kind := sched.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case sched.KindNotFound:
		status = http.StatusNotFound
	case sched.KindInvalidDuration:
		status = http.StatusBadRequest
	case sched.KindAlreadyReserved,
		sched.KindAlreadyCompletedToday,
		sched.KindQueueBlocksStart,
		sched.KindMachineBusy,
		sched.KindNotQueued:
		status = http.StatusConflict
	}
	c.AbortWithStatusJSON(status, gin.H{"error": string(kind), "message": err.Error()})
}
