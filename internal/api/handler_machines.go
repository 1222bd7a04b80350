package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

type joinRequest struct {
	MachineID int64 `json:"machineId" binding:"required"`
	UserID    int64 `json:"userId" binding:"required"`
	Minutes   int   `json:"minutes"`
}

type startRequest struct {
	MachineID int64 `json:"machineId" binding:"required"`
	UserID    int64 `json:"userId" binding:"required"`
	Minutes   int   `json:"minutes"`
}

type leaveRequest struct {
	MachineID int64 `json:"machineId" binding:"required"`
	UserID    int64 `json:"userId" binding:"required"`
}

// GetMachines handles GET /api/machines: the full broadcast snapshot.
func (h *Handler) GetMachines(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.Snapshot())
}

// JoinQueue handles POST /api/machines/join.
func (h *Handler) JoinQueue(c *gin.Context) {
	var req joinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	position, err := h.engine.JoinQueue(req.MachineID, req.UserID, req.Minutes)
	if err != nil {
		engineError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"queued": true, "position": position})
}

// StartWash handles POST /api/machines/start. A re-start by the
// current occupant extends the session.
func (h *Handler) StartWash(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	end, err := h.engine.StartWash(req.MachineID, req.UserID, req.Minutes)
	if err != nil {
		engineError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"started": true, "endTime": end})
}

// LeaveQueue handles POST /api/machines/leave.
func (h *Handler) LeaveQueue(c *gin.Context) {
	var req leaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.engine.LeaveQueue(req.MachineID, req.UserID); err != nil {
		engineError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"left": true})
}

// Reset handles POST /api/machines/reset: clears all sessions, queues
// and today's completed-wash set. Used for environment bring-up.
func (h *Handler) Reset(c *gin.Context) {
	h.engine.Reset()
	if err := h.relay.ResetDay(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reset": true})
}

// GetQueue handles GET /api/machines/queue/{machine_id}.
func (h *Handler) GetQueue(c *gin.Context) {
	machineID, err := strconv.ParseInt(c.Param("machine_id"), 10, 64)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid machine ID"})
		return
	}

	queue, err := h.engine.Queue(machineID)
	if err != nil {
		engineError(c, err)
		return
	}

	c.JSON(http.StatusOK, queue)
}

// GetWashHistory handles GET /api/wash_history: today's completed
// user ids.
func (h *Handler) GetWashHistory(c *gin.Context) {
	c.JSON(http.StatusOK, h.relay.CompletedUsers())
}
