package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"wash-queue-backend/internal/store"
)

type createUserRequest struct {
	Name string `json:"name" binding:"required"`
}

// CreateUser handles POST /api/users.
func (h *Handler) CreateUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name must not be blank"})
		return
	}

	user, err := h.store.CreateUser(c.Request.Context(), name)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateName) {
			c.JSON(http.StatusConflict, gin.H{"error": "user name already exists"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// The user list is served from cache; drop stale entries now.
	if h.userCache != nil {
		h.userCache.Flush()
	}

	c.JSON(http.StatusCreated, user)
}

// ListUsers handles GET /api/users.
func (h *Handler) ListUsers(c *gin.Context) {
	users, err := h.store.ListUsers(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve users"})
		return
	}
	c.JSON(http.StatusOK, users)
}
