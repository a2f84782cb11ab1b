package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/imyashkale/hera/internal/queue"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	queue *queue.JobQueue
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(q *queue.JobQueue) *HealthHandler {
	return &HealthHandler{queue: q}
}

// Check handles the health check endpoint
func (h *HealthHandler) Check(c *gin.Context) {
	body := gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
		"service":   "hera",
	}
	if h.queue != nil {
		body["queued_jobs"] = h.queue.Len()
	}
	c.JSON(http.StatusOK, body)
}
