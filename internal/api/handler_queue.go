package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"attendance-kiosk/internal/remote"
	"attendance-kiosk/internal/retryqueue"
)

const redactedPin = "****"

// queuedOperationResponse is a queued operation as shown to the UI.
type queuedOperationResponse struct {
	ID         string        `json:"id"`
	Tag        string        `json:"tag"`
	Action     remote.Action `json:"action"`
	RoomID     int64         `json:"roomId"`
	Pin        string        `json:"pin"`
	EnqueuedAt time.Time     `json:"enqueuedAt"`
	RetryCount int           `json:"retryCount"`
	MaxRetries int           `json:"maxRetries"`
}

type queueResponse struct {
	retryqueue.Status
	Items []queuedOperationResponse `json:"items"`
}

// GetQueue handles GET /api/queue.
func (h *Handler) GetQueue(c *gin.Context) {
	items := h.queue.Items()
	resp := queueResponse{
		Status: h.queue.Status(),
		Items:  make([]queuedOperationResponse, len(items)),
	}
	for i, op := range items {
		resp.Items[i] = queuedOperationResponse{
			ID:         op.ID,
			Tag:        op.Tag,
			Action:     op.Action,
			RoomID:     op.RoomID,
			Pin:        redactedPin,
			EnqueuedAt: op.EnqueuedAt,
			RetryCount: op.RetryCount,
			MaxRetries: op.MaxRetries,
		}
	}
	c.JSON(http.StatusOK, resp)
}

// PostQueueSync handles POST /api/queue/sync by running one pass.
func (h *Handler) PostQueueSync(c *gin.Context) {
	c.JSON(http.StatusOK, h.queue.ProcessQueue(c.Request.Context()))
}

// DeleteQueue handles DELETE /api/queue.
func (h *Handler) DeleteQueue(c *gin.Context) {
	h.queue.Clear()
	c.Status(http.StatusNoContent)
}

// DeleteQueueItem handles DELETE /api/queue/:id.
func (h *Handler) DeleteQueueItem(c *gin.Context) {
	if !h.queue.Remove(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "operation not queued"})
		return
	}
	c.Status(http.StatusNoContent)
}
