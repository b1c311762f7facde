package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const remoteProbeTimeout = 2 * time.Second

// Healthz reports the kiosk as healthy whether or not the remote API answers;
// an unreachable remote only means scans are being queued.
func (h *Handler) Healthz(c *gin.Context) {
	remoteOK := false
	if h.remote != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), remoteProbeTimeout)
		defer cancel()
		if err := h.remote.Health(ctx); err != nil {
			h.log.WithError(err).Debug("remote api health probe failed")
		} else {
			remoteOK = true
		}
	}

	status := h.queue.Status()
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"remote":  remoteOK,
		"queued":  status.QueuedOperations,
		"syncing": status.IsSyncing,
	})
}
