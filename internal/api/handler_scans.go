package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"attendance-kiosk/internal/kiosk"
	"attendance-kiosk/internal/remote"
)

type postScanRequest struct {
	Tag      string `json:"tag" binding:"required"`
	Action   string `json:"action" binding:"required"`
	RoomID   int64  `json:"room_id" binding:"required"`
	Pin      string `json:"pin" binding:"required"`
	Room     string `json:"room"`
	Activity string `json:"activity"`
}

// PostScan handles POST /api/scans.
func (h *Handler) PostScan(c *gin.Context) {
	var req postScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	action, err := remote.ParseAction(req.Action)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	out, err := h.kiosk.Scan(c.Request.Context(), kiosk.ScanInput{
		Tag:      req.Tag,
		Action:   action,
		RoomID:   req.RoomID,
		Pin:      req.Pin,
		Room:     req.Room,
		Activity: req.Activity,
	})
	if err != nil {
		abortWithError(c, scanErrorStatus(err), err)
		return
	}

	status := http.StatusOK
	if out.Queued() {
		status = http.StatusAccepted
	}
	c.JSON(status, out)
}

// GetIdentity handles GET /api/identities/:tag.
func (h *Handler) GetIdentity(c *gin.Context) {
	identity, ok := h.kiosk.Lookup(c.Request.Context(), c.Param("tag"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "identity not cached"})
		return
	}
	c.JSON(http.StatusOK, identity)
}
