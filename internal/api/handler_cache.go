package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetCacheStats handles GET /api/cache/stats.
func (h *Handler) GetCacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.kiosk.CacheStats(c.Request.Context()))
}

// DeleteCache handles DELETE /api/cache.
func (h *Handler) DeleteCache(c *gin.Context) {
	if err := h.kiosk.ClearCache(c.Request.Context()); err != nil {
		h.log.WithError(err).Error("failed to clear identity cache")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}
