package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// ServeWS hands the connection to the live relay.
func (h *Handler) ServeWS(c *gin.Context) {
	if h.relay == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "live relay unavailable"})
		return
	}
	h.relay.ServeWS(c.Writer, c.Request)
}
