package handlers

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/gin-gonic/gin"
)

// HandleWebSocket connects a page as a window client. The page reports its
// current URL and whether the active worker controls it.
func (h *Handlers) HandleWebSocket(c *gin.Context) {
	pageURL := c.Query("url")
	if u, err := url.Parse(pageURL); pageURL == "" || err != nil || !u.IsAbs() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url must be an absolute page URL"})
		return
	}
	controlled, _ := strconv.ParseBool(c.Query("controlled"))
	h.logger.Debug("ws connect request", "url", pageURL, "controlled", controlled, "ip", c.ClientIP())

	conn, err := h.wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Debug("ws upgrade failed", "error", err)
		return
	}
	h.hub.Serve(c.Request.Context(), conn, pageURL, controlled)
}
