package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wellio/pushagent/internal/useragent"
)

type clickRequest struct {
	Action string `json:"action"`
}

func (h *Handlers) ListNotifications(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"notifications": h.agent.Notifications()})
}

func (h *Handlers) ClickNotification(c *gin.Context) {
	var req clickRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}
	if err := h.agent.Click(c.Request.Context(), c.Param("id"), req.Action); err != nil {
		h.writeNotificationError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) CloseNotification(c *gin.Context) {
	if err := h.agent.Close(c.Request.Context(), c.Param("id")); err != nil {
		h.writeNotificationError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) Health(c *gin.Context) {
	resp := gin.H{"status": "ok", "version": h.agent.Version()}
	reg, err := h.agent.Registration(c.Request.Context())
	switch {
	case err == nil:
		resp["worker"] = gin.H{
			"state":          reg.State,
			"active_version": reg.ActiveVersion,
			"script_url":     reg.ScriptURL,
		}
	case errors.Is(err, useragent.ErrNotRegistered):
		resp["worker"] = nil
	default:
		h.logger.Error("health registration lookup failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": "store unavailable"})
		return
	}
	resp["windows"] = h.hub.Len()
	c.JSON(http.StatusOK, resp)
}

func (h *Handlers) writeNotificationError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, useragent.ErrNotificationNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "notification not found"})
	case errors.Is(err, useragent.ErrNotRegistered):
		c.JSON(http.StatusConflict, gin.H{"error": "no worker registered"})
	default:
		h.logger.Error("notification activation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
