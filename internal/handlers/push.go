package handlers

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/wellio/pushagent/internal/ece"
	"github.com/wellio/pushagent/internal/useragent"
	"github.com/wellio/pushagent/internal/vapid"
)

const contentCodingAES128GCM = "aes128gcm"

// ReceivePush is the push resource of a subscription (RFC 8030 5).
func (h *Handlers) ReceivePush(c *gin.Context) {
	ctx := c.Request.Context()
	token := c.Param("token")

	sub, err := h.push.ByToken(ctx, token)
	if errors.Is(err, useragent.ErrSubscriptionNotFound) {
		c.JSON(http.StatusGone, gin.H{"error": "subscription expired or unsubscribed"})
		return
	}
	if err != nil {
		h.logger.Error("lookup push subscription failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	ttl, err := strconv.Atoi(c.GetHeader("TTL"))
	if err != nil || ttl < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "TTL header is required"})
		return
	}

	serverKey, err := sub.ServerKey()
	if err != nil {
		h.logger.Error("stored application server key unreadable", "subscription_id", sub.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	claims, err := h.verifier.Verify(c.GetHeader("Authorization"), endpointAudience(sub.Endpoint), serverKey)
	if err != nil {
		h.logger.Info("push rejected", "subscription_id", sub.ID, "error", err)
		status := http.StatusUnauthorized
		if errors.Is(err, vapid.ErrKeyMismatch) {
			status = http.StatusForbidden
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPushBody+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read body"})
		return
	}
	if len(body) > maxPushBody {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload too large"})
		return
	}

	var data []byte
	if len(body) > 0 {
		if !strings.EqualFold(strings.TrimSpace(c.GetHeader("Content-Encoding")), contentCodingAES128GCM) {
			c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "content encoding must be aes128gcm"})
			return
		}
		keys, err := sub.Keys()
		if err != nil {
			h.logger.Error("stored subscription keys unreadable", "subscription_id", sub.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		data, err = ece.Decrypt(body, keys.Private, keys.Auth)
		if err != nil {
			h.logger.Info("push payload rejected", "subscription_id", sub.ID, "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "cannot decrypt payload"})
			return
		}
	}

	if err := h.push.Touch(ctx, sub.ID); err != nil {
		h.logger.Warn("touch subscription failed", "subscription_id", sub.ID, "error", err)
	}

	if err := h.agent.Push(ctx, data); err != nil {
		if errors.Is(err, useragent.ErrNotRegistered) {
			c.JSON(http.StatusGone, gin.H{"error": "no worker registered"})
			return
		}
		h.logger.Error("push delivery failed", "subscription_id", sub.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delivery failed"})
		return
	}

	messageID := uuid.New().String()
	h.logger.Info("push accepted",
		"subscription_id", sub.ID,
		"role", sub.Role,
		"message_id", messageID,
		"ttl", ttl,
		"bytes", len(data),
		"sender", claims.Subject,
	)
	c.Header("Location", "/push/"+token+"/messages/"+messageID)
	c.Status(http.StatusCreated)
}

func endpointAudience(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return ""
	}
	return vapid.Audience(u.Scheme, u.Host)
}
