package handlers

import (
	"context"
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/wellio/pushagent/internal/models"
	"github.com/wellio/pushagent/internal/useragent"
	"github.com/wellio/pushagent/internal/vapid"
	ws "github.com/wellio/pushagent/internal/websocket"
)

// maxPushBody is the largest message body a push service must accept (RFC 8030 7.2).
const maxPushBody = 4096

// Agent is the worker host the HTTP surface feeds.
type Agent interface {
	Version() string
	Registration(ctx context.Context) (*models.WorkerRegistration, error)
	Push(ctx context.Context, data []byte) error
	Click(ctx context.Context, id, action string) error
	Close(ctx context.Context, id string) error
	Notifications() []useragent.TrayEntry
}

type Handlers struct {
	agent      Agent
	push       *useragent.PushManager
	verifier   *vapid.Verifier
	hub        *ws.Hub
	wsUpgrader websocket.Upgrader
	logger     *slog.Logger
}

func New(agent Agent, push *useragent.PushManager, verifier *vapid.Verifier, hub *ws.Hub, upgrader websocket.Upgrader, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		agent:      agent,
		push:       push,
		verifier:   verifier,
		hub:        hub,
		wsUpgrader: upgrader,
		logger:     logger,
	}
}

// Register mounts every route of the agent on r.
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/healthz", h.Health)
	r.POST("/push/:token", h.ReceivePush)

	api := r.Group("/api")
	{
		api.GET("/notifications", h.ListNotifications)
		api.POST("/notifications/:id/click", h.ClickNotification)
		api.POST("/notifications/:id/close", h.CloseNotification)
	}
	r.GET("/ws", h.HandleWebSocket)
}
