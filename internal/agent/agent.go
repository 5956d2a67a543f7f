// Package agent is the host runtime of the worker: it owns the tray, the
// window clients and the worker lifecycle, and turns platform activity into
// worker events.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/wellio/pushagent/internal/deeplink"
	"github.com/wellio/pushagent/internal/models"
	"github.com/wellio/pushagent/internal/payload"
	"github.com/wellio/pushagent/internal/router"
	"github.com/wellio/pushagent/internal/useragent"
	"github.com/wellio/pushagent/internal/websocket"
	"github.com/wellio/pushagent/internal/worker"
)

type Options struct {
	Scope      string
	Version    string
	Origin     *url.URL
	Registry   *useragent.Registry
	Tray       *useragent.Tray
	Hub        *websocket.Hub
	Resolver   *deeplink.Resolver
	Normalizer *payload.Normalizer
	Logger     *slog.Logger
}

type Agent struct {
	scope    string
	registry *useragent.Registry
	tray     *useragent.Tray
	hub      *websocket.Hub
	shell    *worker.Shell
	logger   *slog.Logger
}

func New(opts Options) *Agent {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	a := &Agent{
		scope:    opts.Scope,
		registry: opts.Registry,
		tray:     opts.Tray,
		hub:      opts.Hub,
		logger:   logger,
	}
	a.shell = worker.NewShell(worker.Options{
		Version:    opts.Version,
		Host:       a,
		Normalizer: opts.Normalizer,
		Router:     router.New(opts.Origin, opts.Resolver, opts.Hub, logger),
		Logger:     logger,
	})
	opts.Hub.OnMessage(a.onPageMessage)
	return a
}

func (a *Agent) Version() string {
	return a.shell.Version()
}

// ShowNotification puts the notification in the tray.
func (a *Agent) ShowNotification(ctx context.Context, title string, opts models.NotificationOptions) error {
	return a.tray.ShowNotification(ctx, title, opts)
}

func (a *Agent) SkipWaiting(ctx context.Context) error {
	return a.registry.SkipWaiting(ctx, a.scope)
}

func (a *Agent) ClaimClients(ctx context.Context) error {
	return a.hub.Claim(ctx)
}

// Install and Activate run the lifecycle handlers for Registry.Ensure.
func (a *Agent) Install(ctx context.Context) error {
	return a.shell.Dispatch(ctx, worker.InstallEvent{})
}

func (a *Agent) Activate(ctx context.Context) error {
	return a.shell.Dispatch(ctx, worker.ActivateEvent{})
}

// Ensure brings this worker version to the activated state. It fails with
// useragent.ErrNotRegistered when no page registered a worker for the scope.
func (a *Agent) Ensure(ctx context.Context) (*models.WorkerRegistration, error) {
	return a.registry.Ensure(ctx, a.scope, a.shell.Version(), a)
}

// Registration returns the stored registration for the agent's scope.
func (a *Agent) Registration(ctx context.Context) (*models.WorkerRegistration, error) {
	return a.registry.Get(ctx, a.scope)
}

// Push delivers a decrypted message body. data is nil for pushes without a
// payload.
func (a *Agent) Push(ctx context.Context, data []byte) error {
	if err := a.ready(ctx); err != nil {
		return err
	}
	return a.shell.Dispatch(ctx, worker.PushEvent{Data: data})
}

// Click activates a tray entry with the given action; an empty action is a
// click on the notification body.
func (a *Agent) Click(ctx context.Context, id, action string) error {
	entry, err := a.tray.Get(id)
	if err != nil {
		return err
	}
	if err := a.ready(ctx); err != nil {
		return err
	}
	return a.shell.Dispatch(ctx, worker.NotificationClickEvent{
		Action:       action,
		Notification: a.tray.Handle(id),
		Tag:          entry.Options.Tag,
		Data:         entry.Options.Data,
	})
}

// Close removes a tray entry as the user dismissing it from the OS.
func (a *Agent) Close(ctx context.Context, id string) error {
	entry, err := a.tray.Get(id)
	if err != nil {
		return err
	}
	a.tray.Close(id)
	if err := a.ready(ctx); err != nil {
		return err
	}
	return a.shell.Dispatch(ctx, worker.NotificationCloseEvent{
		Tag:  entry.Options.Tag,
		Data: entry.Options.Data,
	})
}

func (a *Agent) Notifications() []useragent.TrayEntry {
	return a.tray.List()
}

func (a *Agent) ready(ctx context.Context) error {
	reg, err := a.Ensure(ctx)
	if err != nil {
		return fmt.Errorf("worker not ready: %w", err)
	}
	if reg.ActiveVersion != a.shell.Version() {
		a.logger.Warn("worker version is waiting",
			"active_version", reg.ActiveVersion,
			"waiting_version", reg.WaitingVersion,
		)
	}
	return nil
}

func (a *Agent) onPageMessage(ctx context.Context, clientID string, msg models.PageMessage) {
	err := a.shell.Dispatch(ctx, worker.MessageEvent{SourceID: clientID, Data: msg})
	if err != nil {
		if errors.Is(err, useragent.ErrNotRegistered) {
			a.logger.Debug("page message before registration", "client_id", clientID, "type", msg.Type)
			return
		}
		a.logger.Warn("page message failed", "client_id", clientID, "type", msg.Type, "error", err)
		return
	}
	if msg.Type != models.MessageTypeSkipWaiting {
		return
	}
	reg, err := a.Ensure(ctx)
	if err != nil {
		a.logger.Warn("activation after skip waiting failed", "error", err)
		return
	}
	a.logger.Info("worker activated", "version", reg.ActiveVersion, "state", reg.State)
}
