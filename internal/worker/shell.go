// Package worker wires host events to the notification pipeline: normalize,
// render and route.
package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/wellio/pushagent/internal/models"
	"github.com/wellio/pushagent/internal/payload"
	"github.com/wellio/pushagent/internal/render"
	"github.com/wellio/pushagent/internal/router"
)

// Host is what the worker needs from the runtime that runs it.
type Host interface {
	render.Shower
	SkipWaiting(ctx context.Context) error
	ClaimClients(ctx context.Context) error
}

type Shell struct {
	version    string
	host       Host
	normalizer *payload.Normalizer
	renderer   *render.Renderer
	router     *router.Router
	logger     *slog.Logger
}

type Options struct {
	Version    string
	Host       Host
	Normalizer *payload.Normalizer
	Renderer   *render.Renderer
	Router     *router.Router
	Logger     *slog.Logger
}

func NewShell(opts Options) *Shell {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	renderer := opts.Renderer
	if renderer == nil {
		renderer = render.NewRenderer(logger)
	}
	return &Shell{
		version:    opts.Version,
		host:       opts.Host,
		normalizer: opts.Normalizer,
		renderer:   renderer,
		router:     opts.Router,
		logger:     logger.With("worker_version", opts.Version),
	}
}

func (s *Shell) Version() string {
	return s.version
}

// Dispatch delivers ev and returns once every piece of work the handler
// registered has finished. Lifecycle failures are returned; push and click
// failures are logged only.
func (s *Shell) Dispatch(ctx context.Context, ev Event) error {
	e := newExtendable(ctx)

	switch ev := ev.(type) {
	case InstallEvent:
		s.logger.Info("worker installing")
		e.WaitUntil(s.host.SkipWaiting)
	case ActivateEvent:
		s.logger.Info("worker activating")
		e.WaitUntil(s.host.ClaimClients)
	case PushEvent:
		e.WaitUntil(func(ctx context.Context) error {
			s.onPush(ctx, ev)
			return nil
		})
	case NotificationClickEvent:
		e.WaitUntil(func(ctx context.Context) error {
			s.onClick(ctx, ev)
			return nil
		})
	case NotificationCloseEvent:
		s.logger.Debug("notification closed", "tag", ev.Tag, "type", ev.Data.Type)
	case MessageEvent:
		s.onMessage(e, ev)
	default:
		return fmt.Errorf("unsupported worker event %T", ev)
	}

	if err := e.wait(); err != nil {
		return fmt.Errorf("%s: %w", ev.Name(), err)
	}
	return nil
}

func (s *Shell) onPush(ctx context.Context, ev PushEvent) {
	c := s.normalizer.Normalize(ev.Data)
	s.logger.Info("push received", "type", c.Data.Type, "tag", c.Tag, "has_data", ev.Data != nil)
	_ = s.renderer.Show(ctx, s.host, c)
}

func (s *Shell) onClick(ctx context.Context, ev NotificationClickEvent) {
	out, err := s.router.HandleClick(ctx, router.Activation{
		Action:       ev.Action,
		Notification: ev.Notification,
		Data:         ev.Data,
	})
	if err != nil {
		s.logger.Error("notification click routing failed", "tag", ev.Tag, "path", out.Path, "error", err)
		return
	}
	s.logger.Info("notification click routed",
		"tag", ev.Tag,
		"action", ev.Action,
		"path", out.Path,
		"focused_client", out.FocusedClient,
		"opened", out.Opened,
	)
}

func (s *Shell) onMessage(e *extendable, ev MessageEvent) {
	switch ev.Data.Type {
	case models.MessageTypeSkipWaiting:
		s.logger.Info("skip waiting requested by page", "client_id", ev.SourceID)
		e.WaitUntil(s.host.SkipWaiting)
	default:
		s.logger.Debug("page message ignored", "client_id", ev.SourceID, "type", ev.Data.Type)
	}
}
