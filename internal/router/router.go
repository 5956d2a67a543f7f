// Package router routes notification activations to an open window or a new one.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/wellio/pushagent/internal/deeplink"
	"github.com/wellio/pushagent/internal/models"
)

var ErrNoWindow = errors.New("no window could be focused or opened")

type WindowClient interface {
	ID() string
	URL() string
	Focus(ctx context.Context) error
	PostMessage(ctx context.Context, msg any) error
}

type Clients interface {
	// MatchAll lists window clients in the worker's origin.
	MatchAll(ctx context.Context, includeUncontrolled bool) ([]WindowClient, error)
	OpenWindow(ctx context.Context, absoluteURL string) error
}

// Closer closes the OS notification that was activated.
type Closer interface {
	Close(ctx context.Context) error
}

type Activation struct {
	Action       string
	Notification Closer
	Data         models.NotificationData
}

// Outcome describes what routing did, for logs and tests.
type Outcome struct {
	Closed        bool
	Path          string
	FocusedClient string
	Opened        string
}

type Router struct {
	origin   *url.URL
	resolver *deeplink.Resolver
	clients  Clients
	logger   *slog.Logger
}

func New(origin *url.URL, resolver *deeplink.Resolver, clients Clients, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{origin: origin, resolver: resolver, clients: clients, logger: logger}
}

func (r *Router) HandleClick(ctx context.Context, a Activation) (Outcome, error) {
	var out Outcome
	if a.Notification != nil {
		if err := a.Notification.Close(ctx); err != nil {
			r.logger.Warn("close notification failed", "error", err)
		} else {
			out.Closed = true
		}
	}
	if a.Action == models.ActionDismiss {
		return out, nil
	}

	out.Path = r.resolver.Resolve(a.Data)

	candidates, err := r.clients.MatchAll(ctx, true)
	if err != nil {
		r.logger.Warn("match clients failed", "error", err)
	}
	for _, c := range candidates {
		if !r.sameOrigin(c.URL()) {
			continue
		}
		if err := c.Focus(ctx); err != nil {
			r.logger.Debug("focus client failed, trying next", "client_id", c.ID(), "error", err)
			continue
		}
		msg := models.ClickMessage{
			Type:             models.MessageTypeNotificationClick,
			URL:              out.Path,
			NotificationType: a.Data.Type,
			Data:             a.Data,
		}
		if err := c.PostMessage(ctx, msg); err != nil {
			r.logger.Warn("post click message failed", "client_id", c.ID(), "error", err)
		}
		out.FocusedClient = c.ID()
		return out, nil
	}

	target := r.absolute(out.Path)
	if err := r.clients.OpenWindow(ctx, target); err != nil {
		return out, fmt.Errorf("%w: open %s: %v", ErrNoWindow, target, err)
	}
	out.Opened = target
	return out, nil
}

func (r *Router) sameOrigin(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || r.origin == nil {
		return false
	}
	return strings.EqualFold(u.Scheme, r.origin.Scheme) && strings.EqualFold(u.Host, r.origin.Host)
}

func (r *Router) absolute(path string) string {
	if r.origin == nil {
		return path
	}
	ref, err := url.Parse(path)
	if err != nil {
		return r.origin.String()
	}
	return r.origin.ResolveReference(ref).String()
}
