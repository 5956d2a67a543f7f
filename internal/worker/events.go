package worker

import (
	"context"

	"github.com/wellio/pushagent/internal/models"
	"github.com/wellio/pushagent/internal/router"

	"golang.org/x/sync/errgroup"
)

// Event is anything the host can deliver to the worker.
type Event interface {
	Name() string
}

type InstallEvent struct{}

type ActivateEvent struct{}

// PushEvent carries the decrypted message body. Data is nil when the sender
// pushed without a payload.
type PushEvent struct {
	Data []byte
}

type NotificationClickEvent struct {
	Action       string
	Notification router.Closer
	Tag          string
	Data         models.NotificationData
}

type NotificationCloseEvent struct {
	Tag  string
	Data models.NotificationData
}

// MessageEvent is a frame posted by a page.
type MessageEvent struct {
	SourceID string
	Data     models.PageMessage
}

func (InstallEvent) Name() string           { return "install" }
func (ActivateEvent) Name() string          { return "activate" }
func (PushEvent) Name() string              { return "push" }
func (NotificationClickEvent) Name() string { return "notificationclick" }
func (NotificationCloseEvent) Name() string { return "notificationclose" }
func (MessageEvent) Name() string           { return "message" }

// extendable collects the work an event handler asks the host to wait for.
type extendable struct {
	ctx context.Context
	g   errgroup.Group
}

func newExtendable(ctx context.Context) *extendable {
	return &extendable{ctx: ctx}
}

func (e *extendable) WaitUntil(fn func(ctx context.Context) error) {
	e.g.Go(func() error {
		return fn(e.ctx)
	})
}

func (e *extendable) wait() error {
	return e.g.Wait()
}
