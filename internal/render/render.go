package render

import (
	"context"
	"log/slog"

	"github.com/wellio/pushagent/internal/models"
)

// Vibration pattern in milliseconds: buzz, pause, buzz.
var vibratePattern = []int{200, 100, 200}

// Shower is the host's "show notification" primitive.
type Shower interface {
	ShowNotification(ctx context.Context, title string, opts models.NotificationOptions) error
}

type Renderer struct {
	logger *slog.Logger
}

func NewRenderer(logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{logger: logger}
}

// Render builds the presentation for a canonical notification.
func (r *Renderer) Render(c models.CanonicalNotification) models.NotificationOptions {
	return models.NotificationOptions{
		Body:  c.Body,
		Icon:  c.Icon,
		Badge: c.Badge,
		Tag:   c.Tag,
		Data:  c.Data,
		Actions: []models.Action{
			{Action: models.ActionOpen, Title: "Open"},
			{Action: models.ActionDismiss, Title: "Dismiss"},
		},
		// Chat notifications stay until the user acts on them.
		RequireInteraction: c.Data.Type == models.NotificationTypeMessage,
		Vibrate:            append([]int(nil), vibratePattern...),
	}
}

// Show renders and displays c. A failing host is logged and reported but not
// retried; the push counts as delivered once display was attempted.
func (r *Renderer) Show(ctx context.Context, host Shower, c models.CanonicalNotification) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("show notification panicked", "tag", c.Tag, "panic", rec)
			err = errShowPanicked
		}
	}()

	opts := r.Render(c)
	if err := host.ShowNotification(ctx, c.Title, opts); err != nil {
		r.logger.Error("show notification failed", "tag", c.Tag, "type", c.Data.Type, "error", err)
		return err
	}
	r.logger.Debug("notification shown", "tag", c.Tag, "type", c.Data.Type, "require_interaction", opts.RequireInteraction)
	return nil
}
