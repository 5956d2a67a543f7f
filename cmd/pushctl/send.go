package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/wellio/pushagent/internal/models"
)

const testTTL = 60

type testPayload struct {
	Title string         `json:"title"`
	Body  string         `json:"body"`
	Data  map[string]any `json:"data"`
}

// sendTest pushes a "test" notification to the local subscription using the
// configured VAPID keys. It only reaches the agent when those keys are the
// ones the subscription was created with.
func (c *cli) sendTest(ctx context.Context) error {
	keys, err := c.cfg.LoadVAPIDKeys()
	if err != nil {
		return err
	}
	sub, err := c.push.GetSubscription(ctx, c.cfg.Push.Scope, c.role)
	if err != nil {
		return err
	}
	if sub == nil {
		return fmt.Errorf("no %s subscription on this device, run subscribe first", c.role)
	}

	message, err := json.Marshal(testPayload{
		Title: "Test notification",
		Body:  "Push notifications are working",
		Data: map[string]any{
			"type":     models.NotificationTypeTest,
			"userType": c.role,
		},
	})
	if err != nil {
		return err
	}

	wp := sub.WebPush()
	resp, err := webpush.SendNotificationWithContext(ctx, message, &wp, &webpush.Options{
		HTTPClient:      &http.Client{Timeout: c.cfg.API.Timeout},
		Subscriber:      keys.Subject,
		VAPIDPublicKey:  keys.PublicKey,
		VAPIDPrivateKey: keys.PrivateKey,
		TTL:             testTTL,
	})
	if err != nil {
		return fmt.Errorf("send test notification: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
		// the endpoint is dead; drop the local record so state stays honest
		if _, err := c.push.Unsubscribe(ctx, c.cfg.Push.Scope, c.role); err != nil {
			c.logger.Warn("remove stale subscription failed", "error", err)
		}
		return fmt.Errorf("subscription endpoint is gone (HTTP %d), removed locally", resp.StatusCode)
	case resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("push rejected: HTTP %d: %s", resp.StatusCode, body)
	}

	fmt.Fprintf(c.out, "test notification accepted (%s)\n", resp.Header.Get("Location"))
	return nil
}
