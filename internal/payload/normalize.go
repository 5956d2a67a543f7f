// Package payload turns raw push message bodies into canonical notifications.
package payload

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/wellio/pushagent/internal/models"
)

// Defaults are the values used for every field a payload leaves out.
type Defaults struct {
	AppName string
	Title   string
	Body    string
	Icon    string
	Badge   string
	// Role fills data.userType when the producer did not say who the push is for.
	Role models.UserType
	// LandingURL becomes data.url for pushes that carry no payload at all.
	LandingURL string
}

func DefaultDefaults(role models.UserType, landingURL string) Defaults {
	return Defaults{
		AppName:    "wellio",
		Title:      "Wellio",
		Body:       "You have a new notification",
		Icon:       "/icons/icon-192x192.png",
		Badge:      "/icons/badge-72x72.png",
		Role:       role,
		LandingURL: landingURL,
	}
}

type Normalizer struct {
	defaults Defaults
	nowFn    func() time.Time
}

func NewNormalizer(defaults Defaults) *Normalizer {
	return &Normalizer{defaults: defaults, nowFn: time.Now}
}

// WithClock replaces the clock used for synthesized tags.
func (n *Normalizer) WithClock(nowFn func() time.Time) *Normalizer {
	n.nowFn = nowFn
	return n
}

// wirePayload mirrors the producer format. Every field is optional and loosely
// typed so one wrong field does not discard the rest.
type wirePayload struct {
	Title   any
	Body    any
	Message any
	Icon    any
	Badge   any
	Tag     any
	Type    any
	Data    map[string]any
}

// Normalize never fails: an absent body yields the defaults, a body that is not
// a JSON object is shown as plain text.
func (n *Normalizer) Normalize(body []byte) models.CanonicalNotification {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return n.empty()
	}

	raw, ok := decodeObject(trimmed)
	if !ok {
		var text string
		if err := json.Unmarshal(trimmed, &text); err == nil && text != "" {
			return n.plainText(text)
		}
		return n.plainText(string(body))
	}

	p := wirePayload{
		Title:   raw["title"],
		Body:    raw["body"],
		Message: raw["message"],
		Icon:    raw["icon"],
		Badge:   raw["badge"],
		Tag:     raw["tag"],
		Type:    raw["type"],
	}
	if d, ok := raw["data"].(map[string]any); ok {
		p.Data = d
	}
	return n.fromPayload(p)
}

func (n *Normalizer) fromPayload(p wirePayload) models.CanonicalNotification {
	d := n.defaults

	merged := map[string]any{"type": string(models.NotificationTypeDefault)}
	if d.Role != "" {
		merged["userType"] = string(d.Role)
	}
	for k, v := range p.Data {
		merged[k] = v
	}

	typ := string(models.NotificationTypeDefault)
	if s, ok := p.Data["type"].(string); ok && s != "" {
		typ = s
	} else if s, ok := p.Type.(string); ok && s != "" {
		typ = s
	}
	merged["type"] = typ

	data := models.DataFromMap(merged)

	tag := stringOr(p.Tag, "")
	if tag == "" {
		tag = n.typedTag(data.Type)
	}

	return models.CanonicalNotification{
		Title: stringOr(p.Title, d.Title),
		Body:  stringOr(p.Body, stringOr(p.Message, d.Body)),
		Icon:  stringOr(p.Icon, d.Icon),
		Badge: stringOr(p.Badge, d.Badge),
		Tag:   tag,
		Data:  data,
	}
}

func (n *Normalizer) empty() models.CanonicalNotification {
	c := n.base()
	c.Data.URL = n.defaults.LandingURL
	return c
}

func (n *Normalizer) plainText(text string) models.CanonicalNotification {
	c := n.base()
	c.Body = text
	return c
}

func (n *Normalizer) base() models.CanonicalNotification {
	d := n.defaults
	return models.CanonicalNotification{
		Title: d.Title,
		Body:  d.Body,
		Icon:  d.Icon,
		Badge: d.Badge,
		Tag:   d.AppName + "-notification",
		Data: models.NotificationData{
			Type:     models.NotificationTypeDefault,
			UserType: d.Role,
		},
	}
}

func (n *Normalizer) typedTag(t models.NotificationType) string {
	return fmt.Sprintf("%s-%s-%d", n.defaults.AppName, t, n.nowFn().UnixMilli())
}

func decodeObject(b []byte) (map[string]any, bool) {
	if b[0] != '{' {
		return nil, false
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, false
	}
	return m, true
}

func stringOr(v any, fallback string) string {
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
