// Package deeplink maps notification data onto same-origin application paths.
package deeplink

import (
	"net/url"
	"strings"

	"github.com/wellio/pushagent/internal/models"
)

// Routes holds the application paths the resolver can produce.
type Routes struct {
	CoachDashboard     string
	CoachCommunication string
	CoachClientDetail  string // joined with the client id, then "?tab=goals"
	ClientLanding      string
	ClientCoachChat    string
	ClientPlan         string
}

var DefaultRoutes = Routes{
	CoachDashboard:     "/dashboard",
	CoachCommunication: "/communication",
	CoachClientDetail:  "/clients",
	ClientLanding:      "/client",
	ClientCoachChat:    "/client/chat",
	ClientPlan:         "/client/my-plan",
}

type resolveFunc func(r Routes, d models.NotificationData) string

// Resolver picks a path per notification type. Types without an entry get the
// role landing path.
type Resolver struct {
	routes Routes
	origin *url.URL
	table  map[models.NotificationType]resolveFunc
}

// NewResolver builds a resolver. origin is the application origin; absolute
// producer URLs are only honoured when they point at it.
func NewResolver(routes Routes, origin *url.URL) *Resolver {
	return &Resolver{
		routes: routes,
		origin: origin,
		table: map[models.NotificationType]resolveFunc{
			models.NotificationTypeMessage:      resolveMessage,
			models.NotificationTypePlanAssigned: resolvePlanAssigned,
			models.NotificationTypeGoalUpdate:   resolveGoalUpdate,
		},
	}
}

// Resolve returns a non-empty same-origin path for any input.
func (r *Resolver) Resolve(d models.NotificationData) string {
	if p, ok := r.producerURL(d.URL); ok {
		return p
	}
	if fn, ok := r.table[d.Type]; ok {
		if p := fn(r.routes, d); isRelativePath(p) {
			return p
		}
	}
	return r.Landing(d.UserType)
}

// Landing is the default path for a role.
func (r *Resolver) Landing(role models.UserType) string {
	if role == models.UserTypeCoach {
		return nonEmpty(r.routes.CoachDashboard, "/")
	}
	return nonEmpty(r.routes.ClientLanding, "/")
}

func (r *Resolver) producerURL(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if isRelativePath(raw) {
		return raw, true
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	if !u.IsAbs() && u.Host == "" {
		// "dashboard" or "?tab=goals" hang off the app root
		u = (&url.URL{Path: "/"}).ResolveReference(u)
	} else if r.origin == nil || !strings.EqualFold(u.Scheme, r.origin.Scheme) || !strings.EqualFold(u.Host, r.origin.Host) {
		return "", false
	}
	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	if u.RawQuery != "" {
		p += "?" + u.RawQuery
	}
	if u.Fragment != "" {
		p += "#" + u.EscapedFragment()
	}
	return p, true
}

func resolveMessage(r Routes, d models.NotificationData) string {
	if d.UserType != models.UserTypeCoach {
		return r.ClientCoachChat
	}
	if d.ClientID != "" {
		return r.CoachCommunication + "?client=" + url.QueryEscape(d.ClientID)
	}
	return r.CoachCommunication
}

func resolvePlanAssigned(r Routes, d models.NotificationData) string {
	if d.UserType == models.UserTypeCoach {
		return r.CoachDashboard
	}
	return r.ClientPlan
}

func resolveGoalUpdate(r Routes, d models.NotificationData) string {
	if d.UserType == models.UserTypeCoach && d.ClientID != "" {
		return strings.TrimRight(r.CoachClientDetail, "/") + "/" + url.PathEscape(d.ClientID) + "?tab=goals"
	}
	return r.ClientLanding
}

// isRelativePath accepts "/x" but not protocol-relative "//host/x".
func isRelativePath(p string) bool {
	return strings.HasPrefix(p, "/") && !strings.HasPrefix(p, "//") && !strings.HasPrefix(p, `/\`)
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
