package deeplink

import (
	"net/url"
	"strings"
	"testing"

	"github.com/wellio/pushagent/internal/models"
)

func newTestResolver(t *testing.T) *Resolver {
	t.Helper()
	origin, err := url.Parse("https://app.wellio.test")
	if err != nil {
		t.Fatalf("parse origin: %v", err)
	}
	return NewResolver(DefaultRoutes, origin)
}

func TestResolveTable(t *testing.T) {
	r := newTestResolver(t)

	tests := []struct {
		name string
		data models.NotificationData
		want string
	}{
		{
			name: "coach message with client",
			data: models.NotificationData{Type: models.NotificationTypeMessage, UserType: models.UserTypeCoach, ClientID: "c1"},
			want: "/communication?client=c1",
		},
		{
			name: "coach message without client",
			data: models.NotificationData{Type: models.NotificationTypeMessage, UserType: models.UserTypeCoach},
			want: "/communication",
		},
		{
			name: "client message",
			data: models.NotificationData{Type: models.NotificationTypeMessage, UserType: models.UserTypeClient, ClientID: "c1"},
			want: "/client/chat",
		},
		{
			name: "coach plan assigned",
			data: models.NotificationData{Type: models.NotificationTypePlanAssigned, UserType: models.UserTypeCoach},
			want: "/dashboard",
		},
		{
			name: "client plan assigned",
			data: models.NotificationData{Type: models.NotificationTypePlanAssigned, UserType: models.UserTypeClient},
			want: "/client/my-plan",
		},
		{
			name: "coach goal update",
			data: models.NotificationData{Type: models.NotificationTypeGoalUpdate, UserType: models.UserTypeCoach, ClientID: "c 9"},
			want: "/clients/c%209?tab=goals",
		},
		{
			name: "coach goal update without client",
			data: models.NotificationData{Type: models.NotificationTypeGoalUpdate, UserType: models.UserTypeCoach},
			want: "/client",
		},
		{
			name: "coach reminder",
			data: models.NotificationData{Type: models.NotificationTypeReminder, UserType: models.UserTypeCoach},
			want: "/dashboard",
		},
		{
			name: "client test",
			data: models.NotificationData{Type: models.NotificationTypeTest, UserType: models.UserTypeClient},
			want: "/client",
		},
		{
			name: "default without role",
			data: models.NotificationData{Type: models.NotificationTypeDefault},
			want: "/client",
		},
		{
			name: "message query escaping",
			data: models.NotificationData{Type: models.NotificationTypeMessage, UserType: models.UserTypeCoach, ClientID: "a&b"},
			want: "/communication?client=a%26b",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.Resolve(tt.data); got != tt.want {
				t.Fatalf("Resolve() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolveProducerURL(t *testing.T) {
	r := newTestResolver(t)

	tests := []struct {
		name string
		url  string
		want string
	}{
		{name: "relative echoed", url: "/sessions/7?from=push", want: "/sessions/7?from=push"},
		{name: "same origin absolute", url: "https://app.wellio.test/goals#latest", want: "/goals#latest"},
		{name: "foreign origin ignored", url: "https://evil.test/phish", want: "/communication"},
		{name: "protocol relative ignored", url: "//evil.test/phish", want: "/communication"},
		{name: "scheme only ignored", url: "javascript:alert(1)", want: "/communication"},
		{name: "bare relative resolved from root", url: "dashboard/plans?week=2", want: "/dashboard/plans?week=2"},
		{name: "query only resolved from root", url: "?tab=goals", want: "/?tab=goals"},
		{name: "dot segments cleaned", url: "../settings", want: "/settings"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.Resolve(models.NotificationData{
				Type:     models.NotificationTypeMessage,
				UserType: models.UserTypeCoach,
				URL:      tt.url,
			})
			if got != tt.want {
				t.Fatalf("Resolve() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolveIsTotal(t *testing.T) {
	r := newTestResolver(t)

	types := []models.NotificationType{
		models.NotificationTypeMessage,
		models.NotificationTypePlanAssigned,
		models.NotificationTypeTest,
		models.NotificationTypeReminder,
		models.NotificationTypeGoalUpdate,
		models.NotificationTypeDefault,
		"",
		"unknown",
	}
	roles := []models.UserType{models.UserTypeCoach, models.UserTypeClient, ""}
	clientIDs := []string{"", "c1"}
	urls := []string{"", "/x", "https://other.test/y"}

	for _, typ := range types {
		for _, role := range roles {
			for _, id := range clientIDs {
				for _, u := range urls {
					d := models.NotificationData{Type: typ, UserType: role, ClientID: id, URL: u}
					got := r.Resolve(d)
					if !strings.HasPrefix(got, "/") || strings.HasPrefix(got, "//") {
						t.Fatalf("Resolve(%+v) = %q, want a same-origin relative path", d, got)
					}
					if u == "/x" && got != "/x" {
						t.Fatalf("Resolve(%+v) = %q, want producer url echoed", d, got)
					}
				}
			}
		}
	}
}

func TestResolveEmptyRoutesFallBackToRoot(t *testing.T) {
	r := NewResolver(Routes{}, nil)

	got := r.Resolve(models.NotificationData{Type: models.NotificationTypePlanAssigned, UserType: models.UserTypeClient})
	if got != "/" {
		t.Fatalf("Resolve() = %q, want /", got)
	}
}
