package agent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/wellio/pushagent/internal/database"
	"github.com/wellio/pushagent/internal/deeplink"
	"github.com/wellio/pushagent/internal/models"
	"github.com/wellio/pushagent/internal/payload"
	"github.com/wellio/pushagent/internal/useragent"
	"github.com/wellio/pushagent/internal/websocket"
)

type recordingOpener struct {
	mu     sync.Mutex
	opened []string
}

func (o *recordingOpener) Open(_ context.Context, u string) error {
	o.mu.Lock()
	o.opened = append(o.opened, u)
	o.mu.Unlock()
	return nil
}

type fixture struct {
	agent    *Agent
	registry *useragent.Registry
	tray     *useragent.Tray
	opener   *recordingOpener
}

func newFixture(t *testing.T, role models.UserType) *fixture {
	t.Helper()
	db, err := database.Initialize(filepath.Join(t.TempDir(), "platform.db"))
	if err != nil {
		t.Fatalf("database.Initialize() error: %v", err)
	}
	origin, _ := url.Parse("https://app.wellio.test")
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	resolver := deeplink.NewResolver(deeplink.DefaultRoutes, origin)
	f := &fixture{
		registry: useragent.NewRegistry(db).WithClock(clock),
		tray:     useragent.NewTray().WithClock(clock),
		opener:   &recordingOpener{},
	}
	f.agent = New(Options{
		Scope:      "/",
		Version:    "v1",
		Origin:     origin,
		Registry:   f.registry,
		Tray:       f.tray,
		Hub:        websocket.NewHub(f.opener, logger),
		Resolver:   resolver,
		Normalizer: payload.NewNormalizer(payload.DefaultDefaults(role, resolver.Landing(role))).WithClock(clock),
		Logger:     logger,
	})
	return f
}

func (f *fixture) register(t *testing.T) {
	t.Helper()
	if _, _, err := f.registry.Register(context.Background(), "/", "/sw.js"); err != nil {
		t.Fatalf("Register() error: %v", err)
	}
}

func TestPushBeforeRegistrationIsRejected(t *testing.T) {
	f := newFixture(t, models.UserTypeCoach)
	err := f.agent.Push(context.Background(), nil)
	if !errors.Is(err, useragent.ErrNotRegistered) {
		t.Fatalf("expected ErrNotRegistered, got %v", err)
	}
	if len(f.agent.Notifications()) != 0 {
		t.Fatalf("nothing may be shown without a registration")
	}
}

func TestFirstPushActivatesWorker(t *testing.T) {
	f := newFixture(t, models.UserTypeCoach)
	f.register(t)
	ctx := context.Background()

	if err := f.agent.Push(ctx, nil); err != nil {
		t.Fatalf("Push() error: %v", err)
	}
	reg, err := f.agent.Registration(ctx)
	if err != nil {
		t.Fatalf("Registration() error: %v", err)
	}
	if reg.State != models.WorkerStateActivated || reg.ActiveVersion != "v1" {
		t.Fatalf("registration = %+v", reg)
	}

	entries := f.agent.Notifications()
	if len(entries) != 1 {
		t.Fatalf("tray has %d entries", len(entries))
	}
	if entries[0].Title != "Wellio" || entries[0].Options.Body != "You have a new notification" {
		t.Fatalf("unexpected default notification %+v", entries[0])
	}
	if entries[0].Options.Data.Type != models.NotificationTypeDefault {
		t.Fatalf("type = %q", entries[0].Options.Data.Type)
	}

	// body click with no window open: role landing in a new window
	if err := f.agent.Click(ctx, entries[0].ID, ""); err != nil {
		t.Fatalf("Click() error: %v", err)
	}
	if len(f.opener.opened) != 1 || f.opener.opened[0] != "https://app.wellio.test/dashboard" {
		t.Fatalf("opened = %v", f.opener.opened)
	}
}

func TestCoachMessageClickOpensConversation(t *testing.T) {
	f := newFixture(t, models.UserTypeCoach)
	f.register(t)
	ctx := context.Background()

	body := []byte(`{"title":"New message","body":"hi","data":{"type":"message","userType":"coach","clientId":"c1"}}`)
	if err := f.agent.Push(ctx, body); err != nil {
		t.Fatalf("Push() error: %v", err)
	}
	entries := f.agent.Notifications()
	if len(entries) != 1 || !entries[0].Options.RequireInteraction {
		t.Fatalf("message notification must require interaction: %+v", entries)
	}

	if err := f.agent.Click(ctx, entries[0].ID, "open"); err != nil {
		t.Fatalf("Click() error: %v", err)
	}
	if len(f.opener.opened) != 1 || f.opener.opened[0] != "https://app.wellio.test/communication?client=c1" {
		t.Fatalf("opened = %v", f.opener.opened)
	}
	if len(f.agent.Notifications()) != 0 {
		t.Fatalf("clicked notification must be closed")
	}
}

func TestDismissOnlyCloses(t *testing.T) {
	f := newFixture(t, models.UserTypeClient)
	f.register(t)
	ctx := context.Background()

	if err := f.agent.Push(ctx, []byte(`{"data":{"type":"reminder"}}`)); err != nil {
		t.Fatalf("Push() error: %v", err)
	}
	id := f.agent.Notifications()[0].ID
	if err := f.agent.Click(ctx, id, "dismiss"); err != nil {
		t.Fatalf("Click() error: %v", err)
	}
	if len(f.agent.Notifications()) != 0 {
		t.Fatalf("dismissed notification still shown")
	}
	if len(f.opener.opened) != 0 {
		t.Fatalf("dismiss must not open windows: %v", f.opener.opened)
	}
}

func TestCloseAndUnknownIDs(t *testing.T) {
	f := newFixture(t, models.UserTypeClient)
	f.register(t)
	ctx := context.Background()

	if err := f.agent.Push(ctx, []byte("plain text reminder")); err != nil {
		t.Fatalf("Push() error: %v", err)
	}
	entries := f.agent.Notifications()
	if entries[0].Options.Body != "plain text reminder" {
		t.Fatalf("body = %q", entries[0].Options.Body)
	}
	if err := f.agent.Close(ctx, entries[0].ID); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if len(f.agent.Notifications()) != 0 {
		t.Fatalf("closed notification still shown")
	}
	if err := f.agent.Click(ctx, entries[0].ID, ""); !errors.Is(err, useragent.ErrNotificationNotFound) {
		t.Fatalf("expected ErrNotificationNotFound, got %v", err)
	}
	if err := f.agent.Close(ctx, "missing"); !errors.Is(err, useragent.ErrNotificationNotFound) {
		t.Fatalf("expected ErrNotificationNotFound, got %v", err)
	}
}

func TestSkipWaitingMessageActivatesWaitingVersion(t *testing.T) {
	f := newFixture(t, models.UserTypeCoach)
	f.register(t)
	ctx := context.Background()

	if _, err := f.agent.Ensure(ctx); err != nil {
		t.Fatalf("Ensure() error: %v", err)
	}
	if err := f.registry.SkipWaiting(ctx, "/"); err != nil {
		t.Fatalf("SkipWaiting() error: %v", err)
	}

	f.agent.onPageMessage(ctx, "page-1", models.PageMessage{Type: models.MessageTypeSkipWaiting})
	reg, err := f.agent.Registration(ctx)
	if err != nil {
		t.Fatalf("Registration() error: %v", err)
	}
	if reg.State != models.WorkerStateActivated || reg.ActiveVersion != "v1" {
		t.Fatalf("registration = %+v", reg)
	}
}
