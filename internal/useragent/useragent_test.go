package useragent

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/wellio/pushagent/internal/database"
	"github.com/wellio/pushagent/internal/ece"
	"github.com/wellio/pushagent/internal/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Initialize(filepath.Join(t.TempDir(), "platform.db"))
	if err != nil {
		t.Fatalf("database.Initialize() error: %v", err)
	}
	return db
}

func serverKey(t *testing.T) []byte {
	t.Helper()
	k, err := ece.GenerateKeys()
	if err != nil {
		t.Fatalf("GenerateKeys() error: %v", err)
	}
	return k.Private.PublicKey().Bytes()
}

type lifecycle struct {
	reg         *Registry
	scope       string
	skip        bool
	installs    int
	activations int
	installErr  error
}

func (l *lifecycle) Install(ctx context.Context) error {
	l.installs++
	if l.installErr != nil {
		return l.installErr
	}
	if l.skip {
		return l.reg.SkipWaiting(ctx, l.scope)
	}
	return nil
}

func (l *lifecycle) Activate(context.Context) error {
	l.activations++
	return nil
}

func TestRegisterIsIdempotent(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(newTestDB(t))

	first, created, err := r.Register(ctx, "/", "/sw.js")
	if err != nil || !created {
		t.Fatalf("first Register() = %v, %v", created, err)
	}
	second, created, err := r.Register(ctx, "/", "/sw.js")
	if err != nil {
		t.Fatalf("second Register() error: %v", err)
	}
	if created || second.ID != first.ID {
		t.Fatalf("re-registering must return the existing record")
	}

	replaced, created, err := r.Register(ctx, "/", "/sw-v2.js")
	if err != nil || !created || replaced.ID != first.ID || replaced.ScriptURL != "/sw-v2.js" {
		t.Fatalf("script change should update in place: %+v created=%v err=%v", replaced, created, err)
	}
}

func TestEnsureRequiresRegistration(t *testing.T) {
	r := NewRegistry(newTestDB(t))
	_, err := r.Ensure(context.Background(), "/", "v1", &lifecycle{})
	if !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("expected ErrNotRegistered, got %v", err)
	}
}

func TestEnsureInstallsAndActivatesOnce(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(newTestDB(t))
	if _, _, err := r.Register(ctx, "/", "/sw.js"); err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	lc := &lifecycle{reg: r, scope: "/", skip: true}

	reg, err := r.Ensure(ctx, "/", "v1", lc)
	if err != nil {
		t.Fatalf("Ensure() error: %v", err)
	}
	if reg.State != models.WorkerStateActivated || reg.ActiveVersion != "v1" {
		t.Fatalf("unexpected registration %+v", reg)
	}
	if _, err := r.Ensure(ctx, "/", "v1", lc); err != nil {
		t.Fatalf("second Ensure() error: %v", err)
	}
	if lc.installs != 1 || lc.activations != 1 {
		t.Fatalf("installs=%d activations=%d, want 1/1", lc.installs, lc.activations)
	}
}

func TestNewVersionWaitsUntilSkipWaiting(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(newTestDB(t))
	if _, _, err := r.Register(ctx, "/", "/sw.js"); err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if _, err := r.Ensure(ctx, "/", "v1", &lifecycle{reg: r, scope: "/", skip: true}); err != nil {
		t.Fatalf("Ensure(v1) error: %v", err)
	}

	v2 := &lifecycle{reg: r, scope: "/"}
	reg, err := r.Ensure(ctx, "/", "v2", v2)
	if err != nil {
		t.Fatalf("Ensure(v2) error: %v", err)
	}
	if reg.State != models.WorkerStateInstalled || reg.WaitingVersion != "v2" || reg.ActiveVersion != "v1" {
		t.Fatalf("v2 should be waiting: %+v", reg)
	}

	if err := r.SkipWaiting(ctx, "/"); err != nil {
		t.Fatalf("SkipWaiting() error: %v", err)
	}
	reg, err = r.Ensure(ctx, "/", "v2", v2)
	if err != nil {
		t.Fatalf("Ensure(v2) after skip error: %v", err)
	}
	if reg.ActiveVersion != "v2" || reg.State != models.WorkerStateActivated {
		t.Fatalf("v2 should be active: %+v", reg)
	}
	if v2.installs != 1 || v2.activations != 1 {
		t.Fatalf("v2 installs=%d activations=%d", v2.installs, v2.activations)
	}
}

func TestFailedInstallIsRedundant(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(newTestDB(t))
	if _, _, err := r.Register(ctx, "/", "/sw.js"); err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	boom := errors.New("cache unavailable")
	if _, err := r.Ensure(ctx, "/", "v1", &lifecycle{installErr: boom}); !errors.Is(err, boom) {
		t.Fatalf("expected install error, got %v", err)
	}
	reg, err := r.Get(ctx, "/")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if reg.State != models.WorkerStateRedundant {
		t.Fatalf("state = %s, want redundant", reg.State)
	}
}

func TestPushManagerSubscribe(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	r := NewRegistry(db)
	m := NewPushManager(db, "https://agent.wellio.test/")
	key := serverKey(t)

	if _, err := m.Subscribe(ctx, "/", models.UserTypeCoach, SubscribeOptions{UserVisibleOnly: true, ApplicationServerKey: key}); !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("expected ErrNotRegistered, got %v", err)
	}
	if _, _, err := r.Register(ctx, "/", "/sw.js"); err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if _, err := m.Subscribe(ctx, "/", models.UserTypeCoach, SubscribeOptions{ApplicationServerKey: key}); !errors.Is(err, ErrUserVisibleOnly) {
		t.Fatalf("expected ErrUserVisibleOnly, got %v", err)
	}
	if _, err := m.Subscribe(ctx, "/", models.UserTypeCoach, SubscribeOptions{UserVisibleOnly: true, ApplicationServerKey: key[:10]}); !errors.Is(err, ErrInvalidServerKey) {
		t.Fatalf("expected ErrInvalidServerKey, got %v", err)
	}

	sub, err := m.Subscribe(ctx, "/", models.UserTypeCoach, SubscribeOptions{UserVisibleOnly: true, ApplicationServerKey: key})
	if err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}
	if !strings.HasPrefix(sub.Endpoint, "https://agent.wellio.test/push/") || strings.HasSuffix(sub.Endpoint, "/push/") {
		t.Fatalf("endpoint = %q", sub.Endpoint)
	}
	wp := sub.WebPush()
	if wp.Endpoint != sub.Endpoint || wp.Keys.P256dh == "" || wp.Keys.Auth == "" {
		t.Fatalf("webpush value incomplete: %+v", wp)
	}
	keys, err := sub.Keys()
	if err != nil {
		t.Fatalf("Keys() error: %v", err)
	}
	if keys.P256DH() != wp.Keys.P256dh {
		t.Fatalf("private key does not match advertised public key")
	}

	again, err := m.Subscribe(ctx, "/", models.UserTypeCoach, SubscribeOptions{UserVisibleOnly: true, ApplicationServerKey: key})
	if err != nil || again.ID != sub.ID {
		t.Fatalf("same key must return existing subscription: %v", err)
	}
	if _, err := m.Subscribe(ctx, "/", models.UserTypeCoach, SubscribeOptions{UserVisibleOnly: true, ApplicationServerKey: serverKey(t)}); !errors.Is(err, ErrKeyMismatch) {
		t.Fatalf("expected ErrKeyMismatch, got %v", err)
	}

	other, err := m.Subscribe(ctx, "/", models.UserTypeClient, SubscribeOptions{UserVisibleOnly: true, ApplicationServerKey: key})
	if err != nil || other.ID == sub.ID {
		t.Fatalf("roles must get separate subscriptions: %v", err)
	}

	byToken, err := m.ByToken(ctx, sub.Token)
	if err != nil || byToken.ID != sub.ID {
		t.Fatalf("ByToken() = %v, %v", byToken, err)
	}
}

func TestPushManagerUnsubscribeAndTouch(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	base := time.Unix(1_700_000_000, 0)
	r := NewRegistry(db)
	m := NewPushManager(db, "https://agent.wellio.test").WithClock(func() time.Time { return base })
	if _, _, err := r.Register(ctx, "/", "/sw.js"); err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	sub, err := m.Subscribe(ctx, "/", models.UserTypeCoach, SubscribeOptions{UserVisibleOnly: true, ApplicationServerKey: serverKey(t)})
	if err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}

	if err := m.Touch(ctx, sub.ID); err != nil {
		t.Fatalf("Touch() error: %v", err)
	}
	got, err := m.GetSubscription(ctx, "/", models.UserTypeCoach)
	if err != nil || got == nil || got.LastSeenAt == nil || !got.LastSeenAt.Equal(base) {
		t.Fatalf("last seen not recorded: %+v, %v", got, err)
	}

	existed, err := m.Unsubscribe(ctx, "/", models.UserTypeCoach)
	if err != nil || !existed {
		t.Fatalf("Unsubscribe() = %v, %v", existed, err)
	}
	existed, err = m.Unsubscribe(ctx, "/", models.UserTypeCoach)
	if err != nil || existed {
		t.Fatalf("second Unsubscribe() = %v, %v", existed, err)
	}
	if got, err := m.GetSubscription(ctx, "/", models.UserTypeCoach); err != nil || got != nil {
		t.Fatalf("subscription should be gone: %+v, %v", got, err)
	}
	if _, err := m.ByToken(ctx, sub.Token); !errors.Is(err, ErrSubscriptionNotFound) {
		t.Fatalf("expected ErrSubscriptionNotFound, got %v", err)
	}
}

func TestPushManagerUnavailableWithoutBaseURL(t *testing.T) {
	m := NewPushManager(newTestDB(t), "")
	if m.Available() {
		t.Fatalf("push must be unavailable without a base url")
	}
	_, err := m.Subscribe(context.Background(), "/", models.UserTypeCoach, SubscribeOptions{UserVisibleOnly: true})
	if !errors.Is(err, ErrPushUnavailable) {
		t.Fatalf("expected ErrPushUnavailable, got %v", err)
	}
}

type countingPrompter struct {
	answer models.PermissionState
	calls  int
}

func (p *countingPrompter) Prompt(context.Context, string) (models.PermissionState, error) {
	p.calls++
	return p.answer, nil
}

func TestPermissionsPromptOnceAndRemember(t *testing.T) {
	ctx := context.Background()
	prompter := &countingPrompter{answer: models.PermissionDenied}
	p := NewPermissions(newTestDB(t), "https://app.wellio.test", prompter)

	for i := 0; i < 2; i++ {
		state, err := p.Request(ctx)
		if err != nil || state != models.PermissionDenied {
			t.Fatalf("Request() = %s, %v", state, err)
		}
	}
	if prompter.calls != 1 {
		t.Fatalf("denied must not be re-prompted, calls=%d", prompter.calls)
	}

	if err := p.Reset(ctx); err != nil {
		t.Fatalf("Reset() error: %v", err)
	}
	prompter.answer = models.PermissionGranted
	if state, _ := p.Request(ctx); state != models.PermissionGranted {
		t.Fatalf("state = %s after reset", state)
	}
}

func TestPermissionsDismissedPromptStaysDefault(t *testing.T) {
	ctx := context.Background()
	prompter := &countingPrompter{answer: models.PermissionDefault}
	p := NewPermissions(newTestDB(t), "https://app.wellio.test", prompter)

	state, err := p.Request(ctx)
	if err != nil || state != models.PermissionDefault {
		t.Fatalf("Request() = %s, %v", state, err)
	}
	if stored, _ := p.State(ctx); stored != models.PermissionDefault {
		t.Fatalf("dismissal must not be stored, got %s", stored)
	}
	if _, err := p.Request(ctx); err != nil {
		t.Fatalf("second Request() error: %v", err)
	}
	if prompter.calls != 2 {
		t.Fatalf("dismissed prompt should be asked again, calls=%d", prompter.calls)
	}
}

func TestLinePrompter(t *testing.T) {
	var out strings.Builder
	p := LinePrompter{In: strings.NewReader("yes\n"), Out: &out}
	state, err := p.Prompt(context.Background(), "https://app.wellio.test")
	if err != nil || state != models.PermissionGranted {
		t.Fatalf("Prompt() = %s, %v", state, err)
	}
	if !strings.Contains(out.String(), "https://app.wellio.test") {
		t.Fatalf("prompt text missing origin: %q", out.String())
	}
}

func TestTrayReplacesByTag(t *testing.T) {
	tray := NewTray()
	first := tray.Show("a", models.NotificationOptions{Tag: "wellio-message-1"})
	tray.Show("b", models.NotificationOptions{Tag: "other"})
	replaced := tray.Show("c", models.NotificationOptions{Tag: "wellio-message-1"})

	list := tray.List()
	if len(list) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(list))
	}
	if list[0].Title != "b" || list[1].Title != "c" {
		t.Fatalf("unexpected order: %s, %s", list[0].Title, list[1].Title)
	}
	if _, err := tray.Get(first.ID); !errors.Is(err, ErrNotificationNotFound) {
		t.Fatalf("replaced entry should be gone, got %v", err)
	}

	if err := tray.Handle(replaced.ID).Close(context.Background()); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if tray.Close(replaced.ID) {
		t.Fatalf("entry closed twice")
	}
	if len(tray.List()) != 1 {
		t.Fatalf("expected 1 entry after close")
	}
}

func TestCapabilitiesSupported(t *testing.T) {
	if (Capabilities{ServiceWorker: true, PushManager: true}).Supported() {
		t.Fatalf("missing notifications must be unsupported")
	}
	if !(Capabilities{ServiceWorker: true, PushManager: true, Notifications: true}).Supported() {
		t.Fatalf("all capabilities present must be supported")
	}
}
