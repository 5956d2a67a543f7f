// Package subscription drives a device's push subscription for one role:
// permission, key retrieval, local subscription and server persistence.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	webpush "github.com/SherClockHolmes/webpush-go"
	"golang.org/x/sync/singleflight"

	"github.com/wellio/pushagent/internal/models"
	"github.com/wellio/pushagent/internal/pushapi"
	"github.com/wellio/pushagent/internal/retry"
	"github.com/wellio/pushagent/internal/useragent"
)

type State string

const (
	StateUnknown       State = "unknown"
	StateUnsupported   State = "unsupported"
	StateChecking      State = "checking"
	StateUnsubscribed  State = "unsubscribed"
	StateSubscribing   State = "subscribing"
	StateSubscribed    State = "subscribed"
	StateUnsubscribing State = "unsubscribing"
)

var (
	ErrUnsupported      = errors.New("push notifications are not supported")
	ErrPermissionDenied = errors.New("notification permission not granted")
)

const (
	DefaultScope     = "/"
	DefaultScriptURL = "/sw.js"
)

// API is the role-scoped server contract.
type API interface {
	VAPIDPublicKey(ctx context.Context) ([]byte, error)
	Subscribe(ctx context.Context, sub webpush.Subscription) error
	DeleteSubscription(ctx context.Context) error
	Status(ctx context.Context) (bool, error)
}

// Notifier shows short user-facing messages.
type Notifier interface {
	Info(msg string)
	Error(msg string, err error)
}

type Options struct {
	Profile      RoleProfile
	Scope        string
	ScriptURL    string
	API          API
	Registry     *useragent.Registry
	Push         *useragent.PushManager
	Permissions  *useragent.Permissions
	Capabilities useragent.Capabilities
	Notifier     Notifier
	Logger       *slog.Logger
}

type Manager struct {
	profile   RoleProfile
	scope     string
	scriptURL string
	api       API
	registry  *useragent.Registry
	push      *useragent.PushManager
	perms     *useragent.Permissions
	caps      useragent.Capabilities
	notifier  Notifier
	logger    *slog.Logger

	opMu   sync.Mutex
	flight singleflight.Group

	mu         sync.Mutex
	state      State
	snap       models.PushSubscriptionState
	registered bool
}

func New(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = logNotifier{logger: logger}
	}
	scope := opts.Scope
	if scope == "" {
		scope = DefaultScope
	}
	scriptURL := opts.ScriptURL
	if scriptURL == "" {
		scriptURL = DefaultScriptURL
	}
	return &Manager{
		profile:   opts.Profile,
		scope:     scope,
		scriptURL: scriptURL,
		api:       opts.API,
		registry:  opts.Registry,
		push:      opts.Push,
		perms:     opts.Permissions,
		caps:      opts.Capabilities,
		notifier:  notifier,
		logger:    logger.With("role", opts.Profile.Role),
		state:     StateUnknown,
	}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Snapshot is the last computed state. It is a cache, not the system of record.
func (m *Manager) Snapshot() models.PushSubscriptionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.snap
	if s.Permission != nil {
		s.Permission = models.PermissionPtr(*s.Permission)
	}
	return s
}

// CheckSupport reports whether push can work here. It leaves the state alone.
func (m *Manager) CheckSupport() bool {
	return m.caps.Supported() && m.push != nil && m.push.Available()
}

// recordSupport records the outcome of CheckSupport in the snapshot.
func (m *Manager) recordSupport() bool {
	supported := m.CheckSupport()
	m.mu.Lock()
	m.snap.IsSupported = supported
	if !supported {
		m.state = StateUnsupported
	}
	m.mu.Unlock()
	return supported
}

// Register registers the worker once per manager and refreshes the state.
func (m *Manager) Register(ctx context.Context) (models.PushSubscriptionState, error) {
	if !m.recordSupport() {
		return m.Snapshot(), ErrUnsupported
	}
	if err := m.ensureRegistered(ctx); err != nil {
		return m.Snapshot(), err
	}
	return m.CheckSubscription(ctx), nil
}

func (m *Manager) ensureRegistered(ctx context.Context) error {
	m.mu.Lock()
	registered := m.registered
	m.mu.Unlock()
	if registered {
		return nil
	}

	reg, created, err := m.registry.Register(ctx, m.scope, m.scriptURL)
	if err != nil {
		return fmt.Errorf("register worker: %w", err)
	}
	m.logger.Info("worker registered", "scope", reg.Scope, "script_url", reg.ScriptURL, "created", created)

	m.mu.Lock()
	m.registered = true
	m.mu.Unlock()
	return nil
}

// CheckSubscription recomputes the state from the push manager, the stored
// permission and, for roles with a status endpoint, the server.
func (m *Manager) CheckSubscription(ctx context.Context) models.PushSubscriptionState {
	if !m.recordSupport() {
		return m.Snapshot()
	}
	m.begin(StateChecking)

	subscribed, err := m.localSubscribed(ctx)
	if err != nil {
		m.logger.Warn("worker registration unavailable", "error", err)
		m.mu.Lock()
		m.snap.IsSupported = false
		m.snap.IsLoading = false
		m.state = StateUnsupported
		m.mu.Unlock()
		return m.Snapshot()
	}

	if subscribed && m.profile.HasStatus {
		enabled, err := m.api.Status(ctx)
		if err != nil {
			m.logger.Warn("push status check failed, using local state", "error", err)
		} else {
			subscribed = enabled
		}
	}

	m.finish(subscribed, m.permission(ctx))
	return m.Snapshot()
}

// Subscribe enables push for the role. Callers arriving while a subscribe is
// in flight share its outcome. A false result with a nil error means the
// user did not grant permission.
func (m *Manager) Subscribe(ctx context.Context) (bool, error) {
	v, err, shared := m.flight.Do("subscribe", func() (any, error) {
		return m.subscribe(ctx)
	})
	if shared {
		m.logger.Debug("subscribe coalesced with in-flight call")
	}
	ok, _ := v.(bool)
	return ok, err
}

func (m *Manager) subscribe(ctx context.Context) (bool, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if !m.recordSupport() {
		m.notifier.Error("Push notifications are not supported on this device", ErrUnsupported)
		return false, ErrUnsupported
	}

	if err := m.ensureRegistered(ctx); err != nil {
		m.notifier.Error("Failed to enable push notifications", err)
		return false, err
	}

	prev := m.State()
	m.begin(StateSubscribing)

	perm, err := m.perms.Request(ctx)
	if err != nil {
		m.finish(false, models.PermissionPtr(perm))
		m.notifier.Error("Could not ask for notification permission", err)
		return false, fmt.Errorf("request permission: %w", err)
	}
	if perm != models.PermissionGranted {
		m.finish(false, models.PermissionPtr(perm))
		m.logger.Info("notification permission not granted", "permission", perm)
		m.notifier.Info("Notifications are blocked. Allow them in your settings to get push notifications")
		return false, nil
	}

	existing, err := m.push.GetSubscription(ctx, m.scope, m.profile.Role)
	if err == nil && existing != nil && prev == StateSubscribed {
		m.finish(true, models.PermissionPtr(perm))
		return true, nil
	}

	key, err := m.api.VAPIDPublicKey(ctx)
	if err != nil {
		m.finish(prev == StateSubscribed, models.PermissionPtr(perm))
		m.notifier.Error("Failed to enable push notifications", err)
		return false, fmt.Errorf("fetch application server key: %w", err)
	}

	subOpts := useragent.SubscribeOptions{UserVisibleOnly: true, ApplicationServerKey: key}
	sub, err := m.push.Subscribe(ctx, m.scope, m.profile.Role, subOpts)
	if errors.Is(err, useragent.ErrKeyMismatch) {
		// the server rotated its key; the old subscription can no longer be used
		m.logger.Info("application server key changed, replacing local subscription")
		if _, err = m.push.Unsubscribe(ctx, m.scope, m.profile.Role); err == nil {
			sub, err = m.push.Subscribe(ctx, m.scope, m.profile.Role, subOpts)
		}
	}
	if err != nil {
		m.finish(false, models.PermissionPtr(perm))
		m.notifier.Error("Failed to enable push notifications", err)
		return false, fmt.Errorf("push subscribe: %w", err)
	}

	err = m.profile.Persist.Do(ctx, func(ctx context.Context, attempt int) error {
		err := m.api.Subscribe(ctx, sub.WebPush())
		if err == nil {
			return nil
		}
		m.logger.Warn("persist subscription failed", "attempt", attempt, "max_attempts", m.profile.Persist.MaxAttempts, "error", err)
		if pushapi.IsStatus(err, http.StatusUnauthorized) || pushapi.IsStatus(err, http.StatusForbidden) {
			return retry.Stop(err)
		}
		return err
	})
	if err != nil {
		if _, unsubErr := m.push.Unsubscribe(context.WithoutCancel(ctx), m.scope, m.profile.Role); unsubErr != nil {
			m.logger.Error("rollback of local subscription failed", "error", unsubErr)
			err = errors.Join(err, unsubErr)
		}
		m.finish(false, models.PermissionPtr(perm))
		m.notifier.Error("Failed to enable push notifications", err)
		return false, fmt.Errorf("persist subscription: %w", err)
	}

	m.finish(true, models.PermissionPtr(perm))
	m.logger.Info("push subscription enabled", "endpoint", sub.Endpoint)
	m.notifier.Info("Push notifications enabled")
	return true, nil
}

// Unsubscribe removes the local subscription and asks the server to forget
// it. The state ends unsubscribed even when the server call fails.
func (m *Manager) Unsubscribe(ctx context.Context) bool {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.begin(StateUnsubscribing)
	ok := true

	var existed bool
	if m.push != nil {
		var err error
		if existed, err = m.push.Unsubscribe(ctx, m.scope, m.profile.Role); err != nil {
			ok = false
			m.logger.Warn("local unsubscribe failed", "error", err)
		}
	}
	if m.api != nil {
		if err := m.api.DeleteSubscription(ctx); err != nil {
			m.logger.Warn("server subscription delete failed", "error", err)
		}
	}

	m.finish(false, m.permission(ctx))
	m.logger.Info("push subscription disabled", "had_local", existed)
	m.notifier.Info("Push notifications disabled")
	return ok
}

func (m *Manager) localSubscribed(ctx context.Context) (bool, error) {
	if _, err := m.registry.Get(ctx, m.scope); err != nil {
		if errors.Is(err, useragent.ErrNotRegistered) {
			return false, nil
		}
		return false, err
	}
	sub, err := m.push.GetSubscription(ctx, m.scope, m.profile.Role)
	if err != nil {
		return false, err
	}
	return sub != nil, nil
}

func (m *Manager) permission(ctx context.Context) *models.PermissionState {
	if m.perms == nil {
		return nil
	}
	perm, err := m.perms.State(ctx)
	if err != nil {
		m.logger.Warn("permission lookup failed", "error", err)
		return nil
	}
	return models.PermissionPtr(perm)
}

func (m *Manager) begin(s State) {
	m.mu.Lock()
	m.state = s
	m.snap.IsLoading = true
	m.mu.Unlock()
}

func (m *Manager) finish(subscribed bool, perm *models.PermissionState) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.snap.IsLoading = false
	m.snap.IsSubscribed = subscribed
	if perm != nil {
		m.snap.Permission = perm
	}
	if subscribed {
		m.state = StateSubscribed
	} else {
		m.state = StateUnsubscribed
	}
}

type logNotifier struct {
	logger *slog.Logger
}

func (n logNotifier) Info(msg string) { n.logger.Info(msg) }

func (n logNotifier) Error(msg string, err error) { n.logger.Error(msg, "error", err) }
