package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/wellio/pushagent/internal/models"
	"github.com/wellio/pushagent/internal/subscription"
	"github.com/wellio/pushagent/internal/useragent"
)

// fakePlatform serves the coach push API and stands in for the agent's push
// endpoint.
type fakePlatform struct {
	mu        sync.Mutex
	publicKey string
	enabled   bool
	pushes    []*http.Request
	// subscribeStatus overrides the status of POST subscribe when set.
	subscribeStatus int
}

func (p *fakePlatform) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/coach/push/vapid-public-key", func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		defer p.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]string{"publicKey": p.publicKey})
	})
	mux.HandleFunc("POST /api/coach/push/subscribe", func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.subscribeStatus != 0 {
			http.Error(w, `{"error":"database unavailable"}`, p.subscribeStatus)
			return
		}
		p.enabled = true
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("DELETE /api/coach/push/subscription", func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		p.enabled = false
		p.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /api/coach/push/status", func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		defer p.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]bool{"enabled": p.enabled})
	})
	mux.HandleFunc("POST /push/{token}", func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		p.pushes = append(p.pushes, r)
		p.mu.Unlock()
		w.Header().Set("Location", "/push/"+r.PathValue("token")+"/messages/1")
		w.WriteHeader(http.StatusCreated)
	})
	return mux
}

func newTestCLI(t *testing.T, baseURL string, p useragent.Prompter) (*cli, *bytes.Buffer) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "pushctl.yaml")
	yaml := strings.Join([]string{
		"app:",
		"  role: coach",
		"  origin: https://app.wellio.test",
		"push:",
		"  base_url: " + baseURL,
		"api:",
		"  base_url: " + baseURL,
		"  persist_base_delay: 1ms",
		"database:",
		"  path: " + filepath.Join(dir, "platform.db"),
		"vapid:",
		"  keys_dir: " + filepath.Join(dir, "keys"),
		"",
	}, "\n")
	if err := os.WriteFile(path, []byte(yaml), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	c, err := setup(path, "", p, false)
	if err != nil {
		t.Fatalf("setup() error: %v", err)
	}
	var out bytes.Buffer
	c.out = &out
	return c, &out
}

func decodeState(t *testing.T, out *bytes.Buffer) stateOutput {
	t.Helper()
	var s stateOutput
	if err := json.NewDecoder(out).Decode(&s); err != nil {
		t.Fatalf("decode output %q: %v", out.String(), err)
	}
	out.Reset()
	return s
}

func TestSubscribeSendTestUnsubscribe(t *testing.T) {
	platform := &fakePlatform{}
	srv := httptest.NewServer(platform.handler())
	defer srv.Close()

	c, out := newTestCLI(t, srv.URL, useragent.FixedPrompter(models.PermissionGranted))
	ctx := context.Background()

	if err := c.run(ctx, "vapid-keys"); err != nil {
		t.Fatalf("vapid-keys: %v", err)
	}
	keys, err := c.cfg.LoadVAPIDKeys()
	if err != nil {
		t.Fatalf("LoadVAPIDKeys() error: %v", err)
	}
	if !strings.Contains(out.String(), keys.PublicKey) {
		t.Fatalf("vapid-keys output %q does not show the public key", out.String())
	}
	out.Reset()
	platform.publicKey = keys.PublicKey

	if err := c.run(ctx, "subscribe"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	s := decodeState(t, out)
	if !s.IsSubscribed || s.State != subscription.StateSubscribed || s.Role != models.UserTypeCoach {
		t.Fatalf("after subscribe: %+v", s)
	}

	if err := c.run(ctx, "status"); err != nil {
		t.Fatalf("status: %v", err)
	}
	if s := decodeState(t, out); !s.IsSubscribed {
		t.Fatalf("status after subscribe: %+v", s)
	}

	if err := c.run(ctx, "send-test"); err != nil {
		t.Fatalf("send-test: %v", err)
	}
	if len(platform.pushes) != 1 {
		t.Fatalf("pushes = %d, want 1", len(platform.pushes))
	}
	req := platform.pushes[0]
	if req.Header.Get("Content-Encoding") != "aes128gcm" || !strings.HasPrefix(req.Header.Get("Authorization"), "vapid ") {
		t.Fatalf("push headers = %v", req.Header)
	}
	out.Reset()

	if err := c.run(ctx, "unsubscribe"); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if s := decodeState(t, out); s.IsSubscribed {
		t.Fatalf("after unsubscribe: %+v", s)
	}
	if platform.enabled {
		t.Fatalf("server record should be deleted")
	}

	if err := c.run(ctx, "send-test"); err == nil {
		t.Fatalf("send-test without a subscription should fail")
	}
}

func TestSubscribeDeniedReportsPermissionError(t *testing.T) {
	platform := &fakePlatform{}
	srv := httptest.NewServer(platform.handler())
	defer srv.Close()

	c, out := newTestCLI(t, srv.URL, useragent.FixedPrompter(models.PermissionDenied))
	err := c.run(context.Background(), "subscribe")
	if !errors.Is(err, subscription.ErrPermissionDenied) {
		t.Fatalf("subscribe error = %v, want ErrPermissionDenied", err)
	}
	if out.Len() != 0 {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestUnknownCommand(t *testing.T) {
	c, _ := newTestCLI(t, "http://localhost:1", useragent.FixedPrompter(models.PermissionGranted))
	if err := c.run(context.Background(), "reboot"); err == nil {
		t.Fatalf("expected an error for an unknown command")
	}
}

func TestResetPermissionAndUnregister(t *testing.T) {
	platform := &fakePlatform{}
	srv := httptest.NewServer(platform.handler())
	defer srv.Close()

	c, out := newTestCLI(t, srv.URL, useragent.FixedPrompter(models.PermissionDenied))
	ctx := context.Background()

	if err := c.run(ctx, "subscribe"); !errors.Is(err, subscription.ErrPermissionDenied) {
		t.Fatalf("subscribe error = %v", err)
	}
	if perm, _ := c.perms.State(ctx); perm != models.PermissionDenied {
		t.Fatalf("permission = %q, want denied", perm)
	}
	if err := c.run(ctx, "reset-permission"); err != nil {
		t.Fatalf("reset-permission: %v", err)
	}
	if perm, _ := c.perms.State(ctx); perm != models.PermissionDefault {
		t.Fatalf("permission after reset = %q, want default", perm)
	}
	out.Reset()

	if err := c.run(ctx, "unregister"); err != nil {
		t.Fatalf("unregister: %v", err)
	}
	if !strings.Contains(out.String(), "worker unregistered") {
		t.Fatalf("unregister output %q", out.String())
	}
	out.Reset()
	if err := c.run(ctx, "unregister"); err != nil {
		t.Fatalf("second unregister: %v", err)
	}
	if !strings.Contains(out.String(), "no worker registered") {
		t.Fatalf("second unregister output %q", out.String())
	}
}

func TestPersistFailureIsReportedOnce(t *testing.T) {
	platform := &fakePlatform{subscribeStatus: http.StatusInternalServerError}
	srv := httptest.NewServer(platform.handler())
	defer srv.Close()

	c, out := newTestCLI(t, srv.URL, useragent.FixedPrompter(models.PermissionGranted))
	var errOut bytes.Buffer
	c.errOut = &errOut
	c.toast.out = &errOut
	ctx := context.Background()

	if err := c.run(ctx, "vapid-keys"); err != nil {
		t.Fatalf("vapid-keys: %v", err)
	}
	keys, err := c.cfg.LoadVAPIDKeys()
	if err != nil {
		t.Fatalf("LoadVAPIDKeys() error: %v", err)
	}
	platform.publicKey = keys.PublicKey
	out.Reset()

	if code := c.execute(ctx, "subscribe"); code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if n := strings.Count(errOut.String(), "\n"); n != 1 {
		t.Fatalf("failure printed %d times:\n%s", n, errOut.String())
	}
	if !strings.Contains(errOut.String(), "Failed to enable push notifications") {
		t.Fatalf("stderr = %q", errOut.String())
	}
	if sub, _ := c.push.GetSubscription(ctx, c.cfg.Push.Scope, c.role); sub != nil {
		t.Fatalf("local subscription left behind")
	}
}

func TestExecuteDeniedExitCode(t *testing.T) {
	platform := &fakePlatform{}
	srv := httptest.NewServer(platform.handler())
	defer srv.Close()

	c, _ := newTestCLI(t, srv.URL, useragent.FixedPrompter(models.PermissionDenied))
	var errOut bytes.Buffer
	c.errOut = &errOut
	c.toast.out = &errOut

	if code := c.execute(context.Background(), "subscribe"); code != 3 {
		t.Fatalf("exit code = %d, want 3", code)
	}
	if strings.Count(errOut.String(), "\n") != 1 {
		t.Fatalf("stderr = %q, want the single permission message", errOut.String())
	}
}
