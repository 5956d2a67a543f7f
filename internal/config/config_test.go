package config

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/wellio/pushagent/internal/models"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.UserType() != models.UserTypeCoach || cfg.Push.Scope != "/" || cfg.Push.ScriptURL != "/sw.js" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if !cfg.Notifications.Enabled || cfg.API.Timeout != 15*time.Second {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoadYAMLWithExpansionAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("WELLIO_TEST_TOKEN", "secret-token")
	t.Setenv("LOG_LEVEL", "debug")
	path := writeFile(t, dir, "agent.yaml", `
app:
  role: client
  origin: https://app.wellio.test
push:
  base_url: https://agent.wellio.test
api:
  base_url: https://api.wellio.test
  token: ${WELLIO_TEST_TOKEN}
  persist_attempts: 5
  persist_base_delay: 250ms
notifications:
  enabled: false
logging:
  level: warn
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.UserType() != models.UserTypeClient {
		t.Fatalf("role = %q", cfg.App.Role)
	}
	if cfg.API.Token != "secret-token" {
		t.Fatalf("token not expanded: %q", cfg.API.Token)
	}
	if cfg.API.PersistAttempts != 5 || cfg.API.PersistBaseDelay != 250*time.Millisecond {
		t.Fatalf("persist policy = %d/%s", cfg.API.PersistAttempts, cfg.API.PersistBaseDelay)
	}
	if cfg.Notifications.Enabled {
		t.Fatalf("notifications should be disabled")
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("env override lost, level = %q", cfg.Logging.Level)
	}
	// untouched keys keep their defaults
	if cfg.Server.HTTPPort != "8080" || cfg.Push.Scope != "/" {
		t.Fatalf("defaults lost: %+v", cfg.Server)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "bad.yaml", `
app:
  role: admin
  origin: /relative
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error")
	}
	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestVAPIDKeysRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.VAPID.KeysDir = filepath.Join(t.TempDir(), "keys")

	if _, err := cfg.LoadVAPIDKeys(); err == nil {
		t.Fatalf("expected error before keys exist")
	}
	generated, err := cfg.GenerateVAPIDKeys()
	if err != nil {
		t.Fatalf("GenerateVAPIDKeys() error: %v", err)
	}
	loaded, err := cfg.LoadVAPIDKeys()
	if err != nil {
		t.Fatalf("LoadVAPIDKeys() error: %v", err)
	}
	if *loaded != *generated {
		t.Fatalf("loaded %+v, generated %+v", loaded, generated)
	}
	pub, err := loaded.PublicKeyBytes()
	if err != nil || len(pub) != 65 {
		t.Fatalf("PublicKeyBytes() = %d bytes, %v", len(pub), err)
	}
}

func TestVAPIDKeysRejectPKCS8PrivateKey(t *testing.T) {
	cfg := Default()
	dir := t.TempDir()
	cfg.VAPID.KeysDir = dir
	if _, err := cfg.GenerateVAPIDKeys(); err != nil {
		t.Fatalf("GenerateVAPIDKeys() error: %v", err)
	}
	// 138 bytes, the size of a PKCS#8 P-256 key
	writeFile(t, dir, vapidPrivateFile, base64.RawURLEncoding.EncodeToString(make([]byte, 138)))
	if _, err := cfg.LoadVAPIDKeys(); err == nil {
		t.Fatalf("expected error for non-raw private key")
	}
}
