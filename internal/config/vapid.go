package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	webpush "github.com/SherClockHolmes/webpush-go"
)

const (
	vapidPublicFile  = "vapid-public.key"
	vapidPrivateFile = "vapid-private.key"
	vapidSubjectFile = "vapid-subject.key"
)

// VAPIDKeys is an application server key pair in the webpush library format:
// a 65-byte uncompressed public key and a 32-byte raw private key, both
// base64url without padding.
type VAPIDKeys struct {
	PublicKey  string
	PrivateKey string
	Subject    string
}

// PublicKeyBytes decodes the public key for use as an applicationServerKey.
func (k *VAPIDKeys) PublicKeyBytes() ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(k.PublicKey)
}

// LoadVAPIDKeys returns the configured keys, else the keys stored in
// KeysDir. Keys in an unexpected format are reported, not replaced.
func (c *Config) LoadVAPIDKeys() (*VAPIDKeys, error) {
	if c.VAPID.PublicKey != "" && c.VAPID.PrivateKey != "" {
		keys := &VAPIDKeys{PublicKey: c.VAPID.PublicKey, PrivateKey: c.VAPID.PrivateKey, Subject: c.VAPID.Subject}
		if err := checkVAPIDKeys(keys); err != nil {
			return nil, err
		}
		return keys, nil
	}

	dir := c.VAPID.KeysDir
	publicKey, err := os.ReadFile(filepath.Join(dir, vapidPublicFile))
	if err != nil {
		return nil, fmt.Errorf("read vapid public key: %w", err)
	}
	privateKey, err := os.ReadFile(filepath.Join(dir, vapidPrivateFile))
	if err != nil {
		return nil, fmt.Errorf("read vapid private key: %w", err)
	}
	subject := c.VAPID.Subject
	if subjectData, err := os.ReadFile(filepath.Join(dir, vapidSubjectFile)); err == nil {
		if s := strings.TrimSpace(string(subjectData)); s != "" {
			subject = s
		}
	}

	keys := &VAPIDKeys{
		PublicKey:  strings.TrimSpace(string(publicKey)),
		PrivateKey: strings.TrimSpace(string(privateKey)),
		Subject:    subject,
	}
	if err := checkVAPIDKeys(keys); err != nil {
		return nil, fmt.Errorf("%s: %w", dir, err)
	}
	return keys, nil
}

// GenerateVAPIDKeys creates a new key pair and stores it in KeysDir,
// replacing any previous pair.
func (c *Config) GenerateVAPIDKeys() (*VAPIDKeys, error) {
	privateKey, publicKey, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		return nil, fmt.Errorf("generate vapid keys: %w", err)
	}
	keys := &VAPIDKeys{PublicKey: publicKey, PrivateKey: privateKey, Subject: c.VAPID.Subject}
	if err := saveVAPIDKeys(c.VAPID.KeysDir, keys); err != nil {
		return nil, err
	}
	return keys, nil
}

func checkVAPIDKeys(k *VAPIDKeys) error {
	pub, err := base64.RawURLEncoding.DecodeString(k.PublicKey)
	if err != nil {
		return fmt.Errorf("cannot decode vapid public key: %w", err)
	}
	if len(pub) != 65 || pub[0] != 0x04 {
		return fmt.Errorf("vapid public key must be a 65-byte uncompressed point, got %d bytes", len(pub))
	}
	priv, err := base64.RawURLEncoding.DecodeString(k.PrivateKey)
	if err != nil {
		return fmt.Errorf("cannot decode vapid private key: %w", err)
	}
	if len(priv) != 32 {
		// older installs stored PKCS#8 here
		return fmt.Errorf("vapid private key must be 32 raw bytes, got %d bytes", len(priv))
	}
	return nil
}

func saveVAPIDKeys(keysDir string, k *VAPIDKeys) error {
	if err := os.MkdirAll(keysDir, 0700); err != nil {
		return fmt.Errorf("failed to create keys directory: %w", err)
	}
	files := map[string]string{
		vapidPublicFile:  k.PublicKey,
		vapidPrivateFile: k.PrivateKey,
		vapidSubjectFile: k.Subject,
	}
	for name, value := range files {
		if err := os.WriteFile(filepath.Join(keysDir, name), []byte(value), 0600); err != nil {
			return fmt.Errorf("failed to save %s: %w", name, err)
		}
	}
	return nil
}
