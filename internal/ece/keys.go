package ece

import (
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// Keys is the receiving half of a push subscription.
type Keys struct {
	Private *ecdh.PrivateKey
	Auth    []byte
}

func GenerateKeys() (Keys, error) {
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return Keys{}, fmt.Errorf("generate p256 key: %w", err)
	}
	auth := make([]byte, AuthLen)
	if _, err := rand.Read(auth); err != nil {
		return Keys{}, fmt.Errorf("generate auth secret: %w", err)
	}
	return Keys{Private: priv, Auth: auth}, nil
}

// P256DH is the uncompressed public key, base64url without padding.
func (k Keys) P256DH() string {
	return base64.RawURLEncoding.EncodeToString(k.Private.PublicKey().Bytes())
}

func (k Keys) AuthString() string {
	return base64.RawURLEncoding.EncodeToString(k.Auth)
}

func (k Keys) PrivateString() string {
	return base64.RawURLEncoding.EncodeToString(k.Private.Bytes())
}

// ParseKeys restores keys stored with PrivateString and AuthString.
func ParseKeys(private, auth string) (Keys, error) {
	rawPriv, err := base64.RawURLEncoding.DecodeString(private)
	if err != nil {
		return Keys{}, fmt.Errorf("decode private key: %w", err)
	}
	priv, err := ecdh.P256().NewPrivateKey(rawPriv)
	if err != nil {
		return Keys{}, fmt.Errorf("parse private key: %w", err)
	}
	rawAuth, err := base64.RawURLEncoding.DecodeString(auth)
	if err != nil {
		return Keys{}, fmt.Errorf("decode auth secret: %w", err)
	}
	if len(rawAuth) != AuthLen {
		return Keys{}, fmt.Errorf("auth secret is %d bytes, expected %d", len(rawAuth), AuthLen)
	}
	return Keys{Private: priv, Auth: rawAuth}, nil
}

// ValidatePublicKey checks for a 65-byte uncompressed P-256 point.
func ValidatePublicKey(b []byte) error {
	if len(b) != PublicKeyLen {
		return fmt.Errorf("public key is %d bytes, expected %d", len(b), PublicKeyLen)
	}
	if b[0] != 0x04 {
		return fmt.Errorf("public key format byte is 0x%02x, expected 0x04", b[0])
	}
	if _, err := ecdh.P256().NewPublicKey(b); err != nil {
		return fmt.Errorf("public key is not on P-256: %w", err)
	}
	return nil
}
