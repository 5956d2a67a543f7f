// Package vapid verifies the voluntary application server identification
// (RFC 8292) that push senders attach to every request.
package vapid

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wellio/pushagent/internal/pushapi"
)

// MaxValidity is the longest token lifetime a push service has to accept.
const MaxValidity = 24 * time.Hour

var (
	ErrMissing      = errors.New("vapid: authorization missing")
	ErrMalformed    = errors.New("vapid: malformed authorization")
	ErrInvalidToken = errors.New("vapid: invalid token")
	ErrKeyMismatch  = errors.New("vapid: key does not match subscription")
)

// Credentials are the parts of an "Authorization: vapid t=..., k=..." header.
type Credentials struct {
	Token string
	Key   []byte
}

type Claims struct {
	Audience  string
	Subject   string
	ExpiresAt time.Time
}

func ParseAuthorization(header string) (Credentials, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return Credentials{}, ErrMissing
	}
	scheme, params, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "vapid") {
		return Credentials{}, fmt.Errorf("%w: unsupported scheme", ErrMalformed)
	}

	var creds Credentials
	for _, part := range strings.Split(params, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "t":
			creds.Token = strings.TrimSpace(value)
		case "k":
			key, err := pushapi.DecodeKey(value)
			if err != nil {
				return Credentials{}, fmt.Errorf("%w: %v", ErrMalformed, err)
			}
			creds.Key = key
		}
	}
	if creds.Token == "" || len(creds.Key) == 0 {
		return Credentials{}, fmt.Errorf("%w: t and k are required", ErrMalformed)
	}
	return creds, nil
}

type Verifier struct {
	nowFn func() time.Time
}

func NewVerifier() *Verifier {
	return &Verifier{nowFn: time.Now}
}

func (v *Verifier) WithClock(nowFn func() time.Time) *Verifier {
	v.nowFn = nowFn
	return v
}

// Verify checks the header against the push endpoint origin (the token
// audience) and the application server key the subscription was created with.
// The token is verified against k first; ErrKeyMismatch means a valid token
// signed for another key.
func (v *Verifier) Verify(header, audience string, applicationServerKey []byte) (Claims, error) {
	creds, err := ParseAuthorization(header)
	if err != nil {
		return Claims{}, err
	}
	pub, err := ecdsa.ParseUncompressedPublicKey(elliptic.P256(), creds.Key)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var rc jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(creds.Token, &rc, func(t *jwt.Token) (interface{}, error) {
		return pub, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodES256.Alg()}),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.nowFn),
	)
	if err != nil || !token.Valid {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	exp := rc.ExpiresAt.Time
	if exp.After(v.nowFn().Add(MaxValidity)) {
		return Claims{}, fmt.Errorf("%w: expiry more than %s ahead", ErrInvalidToken, MaxValidity)
	}
	// only a sender that proved it holds k learns that k is the wrong key
	if !bytes.Equal(creds.Key, applicationServerKey) {
		return Claims{}, ErrKeyMismatch
	}
	return Claims{Audience: audience, Subject: rc.Subject, ExpiresAt: exp}, nil
}

// Audience is the origin of a push endpoint, the value senders put in aud.
func Audience(scheme, host string) string {
	return strings.ToLower(scheme) + "://" + strings.ToLower(host)
}
