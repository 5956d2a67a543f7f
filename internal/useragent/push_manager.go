package useragent

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"gorm.io/gorm"

	"github.com/wellio/pushagent/internal/ece"
	"github.com/wellio/pushagent/internal/models"
)

const tokenLength = 32

type SubscribeOptions struct {
	UserVisibleOnly      bool
	ApplicationServerKey []byte
}

// Subscription is a local push subscription with its key material.
type Subscription struct {
	models.PushSubscription
}

// WebPush is the value handed to application servers.
func (s *Subscription) WebPush() webpush.Subscription {
	return webpush.Subscription{
		Endpoint: s.Endpoint,
		Keys: webpush.Keys{
			P256dh: s.P256DH,
			Auth:   s.Auth,
		},
	}
}

func (s *Subscription) Keys() (ece.Keys, error) {
	return ece.ParseKeys(s.PrivateKey, s.Auth)
}

func (s *Subscription) ServerKey() ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s.ApplicationServerKey)
}

// PushManager owns the local subscriptions, one per scope and role.
type PushManager struct {
	db      *gorm.DB
	baseURL string
	nowFn   func() time.Time
}

// NewPushManager creates subscriptions whose endpoints live under baseURL.
// An empty baseURL means push is unavailable on this device.
func NewPushManager(db *gorm.DB, baseURL string) *PushManager {
	return &PushManager{db: db, baseURL: strings.TrimRight(baseURL, "/"), nowFn: time.Now}
}

func (m *PushManager) WithClock(nowFn func() time.Time) *PushManager {
	m.nowFn = nowFn
	return m
}

func (m *PushManager) Available() bool {
	return m.baseURL != ""
}

func (m *PushManager) Subscribe(ctx context.Context, scope string, role models.UserType, opts SubscribeOptions) (*Subscription, error) {
	if !m.Available() {
		return nil, ErrPushUnavailable
	}
	if !opts.UserVisibleOnly {
		return nil, ErrUserVisibleOnly
	}
	if err := ece.ValidatePublicKey(opts.ApplicationServerKey); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidServerKey, err)
	}

	var out *Subscription
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var reg models.WorkerRegistration
		if err := tx.Where("scope = ?", scope).First(&reg).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotRegistered
			}
			return err
		}

		var existing models.PushSubscription
		err := tx.Where("scope = ? AND role = ?", scope, role).First(&existing).Error
		if err == nil {
			stored, decodeErr := base64.RawURLEncoding.DecodeString(existing.ApplicationServerKey)
			if decodeErr != nil || !bytes.Equal(stored, opts.ApplicationServerKey) {
				return ErrKeyMismatch
			}
			out = &Subscription{existing}
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		keys, err := ece.GenerateKeys()
		if err != nil {
			return err
		}
		token, err := gonanoid.New(tokenLength)
		if err != nil {
			return fmt.Errorf("generate token: %w", err)
		}
		now := m.nowFn()
		rec := models.PushSubscription{
			Scope:                scope,
			Role:                 role,
			Token:                token,
			Endpoint:             m.baseURL + "/push/" + token,
			P256DH:               keys.P256DH(),
			Auth:                 keys.AuthString(),
			PrivateKey:           keys.PrivateString(),
			ApplicationServerKey: base64.RawURLEncoding.EncodeToString(opts.ApplicationServerKey),
			CreatedAt:            now,
			UpdatedAt:            now,
		}
		if err := tx.Create(&rec).Error; err != nil {
			return err
		}
		out = &Subscription{rec}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotRegistered) || errors.Is(err, ErrKeyMismatch) {
			return nil, err
		}
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	return out, nil
}

// GetSubscription returns nil without error when there is no subscription.
func (m *PushManager) GetSubscription(ctx context.Context, scope string, role models.UserType) (*Subscription, error) {
	var rec models.PushSubscription
	err := m.db.WithContext(ctx).Where("scope = ? AND role = ?", scope, role).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return &Subscription{rec}, nil
}

// Unsubscribe reports whether a subscription existed.
func (m *PushManager) Unsubscribe(ctx context.Context, scope string, role models.UserType) (bool, error) {
	res := m.db.WithContext(ctx).Where("scope = ? AND role = ?", scope, role).Delete(&models.PushSubscription{})
	if res.Error != nil {
		return false, fmt.Errorf("unsubscribe: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (m *PushManager) ByToken(ctx context.Context, token string) (*Subscription, error) {
	var rec models.PushSubscription
	err := m.db.WithContext(ctx).Where("token = ?", token).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup subscription: %w", err)
	}
	return &Subscription{rec}, nil
}

// Touch records a delivery on the subscription.
func (m *PushManager) Touch(ctx context.Context, id string) error {
	now := m.nowFn()
	res := m.db.WithContext(ctx).Model(&models.PushSubscription{}).
		Where("id = ?", id).
		Updates(map[string]any{"last_seen_at": now, "updated_at": now})
	if res.Error != nil {
		return fmt.Errorf("touch subscription: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}
