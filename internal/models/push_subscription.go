package models

import (
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"gorm.io/gorm"
)

// PushSubscription is the device-side half of a Web Push registration: the
// endpoint handed to the application server plus the private key material
// needed to decrypt what arrives there.
type PushSubscription struct {
	ID                   string     `gorm:"type:varchar(32);primaryKey" json:"id"`
	Scope                string     `gorm:"type:varchar(255);not null;uniqueIndex:idx_scope_role" json:"scope"`
	Role                 UserType   `gorm:"type:varchar(16);not null;uniqueIndex:idx_scope_role" json:"role"`
	Token                string     `gorm:"type:varchar(64);not null;uniqueIndex" json:"-"`
	Endpoint             string     `gorm:"type:text;not null" json:"endpoint"`
	P256DH               string     `gorm:"type:text;not null" json:"p256dh"`
	Auth                 string     `gorm:"type:text;not null" json:"auth"`
	PrivateKey           string     `gorm:"type:text;not null" json:"-"`
	ApplicationServerKey string     `gorm:"type:text;not null" json:"application_server_key"`
	LastSeenAt           *time.Time `json:"last_seen_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

func (p *PushSubscription) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		id, err := gonanoid.New(21)
		if err != nil {
			return err
		}
		p.ID = id
	}
	return nil
}
