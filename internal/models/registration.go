package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type WorkerState string

const (
	WorkerStateInstalling WorkerState = "installing"
	WorkerStateInstalled  WorkerState = "installed"
	WorkerStateActivating WorkerState = "activating"
	WorkerStateActivated  WorkerState = "activated"
	WorkerStateRedundant  WorkerState = "redundant"
)

// WorkerRegistration records which worker script controls a scope and which
// version of it is active or waiting.
type WorkerRegistration struct {
	ID             string      `gorm:"type:varchar(36);primaryKey" json:"id"`
	Scope          string      `gorm:"type:varchar(255);not null;uniqueIndex" json:"scope"`
	ScriptURL      string      `gorm:"type:text;not null" json:"script_url"`
	State          WorkerState `gorm:"type:varchar(16);not null" json:"state"`
	ActiveVersion  string      `gorm:"type:varchar(64)" json:"active_version,omitempty"`
	WaitingVersion string      `gorm:"type:varchar(64)" json:"waiting_version,omitempty"`
	SkipWaiting    bool        `json:"skip_waiting"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

func (r *WorkerRegistration) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	return nil
}

// PermissionRecord stores the notification permission decision for an origin.
type PermissionRecord struct {
	Origin    string          `gorm:"type:varchar(255);primaryKey" json:"origin"`
	State     PermissionState `gorm:"type:varchar(16);not null" json:"state"`
	UpdatedAt time.Time       `json:"updated_at"`
}
