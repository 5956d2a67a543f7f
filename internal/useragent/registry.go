package useragent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/wellio/pushagent/internal/models"
)

// Lifecycle runs the worker's install and activate handlers to completion.
type Lifecycle interface {
	Install(ctx context.Context) error
	Activate(ctx context.Context) error
}

// Registry keeps worker registrations in the platform store.
type Registry struct {
	db    *gorm.DB
	mu    sync.Mutex
	nowFn func() time.Time
}

func NewRegistry(db *gorm.DB) *Registry {
	return &Registry{db: db, nowFn: time.Now}
}

func (r *Registry) WithClock(nowFn func() time.Time) *Registry {
	r.nowFn = nowFn
	return r
}

// Register records scriptURL as the worker for scope. Registering the same
// script again returns the existing record unchanged; created reports whether
// anything was written.
func (r *Registry) Register(ctx context.Context, scope, scriptURL string) (reg *models.WorkerRegistration, created bool, err error) {
	if scope == "" || scriptURL == "" {
		return nil, false, fmt.Errorf("register: scope and script url are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := r.getLocked(ctx, scope)
	switch {
	case err == nil && existing.ScriptURL == scriptURL:
		return existing, false, nil
	case err == nil:
		existing.ScriptURL = scriptURL
		existing.State = models.WorkerStateInstalling
		existing.ActiveVersion = ""
		existing.WaitingVersion = ""
		existing.SkipWaiting = false
		existing.UpdatedAt = r.nowFn()
		if err := r.db.WithContext(ctx).Save(existing).Error; err != nil {
			return nil, false, fmt.Errorf("replace registration: %w", err)
		}
		return existing, true, nil
	case errors.Is(err, ErrNotRegistered):
	default:
		return nil, false, err
	}

	now := r.nowFn()
	reg = &models.WorkerRegistration{
		Scope:     scope,
		ScriptURL: scriptURL,
		State:     models.WorkerStateInstalling,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.db.WithContext(ctx).Create(reg).Error; err != nil {
		return nil, false, fmt.Errorf("create registration: %w", err)
	}
	return reg, true, nil
}

func (r *Registry) Get(ctx context.Context, scope string) (*models.WorkerRegistration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getLocked(ctx, scope)
}

// Unregister removes the registration. Subscriptions under the scope go with it.
func (r *Registry) Unregister(ctx context.Context, scope string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("scope = ?", scope).Delete(&models.WorkerRegistration{})
		if res.Error != nil {
			return res.Error
		}
		removed = res.RowsAffected > 0
		return tx.Where("scope = ?", scope).Delete(&models.PushSubscription{}).Error
	})
	if err != nil {
		return false, fmt.Errorf("unregister: %w", err)
	}
	return removed, nil
}

// SkipWaiting lets a waiting version activate without waiting for pages to
// close. It is safe to call from inside an install handler.
func (r *Registry) SkipWaiting(ctx context.Context, scope string) error {
	res := r.db.WithContext(ctx).Model(&models.WorkerRegistration{}).
		Where("scope = ?", scope).
		Updates(map[string]any{"skip_waiting": true, "updated_at": r.nowFn()})
	if res.Error != nil {
		return fmt.Errorf("skip waiting: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotRegistered
	}
	return nil
}

// Ensure brings version to the activated state for scope, running the install
// and activate handlers as needed. A version that installed without skipping
// the wait stays installed while another version is active.
func (r *Registry) Ensure(ctx context.Context, scope, version string, lc Lifecycle) (*models.WorkerRegistration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, err := r.getLocked(ctx, scope)
	if err != nil {
		return nil, err
	}
	if reg.ActiveVersion == version && reg.State == models.WorkerStateActivated {
		return reg, nil
	}

	if reg.WaitingVersion != version || reg.State == models.WorkerStateRedundant || reg.State == models.WorkerStateInstalling {
		reg.State = models.WorkerStateInstalling
		reg.WaitingVersion = version
		reg.SkipWaiting = false
		if err := r.saveLocked(ctx, reg); err != nil {
			return nil, err
		}
		if err := lc.Install(ctx); err != nil {
			reg.State = models.WorkerStateRedundant
			reg.WaitingVersion = ""
			if saveErr := r.saveLocked(ctx, reg); saveErr != nil {
				return nil, errors.Join(err, saveErr)
			}
			return nil, fmt.Errorf("install %s: %w", version, err)
		}
		// the install handler may have called SkipWaiting
		if reg, err = r.getLocked(ctx, scope); err != nil {
			return nil, err
		}
		reg.State = models.WorkerStateInstalled
		if err := r.saveLocked(ctx, reg); err != nil {
			return nil, err
		}
	} else if reg, err = r.getLocked(ctx, scope); err != nil {
		return nil, err
	}

	if reg.ActiveVersion != "" && !reg.SkipWaiting {
		return reg, nil
	}

	reg.State = models.WorkerStateActivating
	if err := r.saveLocked(ctx, reg); err != nil {
		return nil, err
	}
	if err := lc.Activate(ctx); err != nil {
		reg.State = models.WorkerStateInstalled
		if saveErr := r.saveLocked(ctx, reg); saveErr != nil {
			return nil, errors.Join(err, saveErr)
		}
		return nil, fmt.Errorf("activate %s: %w", version, err)
	}
	reg.ActiveVersion = version
	reg.WaitingVersion = ""
	reg.SkipWaiting = false
	reg.State = models.WorkerStateActivated
	if err := r.saveLocked(ctx, reg); err != nil {
		return nil, err
	}
	return reg, nil
}

func (r *Registry) getLocked(ctx context.Context, scope string) (*models.WorkerRegistration, error) {
	var reg models.WorkerRegistration
	err := r.db.WithContext(ctx).Where("scope = ?", scope).First(&reg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotRegistered
	}
	if err != nil {
		return nil, fmt.Errorf("load registration: %w", err)
	}
	return &reg, nil
}

func (r *Registry) saveLocked(ctx context.Context, reg *models.WorkerRegistration) error {
	reg.UpdatedAt = r.nowFn()
	if err := r.db.WithContext(ctx).Save(reg).Error; err != nil {
		return fmt.Errorf("save registration: %w", err)
	}
	return nil
}
