package useragent

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/wellio/pushagent/internal/models"
)

// Prompter asks the user whether an origin may show notifications.
// Returning PermissionDefault means the prompt was dismissed.
type Prompter interface {
	Prompt(ctx context.Context, origin string) (models.PermissionState, error)
}

// FixedPrompter answers every prompt with the same decision.
type FixedPrompter models.PermissionState

func (p FixedPrompter) Prompt(context.Context, string) (models.PermissionState, error) {
	return models.PermissionState(p), nil
}

// LinePrompter asks on out and reads a y/n answer from in.
type LinePrompter struct {
	In  io.Reader
	Out io.Writer
}

func (p LinePrompter) Prompt(ctx context.Context, origin string) (models.PermissionState, error) {
	if p.In == nil {
		return models.PermissionDefault, ErrPromptUnavailable
	}
	if p.Out != nil {
		fmt.Fprintf(p.Out, "Allow %s to show notifications? [y/N] ", origin)
	}

	answer := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(p.In).ReadString('\n')
		answer <- line
	}()

	select {
	case <-ctx.Done():
		return models.PermissionDefault, ctx.Err()
	case line := <-answer:
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return models.PermissionGranted, nil
		case "n", "no":
			return models.PermissionDenied, nil
		default:
			return models.PermissionDefault, nil
		}
	}
}

// Permissions stores the notification permission for one origin.
type Permissions struct {
	db       *gorm.DB
	origin   string
	prompter Prompter
	nowFn    func() time.Time
}

func NewPermissions(db *gorm.DB, origin string, prompter Prompter) *Permissions {
	return &Permissions{db: db, origin: origin, prompter: prompter, nowFn: time.Now}
}

func (p *Permissions) State(ctx context.Context) (models.PermissionState, error) {
	var rec models.PermissionRecord
	err := p.db.WithContext(ctx).Where("origin = ?", p.origin).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.PermissionDefault, nil
	}
	if err != nil {
		return models.PermissionDefault, fmt.Errorf("load permission: %w", err)
	}
	return rec.State, nil
}

// Request returns a stored decision as is and prompts otherwise. Only a
// granted or denied answer is stored.
func (p *Permissions) Request(ctx context.Context) (models.PermissionState, error) {
	current, err := p.State(ctx)
	if err != nil {
		return models.PermissionDefault, err
	}
	if current != models.PermissionDefault {
		return current, nil
	}
	if p.prompter == nil {
		return models.PermissionDefault, ErrPromptUnavailable
	}

	answer, err := p.prompter.Prompt(ctx, p.origin)
	if err != nil {
		return models.PermissionDefault, fmt.Errorf("prompt: %w", err)
	}
	if answer != models.PermissionGranted && answer != models.PermissionDenied {
		return models.PermissionDefault, nil
	}
	if err := p.set(ctx, answer); err != nil {
		return models.PermissionDefault, err
	}
	return answer, nil
}

// Reset forgets the stored decision.
func (p *Permissions) Reset(ctx context.Context) error {
	if err := p.db.WithContext(ctx).Where("origin = ?", p.origin).Delete(&models.PermissionRecord{}).Error; err != nil {
		return fmt.Errorf("reset permission: %w", err)
	}
	return nil
}

func (p *Permissions) set(ctx context.Context, state models.PermissionState) error {
	rec := models.PermissionRecord{Origin: p.origin, State: state, UpdatedAt: p.nowFn()}
	err := p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "origin"}},
		DoUpdates: clause.AssignmentColumns([]string{"state", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("store permission: %w", err)
	}
	return nil
}
