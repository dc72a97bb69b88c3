// Package generation drives the async content-generation lifecycle:
// the status state machine and the agent that turns raw tabular data into
// a dashboard artifact.
package generation

import (
	"context"
	"errors"
	"fmt"

	"github.com/vizboardhq/vizboard/internal/ledger"
	"github.com/vizboardhq/vizboard/internal/model"
	"gorm.io/gorm"
)

// State machine errors.
var (
	ErrBadTransition = errors.New("generation status transition not allowed")
	ErrEmptyArtifact = errors.New("completed artifact must have non-empty HTML")
)

// canTransition encodes the allowed edges:
// pending -> generating -> completed | failed, failed -> generating (retry).
// completed is terminal; modifications append versions instead of regressing.
func canTransition(from, to model.GenerationStatus) bool {
	switch from {
	case model.GenerationPending, model.GenerationFailed:
		return to == model.GenerationGenerating
	case model.GenerationGenerating:
		return to == model.GenerationCompleted || to == model.GenerationFailed
	default:
		return false
	}
}

// Machine applies status transitions and couples completion to the version
// ledger so a dashboard is never observed completed without a version row.
type Machine struct {
	db     *gorm.DB
	ledger *ledger.Ledger
}

// NewMachine creates a Machine.
func NewMachine(db *gorm.DB, l *ledger.Ledger) *Machine {
	return &Machine{db: db, ledger: l}
}

// Begin moves a dashboard into generating. Valid from pending and from
// failed (retry); the previous error message is cleared.
func (m *Machine) Begin(ctx context.Context, dashboardID string) error {
	return m.transition(ctx, dashboardID, model.GenerationGenerating, map[string]any{
		"status":     model.GenerationGenerating,
		"last_error": "",
	})
}

// Fail moves a generating dashboard into failed, retaining the error
// message for owner-facing display.
func (m *Machine) Fail(ctx context.Context, dashboardID string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return m.transition(ctx, dashboardID, model.GenerationFailed, map[string]any{
		"status":     model.GenerationFailed,
		"last_error": msg,
	})
}

// Complete writes the artifact as a version row, moves the pointer, and
// flips the status to completed — all in one transaction, so the completed
// status and the version row are atomic with respect to each other.
func (m *Machine) Complete(ctx context.Context, dashboardID string, snap ledger.Snapshot, changeType model.ChangeType, author string) (*model.DashboardVersion, error) {
	if snap.Config == nil || snap.Config.HTML == "" {
		return nil, ErrEmptyArtifact
	}

	var version *model.DashboardVersion
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var d model.Dashboard
		if err := ledger.LockForUpdate(tx).First(&d, "id = ?", dashboardID).Error; err != nil {
			return fmt.Errorf("load dashboard: %w", err)
		}
		if !canTransition(d.Status, model.GenerationCompleted) {
			return fmt.Errorf("%w: %s -> %s", ErrBadTransition, d.Status, model.GenerationCompleted)
		}

		v, err := ledger.New(tx).CreateVersion(ctx, dashboardID, snap, changeType, author, false)
		if err != nil {
			return err
		}
		if err := tx.Model(&d).Updates(map[string]any{
			"status":     model.GenerationCompleted,
			"last_error": "",
		}).Error; err != nil {
			return fmt.Errorf("mark completed: %w", err)
		}
		version = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return version, nil
}

func (m *Machine) transition(ctx context.Context, dashboardID string, to model.GenerationStatus, updates map[string]any) error {
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var d model.Dashboard
		if err := ledger.LockForUpdate(tx).First(&d, "id = ?", dashboardID).Error; err != nil {
			return fmt.Errorf("load dashboard: %w", err)
		}
		if !canTransition(d.Status, to) {
			return fmt.Errorf("%w: %s -> %s", ErrBadTransition, d.Status, to)
		}
		return tx.Model(&d).Updates(updates).Error
	})
}
