// Package ledger maintains the append-only dashboard version history.
// Version rows are immutable once written; the dashboard's live content and
// its (major, minor) pointer move together in a single transaction.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/vizboardhq/vizboard/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrVersionNotFound is returned when a restore target does not exist.
var ErrVersionNotFound = errors.New("dashboard version not found")

// Snapshot is the content captured by one version row.
type Snapshot struct {
	Config     *model.DashboardConfig
	RawContent string
	Data       string
	DataSource string
}

// Ledger appends versions and keeps the dashboard pointer consistent.
type Ledger struct {
	db *gorm.DB
}

// New creates a Ledger.
func New(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// CreateVersion appends a version row holding snap and moves the dashboard's
// live content and pointer to it, all in one transaction. bumpMajor
// increments the major number and resets minor to zero; otherwise the minor
// number under the current major is incremented. The very first version is
// always (1, 0).
func (l *Ledger) CreateVersion(ctx context.Context, dashboardID string, snap Snapshot, changeType model.ChangeType, author string, bumpMajor bool) (*model.DashboardVersion, error) {
	var created *model.DashboardVersion
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var d model.Dashboard
		// Row lock on postgres serialises concurrent version writers;
		// sqlite's transaction write lock covers the same ground.
		if err := LockForUpdate(tx).First(&d, "id = ?", dashboardID).Error; err != nil {
			return fmt.Errorf("load dashboard: %w", err)
		}

		major, minor := nextVersion(d.CurrentMajor, d.CurrentMinor, bumpMajor)

		v := &model.DashboardVersion{
			DashboardID:   dashboardID,
			MajorVersion:  major,
			MinorVersion:  minor,
			ChangeType:    changeType,
			ChangeSummary: summaryFor(changeType),
			Config:        snap.Config,
			RawContent:    snap.RawContent,
			Data:          snap.Data,
			DataSource:    snap.DataSource,
			CreatedBy:     author,
		}
		if err := tx.Create(v).Error; err != nil {
			return fmt.Errorf("append version: %w", err)
		}

		// The live fields must always equal the snapshot at the pointer.
		updates := map[string]any{
			"current_major": major,
			"current_minor": minor,
			"config":        snap.Config,
			"raw_content":   snap.RawContent,
			"data":          snap.Data,
			"data_source":   snap.DataSource,
		}
		if err := tx.Model(&d).Updates(updates).Error; err != nil {
			return fmt.Errorf("move version pointer: %w", err)
		}
		created = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Restore copies the snapshot at (major, minor) forward as a new latest
// version with change type restore. History is never rewritten: the target
// row is read, not touched.
func (l *Ledger) Restore(ctx context.Context, dashboardID string, major, minor int, actor string) (*model.DashboardVersion, error) {
	var target model.DashboardVersion
	err := l.db.WithContext(ctx).
		Where("dashboard_id = ? AND major_version = ? AND minor_version = ?", dashboardID, major, minor).
		First(&target).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrVersionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load restore target: %w", err)
	}

	snap := Snapshot{
		Config:     target.Config,
		RawContent: target.RawContent,
		Data:       target.Data,
		DataSource: target.DataSource,
	}
	return l.CreateVersion(ctx, dashboardID, snap, model.ChangeRestore, actor, false)
}

// List returns a dashboard's versions, newest first.
func (l *Ledger) List(ctx context.Context, dashboardID string) ([]model.DashboardVersion, error) {
	var versions []model.DashboardVersion
	if err := l.db.WithContext(ctx).
		Where("dashboard_id = ?", dashboardID).
		Order("major_version DESC, minor_version DESC").
		Find(&versions).Error; err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	return versions, nil
}

// Get returns one version row.
func (l *Ledger) Get(ctx context.Context, dashboardID string, major, minor int) (*model.DashboardVersion, error) {
	var v model.DashboardVersion
	err := l.db.WithContext(ctx).
		Where("dashboard_id = ? AND major_version = ? AND minor_version = ?", dashboardID, major, minor).
		First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrVersionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load version: %w", err)
	}
	return &v, nil
}

// LockForUpdate adds SELECT ... FOR UPDATE on drivers that support it.
// SQLite does not parse the clause; its transaction write lock already
// serialises writers.
func LockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

// nextVersion computes the monotonic successor of (major, minor). A
// dashboard with no versions (pointer at 0,0) starts at (1, 0).
func nextVersion(major, minor int, bumpMajor bool) (int, int) {
	if major == 0 {
		return 1, 0
	}
	if bumpMajor {
		return major + 1, 0
	}
	return major, minor + 1
}

func summaryFor(ct model.ChangeType) string {
	switch ct {
	case model.ChangeInitial:
		return "Initial generation"
	case model.ChangeAIModification:
		return "AI modification"
	case model.ChangeManualEdit:
		return "Manual edit"
	case model.ChangeRestore:
		return "Restored from earlier version"
	default:
		return string(ct)
	}
}
