package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GenerationStatus tracks the async content-generation lifecycle of a
// dashboard. See internal/generation for the allowed transitions.
type GenerationStatus string

const (
	GenerationPending    GenerationStatus = "pending"
	GenerationGenerating GenerationStatus = "generating"
	GenerationCompleted  GenerationStatus = "completed"
	GenerationFailed     GenerationStatus = "failed"
)

// Terminal reports whether the status is a resting state. Non-terminal
// dashboards render a generating placeholder for every viewer.
func (s GenerationStatus) Terminal() bool {
	return s == GenerationCompleted || s == GenerationFailed
}

// ChangeType records why a dashboard version row was written.
type ChangeType string

const (
	ChangeInitial        ChangeType = "initial"
	ChangeAIModification ChangeType = "ai_modification"
	ChangeManualEdit     ChangeType = "manual_edit"
	ChangeRestore        ChangeType = "restore"
)

// ChartDef is a single Chart.js chart definition inside a dashboard config.
type ChartDef struct {
	ID      string         `json:"id"`
	Title   string         `json:"title"`
	Type    string         `json:"type"`
	Config  map[string]any `json:"config"`
	Element string         `json:"element,omitempty"`
}

// DashboardConfig is the rendered artifact produced by generation:
// an HTML document plus the chart definitions it references.
type DashboardConfig struct {
	HTML   string     `json:"html"`
	Charts []ChartDef `json:"charts,omitempty"`
}

// Dashboard is the core resource. Live Config/RawContent/Data/DataSource
// always mirror the snapshot at (CurrentMajor, CurrentMinor) once the first
// generation completes.
type Dashboard struct {
	ID             string           `gorm:"type:text;primaryKey"`
	WorkspaceID    string           `gorm:"type:text;not null;index"`
	OrganizationID *string          `gorm:"type:text;index"`
	OwnerID        string           `gorm:"type:text;not null;index"`
	Slug           string           `gorm:"type:text;not null;index"`
	Title          string           `gorm:"type:text;not null"`
	Published      bool             `gorm:"not null;default:false"`
	SharedWithOrg  bool             `gorm:"not null;default:false"`
	Status         GenerationStatus `gorm:"type:text;not null;default:'pending'"`
	LastError      string           `gorm:"type:text;not null;default:''"`
	CurrentMajor   int              `gorm:"not null;default:0"`
	CurrentMinor   int              `gorm:"not null;default:0"`
	Config         *DashboardConfig `gorm:"type:text;serializer:json"`
	RawContent     string           `gorm:"type:text;not null;default:''"`
	Data           string           `gorm:"type:text;not null;default:''"`
	DataSource     string           `gorm:"type:text;not null;default:'paste'"`
	DeletedAt      *time.Time       `gorm:"index"`
	CreatedAt      time.Time        `gorm:"not null"`
	UpdatedAt      time.Time        `gorm:"not null"`
}

// BeforeCreate generates a UUID primary key if not set.
func (d *Dashboard) BeforeCreate(_ *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	return nil
}

// DashboardVersion is one immutable row of the version ledger.
// (DashboardID, MajorVersion, MinorVersion) is unique; rows are never
// updated or deleted after insert.
type DashboardVersion struct {
	ID            string           `gorm:"type:text;primaryKey"`
	DashboardID   string           `gorm:"type:text;not null;uniqueIndex:idx_dashboard_version,priority:1"`
	MajorVersion  int              `gorm:"not null;uniqueIndex:idx_dashboard_version,priority:2"`
	MinorVersion  int              `gorm:"not null;uniqueIndex:idx_dashboard_version,priority:3"`
	ChangeType    ChangeType       `gorm:"type:text;not null"`
	ChangeSummary string           `gorm:"type:text;not null;default:''"`
	Config        *DashboardConfig `gorm:"type:text;serializer:json"`
	RawContent    string           `gorm:"type:text;not null;default:''"`
	Data          string           `gorm:"type:text;not null;default:''"`
	DataSource    string           `gorm:"type:text;not null;default:''"`
	CreatedBy     string           `gorm:"type:text;not null;default:''"`
	CreatedAt     time.Time        `gorm:"not null"`
}

// BeforeCreate generates a UUID primary key if not set.
func (v *DashboardVersion) BeforeCreate(_ *gorm.DB) error {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	return nil
}

// ShareType distinguishes exact-email grants from whole-domain grants.
type ShareType string

const (
	ShareByEmail  ShareType = "email"
	ShareByDomain ShareType = "domain"
)

// ViewerType controls account provisioning at OTP-verify time.
// "auto" defers to a live domain comparison with the dashboard owner.
type ViewerType string

const (
	ViewerAuto     ViewerType = "auto"
	ViewerInternal ViewerType = "internal"
	ViewerExternal ViewerType = "external"
)

// DashboardShare is an explicit view grant. ShareValue is normalised to
// lower case at write time; the resolver compares it as stored.
type DashboardShare struct {
	ID          string     `gorm:"type:text;primaryKey"`
	DashboardID string     `gorm:"type:text;not null;uniqueIndex:idx_share_natural,priority:1"`
	ShareType   ShareType  `gorm:"type:text;not null;uniqueIndex:idx_share_natural,priority:2"`
	ShareValue  string     `gorm:"type:text;not null;uniqueIndex:idx_share_natural,priority:3"`
	ViewerType  ViewerType `gorm:"type:text;not null;default:'auto'"`
	CreatedBy   string     `gorm:"type:text;not null;default:''"`
	CreatedAt   time.Time  `gorm:"not null"`
}

// BeforeCreate generates a UUID primary key if not set.
func (s *DashboardShare) BeforeCreate(_ *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	return nil
}
