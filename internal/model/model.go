// Package model contains GORM model definitions shared across packages.
// All models are driver-agnostic: they work with both PostgreSQL and SQLite.
package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PlanType enumerates billing plans applied via the billing webhook.
type PlanType string

const (
	PlanFree PlanType = "free"
	PlanPro  PlanType = "pro"
	PlanTeam PlanType = "team"
)

// DefaultCredits is the generation credit balance granted to organizations
// that have never received a billing event.
const DefaultCredits = 25

// Organization represents a tenant in the multi-tenancy schema.
type Organization struct {
	ID             string    `gorm:"type:text;primaryKey"`
	Name           string    `gorm:"type:text;not null"`
	Slug           string    `gorm:"type:text;not null;uniqueIndex"`
	PlanType       PlanType  `gorm:"type:text;not null;default:'free'"`
	SeatsPurchased int       `gorm:"not null;default:1"`
	CreditsBalance int       `gorm:"not null;default:25"`
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

// BeforeCreate generates a UUID primary key if not set.
func (o *Organization) BeforeCreate(_ *gorm.DB) error {
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	return nil
}

// User is the GORM model for the users table. Emails are stored lower-cased.
type User struct {
	ID            string `gorm:"type:text;primaryKey"`
	Email         string `gorm:"type:text;not null;uniqueIndex"`
	Name          string `gorm:"type:text;not null;default:''"`
	PasswordHash  string `gorm:"type:text;not null;default:''"`
	IsAdmin       bool   `gorm:"not null;default:false"`
	DeactivatedAt *time.Time
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"not null"`
}

// BeforeCreate generates a UUID primary key if not set.
func (u *User) BeforeCreate(_ *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	return nil
}

// Workspace groups dashboards under a single owner, optionally inside an
// organization.
type Workspace struct {
	ID             string    `gorm:"type:text;primaryKey"`
	OrganizationID *string   `gorm:"type:text;index"`
	OwnerID        string    `gorm:"type:text;not null;index"`
	Name           string    `gorm:"type:text;not null"`
	Slug           string    `gorm:"type:text;not null;uniqueIndex"`
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

// BeforeCreate generates a UUID primary key if not set.
func (w *Workspace) BeforeCreate(_ *gorm.DB) error {
	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	return nil
}

// RefreshToken is the GORM model for the refresh_tokens table.
type RefreshToken struct {
	ID        string    `gorm:"type:text;primaryKey"`
	UserID    string    `gorm:"type:text;not null;index"`
	TokenHash string    `gorm:"type:text;not null;uniqueIndex"`
	ExpiresAt time.Time `gorm:"not null"`
	RevokedAt *time.Time
	CreatedAt time.Time `gorm:"not null"`
}

// BeforeCreate generates a UUID primary key if not set.
func (rt *RefreshToken) BeforeCreate(_ *gorm.DB) error {
	if rt.ID == "" {
		rt.ID = uuid.New().String()
	}
	return nil
}

// All returns every model for AutoMigrate, in FK-safe creation order.
func All() []any {
	return []any{
		&Organization{},
		&User{},
		&Workspace{},
		&RefreshToken{},
		&Dashboard{},
		&DashboardVersion{},
		&DashboardShare{},
		&OrganizationMembership{},
		&ViewerSession{},
		&OTPCode{},
		&ProcessedWebhookEvent{},
		&CustomDomain{},
		&SheetConnection{},
	}
}
