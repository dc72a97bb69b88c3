package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Role is an organization membership role. Owner is unique per organization
// and never assignable or removable through member management.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// OrganizationMembership links a user (or, while pending, just an email)
// to an organization. A membership is active only once AcceptedAt is set;
// a row with a nil AcceptedAt is a pending invitation and still consumes
// a seat.
type OrganizationMembership struct {
	ID             string     `gorm:"type:text;primaryKey"`
	OrganizationID string     `gorm:"type:text;not null;uniqueIndex:idx_org_member_email,priority:1"`
	Email          string     `gorm:"type:text;not null;uniqueIndex:idx_org_member_email,priority:2"`
	UserID         *string    `gorm:"type:text;index"`
	Role           Role       `gorm:"type:text;not null;default:'member'"`
	InvitedAt      time.Time  `gorm:"not null"`
	AcceptedAt     *time.Time
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

// BeforeCreate generates a UUID primary key if not set.
func (m *OrganizationMembership) BeforeCreate(_ *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}

// Active reports whether the invitation has been accepted.
func (m *OrganizationMembership) Active() bool { return m.AcceptedAt != nil }

// ViewerSession is a hashed, time-boxed bearer session issued to external
// share viewers. It is scoped to exactly one dashboard and grants nothing
// else.
type ViewerSession struct {
	ID          string    `gorm:"type:text;primaryKey"`
	DashboardID string    `gorm:"type:text;not null;index"`
	Email       string    `gorm:"type:text;not null"`
	TokenHash   string    `gorm:"type:text;not null;uniqueIndex"`
	ExpiresAt   time.Time `gorm:"not null"`
	RevokedAt   *time.Time
	CreatedAt   time.Time `gorm:"not null"`
}

// BeforeCreate generates a UUID primary key if not set.
func (vs *ViewerSession) BeforeCreate(_ *gorm.DB) error {
	if vs.ID == "" {
		vs.ID = uuid.New().String()
	}
	return nil
}

// OTPCode is a single-use email verification code, stored as a SHA-256
// hash. DashboardID carries the share context the code was requested for.
type OTPCode struct {
	ID          string     `gorm:"type:text;primaryKey"`
	Email       string     `gorm:"type:text;not null;index"`
	DashboardID *string    `gorm:"type:text"`
	CodeHash    string     `gorm:"type:text;not null"`
	ExpiresAt   time.Time  `gorm:"not null"`
	ConsumedAt  *time.Time
	CreatedAt   time.Time `gorm:"not null"`
}

// BeforeCreate generates a UUID primary key if not set.
func (c *OTPCode) BeforeCreate(_ *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	return nil
}

// ProcessedWebhookEvent records billing webhook event IDs that have already
// been applied, making webhook delivery idempotent.
type ProcessedWebhookEvent struct {
	ID          string    `gorm:"type:text;primaryKey"` // provider event id
	EventType   string    `gorm:"type:text;not null"`
	ProcessedAt time.Time `gorm:"not null"`
}

// DomainStatus tracks custom-domain provisioning against the hosting API.
type DomainStatus string

const (
	DomainPending   DomainStatus = "pending"
	DomainVerifying DomainStatus = "verifying"
	DomainVerified  DomainStatus = "verified"
	DomainFailed    DomainStatus = "failed"
)

// CustomDomain maps a customer-owned hostname to a workspace.
type CustomDomain struct {
	ID          string       `gorm:"type:text;primaryKey"`
	WorkspaceID string       `gorm:"type:text;not null;index"`
	Hostname    string       `gorm:"type:text;not null;uniqueIndex"`
	Status      DomainStatus `gorm:"type:text;not null;default:'pending'"`
	LastError   string       `gorm:"type:text;not null;default:''"`
	CreatedAt   time.Time    `gorm:"not null"`
	UpdatedAt   time.Time    `gorm:"not null"`
}

// BeforeCreate generates a UUID primary key if not set.
func (d *CustomDomain) BeforeCreate(_ *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	return nil
}

// SheetConnection stores the OAuth token pair for a spreadsheet import
// source. Token refresh itself is performed by the import collaborator.
type SheetConnection struct {
	ID           string    `gorm:"type:text;primaryKey"`
	UserID       string    `gorm:"type:text;not null;index"`
	AccessToken  string    `gorm:"type:text;not null"`
	RefreshToken string    `gorm:"type:text;not null"`
	ExpiresAt    time.Time `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

// BeforeCreate generates a UUID primary key if not set.
func (c *SheetConnection) BeforeCreate(_ *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	return nil
}

// refreshBuffer is how long before nominal expiry a token is treated as
// expired, absorbing clock skew and request latency.
const refreshBuffer = 5 * time.Minute

// NeedsRefresh reports whether the access token should be refreshed now.
func (c *SheetConnection) NeedsRefresh(now time.Time) bool {
	return !now.Add(refreshBuffer).Before(c.ExpiresAt)
}
