package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vizboardhq/vizboard/internal/model"
	"gorm.io/gorm"
)

// ErrSessionInvalid covers unknown, expired, and revoked viewer sessions.
// Callers must not distinguish the cases to the client.
var ErrSessionInvalid = errors.New("viewer session is invalid")

// ViewerSessionStore issues and validates the scoped bearer sessions handed
// to external share viewers. A session grants access to exactly one
// dashboard and nothing else; the token is stored hashed.
type ViewerSessionStore struct {
	db  *gorm.DB
	ttl time.Duration
}

// NewViewerSessionStore creates a ViewerSessionStore.
func NewViewerSessionStore(db *gorm.DB, ttl time.Duration) *ViewerSessionStore {
	return &ViewerSessionStore{db: db, ttl: ttl}
}

// Issue creates a session for email on dashboardID and returns the
// plaintext bearer token.
func (s *ViewerSessionStore) Issue(ctx context.Context, dashboardID, email string) (string, error) {
	raw, err := generateToken()
	if err != nil {
		return "", fmt.Errorf("generate viewer token: %w", err)
	}
	vs := &model.ViewerSession{
		DashboardID: dashboardID,
		Email:       email,
		TokenHash:   HashToken(raw),
		ExpiresAt:   time.Now().Add(s.ttl),
	}
	if err := s.db.WithContext(ctx).Create(vs).Error; err != nil {
		return "", fmt.Errorf("store viewer session: %w", err)
	}
	return raw, nil
}

// Validate resolves a raw token to its session, enforcing the dashboard
// scope. A token issued for one dashboard never validates against another.
func (s *ViewerSessionStore) Validate(ctx context.Context, dashboardID, rawToken string) (*model.ViewerSession, error) {
	var vs model.ViewerSession
	err := s.db.WithContext(ctx).Where("token_hash = ?", HashToken(rawToken)).First(&vs).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("lookup viewer session: %w", err)
	}
	if vs.DashboardID != dashboardID || vs.RevokedAt != nil || time.Now().After(vs.ExpiresAt) {
		return nil, ErrSessionInvalid
	}
	return &vs, nil
}

// RevokeForDashboard revokes every live session on a dashboard. Called when
// the owner deletes a share so revocation takes effect before expiry.
func (s *ViewerSessionStore) RevokeForDashboard(ctx context.Context, dashboardID string) error {
	return s.db.WithContext(ctx).Model(&model.ViewerSession{}).
		Where("dashboard_id = ? AND revoked_at IS NULL", dashboardID).
		Update("revoked_at", time.Now()).Error
}
