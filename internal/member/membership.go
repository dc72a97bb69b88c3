// Package member implements the organization membership index: seat-limited
// invitations, acceptance, and the role-change policy.
package member

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vizboardhq/vizboard/internal/model"
	"gorm.io/gorm"
)

// Policy errors surfaced to handlers.
var (
	ErrSeatsExhausted    = errors.New("organization has no seats remaining")
	ErrAlreadyInvited    = errors.New("email already invited to this organization")
	ErrMembershipMissing = errors.New("membership not found")
	ErrOwnerImmutable    = errors.New("the owner role cannot be assigned, changed, or removed")
	ErrForbiddenChange   = errors.New("caller's role does not permit this change")
)

// Index is the membership store plus its policy rules.
type Index struct {
	db *gorm.DB
}

// NewIndex creates an Index.
func NewIndex(db *gorm.DB) *Index {
	return &Index{db: db}
}

// Invite creates a pending membership for email. Seats are consumed by
// active members and pending invitations alike; the ceiling is re-checked
// inside the transaction, which makes sequential calls exact. Concurrent
// invites on separate connections can still overshoot by a small margin —
// documented best-effort, acceptable for seat enforcement.
func (x *Index) Invite(ctx context.Context, orgID, email string, role model.Role, invitedBy model.Role) (*model.OrganizationMembership, error) {
	if role == model.RoleOwner {
		return nil, ErrOwnerImmutable
	}
	if role == model.RoleAdmin && invitedBy != model.RoleOwner {
		return nil, ErrForbiddenChange
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if !strings.Contains(email, "@") {
		return nil, fmt.Errorf("invalid invite email %q", email)
	}

	var m *model.OrganizationMembership
	err := x.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var org model.Organization
		if err := tx.First(&org, "id = ?", orgID).Error; err != nil {
			return fmt.Errorf("load organization: %w", err)
		}

		var existing model.OrganizationMembership
		err := tx.Where("organization_id = ? AND email = ?", orgID, email).First(&existing).Error
		if err == nil {
			return ErrAlreadyInvited
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("lookup membership: %w", err)
		}

		// Seat ceiling: every membership row, accepted or pending, holds a seat.
		var used int64
		if err := tx.Model(&model.OrganizationMembership{}).
			Where("organization_id = ?", orgID).
			Count(&used).Error; err != nil {
			return fmt.Errorf("count seats: %w", err)
		}
		if used >= int64(org.SeatsPurchased) {
			return ErrSeatsExhausted
		}

		m = &model.OrganizationMembership{
			OrganizationID: orgID,
			Email:          email,
			Role:           role,
			InvitedAt:      time.Now(),
		}
		return tx.Create(m).Error
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Bootstrap creates the owner membership at organization creation. This is
// the only path that writes the owner role.
func (x *Index) Bootstrap(ctx context.Context, orgID, email, userID string) (*model.OrganizationMembership, error) {
	now := time.Now()
	m := &model.OrganizationMembership{
		OrganizationID: orgID,
		Email:          strings.ToLower(email),
		UserID:         &userID,
		Role:           model.RoleOwner,
		InvitedAt:      now,
		AcceptedAt:     &now,
	}
	if err := x.db.WithContext(ctx).Create(m).Error; err != nil {
		return nil, fmt.Errorf("create owner membership: %w", err)
	}
	return m, nil
}

// Accept marks the pending invitation for email as active and binds it to
// userID. Accepting an already-active membership is a no-op.
func (x *Index) Accept(ctx context.Context, orgID, email, userID string) (*model.OrganizationMembership, error) {
	email = strings.ToLower(email)
	var m model.OrganizationMembership
	err := x.db.WithContext(ctx).
		Where("organization_id = ? AND email = ?", orgID, email).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMembershipMissing
	}
	if err != nil {
		return nil, fmt.Errorf("lookup invitation: %w", err)
	}
	if m.Active() {
		return &m, nil
	}

	now := time.Now()
	updates := map[string]any{"accepted_at": now, "user_id": userID}
	if err := x.db.WithContext(ctx).Model(&m).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("accept invitation: %w", err)
	}
	m.AcceptedAt = &now
	m.UserID = &userID
	return &m, nil
}

// ChangeRole applies the role policy: only the owner may promote to admin,
// and the owner role itself is untouchable in both directions.
func (x *Index) ChangeRole(ctx context.Context, orgID, membershipID string, newRole, actorRole model.Role) error {
	if newRole == model.RoleOwner {
		return ErrOwnerImmutable
	}
	m, err := x.byID(ctx, orgID, membershipID)
	if err != nil {
		return err
	}
	if m.Role == model.RoleOwner {
		return ErrOwnerImmutable
	}
	if newRole == model.RoleAdmin && actorRole != model.RoleOwner {
		return ErrForbiddenChange
	}
	if actorRole != model.RoleOwner && actorRole != model.RoleAdmin {
		return ErrForbiddenChange
	}
	return x.db.WithContext(ctx).Model(m).Update("role", newRole).Error
}

// Remove deletes a membership (freeing its seat). Admins may remove members
// but not other admins; only the owner removes admins; the owner row is
// never removable.
func (x *Index) Remove(ctx context.Context, orgID, membershipID string, actorRole model.Role) error {
	m, err := x.byID(ctx, orgID, membershipID)
	if err != nil {
		return err
	}
	if m.Role == model.RoleOwner {
		return ErrOwnerImmutable
	}
	if m.Role == model.RoleAdmin && actorRole != model.RoleOwner {
		return ErrForbiddenChange
	}
	if actorRole != model.RoleOwner && actorRole != model.RoleAdmin {
		return ErrForbiddenChange
	}
	return x.db.WithContext(ctx).Delete(m).Error
}

// RoleOf returns the caller's active role in the organization, or
// ErrMembershipMissing when they have none.
func (x *Index) RoleOf(ctx context.Context, orgID, userID string) (model.Role, error) {
	var m model.OrganizationMembership
	err := x.db.WithContext(ctx).
		Where("organization_id = ? AND user_id = ? AND accepted_at IS NOT NULL", orgID, userID).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrMembershipMissing
	}
	if err != nil {
		return "", fmt.Errorf("lookup role: %w", err)
	}
	return m.Role, nil
}

// List returns all memberships of an organization, pending included.
func (x *Index) List(ctx context.Context, orgID string) ([]model.OrganizationMembership, error) {
	var ms []model.OrganizationMembership
	if err := x.db.WithContext(ctx).
		Where("organization_id = ?", orgID).
		Order("invited_at").
		Find(&ms).Error; err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	return ms, nil
}

func (x *Index) byID(ctx context.Context, orgID, membershipID string) (*model.OrganizationMembership, error) {
	var m model.OrganizationMembership
	err := x.db.WithContext(ctx).
		Where("id = ? AND organization_id = ?", membershipID, orgID).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMembershipMissing
	}
	if err != nil {
		return nil, fmt.Errorf("lookup membership: %w", err)
	}
	return &m, nil
}
