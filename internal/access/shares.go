package access

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vizboardhq/vizboard/internal/model"
	"gorm.io/gorm"
)

// Registry errors.
var (
	ErrShareValueInvalid = errors.New("share value is not a valid email or domain")
	ErrShareNotFound     = errors.New("share not found")
)

// Registry is the write side of the share list. Share values are normalised
// to lower case here so the resolver can compare them as stored.
type Registry struct {
	db *gorm.DB
}

// NewRegistry creates a Registry.
func NewRegistry(db *gorm.DB) *Registry {
	return &Registry{db: db}
}

// Create adds a grant. Duplicate (dashboard, type, value) rows are absorbed:
// the existing share is returned unchanged.
func (g *Registry) Create(ctx context.Context, dashboardID string, shareType model.ShareType, value string, viewerType model.ViewerType, createdBy string) (*model.DashboardShare, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	switch shareType {
	case model.ShareByEmail:
		if !strings.Contains(value, "@") {
			return nil, ErrShareValueInvalid
		}
	case model.ShareByDomain:
		if value == "" || strings.Contains(value, "@") {
			return nil, ErrShareValueInvalid
		}
	default:
		return nil, fmt.Errorf("unknown share type %q", shareType)
	}
	if viewerType == "" {
		viewerType = model.ViewerAuto
	}

	var existing model.DashboardShare
	err := g.db.WithContext(ctx).
		Where("dashboard_id = ? AND share_type = ? AND share_value = ?", dashboardID, shareType, value).
		First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("lookup share: %w", err)
	}

	share := &model.DashboardShare{
		DashboardID: dashboardID,
		ShareType:   shareType,
		ShareValue:  value,
		ViewerType:  viewerType,
		CreatedBy:   createdBy,
	}
	if err := g.db.WithContext(ctx).Create(share).Error; err != nil {
		return nil, fmt.Errorf("create share: %w", err)
	}
	return share, nil
}

// List returns all grants on a dashboard.
func (g *Registry) List(ctx context.Context, dashboardID string) ([]model.DashboardShare, error) {
	var shares []model.DashboardShare
	if err := g.db.WithContext(ctx).
		Where("dashboard_id = ?", dashboardID).
		Order("created_at").
		Find(&shares).Error; err != nil {
		return nil, fmt.Errorf("list shares: %w", err)
	}
	return shares, nil
}

// Delete removes a grant by id, scoped to the dashboard.
func (g *Registry) Delete(ctx context.Context, dashboardID, shareID string) error {
	res := g.db.WithContext(ctx).
		Where("id = ? AND dashboard_id = ?", shareID, dashboardID).
		Delete(&model.DashboardShare{})
	if res.Error != nil {
		return fmt.Errorf("delete share: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrShareNotFound
	}
	return nil
}

// MatchForEmail returns the grant that admits email, preferring an exact
// email share over a domain share, or nil when nothing matches. Used by the
// OTP verify flow to pick the viewer_type override.
func (g *Registry) MatchForEmail(ctx context.Context, dashboardID, email string) (*model.DashboardShare, error) {
	email = strings.ToLower(email)
	shares, err := g.List(ctx, dashboardID)
	if err != nil {
		return nil, err
	}
	var domainMatch *model.DashboardShare
	for i := range shares {
		sh := &shares[i]
		switch sh.ShareType {
		case model.ShareByEmail:
			if sh.ShareValue == email {
				return sh, nil
			}
		case model.ShareByDomain:
			if d := emailDomain(email); d != "" && sh.ShareValue == d && domainMatch == nil {
				domainMatch = sh
			}
		}
	}
	return domainMatch, nil
}
