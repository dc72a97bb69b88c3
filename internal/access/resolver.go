// Package access implements the dashboard visibility model: the share
// registry (explicit email/domain grants) and the resolver that decides
// whether a viewer may see a dashboard and in what capacity.
package access

import (
	"context"
	"strings"

	"github.com/vizboardhq/vizboard/internal/model"
	"gorm.io/gorm"
)

// Decision is the outcome of resolving a viewer against a dashboard.
type Decision string

const (
	// Granted means the viewer may see the dashboard content.
	Granted Decision = "granted"
	// Denied means the viewer may not see it. Authenticated viewers with no
	// matching grant land here — the "access revoked" case, distinct from
	// RequiresAuth in the UI.
	Denied Decision = "denied"
	// RequiresAuth means an anonymous viewer must authenticate before the
	// decision can be made. Never returned for authenticated viewers.
	RequiresAuth Decision = "requires_auth"
)

// ViewerClass records why access was granted.
type ViewerClass string

const (
	ClassOwner         ViewerClass = "owner"
	ClassOrgMember     ViewerClass = "org_member"
	ClassExplicitShare ViewerClass = "explicit_share"
	ClassDomainShare   ViewerClass = "domain_share"
	ClassPublic        ViewerClass = "public"
)

// Viewer identifies the requesting party. The zero value is anonymous.
type Viewer struct {
	ID    string
	Email string
}

// Anonymous reports whether the viewer is unauthenticated.
func (v Viewer) Anonymous() bool { return v.ID == "" }

// Result is the resolver's answer. Class is only meaningful when the
// decision is Granted.
type Result struct {
	Decision Decision
	Class    ViewerClass
}

var denied = Result{Decision: Denied}

// Resolver answers visibility questions over the share registry and the
// organization membership index.
type Resolver struct {
	db *gorm.DB
}

// NewResolver creates a Resolver.
func NewResolver(db *gorm.DB) *Resolver {
	return &Resolver{db: db}
}

// Resolve decides whether viewer may see d. Every lookup failure resolves
// to Denied — access never fails open.
func (r *Resolver) Resolve(ctx context.Context, d *model.Dashboard, viewer Viewer) Result {
	// Published dashboards are open to everyone, anonymous included.
	if d.Published {
		return Result{Decision: Granted, Class: ClassPublic}
	}

	if !viewer.Anonymous() && viewer.ID == d.OwnerID {
		return Result{Decision: Granted, Class: ClassOwner}
	}

	// Organization-wide sharing is additive to the share list.
	if d.SharedWithOrg && d.OrganizationID != nil && !viewer.Anonymous() {
		var count int64
		err := r.db.WithContext(ctx).Model(&model.OrganizationMembership{}).
			Where("organization_id = ? AND user_id = ? AND accepted_at IS NOT NULL", *d.OrganizationID, viewer.ID).
			Count(&count).Error
		if err != nil {
			return denied
		}
		if count > 0 {
			return Result{Decision: Granted, Class: ClassOrgMember}
		}
	}

	var shares []model.DashboardShare
	if err := r.db.WithContext(ctx).Where("dashboard_id = ?", d.ID).Find(&shares).Error; err != nil {
		return denied
	}
	// Private dashboard: no shares configured, nobody but the owner gets in.
	if len(shares) == 0 {
		return denied
	}
	// The auth gate must not leak whether a given viewer would match.
	if viewer.Anonymous() {
		return Result{Decision: RequiresAuth}
	}

	email := strings.ToLower(viewer.Email)
	domain := emailDomain(email)
	for _, sh := range shares {
		// share_value is compared as stored; it is normalised to lower case
		// at write time by the registry.
		switch sh.ShareType {
		case model.ShareByEmail:
			if sh.ShareValue == email {
				return Result{Decision: Granted, Class: ClassExplicitShare}
			}
		case model.ShareByDomain:
			if domain != "" && sh.ShareValue == domain {
				return Result{Decision: Granted, Class: ClassDomainShare}
			}
		}
	}
	return denied
}

// EffectiveViewerType decides whether a share recipient is provisioned a
// full account (internal) or a scoped viewer session (external). A share's
// explicit viewer_type wins; "auto" compares the requesting email's domain
// with the dashboard owner's at verification time.
func EffectiveViewerType(share *model.DashboardShare, viewerEmail, ownerEmail string) model.ViewerType {
	if share != nil && share.ViewerType != model.ViewerAuto {
		return share.ViewerType
	}
	vd := emailDomain(strings.ToLower(viewerEmail))
	od := emailDomain(strings.ToLower(ownerEmail))
	if vd != "" && vd == od {
		return model.ViewerInternal
	}
	return model.ViewerExternal
}

func emailDomain(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return email[at+1:]
}
