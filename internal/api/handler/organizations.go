package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/vizboardhq/vizboard/internal/api/middleware"
	"github.com/vizboardhq/vizboard/internal/api/respond"
	"github.com/vizboardhq/vizboard/internal/member"
	"github.com/vizboardhq/vizboard/internal/model"
	"gorm.io/gorm"
)

// OrgHandler handles /api/v1/organizations/* routes.
type OrgHandler struct {
	db    *gorm.DB
	index *member.Index
	log   *slog.Logger
}

// NewOrgHandler creates an OrgHandler.
func NewOrgHandler(db *gorm.DB, log *slog.Logger) *OrgHandler {
	return &OrgHandler{db: db, index: member.NewIndex(db), log: log}
}

type createOrgRequest struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// Create handles POST /api/v1/organizations. The caller becomes the owner;
// the owner membership is the only one ever written with that role.
func (h *OrgHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())

	var req createOrgRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		respond.Error(w, http.StatusBadRequest, "name is required")
		return
	}
	slug := req.Slug
	if slug == "" {
		slug = slugify(req.Name)
	}

	org := &model.Organization{
		Name:           req.Name,
		Slug:           slug,
		PlanType:       model.PlanFree,
		SeatsPurchased: 1,
		CreditsBalance: model.DefaultCredits,
	}
	err := h.db.WithContext(r.Context()).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(org).Error; err != nil {
			return err
		}
		_, err := member.NewIndex(tx).Bootstrap(r.Context(), org.ID, claims.Email, claims.UserID)
		return err
	})
	if err != nil {
		respond.DomainError(w, err)
		return
	}
	respond.JSON(w, http.StatusCreated, org)
}

// Get handles GET /api/v1/organizations/{id} for active members.
func (h *OrgHandler) Get(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	orgID := r.PathValue("id")

	if _, err := h.index.RoleOf(r.Context(), orgID, claims.UserID); err != nil {
		respond.Error(w, http.StatusNotFound, "not found")
		return
	}
	var org model.Organization
	if err := h.db.WithContext(r.Context()).First(&org, "id = ?", orgID).Error; err != nil {
		respond.DomainError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, &org)
}

// ListMembers handles GET /api/v1/organizations/{id}/members.
func (h *OrgHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	orgID := r.PathValue("id")

	if _, err := h.index.RoleOf(r.Context(), orgID, claims.UserID); err != nil {
		respond.Error(w, http.StatusNotFound, "not found")
		return
	}
	ms, err := h.index.List(r.Context(), orgID)
	if err != nil {
		respond.DomainError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"members": ms})
}

type inviteRequest struct {
	Email string     `json:"email"`
	Role  model.Role `json:"role"`
}

// Invite handles POST /api/v1/organizations/{id}/members. Subject to the
// seat ceiling: active members plus pending invitations never exceed the
// purchased seats under sequential calls.
func (h *OrgHandler) Invite(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	orgID := r.PathValue("id")

	actorRole, err := h.index.RoleOf(r.Context(), orgID, claims.UserID)
	if err != nil {
		respond.Error(w, http.StatusNotFound, "not found")
		return
	}
	if actorRole != model.RoleOwner && actorRole != model.RoleAdmin {
		respond.Error(w, http.StatusForbidden, "forbidden")
		return
	}

	var req inviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		respond.Error(w, http.StatusBadRequest, "email is required")
		return
	}
	role := req.Role
	if role == "" {
		role = model.RoleMember
	}

	m, err := h.index.Invite(r.Context(), orgID, req.Email, role, actorRole)
	if err != nil {
		respond.DomainError(w, err)
		return
	}
	respond.JSON(w, http.StatusCreated, m)
}

// AcceptInvite handles POST /api/v1/organizations/{id}/members/accept.
// The invitation is matched by the caller's verified email.
func (h *OrgHandler) AcceptInvite(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	orgID := r.PathValue("id")

	m, err := h.index.Accept(r.Context(), orgID, claims.Email, claims.UserID)
	if err != nil {
		if errors.Is(err, member.ErrMembershipMissing) {
			respond.Error(w, http.StatusNotFound, "no invitation for this account")
			return
		}
		respond.DomainError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, m)
}

type changeRoleRequest struct {
	Role model.Role `json:"role"`
}

// ChangeMemberRole handles PATCH /api/v1/organizations/{id}/members/{memberID}.
func (h *OrgHandler) ChangeMemberRole(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	orgID := r.PathValue("id")

	actorRole, err := h.index.RoleOf(r.Context(), orgID, claims.UserID)
	if err != nil {
		respond.Error(w, http.StatusNotFound, "not found")
		return
	}

	var req changeRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Role == "" {
		respond.Error(w, http.StatusBadRequest, "role is required")
		return
	}
	if err := h.index.ChangeRole(r.Context(), orgID, r.PathValue("memberID"), req.Role, actorRole); err != nil {
		respond.DomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemoveMember handles DELETE /api/v1/organizations/{id}/members/{memberID}.
func (h *OrgHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	orgID := r.PathValue("id")

	actorRole, err := h.index.RoleOf(r.Context(), orgID, claims.UserID)
	if err != nil {
		respond.Error(w, http.StatusNotFound, "not found")
		return
	}
	if err := h.index.Remove(r.Context(), orgID, r.PathValue("memberID"), actorRole); err != nil {
		respond.DomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
