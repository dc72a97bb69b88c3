package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/vizboardhq/vizboard/internal/api/middleware"
	"github.com/vizboardhq/vizboard/internal/api/respond"
	"github.com/vizboardhq/vizboard/internal/member"
	"github.com/vizboardhq/vizboard/internal/model"
	"gorm.io/gorm"
)

// WorkspaceHandler handles /api/v1/workspaces/* routes.
type WorkspaceHandler struct {
	db    *gorm.DB
	index *member.Index
	log   *slog.Logger
}

// NewWorkspaceHandler creates a WorkspaceHandler.
func NewWorkspaceHandler(db *gorm.DB, log *slog.Logger) *WorkspaceHandler {
	return &WorkspaceHandler{db: db, index: member.NewIndex(db), log: log}
}

type createWorkspaceRequest struct {
	Name           string  `json:"name"`
	Slug           string  `json:"slug"`
	OrganizationID *string `json:"organization_id"`
}

// Create handles POST /api/v1/workspaces. A workspace is personal unless an
// organization id is given, in which case the caller must be an active member.
func (h *WorkspaceHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())

	var req createWorkspaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		respond.Error(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.OrganizationID != nil {
		if _, err := h.index.RoleOf(r.Context(), *req.OrganizationID, claims.UserID); err != nil {
			respond.Error(w, http.StatusForbidden, "not a member of this organization")
			return
		}
	}
	slug := req.Slug
	if slug == "" {
		slug = slugify(req.Name)
	}

	ws := &model.Workspace{
		Name:           req.Name,
		Slug:           slug,
		OwnerID:        claims.UserID,
		OrganizationID: req.OrganizationID,
	}
	if err := h.db.WithContext(r.Context()).Create(ws).Error; err != nil {
		respond.DomainError(w, err)
		return
	}
	respond.JSON(w, http.StatusCreated, ws)
}

// List handles GET /api/v1/workspaces: the caller's own workspaces plus
// those of organizations the caller is an active member of.
func (h *WorkspaceHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())

	var orgIDs []string
	if err := h.db.WithContext(r.Context()).
		Model(&model.OrganizationMembership{}).
		Where("user_id = ? AND accepted_at IS NOT NULL", claims.UserID).
		Pluck("organization_id", &orgIDs).Error; err != nil {
		respond.DomainError(w, err)
		return
	}

	q := h.db.WithContext(r.Context()).Where("owner_id = ?", claims.UserID)
	if len(orgIDs) > 0 {
		q = q.Or("organization_id IN ?", orgIDs)
	}
	var workspaces []model.Workspace
	if err := q.Order("created_at DESC").Find(&workspaces).Error; err != nil {
		respond.DomainError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"workspaces": workspaces})
}

// Get handles GET /api/v1/workspaces/{id}.
func (h *WorkspaceHandler) Get(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())

	var ws model.Workspace
	if err := h.db.WithContext(r.Context()).First(&ws, "id = ?", r.PathValue("id")).Error; err != nil {
		respond.DomainError(w, err)
		return
	}
	if !h.canAccess(r, &ws, claims.UserID) {
		respond.Error(w, http.StatusNotFound, "not found")
		return
	}
	respond.JSON(w, http.StatusOK, &ws)
}

func (h *WorkspaceHandler) canAccess(r *http.Request, ws *model.Workspace, userID string) bool {
	if ws.OwnerID == userID {
		return true
	}
	if ws.OrganizationID == nil {
		return false
	}
	_, err := h.index.RoleOf(r.Context(), *ws.OrganizationID, userID)
	return err == nil
}
