package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/vizboardhq/vizboard/internal/api/middleware"
	"github.com/vizboardhq/vizboard/internal/api/respond"
	"github.com/vizboardhq/vizboard/internal/model"
	"gorm.io/gorm"
)

// DomainHandler manages customer-owned hostnames attached to workspaces.
// Domains move pending -> verifying -> verified, or to failed with the
// reason recorded; verification itself runs out of band.
type DomainHandler struct {
	db  *gorm.DB
	log *slog.Logger
}

// NewDomainHandler creates a DomainHandler.
func NewDomainHandler(db *gorm.DB, log *slog.Logger) *DomainHandler {
	return &DomainHandler{db: db, log: log}
}

type createDomainRequest struct {
	WorkspaceID string `json:"workspace_id"`
	Hostname    string `json:"hostname"`
}

// Create handles POST /api/v1/domains.
func (h *DomainHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())

	var req createDomainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.WorkspaceID == "" || req.Hostname == "" {
		respond.Error(w, http.StatusBadRequest, "workspace_id and hostname are required")
		return
	}
	hostname := strings.ToLower(strings.TrimSpace(req.Hostname))
	if !validHostname(hostname) {
		respond.Error(w, http.StatusBadRequest, "hostname is not valid")
		return
	}

	var ws model.Workspace
	if err := h.db.WithContext(r.Context()).
		First(&ws, "id = ? AND owner_id = ?", req.WorkspaceID, claims.UserID).Error; err != nil {
		respond.Error(w, http.StatusNotFound, "workspace not found")
		return
	}

	var existing int64
	if err := h.db.WithContext(r.Context()).Model(&model.CustomDomain{}).
		Where("hostname = ?", hostname).Count(&existing).Error; err != nil {
		respond.DomainError(w, err)
		return
	}
	if existing > 0 {
		respond.Error(w, http.StatusConflict, "hostname is already registered")
		return
	}

	d := &model.CustomDomain{
		WorkspaceID: ws.ID,
		Hostname:    hostname,
		Status:      model.DomainPending,
	}
	if err := h.db.WithContext(r.Context()).Create(d).Error; err != nil {
		respond.DomainError(w, err)
		return
	}
	respond.JSON(w, http.StatusCreated, d)
}

// List handles GET /api/v1/domains?workspace_id=...
func (h *DomainHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	workspaceID := r.URL.Query().Get("workspace_id")
	if workspaceID == "" {
		respond.Error(w, http.StatusBadRequest, "workspace_id is required")
		return
	}
	var ws model.Workspace
	if err := h.db.WithContext(r.Context()).
		First(&ws, "id = ? AND owner_id = ?", workspaceID, claims.UserID).Error; err != nil {
		respond.Error(w, http.StatusNotFound, "workspace not found")
		return
	}
	var domains []model.CustomDomain
	if err := h.db.WithContext(r.Context()).
		Where("workspace_id = ?", ws.ID).
		Order("created_at DESC").
		Find(&domains).Error; err != nil {
		respond.DomainError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"domains": domains})
}

// Verify handles POST /api/v1/domains/{id}/verify: it moves a pending or
// failed domain into verifying and re-clears the recorded error. A domain
// already verified is returned as is.
func (h *DomainHandler) Verify(w http.ResponseWriter, r *http.Request) {
	d, ok := h.ownedDomain(w, r)
	if !ok {
		return
	}
	switch d.Status {
	case model.DomainVerified:
		respond.JSON(w, http.StatusOK, d)
		return
	case model.DomainVerifying:
		respond.Error(w, http.StatusConflict, "verification already in progress")
		return
	}
	if err := h.db.WithContext(r.Context()).Model(d).
		Updates(map[string]any{"status": model.DomainVerifying, "last_error": ""}).Error; err != nil {
		respond.DomainError(w, err)
		return
	}
	d.Status = model.DomainVerifying
	d.LastError = ""
	respond.JSON(w, http.StatusAccepted, d)
}

// Delete handles DELETE /api/v1/domains/{id}.
func (h *DomainHandler) Delete(w http.ResponseWriter, r *http.Request) {
	d, ok := h.ownedDomain(w, r)
	if !ok {
		return
	}
	if err := h.db.WithContext(r.Context()).Delete(d).Error; err != nil {
		respond.DomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MarkDomainVerification records the outcome of an out-of-band verification
// attempt. It is called by the verification worker, not a route.
func MarkDomainVerification(db *gorm.DB, domainID string, verifyErr error) error {
	updates := map[string]any{"status": model.DomainVerified, "last_error": ""}
	if verifyErr != nil {
		updates["status"] = model.DomainFailed
		updates["last_error"] = verifyErr.Error()
	}
	return db.Model(&model.CustomDomain{}).
		Where("id = ? AND status = ?", domainID, model.DomainVerifying).
		Updates(updates).Error
}

func (h *DomainHandler) ownedDomain(w http.ResponseWriter, r *http.Request) (*model.CustomDomain, bool) {
	claims := middleware.ClaimsFromContext(r.Context())
	var d model.CustomDomain
	if err := h.db.WithContext(r.Context()).First(&d, "id = ?", r.PathValue("id")).Error; err != nil {
		respond.Error(w, http.StatusNotFound, "not found")
		return nil, false
	}
	var ws model.Workspace
	if err := h.db.WithContext(r.Context()).
		First(&ws, "id = ? AND owner_id = ?", d.WorkspaceID, claims.UserID).Error; err != nil {
		respond.Error(w, http.StatusNotFound, "not found")
		return nil, false
	}
	return &d, true
}

func validHostname(hostname string) bool {
	if len(hostname) < 4 || len(hostname) > 253 || !strings.Contains(hostname, ".") {
		return false
	}
	for _, label := range strings.Split(hostname, ".") {
		if label == "" || len(label) > 63 {
			return false
		}
		for i, c := range label {
			switch {
			case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			case c == '-' && i > 0 && i < len(label)-1:
			default:
				return false
			}
		}
	}
	return true
}
