package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/vizboardhq/vizboard/internal/api/middleware"
	"github.com/vizboardhq/vizboard/internal/api/respond"
	"github.com/vizboardhq/vizboard/internal/model"
)

// versionResource is the list projection of a version row; snapshots are
// fetched individually.
type versionResource struct {
	MajorVersion  int              `json:"major_version"`
	MinorVersion  int              `json:"minor_version"`
	ChangeType    model.ChangeType `json:"change_type"`
	ChangeSummary string           `json:"change_summary"`
	CreatedBy     string           `json:"created_by"`
	CreatedAt     time.Time        `json:"created_at"`
}

// ListVersions handles GET /api/v1/dashboards/{id}/versions.
func (h *DashboardHandler) ListVersions(w http.ResponseWriter, r *http.Request) {
	d, ok := h.ownedDashboard(w, r)
	if !ok {
		return
	}
	versions, err := h.ledger.List(r.Context(), d.ID)
	if err != nil {
		respond.DomainError(w, err)
		return
	}
	out := make([]versionResource, 0, len(versions))
	for _, v := range versions {
		out = append(out, versionResource{
			MajorVersion:  v.MajorVersion,
			MinorVersion:  v.MinorVersion,
			ChangeType:    v.ChangeType,
			ChangeSummary: v.ChangeSummary,
			CreatedBy:     v.CreatedBy,
			CreatedAt:     v.CreatedAt,
		})
	}
	respond.JSON(w, http.StatusOK, map[string]any{
		"versions":      out,
		"current_major": d.CurrentMajor,
		"current_minor": d.CurrentMinor,
	})
}

type restoreRequest struct {
	MajorVersion int `json:"major_version"`
	MinorVersion int `json:"minor_version"`
}

// Restore handles POST /api/v1/dashboards/{id}/versions/restore. The target
// snapshot is copied forward as a new latest version; history is untouched.
func (h *DashboardHandler) Restore(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	d, ok := h.ownedDashboard(w, r)
	if !ok {
		return
	}
	var req restoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Error(w, http.StatusBadRequest, "request body must be valid JSON")
		return
	}
	if req.MajorVersion < 1 || req.MinorVersion < 0 {
		respond.Error(w, http.StatusBadRequest, "major_version and minor_version are required")
		return
	}

	v, err := h.ledger.Restore(r.Context(), d.ID, req.MajorVersion, req.MinorVersion, claims.UserID)
	if err != nil {
		respond.DomainError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{
		"restored_from": map[string]int{"major_version": req.MajorVersion, "minor_version": req.MinorVersion},
		"major_version": v.MajorVersion,
		"minor_version": v.MinorVersion,
	})
}
