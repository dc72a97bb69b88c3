package handler

import (
	"encoding/json"
	"net/http"

	"github.com/vizboardhq/vizboard/internal/api/middleware"
	"github.com/vizboardhq/vizboard/internal/api/respond"
	"github.com/vizboardhq/vizboard/internal/model"
)

type createShareRequest struct {
	ShareType  model.ShareType  `json:"share_type"`
	ShareValue string           `json:"share_value"`
	ViewerType model.ViewerType `json:"viewer_type"`
}

// CreateShare handles POST /api/v1/dashboards/{id}/shares.
func (h *DashboardHandler) CreateShare(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	d, ok := h.ownedDashboard(w, r)
	if !ok {
		return
	}
	var req createShareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Error(w, http.StatusBadRequest, "request body must be valid JSON")
		return
	}
	share, err := h.registry.Create(r.Context(), d.ID, req.ShareType, req.ShareValue, req.ViewerType, claims.UserID)
	if err != nil {
		respond.DomainError(w, err)
		return
	}
	respond.JSON(w, http.StatusCreated, share)
}

// ListShares handles GET /api/v1/dashboards/{id}/shares.
func (h *DashboardHandler) ListShares(w http.ResponseWriter, r *http.Request) {
	d, ok := h.ownedDashboard(w, r)
	if !ok {
		return
	}
	shares, err := h.registry.List(r.Context(), d.ID)
	if err != nil {
		respond.DomainError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"shares": shares})
}

// DeleteShare handles DELETE /api/v1/dashboards/{id}/shares/{shareID}.
// Live viewer sessions on the dashboard are revoked so removal takes
// effect immediately, not at session expiry.
func (h *DashboardHandler) DeleteShare(w http.ResponseWriter, r *http.Request) {
	d, ok := h.ownedDashboard(w, r)
	if !ok {
		return
	}
	if err := h.registry.Delete(r.Context(), d.ID, r.PathValue("shareID")); err != nil {
		respond.DomainError(w, err)
		return
	}
	if err := h.sessions.RevokeForDashboard(r.Context(), d.ID); err != nil {
		h.log.Error("revoke viewer sessions", "dashboard_id", d.ID, "err", err)
	}
	w.WriteHeader(http.StatusNoContent)
}
