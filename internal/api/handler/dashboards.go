package handler

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/vizboardhq/vizboard/internal/access"
	"github.com/vizboardhq/vizboard/internal/api/middleware"
	"github.com/vizboardhq/vizboard/internal/api/respond"
	"github.com/vizboardhq/vizboard/internal/auth"
	"github.com/vizboardhq/vizboard/internal/ledger"
	"github.com/vizboardhq/vizboard/internal/model"
	"github.com/vizboardhq/vizboard/internal/worker"
	"gorm.io/gorm"
)

// DashboardHandler handles /api/v1/dashboards/* routes.
type DashboardHandler struct {
	db       *gorm.DB
	resolver *access.Resolver
	registry *access.Registry
	ledger   *ledger.Ledger
	queue    worker.Queue
	sessions *auth.ViewerSessionStore
	log      *slog.Logger
}

// NewDashboardHandler creates a DashboardHandler.
func NewDashboardHandler(db *gorm.DB, queue worker.Queue, sessions *auth.ViewerSessionStore, log *slog.Logger) *DashboardHandler {
	return &DashboardHandler{
		db:       db,
		resolver: access.NewResolver(db),
		registry: access.NewRegistry(db),
		ledger:   ledger.New(db),
		queue:    queue,
		sessions: sessions,
		log:      log,
	}
}

// dashboardResource is the owner-facing projection of a dashboard.
type dashboardResource struct {
	ID            string                 `json:"id"`
	WorkspaceID   string                 `json:"workspace_id"`
	Slug          string                 `json:"slug"`
	Title         string                 `json:"title"`
	Published     bool                   `json:"published"`
	SharedWithOrg bool                   `json:"shared_with_org"`
	Status        model.GenerationStatus `json:"status"`
	LastError     string                 `json:"last_error,omitempty"`
	CurrentMajor  int                    `json:"current_major"`
	CurrentMinor  int                    `json:"current_minor"`
	Config        *model.DashboardConfig `json:"config,omitempty"`
	DataSource    string                 `json:"data_source"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

func toResource(d *model.Dashboard, includeContent bool) dashboardResource {
	res := dashboardResource{
		ID:            d.ID,
		WorkspaceID:   d.WorkspaceID,
		Slug:          d.Slug,
		Title:         d.Title,
		Published:     d.Published,
		SharedWithOrg: d.SharedWithOrg,
		Status:        d.Status,
		LastError:     d.LastError,
		CurrentMajor:  d.CurrentMajor,
		CurrentMinor:  d.CurrentMinor,
		DataSource:    d.DataSource,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
	// Content is only ever exposed once generation has completed; pending
	// and generating dashboards render a placeholder for every viewer.
	if includeContent && d.Status == model.GenerationCompleted {
		res.Config = d.Config
	}
	return res
}

type createDashboardRequest struct {
	WorkspaceID string `json:"workspace_id"`
	Title       string `json:"title"`
	Slug        string `json:"slug"`
	Data        string `json:"data"`
	RawContent  string `json:"raw_content"`
	DataSource  string `json:"data_source"`
}

// Create handles POST /api/v1/dashboards. The dashboard row is visible
// immediately with status pending; generation runs on the worker queue.
func (h *DashboardHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())

	var req createDashboardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Error(w, http.StatusBadRequest, "request body must be valid JSON")
		return
	}
	if req.Title == "" || req.Data == "" || req.WorkspaceID == "" {
		respond.Error(w, http.StatusBadRequest, "workspace_id, title and data are required")
		return
	}

	var ws model.Workspace
	if err := h.db.WithContext(r.Context()).First(&ws, "id = ?", req.WorkspaceID).Error; err != nil {
		respond.Error(w, http.StatusNotFound, "workspace not found")
		return
	}
	if ws.OwnerID != claims.UserID {
		respond.Error(w, http.StatusForbidden, "forbidden")
		return
	}
	if ws.OrganizationID != nil {
		var org model.Organization
		if err := h.db.WithContext(r.Context()).First(&org, "id = ?", *ws.OrganizationID).Error; err != nil {
			respond.DomainError(w, err)
			return
		}
		if org.CreditsBalance <= 0 {
			respond.Error(w, http.StatusConflict, "organization has no generation credits remaining")
			return
		}
	}

	slug := req.Slug
	if slug == "" {
		slug = slugify(req.Title)
	}
	if taken, err := h.slugTaken(r, slug); err != nil {
		respond.DomainError(w, err)
		return
	} else if taken {
		respond.Error(w, http.StatusConflict, "slug is already in use")
		return
	}

	source := req.DataSource
	if source == "" {
		source = "paste"
	}
	d := &model.Dashboard{
		WorkspaceID:    ws.ID,
		OrganizationID: ws.OrganizationID,
		OwnerID:        claims.UserID,
		Slug:           slug,
		Title:          req.Title,
		Status:         model.GenerationPending,
		RawContent:     req.RawContent,
		Data:           req.Data,
		DataSource:     source,
	}
	if err := h.db.WithContext(r.Context()).Create(d).Error; err != nil {
		respond.DomainError(w, err)
		return
	}

	// Fire and forget: a failed enqueue leaves the row pending and
	// retryable, it never rolls the dashboard back.
	if err := h.queue.Enqueue(r.Context(), worker.GenerateArgs{DashboardID: d.ID}); err != nil {
		h.log.Error("enqueue generation", "dashboard_id", d.ID, "err", err)
	}

	respond.JSON(w, http.StatusCreated, toResource(d, false))
}

// List handles GET /api/v1/dashboards — the caller's own dashboards.
func (h *DashboardHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())

	var ds []model.Dashboard
	if err := h.db.WithContext(r.Context()).
		Where("owner_id = ? AND deleted_at IS NULL", claims.UserID).
		Order("created_at DESC").
		Find(&ds).Error; err != nil {
		respond.DomainError(w, err)
		return
	}
	out := make([]dashboardResource, 0, len(ds))
	for i := range ds {
		out = append(out, toResource(&ds[i], false))
	}
	respond.JSON(w, http.StatusOK, map[string]any{"dashboards": out})
}

// Get handles GET /api/v1/dashboards/{id} for the owner.
func (h *DashboardHandler) Get(w http.ResponseWriter, r *http.Request) {
	d, ok := h.ownedDashboard(w, r)
	if !ok {
		return
	}
	respond.JSON(w, http.StatusOK, toResource(d, true))
}

// Delete handles DELETE /api/v1/dashboards/{id} (soft delete).
func (h *DashboardHandler) Delete(w http.ResponseWriter, r *http.Request) {
	d, ok := h.ownedDashboard(w, r)
	if !ok {
		return
	}
	if err := h.db.WithContext(r.Context()).Model(d).
		Update("deleted_at", time.Now()).Error; err != nil {
		respond.DomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type updateSharingRequest struct {
	Published     *bool `json:"published"`
	SharedWithOrg *bool `json:"shared_with_org"`
}

// UpdateSharing handles PATCH /api/v1/dashboards/{id}/sharing:
// publish/unpublish and the org-wide share toggle.
func (h *DashboardHandler) UpdateSharing(w http.ResponseWriter, r *http.Request) {
	d, ok := h.ownedDashboard(w, r)
	if !ok {
		return
	}
	var req updateSharingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Error(w, http.StatusBadRequest, "request body must be valid JSON")
		return
	}
	updates := map[string]any{}
	if req.Published != nil {
		updates["published"] = *req.Published
	}
	if req.SharedWithOrg != nil {
		if *req.SharedWithOrg && d.OrganizationID == nil {
			respond.Error(w, http.StatusBadRequest, "dashboard does not belong to an organization")
			return
		}
		updates["shared_with_org"] = *req.SharedWithOrg
	}
	if len(updates) == 0 {
		respond.Error(w, http.StatusBadRequest, "nothing to update")
		return
	}
	if err := h.db.WithContext(r.Context()).Model(d).Updates(updates).Error; err != nil {
		respond.DomainError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, toResource(d, true))
}

type editRequest struct {
	Config *model.DashboardConfig `json:"config"`
}

// Edit handles PUT /api/v1/dashboards/{id}/content: a manual content edit
// that appends a manual_edit version and moves the pointer with it.
func (h *DashboardHandler) Edit(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	d, ok := h.ownedDashboard(w, r)
	if !ok {
		return
	}
	if d.Status != model.GenerationCompleted {
		respond.Error(w, http.StatusConflict, "dashboard content is not ready for editing")
		return
	}
	var req editRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Config == nil || req.Config.HTML == "" {
		respond.Error(w, http.StatusBadRequest, "config with non-empty html is required")
		return
	}

	snap := ledger.Snapshot{
		Config:     req.Config,
		RawContent: d.RawContent,
		Data:       d.Data,
		DataSource: d.DataSource,
	}
	v, err := h.ledger.CreateVersion(r.Context(), d.ID, snap, model.ChangeManualEdit, claims.UserID, false)
	if err != nil {
		respond.DomainError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{
		"major_version": v.MajorVersion,
		"minor_version": v.MinorVersion,
	})
}

type modifyRequest struct {
	Instruction string `json:"instruction"`
}

// Modify handles POST /api/v1/dashboards/{id}/modify: an AI modification,
// enqueued like initial generation. Completed dashboards do not regress to
// generating; the worker appends an ai_modification version on success.
func (h *DashboardHandler) Modify(w http.ResponseWriter, r *http.Request) {
	d, ok := h.ownedDashboard(w, r)
	if !ok {
		return
	}
	var req modifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Instruction == "" {
		respond.Error(w, http.StatusBadRequest, "instruction is required")
		return
	}
	if d.Status != model.GenerationCompleted {
		respond.Error(w, http.StatusConflict, "dashboard is not ready for modification")
		return
	}
	if err := h.queue.Enqueue(r.Context(), worker.GenerateArgs{DashboardID: d.ID, Instruction: req.Instruction}); err != nil {
		h.log.Error("enqueue modification", "dashboard_id", d.ID, "err", err)
		respond.Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	respond.JSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// Retry handles POST /api/v1/dashboards/{id}/retry for failed generations.
func (h *DashboardHandler) Retry(w http.ResponseWriter, r *http.Request) {
	d, ok := h.ownedDashboard(w, r)
	if !ok {
		return
	}
	if d.Status != model.GenerationFailed && d.Status != model.GenerationPending {
		respond.Error(w, http.StatusConflict, "dashboard is not in a retryable state")
		return
	}
	if err := h.queue.Enqueue(r.Context(), worker.GenerateArgs{DashboardID: d.ID}); err != nil {
		h.log.Error("enqueue retry", "dashboard_id", d.ID, "err", err)
		respond.Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	respond.JSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// View handles GET /api/v1/view/{slug}: the share-gated viewer endpoint.
// Auth is optional; an external viewer session token is accepted in the
// same Authorization header and is valid only for its own dashboard.
func (h *DashboardHandler) View(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")

	var d model.Dashboard
	err := h.db.WithContext(r.Context()).
		Where("slug = ? AND deleted_at IS NULL", slug).
		First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		respond.Error(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		// Fail closed: lookup errors deny rather than surface.
		respond.Error(w, http.StatusForbidden, "access denied")
		return
	}

	viewer := access.Viewer{}
	if claims := middleware.ClaimsFromContext(r.Context()); claims != nil {
		viewer = access.Viewer{ID: claims.UserID, Email: claims.Email}
	} else if token := middleware.BearerToken(r); token != "" {
		// Not a JWT: try it as a dashboard-scoped viewer session.
		if _, err := h.sessions.Validate(r.Context(), d.ID, token); err == nil {
			respond.JSON(w, http.StatusOK, viewerPayload(&d, access.ClassExplicitShare))
			return
		}
	}

	res := h.resolver.Resolve(r.Context(), &d, viewer)
	switch res.Decision {
	case access.Granted:
		respond.JSON(w, http.StatusOK, viewerPayload(&d, res.Class))
	case access.RequiresAuth:
		respond.Error(w, http.StatusUnauthorized, "authentication required")
	default:
		respond.Error(w, http.StatusForbidden, "access denied")
	}
}

// viewerPayload is the share-viewer projection: no raw data, no error
// detail, content only when completed.
func viewerPayload(d *model.Dashboard, class access.ViewerClass) map[string]any {
	payload := map[string]any{
		"slug":         d.Slug,
		"title":        d.Title,
		"status":       d.Status,
		"viewer_class": class,
	}
	if d.Status == model.GenerationCompleted {
		payload["config"] = d.Config
	}
	return payload
}

// ownedDashboard loads the path dashboard and enforces ownership. Missing
// and soft-deleted rows are 404; foreign rows are 404 as well so that
// existence is not leaked, except to authenticated non-owners with a share,
// who still manage nothing here.
func (h *DashboardHandler) ownedDashboard(w http.ResponseWriter, r *http.Request) (*model.Dashboard, bool) {
	claims := middleware.ClaimsFromContext(r.Context())
	id := r.PathValue("id")

	var d model.Dashboard
	err := h.db.WithContext(r.Context()).
		Where("id = ? AND deleted_at IS NULL", id).
		First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		respond.Error(w, http.StatusNotFound, "not found")
		return nil, false
	}
	if err != nil {
		respond.DomainError(w, err)
		return nil, false
	}
	if d.OwnerID != claims.UserID {
		respond.Error(w, http.StatusNotFound, "not found")
		return nil, false
	}
	return &d, true
}

func (h *DashboardHandler) slugTaken(r *http.Request, slug string) (bool, error) {
	var count int64
	err := h.db.WithContext(r.Context()).Model(&model.Dashboard{}).
		Where("slug = ? AND deleted_at IS NULL", slug).
		Count(&count).Error
	return count > 0, err
}

// slugify derives a URL-safe slug from a title plus a short random suffix
// to keep slugs unique without exposing sequential IDs.
func slugify(title string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteByte('-')
		}
	}
	slug := strings.Trim(b.String(), "-")
	if len(slug) > 48 {
		slug = slug[:48]
	}
	suffix := make([]byte, 3)
	_, _ = rand.Read(suffix)
	if slug == "" {
		return hex.EncodeToString(suffix)
	}
	return slug + "-" + hex.EncodeToString(suffix)
}
