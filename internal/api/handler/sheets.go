package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/vizboardhq/vizboard/internal/api/middleware"
	"github.com/vizboardhq/vizboard/internal/api/respond"
	"github.com/vizboardhq/vizboard/internal/model"
	"gorm.io/gorm"
)

// SheetHandler stores the OAuth token pair used to pull spreadsheet data.
// One connection per user; connecting again replaces the stored pair.
type SheetHandler struct {
	db  *gorm.DB
	log *slog.Logger
}

// NewSheetHandler creates a SheetHandler.
func NewSheetHandler(db *gorm.DB, log *slog.Logger) *SheetHandler {
	return &SheetHandler{db: db, log: log}
}

type connectSheetRequest struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// Connect handles POST /api/v1/sheets/connection.
func (h *SheetHandler) Connect(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())

	var req connectSheetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AccessToken == "" || req.RefreshToken == "" || req.ExpiresIn <= 0 {
		respond.Error(w, http.StatusBadRequest, "access_token, refresh_token and expires_in are required")
		return
	}
	expiresAt := time.Now().UTC().Add(time.Duration(req.ExpiresIn) * time.Second)

	err := h.db.WithContext(r.Context()).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", claims.UserID).Delete(&model.SheetConnection{}).Error; err != nil {
			return err
		}
		return tx.Create(&model.SheetConnection{
			UserID:       claims.UserID,
			AccessToken:  req.AccessToken,
			RefreshToken: req.RefreshToken,
			ExpiresAt:    expiresAt,
		}).Error
	})
	if err != nil {
		respond.DomainError(w, err)
		return
	}
	respond.JSON(w, http.StatusCreated, map[string]any{
		"status":     "connected",
		"expires_at": expiresAt,
	})
}

// Status handles GET /api/v1/sheets/connection. Tokens are never returned;
// only whether a connection exists and whether it needs a refresh.
func (h *SheetHandler) Status(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())

	var conn model.SheetConnection
	err := h.db.WithContext(r.Context()).Where("user_id = ?", claims.UserID).First(&conn).Error
	if err != nil {
		respond.DomainError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{
		"connected":     true,
		"expires_at":    conn.ExpiresAt,
		"needs_refresh": conn.NeedsRefresh(time.Now().UTC()),
	})
}

// Disconnect handles DELETE /api/v1/sheets/connection.
func (h *SheetHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if err := h.db.WithContext(r.Context()).
		Where("user_id = ?", claims.UserID).
		Delete(&model.SheetConnection{}).Error; err != nil {
		respond.DomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
