package handler

import (
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
	"github.com/vizboardhq/vizboard/internal/config"
	"github.com/vizboardhq/vizboard/internal/model"
	"github.com/vizboardhq/vizboard/internal/ratelimit"
	"gorm.io/gorm"
)

// OTPHandler handles the email verification flow that grants share viewers
// access: /api/v1/view/{slug}/otp/start and /otp/verify.
type OTPHandler struct {
	db        *gorm.DB
	otp       *auth.OTPService
	registry  *access.Registry
	sessions  *auth.ViewerSessionStore
	refresh   *auth.RefreshStore
	limiter   *ratelimit.Limiter
	limits    config.LimitConfig
	jwtSecret string
	accessTTL time.Duration
	log       *slog.Logger
}

// NewOTPHandler creates an OTPHandler.
func NewOTPHandler(db *gorm.DB, otp *auth.OTPService, sessions *auth.ViewerSessionStore, limiter *ratelimit.Limiter, cfg *config.Config, log *slog.Logger) *OTPHandler {
	return &OTPHandler{
		db:        db,
		otp:       otp,
		registry:  access.NewRegistry(db),
		sessions:  sessions,
		refresh:   auth.NewRefreshStore(db, cfg.JWT.RefreshTTL),
		limiter:   limiter,
		limits:    cfg.Limit,
		jwtSecret: cfg.JWT.Secret,
		accessTTL: cfg.JWT.AccessTTL,
		log:       log,
	}
}

type otpStartRequest struct {
	Email string `json:"email"`
}

// Start handles POST /api/v1/view/{slug}/otp/start. It always answers 202
// for well-formed requests so share membership is not probeable; codes are
// only sent when a matching share exists.
func (h *OTPHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req otpStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !strings.Contains(req.Email, "@") {
		respond.Error(w, http.StatusBadRequest, "a valid email is required")
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))

	// Per-email throttle; the per-IP throttle wraps the route.
	if ok, retryAfter := h.limiter.Allow("otp-email", email, h.limits.PerEmail); !ok {
		respond.RateLimited(w, retryAfter)
		return
	}

	d, err := h.liveDashboard(r, r.PathValue("slug"))
	if err != nil {
		respond.DomainError(w, err)
		return
	}

	match, err := h.registry.MatchForEmail(r.Context(), d.ID, email)
	if err != nil {
		h.log.Error("share match lookup", "dashboard_id", d.ID, "err", err)
	} else if match != nil {
		if err := h.otp.Start(r.Context(), email, d.ID); err != nil {
			h.log.Error("otp start", "dashboard_id", d.ID, "err", err)
			respond.Error(w, http.StatusInternalServerError, "internal error")
			return
		}
	}
	respond.JSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

type otpVerifyRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

// Verify handles POST /api/v1/view/{slug}/otp/verify. Internal viewers
// (same domain as the owner, or pinned by the share) are provisioned a full
// account plus tokens; external viewers receive a bearer session scoped to
// this dashboard only.
func (h *OTPHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req otpVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" || req.Code == "" {
		respond.Error(w, http.StatusBadRequest, "email and code are required")
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))

	d, err := h.liveDashboard(r, r.PathValue("slug"))
	if err != nil {
		respond.DomainError(w, err)
		return
	}

	if _, err := h.otp.Verify(r.Context(), email, req.Code); err != nil {
		respond.DomainError(w, err)
		return
	}

	// The code proved the email; the share list decides admission.
	match, err := h.registry.MatchForEmail(r.Context(), d.ID, email)
	if err != nil {
		respond.Error(w, http.StatusForbidden, "access denied")
		return
	}
	if match == nil && !d.Published {
		respond.Error(w, http.StatusForbidden, "access denied")
		return
	}

	var owner model.User
	if err := h.db.WithContext(r.Context()).First(&owner, "id = ?", d.OwnerID).Error; err != nil {
		respond.Error(w, http.StatusForbidden, "access denied")
		return
	}

	switch access.EffectiveViewerType(match, email, owner.Email) {
	case model.ViewerInternal:
		h.provisionInternal(w, r, email)
	default:
		token, err := h.sessions.Issue(r.Context(), d.ID, email)
		if err != nil {
			h.log.Error("issue viewer session", "dashboard_id", d.ID, "err", err)
			respond.Error(w, http.StatusInternalServerError, "internal error")
			return
		}
		respond.JSON(w, http.StatusOK, map[string]string{
			"viewer_type":   "external",
			"session_token": token,
			"dashboard":     d.Slug,
		})
	}
}

// provisionInternal creates the user on first verification and issues the
// normal token pair — internal viewers get a real account.
func (h *OTPHandler) provisionInternal(w http.ResponseWriter, r *http.Request, email string) {
	var u model.User
	err := h.db.WithContext(r.Context()).Where("email = ?", email).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		u = model.User{Email: email}
		err = h.db.WithContext(r.Context()).Create(&u).Error
	}
	if err != nil {
		h.log.Error("provision internal viewer", "err", err)
		respond.Error(w, http.StatusInternalServerError, "internal error")
		return
	}

	accessToken, err := auth.IssueAccessToken(u.ID, u.Email, "", h.jwtSecret, h.accessTTL)
	if err != nil {
		respond.Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	refreshToken, err := h.refresh.Issue(r.Context(), u.ID)
	if err != nil {
		respond.Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	respond.JSON(w, http.StatusOK, map[string]string{
		"viewer_type":   "internal",
		"access_token":  accessToken,
		"refresh_token": refreshToken,
		"token_type":    "Bearer",
		"user_id":       u.ID,
	})
}

func (h *OTPHandler) liveDashboard(r *http.Request, slug string) (*model.Dashboard, error) {
	var d model.Dashboard
	if err := h.db.WithContext(r.Context()).
		Where("slug = ? AND deleted_at IS NULL", slug).
		First(&d).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

// RateLimitStart is the per-IP throttle wrapped around the OTP start route.
func (h *OTPHandler) RateLimitStart(next http.Handler) http.Handler {
	return middleware.RateLimitByIP(h.limiter, "otp-ip", h.limits.PerIP)(next)
}
