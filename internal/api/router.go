// Package api wires all API routes onto the provided ServeMux.
package api

import (
	"net/http"

	"github.com/vizboardhq/vizboard/internal/api/handler"
	"github.com/vizboardhq/vizboard/internal/api/middleware"
	"github.com/vizboardhq/vizboard/internal/health"
)

// Handlers bundles every route handler the router mounts.
type Handlers struct {
	Health     *health.Handler
	Auth       *handler.AuthHandler
	Dashboards *handler.DashboardHandler
	OTP        *handler.OTPHandler
	Orgs       *handler.OrgHandler
	Workspaces *handler.WorkspaceHandler
	Billing    *handler.BillingHandler
	Domains    *handler.DomainHandler
	Sheets     *handler.SheetHandler
}

// RegisterRoutes registers all application routes on mux.
func RegisterRoutes(mux *http.ServeMux, h Handlers, jwtSecret string) {
	// Public health endpoints (no auth required)
	mux.HandleFunc("GET /api/v1/health", h.Health.ServeHealth)
	mux.HandleFunc("GET /api/v1/ready", h.Health.ServeReady)

	// Auth endpoints (no auth required)
	mux.HandleFunc("POST /api/v1/auth/login", h.Auth.Login)
	mux.HandleFunc("POST /api/v1/auth/refresh", h.Auth.Refresh)

	// Billing webhook: called by the provider, not by users.
	mux.HandleFunc("POST /api/v1/billing/webhook", h.Billing.Webhook)

	// Public dashboard viewing. OptionalAuth lets signed-in viewers be
	// resolved by their claims; anonymous requests fall through to the
	// share/OTP flow.
	optional := middleware.OptionalAuth(jwtSecret)
	mux.Handle("GET /api/v1/view/{slug}", optional(http.HandlerFunc(h.Dashboards.View)))
	mux.Handle("POST /api/v1/view/{slug}/otp/start", h.OTP.RateLimitStart(http.HandlerFunc(h.OTP.Start)))
	mux.HandleFunc("POST /api/v1/view/{slug}/otp/verify", h.OTP.Verify)

	// Auth-required routes — wrap with RequireAuth middleware.
	protected := middleware.RequireAuth(jwtSecret)
	handle := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, protected(fn))
	}

	handle("POST /api/v1/auth/logout", h.Auth.Logout)

	handle("POST /api/v1/organizations", h.Orgs.Create)
	handle("GET /api/v1/organizations/{id}", h.Orgs.Get)
	handle("GET /api/v1/organizations/{id}/members", h.Orgs.ListMembers)
	handle("POST /api/v1/organizations/{id}/members", h.Orgs.Invite)
	handle("POST /api/v1/organizations/{id}/members/accept", h.Orgs.AcceptInvite)
	handle("PATCH /api/v1/organizations/{id}/members/{memberID}", h.Orgs.ChangeMemberRole)
	handle("DELETE /api/v1/organizations/{id}/members/{memberID}", h.Orgs.RemoveMember)

	handle("POST /api/v1/workspaces", h.Workspaces.Create)
	handle("GET /api/v1/workspaces", h.Workspaces.List)
	handle("GET /api/v1/workspaces/{id}", h.Workspaces.Get)

	handle("POST /api/v1/dashboards", h.Dashboards.Create)
	handle("GET /api/v1/dashboards", h.Dashboards.List)
	handle("GET /api/v1/dashboards/{id}", h.Dashboards.Get)
	handle("DELETE /api/v1/dashboards/{id}", h.Dashboards.Delete)
	handle("PATCH /api/v1/dashboards/{id}/sharing", h.Dashboards.UpdateSharing)
	handle("PUT /api/v1/dashboards/{id}/content", h.Dashboards.Edit)
	handle("POST /api/v1/dashboards/{id}/modify", h.Dashboards.Modify)
	handle("POST /api/v1/dashboards/{id}/retry", h.Dashboards.Retry)

	handle("GET /api/v1/dashboards/{id}/versions", h.Dashboards.ListVersions)
	handle("POST /api/v1/dashboards/{id}/versions/restore", h.Dashboards.Restore)

	handle("POST /api/v1/dashboards/{id}/shares", h.Dashboards.CreateShare)
	handle("GET /api/v1/dashboards/{id}/shares", h.Dashboards.ListShares)
	handle("DELETE /api/v1/dashboards/{id}/shares/{shareID}", h.Dashboards.DeleteShare)

	handle("POST /api/v1/domains", h.Domains.Create)
	handle("GET /api/v1/domains", h.Domains.List)
	handle("POST /api/v1/domains/{id}/verify", h.Domains.Verify)
	handle("DELETE /api/v1/domains/{id}", h.Domains.Delete)

	handle("POST /api/v1/sheets/connection", h.Sheets.Connect)
	handle("GET /api/v1/sheets/connection", h.Sheets.Status)
	handle("DELETE /api/v1/sheets/connection", h.Sheets.Disconnect)

	// Catch-all 404
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
}
