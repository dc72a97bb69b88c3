package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vizboardhq/vizboard/internal/api"
	"github.com/vizboardhq/vizboard/internal/api/handler"
	"github.com/vizboardhq/vizboard/internal/auth"
	"github.com/vizboardhq/vizboard/internal/config"
	"github.com/vizboardhq/vizboard/internal/db"
	"github.com/vizboardhq/vizboard/internal/generation"
	"github.com/vizboardhq/vizboard/internal/health"
	"github.com/vizboardhq/vizboard/internal/ledger"
	"github.com/vizboardhq/vizboard/internal/model"
	"github.com/vizboardhq/vizboard/internal/ratelimit"
	"github.com/vizboardhq/vizboard/internal/worker"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const testSecret = "test-secret-at-least-32-bytes!!!"

// stubQueue records enqueued jobs instead of running them, letting tests
// drive the worker synchronously.
type stubQueue struct{ jobs []worker.GenerateArgs }

func (q *stubQueue) Start(context.Context) error { return nil }
func (q *stubQueue) Stop(context.Context) error  { return nil }
func (q *stubQueue) Enqueue(_ context.Context, args worker.GenerateArgs) error {
	q.jobs = append(q.jobs, args)
	return nil
}

type captureMailer struct{ code string }

func (m *captureMailer) SendOTP(_ context.Context, _, code string) error {
	m.code = code
	return nil
}

type fixture struct {
	mux    *http.ServeMux
	gdb    *gorm.DB
	queue  *stubQueue
	mailer *captureMailer
	runner *worker.Runner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gdb, err := db.OpenSQLiteForTest()
	require.NoError(t, err)

	log := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	cfg := &config.Config{}
	cfg.JWT.Secret = testSecret
	cfg.JWT.AccessTTL = 15 * time.Minute
	cfg.JWT.RefreshTTL = time.Hour
	cfg.App.ViewerSessionTTL = 24 * time.Hour
	cfg.App.OTPTTL = 10 * time.Minute
	cfg.Limit.Window = time.Hour
	cfg.Limit.PerIP = 100
	cfg.Limit.PerEmail = 100

	queue := &stubQueue{}
	mailer := &captureMailer{}
	sessions := auth.NewViewerSessionStore(gdb, cfg.App.ViewerSessionTTL)
	otpService := auth.NewOTPService(gdb, mailer, cfg.App.OTPTTL)
	limiter := ratelimit.New(cfg.Limit.Window)

	mux := http.NewServeMux()
	api.RegisterRoutes(mux, api.Handlers{
		Health:     health.New(db.NewPinger(gdb)),
		Auth:       handler.NewAuthHandler(gdb, cfg.JWT.Secret, cfg.JWT.AccessTTL, cfg.JWT.RefreshTTL),
		Dashboards: handler.NewDashboardHandler(gdb, queue, sessions, log),
		OTP:        handler.NewOTPHandler(gdb, otpService, sessions, limiter, cfg, log),
		Orgs:       handler.NewOrgHandler(gdb, log),
		Workspaces: handler.NewWorkspaceHandler(gdb, log),
		Billing:    handler.NewBillingHandler(gdb, log),
		Domains:    handler.NewDomainHandler(gdb, log),
		Sheets:     handler.NewSheetHandler(gdb, log),
	}, cfg.JWT.Secret)

	machine := generation.NewMachine(gdb, ledger.New(gdb))
	runner := worker.NewRunner(gdb, &generation.HeuristicAgent{}, machine, log)

	return &fixture{mux: mux, gdb: gdb, queue: queue, mailer: mailer, runner: runner}
}

// runQueued drains the stub queue through the real runner.
func (f *fixture) runQueued(t *testing.T) {
	t.Helper()
	jobs := f.queue.jobs
	f.queue.jobs = nil
	for _, j := range jobs {
		require.NoError(t, f.runner.Run(context.Background(), j))
	}
}

func (f *fixture) createUser(t *testing.T, email, password string) *model.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	u := &model.User{Email: email, PasswordHash: string(hash)}
	require.NoError(t, f.gdb.Create(u).Error)
	return u
}

func (f *fixture) token(t *testing.T, u *model.User) string {
	t.Helper()
	tok, err := auth.IssueAccessToken(u.ID, u.Email, "", testSecret, 15*time.Minute)
	require.NoError(t, err)
	return tok
}

func (f *fixture) createWorkspace(t *testing.T, owner *model.User, orgID *string) *model.Workspace {
	t.Helper()
	ws := &model.Workspace{Name: "Main", Slug: "main-" + owner.ID[:8], OwnerID: owner.ID, OrganizationID: orgID}
	require.NoError(t, f.gdb.Create(ws).Error)
	return ws
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.RemoteAddr = "203.0.113.9:51234"
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), "body: %s", w.Body.String())
	return out
}

func TestHealthEndpoints(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/v1/health", "", nil).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/v1/ready", "", nil).Code)
}

func TestAuthFlow(t *testing.T) {
	f := newFixture(t)
	f.createUser(t, "pat@acme.com", "hunter22hunter22")

	w := f.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email": "pat@acme.com", "password": "hunter22hunter22",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	access := body["access_token"].(string)
	refresh := body["refresh_token"].(string)
	require.NotEmpty(t, access)
	require.NotEmpty(t, refresh)

	// Wrong password is a 401, indistinguishable from a wrong email.
	w = f.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email": "pat@acme.com", "password": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Refresh rotates the token pair.
	w = f.do(t, http.MethodPost, "/api/v1/auth/refresh", "", map[string]string{"refresh_token": refresh})
	require.Equal(t, http.StatusOK, w.Code)
	rotated := decode(t, w)["refresh_token"].(string)
	assert.NotEqual(t, refresh, rotated)

	// The old refresh token is dead.
	w = f.do(t, http.MethodPost, "/api/v1/auth/refresh", "", map[string]string{"refresh_token": refresh})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Protected routes demand a token.
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/api/v1/dashboards", "", nil).Code)

	w = f.do(t, http.MethodPost, "/api/v1/auth/logout", access, map[string]string{"refresh_token": rotated})
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestDashboardLifecycle(t *testing.T) {
	f := newFixture(t)
	owner := f.createUser(t, "owner@acme.com", "password-123456")
	tok := f.token(t, owner)
	ws := f.createWorkspace(t, owner, nil)

	// Create: visible immediately as pending, generation queued.
	w := f.do(t, http.MethodPost, "/api/v1/dashboards", tok, map[string]string{
		"workspace_id": ws.ID,
		"title":        "Q3 Sales",
		"data":         "region,revenue\nNorth,100\nSouth,50\n",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode(t, w)
	id := created["id"].(string)
	assert.Equal(t, "pending", created["status"])
	assert.Nil(t, created["config"])
	require.Len(t, f.queue.jobs, 1)

	// Owner read before completion never exposes content.
	w = f.do(t, http.MethodGet, "/api/v1/dashboards/"+id, tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, decode(t, w)["config"])

	f.runQueued(t)

	w = f.do(t, http.MethodGet, "/api/v1/dashboards/"+id, tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "completed", body["status"])
	assert.EqualValues(t, 1, body["current_major"])
	require.NotNil(t, body["config"])

	// Modify queues a new job and appends a minor version.
	w = f.do(t, http.MethodPost, "/api/v1/dashboards/"+id+"/modify", tok, map[string]string{
		"instruction": "make the bars blue",
	})
	require.Equal(t, http.StatusAccepted, w.Code)
	f.runQueued(t)

	w = f.do(t, http.MethodGet, "/api/v1/dashboards/"+id+"/versions", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	versions := decode(t, w)
	assert.EqualValues(t, 1, versions["current_major"])
	assert.EqualValues(t, 1, versions["current_minor"])
	assert.Len(t, versions["versions"].([]any), 2)

	// Restore 1.0 appends version 1.2.
	w = f.do(t, http.MethodPost, "/api/v1/dashboards/"+id+"/versions/restore", tok, map[string]int{
		"major_version": 1, "minor_version": 0,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	restored := decode(t, w)
	assert.EqualValues(t, 1, restored["major_version"])
	assert.EqualValues(t, 2, restored["minor_version"])

	// Another user cannot see the dashboard by id.
	other := f.createUser(t, "other@acme.com", "password-123456")
	w = f.do(t, http.MethodGet, "/api/v1/dashboards/"+id, f.token(t, other), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Soft delete hides it from the owner's list.
	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/api/v1/dashboards/"+id, tok, nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/v1/dashboards/"+id, tok, nil).Code)
}

func TestDashboardSlugConflict(t *testing.T) {
	f := newFixture(t)
	owner := f.createUser(t, "owner@acme.com", "password-123456")
	tok := f.token(t, owner)
	ws := f.createWorkspace(t, owner, nil)

	payload := map[string]string{
		"workspace_id": ws.ID,
		"title":        "Report",
		"slug":         "report",
		"data":         "a,b\n1,2\n",
	}
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/v1/dashboards", tok, payload).Code)
	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/api/v1/dashboards", tok, payload).Code)
}

func TestViewEndpointVisibility(t *testing.T) {
	f := newFixture(t)
	owner := f.createUser(t, "owner@acme.com", "password-123456")
	tok := f.token(t, owner)
	ws := f.createWorkspace(t, owner, nil)

	w := f.do(t, http.MethodPost, "/api/v1/dashboards", tok, map[string]string{
		"workspace_id": ws.ID, "title": "Numbers", "slug": "numbers", "data": "a,b\n1,2\n",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	id := decode(t, w)["id"].(string)
	f.runQueued(t)

	// Private with no shares: anonymous and foreign viewers both denied.
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodGet, "/api/v1/view/numbers", "", nil).Code)
	other := f.createUser(t, "other@client.io", "password-123456")
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodGet, "/api/v1/view/numbers", f.token(t, other), nil).Code)

	// The owner always sees it.
	w = f.do(t, http.MethodGet, "/api/v1/view/numbers", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "owner", body["viewer_class"])
	assert.NotNil(t, body["config"])
	// The viewer payload never includes raw data.
	assert.NotContains(t, body, "data")

	// Adding a share flips anonymous from denied to requires-auth.
	w = f.do(t, http.MethodPost, "/api/v1/dashboards/"+id+"/shares", tok, map[string]string{
		"share_type": "domain", "share_value": "client.io",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/api/v1/view/numbers", "", nil).Code)

	// A signed-in viewer on the shared domain gets in.
	w = f.do(t, http.MethodGet, "/api/v1/view/numbers", f.token(t, other), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "domain_share", decode(t, w)["viewer_class"])

	// Publishing opens it to everyone.
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPatch, "/api/v1/dashboards/"+id+"/sharing", tok, map[string]bool{
		"published": true,
	}).Code)
	w = f.do(t, http.MethodGet, "/api/v1/view/numbers", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "public", decode(t, w)["viewer_class"])

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/v1/view/no-such-slug", "", nil).Code)
}

func TestOTPViewerFlow(t *testing.T) {
	f := newFixture(t)
	owner := f.createUser(t, "owner@acme.com", "password-123456")
	tok := f.token(t, owner)
	ws := f.createWorkspace(t, owner, nil)

	w := f.do(t, http.MethodPost, "/api/v1/dashboards", tok, map[string]string{
		"workspace_id": ws.ID, "title": "Board", "slug": "board", "data": "a,b\n1,2\n",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	id := decode(t, w)["id"].(string)
	f.runQueued(t)

	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/v1/dashboards/"+id+"/shares", tok, map[string]string{
		"share_type": "email", "share_value": "pat@client.io",
	}).Code)

	// Start answers 202 whether or not the email matches a share.
	w = f.do(t, http.MethodPost, "/api/v1/view/board/otp/start", "", map[string]string{"email": "pat@client.io"})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	code := f.mailer.code
	require.NotEmpty(t, code)

	f.mailer.code = ""
	w = f.do(t, http.MethodPost, "/api/v1/view/board/otp/start", "", map[string]string{"email": "stranger@nowhere.io"})
	require.Equal(t, http.StatusAccepted, w.Code)
	// ...but no code is actually sent to a non-matching email.
	assert.Empty(t, f.mailer.code)

	// Verify: external viewer (different domain than the owner) gets a
	// dashboard-scoped session token.
	w = f.do(t, http.MethodPost, "/api/v1/view/board/otp/verify", "", map[string]string{
		"email": "pat@client.io", "code": code,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "external", body["viewer_type"])
	session := body["session_token"].(string)
	require.NotEmpty(t, session)

	// The session token works on the view endpoint for this dashboard.
	w = f.do(t, http.MethodGet, "/api/v1/view/board", session, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// The code is single use.
	w = f.do(t, http.MethodPost, "/api/v1/view/board/otp/verify", "", map[string]string{
		"email": "pat@client.io", "code": code,
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestOTPInternalViewerProvisioning(t *testing.T) {
	f := newFixture(t)
	owner := f.createUser(t, "owner@acme.com", "password-123456")
	tok := f.token(t, owner)
	ws := f.createWorkspace(t, owner, nil)

	w := f.do(t, http.MethodPost, "/api/v1/dashboards", tok, map[string]string{
		"workspace_id": ws.ID, "title": "Internal", "slug": "internal", "data": "a,b\n1,2\n",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	id := decode(t, w)["id"].(string)
	f.runQueued(t)

	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/v1/dashboards/"+id+"/shares", tok, map[string]string{
		"share_type": "email", "share_value": "colleague@acme.com",
	}).Code)

	require.Equal(t, http.StatusAccepted, f.do(t, http.MethodPost, "/api/v1/view/internal/otp/start", "", map[string]string{
		"email": "colleague@acme.com",
	}).Code)

	// Same domain as the owner: a real account with the normal token pair.
	w = f.do(t, http.MethodPost, "/api/v1/view/internal/otp/verify", "", map[string]string{
		"email": "colleague@acme.com", "code": f.mailer.code,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "internal", body["viewer_type"])
	assert.NotEmpty(t, body["access_token"])

	var u model.User
	require.NoError(t, f.gdb.First(&u, "email = ?", "colleague@acme.com").Error)
}

func TestShareRevocationKillsViewerSessions(t *testing.T) {
	f := newFixture(t)
	owner := f.createUser(t, "owner@acme.com", "password-123456")
	tok := f.token(t, owner)
	ws := f.createWorkspace(t, owner, nil)

	w := f.do(t, http.MethodPost, "/api/v1/dashboards", tok, map[string]string{
		"workspace_id": ws.ID, "title": "Secret", "slug": "secret", "data": "a,b\n1,2\n",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	id := decode(t, w)["id"].(string)
	f.runQueued(t)

	w = f.do(t, http.MethodPost, "/api/v1/dashboards/"+id+"/shares", tok, map[string]string{
		"share_type": "email", "share_value": "pat@client.io",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var share model.DashboardShare
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &share))

	require.Equal(t, http.StatusAccepted, f.do(t, http.MethodPost, "/api/v1/view/secret/otp/start", "", map[string]string{
		"email": "pat@client.io",
	}).Code)
	w = f.do(t, http.MethodPost, "/api/v1/view/secret/otp/verify", "", map[string]string{
		"email": "pat@client.io", "code": f.mailer.code,
	})
	require.Equal(t, http.StatusOK, w.Code)
	session := decode(t, w)["session_token"].(string)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/v1/view/secret", session, nil).Code)

	// Deleting the share revokes the live session immediately.
	require.Equal(t, http.StatusNoContent,
		f.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/dashboards/%s/shares/%s", id, share.ID), tok, nil).Code)
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodGet, "/api/v1/view/secret", session, nil).Code)
}

func TestOrganizationMembershipEndpoints(t *testing.T) {
	f := newFixture(t)
	owner := f.createUser(t, "owner@acme.com", "password-123456")
	tok := f.token(t, owner)

	w := f.do(t, http.MethodPost, "/api/v1/organizations", tok, map[string]string{"name": "Acme"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var org model.Organization
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &org))
	assert.Equal(t, 1, org.SeatsPurchased)

	// Seats exhausted: the owner holds the only purchased seat.
	w = f.do(t, http.MethodPost, "/api/v1/organizations/"+org.ID+"/members", tok, map[string]string{
		"email": "pat@acme.com",
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	// Buy seats via the billing webhook, then invite.
	w = f.do(t, http.MethodPost, "/api/v1/billing/webhook", "", map[string]any{
		"event_id": "evt-1", "event_type": "subscription.updated",
		"organization_id": org.ID, "plan_type": "team", "seats": 5,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(t, http.MethodPost, "/api/v1/organizations/"+org.ID+"/members", tok, map[string]string{
		"email": "pat@acme.com",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	// The invitee accepts with their own account.
	invitee := f.createUser(t, "pat@acme.com", "password-123456")
	w = f.do(t, http.MethodPost, "/api/v1/organizations/"+org.ID+"/members/accept", f.token(t, invitee), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(t, http.MethodGet, "/api/v1/organizations/"+org.ID+"/members", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["members"].([]any), 2)

	// A non-member sees nothing.
	outsider := f.createUser(t, "x@other.io", "password-123456")
	assert.Equal(t, http.StatusNotFound,
		f.do(t, http.MethodGet, "/api/v1/organizations/"+org.ID, f.token(t, outsider), nil).Code)
}

func TestBillingWebhookIdempotency(t *testing.T) {
	f := newFixture(t)
	org := &model.Organization{Name: "Acme", Slug: "acme", CreditsBalance: 10}
	require.NoError(t, f.gdb.Create(org).Error)

	grant := map[string]any{
		"event_id": "evt-credits-1", "event_type": "credits.granted",
		"organization_id": org.ID, "credits": 40,
	}
	w := f.do(t, http.MethodPost, "/api/v1/billing/webhook", "", grant)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "applied", decode(t, w)["status"])

	// Redelivery of the same event id is acknowledged but not re-applied.
	w = f.do(t, http.MethodPost, "/api/v1/billing/webhook", "", grant)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "already_processed", decode(t, w)["status"])

	var fresh model.Organization
	require.NoError(t, f.gdb.First(&fresh, "id = ?", org.ID).Error)
	assert.Equal(t, 50, fresh.CreditsBalance)

	// Unknown event types are rejected, not silently swallowed.
	w = f.do(t, http.MethodPost, "/api/v1/billing/webhook", "", map[string]any{
		"event_id": "evt-2", "event_type": "mystery.event", "organization_id": org.ID,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCustomDomainLifecycle(t *testing.T) {
	f := newFixture(t)
	owner := f.createUser(t, "owner@acme.com", "password-123456")
	tok := f.token(t, owner)
	ws := f.createWorkspace(t, owner, nil)

	w := f.do(t, http.MethodPost, "/api/v1/domains", tok, map[string]string{
		"workspace_id": ws.ID, "hostname": "Boards.Acme.COM",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var d model.CustomDomain
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &d))
	assert.Equal(t, "boards.acme.com", d.Hostname)
	assert.Equal(t, model.DomainPending, d.Status)

	// Duplicate hostnames conflict; junk hostnames are rejected.
	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/api/v1/domains", tok, map[string]string{
		"workspace_id": ws.ID, "hostname": "boards.acme.com",
	}).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/v1/domains", tok, map[string]string{
		"workspace_id": ws.ID, "hostname": "not a hostname",
	}).Code)

	w = f.do(t, http.MethodPost, "/api/v1/domains/"+d.ID+"/verify", tok, nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	// Re-verifying while verification is in flight conflicts.
	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/api/v1/domains/"+d.ID+"/verify", tok, nil).Code)

	// The out-of-band verifier records the outcome.
	require.NoError(t, handler.MarkDomainVerification(f.gdb, d.ID, nil))
	var fresh model.CustomDomain
	require.NoError(t, f.gdb.First(&fresh, "id = ?", d.ID).Error)
	assert.Equal(t, model.DomainVerified, fresh.Status)

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/api/v1/domains/"+d.ID, tok, nil).Code)
}

func TestSheetConnectionEndpoints(t *testing.T) {
	f := newFixture(t)
	u := f.createUser(t, "pat@acme.com", "password-123456")
	tok := f.token(t, u)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/v1/sheets/connection", tok, nil).Code)

	w := f.do(t, http.MethodPost, "/api/v1/sheets/connection", tok, map[string]any{
		"access_token": "ya29.xxx", "refresh_token": "1//yyy", "expires_in": 3600,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = f.do(t, http.MethodGet, "/api/v1/sheets/connection", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["connected"])
	assert.Equal(t, false, body["needs_refresh"])
	// Tokens are never echoed back.
	assert.NotContains(t, w.Body.String(), "ya29.xxx")

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/api/v1/sheets/connection", tok, nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/v1/sheets/connection", tok, nil).Code)
}
