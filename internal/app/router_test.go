package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-dms/odyssey-dms/internal/auth"
	"github.com/odyssey-dms/odyssey-dms/internal/observability"
	"github.com/odyssey-dms/odyssey-dms/internal/rbac"
	"github.com/odyssey-dms/odyssey-dms/internal/rbac/rbactest"
	"github.com/odyssey-dms/odyssey-dms/internal/roles"
	"github.com/odyssey-dms/odyssey-dms/internal/seed"
	"github.com/odyssey-dms/odyssey-dms/internal/shared"
	"github.com/odyssey-dms/odyssey-dms/internal/users"
	"github.com/odyssey-dms/odyssey-dms/jobs"
)

type directory struct {
	accounts map[int64]*users.User
}

func (d directory) FindByEmail(_ context.Context, email string) (*users.User, error) {
	for _, u := range d.accounts {
		if u.Email == users.NormalizeEmail(email) {
			return u, nil
		}
	}
	return nil, users.ErrNotFound
}

func (d directory) Principal(_ context.Context, id int64) (rbac.Principal, error) {
	u, ok := d.accounts[id]
	if !ok || !u.IsActive {
		return rbac.Principal{}, users.ErrNotFound
	}
	return rbac.Principal{UserID: id, RoleID: u.RoleID}, nil
}

type noSessions struct{}

func (noSessions) CreateSession(context.Context, auth.SessionRecord) error { return nil }
func (noSessions) DeleteSession(context.Context, string) error { return nil }
func (noSessions) PurgeExpired(context.Context, time.Time) (int64, error) { return 0, nil }

type client struct {
	t       *testing.T
	handler http.Handler
	cookie  *http.Cookie
	token   string
}

func (c *client) do(method, path, body string) *httptest.ResponseRecorder {
	c.t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if c.cookie != nil {
		req.AddCookie(c.cookie)
	}
	if c.token != "" {
		req.Header.Set(shared.CSRFHeader, c.token)
	}
	rec := httptest.NewRecorder()
	c.handler.ServeHTTP(rec, req)
	for _, ck := range rec.Result().Cookies() {
		if ck.Name == "test_session" {
			c.cookie = ck
		}
	}
	return rec
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	ctx := context.Background()
	repo := rbactest.NewMemory()
	svc := rbac.NewService(repo, nil, nil)
	_, err := seed.Apply(ctx, svc, "Developer", nil)
	require.NoError(t, err)
	dev, err := svc.FindRoleByName(ctx, "Developer")
	require.NoError(t, err)
	staff, err := svc.FindRoleByName(ctx, "Staff")
	require.NoError(t, err)

	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	require.NoError(t, err)
	dir := directory{accounts: map[int64]*users.User{
		1: {ID: 1, Email: "dev@test.local", PasswordHash: string(hash), RoleID: &dev.ID, IsActive: true},
		2: {ID: 2, Email: "staff@test.local", PasswordHash: string(hash), RoleID: &staff.ID, IsActive: true},
	}}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sessions := shared.NewSessionManager(rdb, "test_session", time.Hour, false)
	csrf := shared.NewCSRFManager("csrf-secret")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.NewMetrics()
	mw := rbac.Middleware{Engine: rbac.NewEngine(repo, metrics), Resolver: dir, Logger: logger}

	return NewRouter(RouterParams{
		Logger:             logger,
		Config:             &Config{PrivilegedRole: "Developer", RateLimitPerMinute: 1000, AppRequestTimeout: 5 * time.Second},
		SessionManager:     sessions,
		CSRFManager:        csrf,
		RBACMiddleware:     mw,
		AuthHandler:        auth.NewHandler(logger, auth.NewService(dir, noSessions{}, nil, logger), sessions, csrf),
		RolesHandler:       roles.NewHandler(logger, svc, mw),
		PermissionsHandler: rbac.NewPermissionsHandler(logger, svc, mw, "Developer"),
		JobHandler:         jobs.NewHandler(nil, nil, logger),
		Metrics:            metrics,
		Readiness:          map[string]ReadinessCheck{"postgres": func(context.Context) error { return nil }},
	})
}

func login(t *testing.T, c *client, email string) {
	t.Helper()
	rec := c.do(http.MethodGet, "/auth/csrf", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var issued map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&issued))
	c.token = issued["csrf_token"]

	rec = c.do(http.MethodPost, "/auth/login", `{"email":"`+email+`","password":"password123"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body struct {
		CSRFToken string `json:"csrf_token"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	c.token = body.CSRFToken
}

func TestRouterHealthAndSecurityHeaders(t *testing.T) {
	c := &client{t: t, handler: newTestRouter(t)}
	rec := c.do(http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	require.NotNil(t, c.cookie)
	assert.True(t, c.cookie.HttpOnly)

	rec = c.do(http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ready","checks":{"postgres":"ok"}}`, rec.Body.String())
}

func TestRouterRejectsUnsafeRequestsWithoutCSRF(t *testing.T) {
	c := &client{t: t, handler: newTestRouter(t)}
	rec := c.do(http.MethodPost, "/auth/login", `{"email":"dev@test.local","password":"password123"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	c.token = "forged"
	rec = c.do(http.MethodPost, "/auth/login", `{"email":"dev@test.local","password":"password123"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRouterGuardsByRole(t *testing.T) {
	anon := &client{t: t, handler: newTestRouter(t)}
	assert.Equal(t, http.StatusUnauthorized, anon.do(http.MethodGet, "/roles", "").Code)
	assert.Equal(t, http.StatusUnauthorized, anon.do(http.MethodGet, "/jobs/health", "").Code)

	h := newTestRouter(t)
	dev := &client{t: t, handler: h}
	login(t, dev, "dev@test.local")
	assert.Equal(t, http.StatusOK, dev.do(http.MethodGet, "/roles", "").Code)
	assert.Equal(t, http.StatusOK, dev.do(http.MethodGet, "/permissions", "").Code)
	assert.Equal(t, http.StatusOK, dev.do(http.MethodGet, "/jobs/health", "").Code)

	staff := &client{t: t, handler: h}
	login(t, staff, "STAFF@test.local")
	assert.Equal(t, http.StatusForbidden, staff.do(http.MethodGet, "/roles", "").Code)
	rec := staff.do(http.MethodGet, "/permissions", "")
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), `"required_role":"Developer"`)
	assert.Equal(t, http.StatusForbidden, staff.do(http.MethodGet, "/jobs/health", "").Code)

	assert.Equal(t, http.StatusOK, staff.do(http.MethodPost, "/auth/logout", "").Code)
	assert.Equal(t, http.StatusUnauthorized, staff.do(http.MethodGet, "/roles", "").Code)
}

func TestRouterExposesMetrics(t *testing.T) {
	c := &client{t: t, handler: newTestRouter(t)}
	login(t, c, "dev@test.local")
	c.do(http.MethodGet, "/roles", "")

	rec := c.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `odyssey_rbac_decisions_total{check="permission",outcome="allowed"}`)
}
