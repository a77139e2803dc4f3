package rbac_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-dms/odyssey-dms/internal/platform/httpx"
	"github.com/odyssey-dms/odyssey-dms/internal/rbac"
	"github.com/odyssey-dms/odyssey-dms/internal/shared"
)

type stubResolver struct {
	principals map[int64]rbac.Principal
	err        error
}

func (s stubResolver) Principal(_ context.Context, userID int64) (rbac.Principal, error) {
	if s.err != nil {
		return rbac.Principal{}, s.err
	}
	p, ok := s.principals[userID]
	if !ok {
		return rbac.Principal{}, httpx.ErrNotFound
	}
	return p, nil
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
})

func serve(h http.Handler, p *rbac.Principal) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/roles", nil)
	if p != nil {
		req = req.WithContext(rbac.ContextWithPrincipal(req.Context(), *p))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeDenial(t *testing.T, rec *httptest.ResponseRecorder) rbac.Denial {
	t.Helper()
	var d rbac.Denial
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&d))
	return d
}

func TestRequirePermissionUnauthenticated(t *testing.T) {
	f := newFixture(t)
	mw := rbac.Middleware{Engine: f.engine}

	rec := serve(mw.RequirePermission("View Files")(okHandler), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"message":"Unauthenticated"}`, rec.Body.String())
}

func TestRequirePermissionDeniedReportsRole(t *testing.T) {
	f := newFixture(t)
	mw := rbac.Middleware{Engine: f.engine}
	manager := f.principal("Manager")

	rec := serve(mw.RequirePermission("Create Users")(okHandler), &manager)
	require.Equal(t, http.StatusForbidden, rec.Code)
	d := decodeDenial(t, rec)
	assert.Equal(t, "Create Users", d.RequiredPermission)
	assert.Equal(t, "Manager", d.UserRole)

	rec = serve(mw.RequirePermission("View Files")(okHandler), &manager)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRequirePermissionWithoutRole(t *testing.T) {
	f := newFixture(t)
	mw := rbac.Middleware{Engine: f.engine}
	nobody := rbac.Principal{UserID: 3}

	rec := serve(mw.RequirePermission("View Dashboard")(okHandler), &nobody)
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, rbac.NoRoleLabel, decodeDenial(t, rec).UserRole)
}

func TestRequireAnyAndAll(t *testing.T) {
	f := newFixture(t)
	mw := rbac.Middleware{Engine: f.engine}
	reviewer := f.principal("Reviewer")

	rec := serve(mw.RequireAny("Approve Files", "Review Files")(okHandler), &reviewer)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = serve(mw.RequireAll("Approve Files", "Review Files")(okHandler), &reviewer)
	require.Equal(t, http.StatusForbidden, rec.Code)
	d := decodeDenial(t, rec)
	assert.Equal(t, []string{"Approve Files", "Review Files"}, d.RequiredPermissions)
	assert.Equal(t, "Reviewer", d.UserRole)

	rec = serve(mw.RequireAny()(okHandler), &reviewer)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(mw.RequireAll()(okHandler), &reviewer)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRequireRoleGatesOnRoleName(t *testing.T) {
	f := newFixture(t)
	mw := rbac.Middleware{Engine: f.engine}
	dev := f.principal("Developer")
	admin := f.principal("Admin")

	rec := serve(mw.RequireRole("Developer")(okHandler), &dev)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = serve(mw.RequireRole("Developer")(okHandler), &admin)
	require.Equal(t, http.StatusForbidden, rec.Code, "holding every permission is not enough")
	d := decodeDenial(t, rec)
	assert.Equal(t, "Developer", d.RequiredRole)
	assert.Equal(t, "Admin", d.CurrentRole)
}

func TestGuardLoadFailureIsServerError(t *testing.T) {
	f := newFixture(t)
	f.repo.FailLoad = errors.New("db down")
	mw := rbac.Middleware{Engine: f.engine}
	staff := f.principal("Staff")

	rec := serve(mw.RequirePermission("View Users")(okHandler), &staff)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestAuthenticateResolvesSessionUser(t *testing.T) {
	f := newFixture(t)
	mr := miniredis.RunT(t)
	sessions := shared.NewSessionManager(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test_session", time.Hour, false)
	staff := f.principal("Staff")
	mw := rbac.Middleware{Engine: f.engine, Resolver: stubResolver{principals: map[int64]rbac.Principal{42: staff}}}

	var seen *rbac.Principal
	capture := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p, ok := rbac.PrincipalFromContext(r.Context()); ok {
			seen = &p
		}
		w.WriteHeader(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	sess, err := sessions.Load(context.Background(), req)
	require.NoError(t, err)
	sess.SetUser("42")
	req = req.WithContext(shared.ContextWithSession(req.Context(), sess))

	rec := httptest.NewRecorder()
	mw.Authenticate(capture).ServeHTTP(rec, req)
	require.NotNil(t, seen)
	assert.Equal(t, int64(42), seen.UserID)
	assert.Equal(t, staff.RoleID, seen.RoleID)

	seen = nil
	sess.SetUser("7")
	rec = httptest.NewRecorder()
	mw.Authenticate(mw.RequirePermission("View Users")(capture)).ServeHTTP(rec, req)
	assert.Nil(t, seen)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "unknown users are unauthenticated")
}

func TestAuthenticateResolverFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	sessions := shared.NewSessionManager(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test_session", time.Hour, false)
	mw := rbac.Middleware{Resolver: stubResolver{err: errors.New("timeout")}}

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	sess, err := sessions.Load(context.Background(), req)
	require.NoError(t, err)
	sess.SetUser("1")
	req = req.WithContext(shared.ContextWithSession(req.Context(), sess))

	rec := httptest.NewRecorder()
	mw.Authenticate(okHandler).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
