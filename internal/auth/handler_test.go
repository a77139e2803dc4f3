package auth_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-dms/odyssey-dms/internal/auth"
	"github.com/odyssey-dms/odyssey-dms/internal/rbac"
	"github.com/odyssey-dms/odyssey-dms/internal/rbac/rbactest"
	"github.com/odyssey-dms/odyssey-dms/internal/seed"
	"github.com/odyssey-dms/odyssey-dms/internal/shared"
	"github.com/odyssey-dms/odyssey-dms/internal/users"
)

type stubUsers struct {
	byEmail map[string]*users.User
}

func (s stubUsers) FindByEmail(_ context.Context, email string) (*users.User, error) {
	if u, ok := s.byEmail[users.NormalizeEmail(email)]; ok {
		return u, nil
	}
	return nil, users.ErrNotFound
}

func (s stubUsers) Get(_ context.Context, id int64) (*users.User, error) {
	for _, u := range s.byEmail {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, users.ErrNotFound
}

type stubRepo struct {
	created []auth.SessionRecord
	deleted []string
}

func (s *stubRepo) CreateSession(_ context.Context, rec auth.SessionRecord) error {
	s.created = append(s.created, rec)
	return nil
}

func (s *stubRepo) DeleteSession(_ context.Context, id string) error {
	s.deleted = append(s.deleted, id)
	return nil
}

func (s *stubRepo) PurgeExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}

type fixture struct {
	handler  *auth.Handler
	sessions *shared.SessionManager
	repo     *stubRepo
	client   *redis.Client
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("correctpass"), bcrypt.MinCost)
	require.NoError(t, err)
	finder := stubUsers{byEmail: map[string]*users.User{
		"user@test.local":     {ID: 1, Email: "user@test.local", PasswordHash: string(hash), IsActive: true},
		"disabled@test.local": {ID: 2, Email: "disabled@test.local", PasswordHash: string(hash), IsActive: false},
	}}
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sessions := shared.NewSessionManager(client, "test_session", time.Hour, false)
	repo := &stubRepo{}
	svc := auth.NewService(finder, repo, nil, nil)
	return fixture{
		handler:  auth.NewHandler(nil, svc, sessions, shared.NewCSRFManager("csrfsecret")),
		sessions: sessions,
		repo:     repo,
		client:   client,
	}
}

func (f fixture) post(t *testing.T, path, body string) (*httptest.ResponseRecorder, *shared.Session) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	sess, err := f.sessions.Load(context.Background(), req)
	require.NoError(t, err)
	req = req.WithContext(shared.ContextWithSession(req.Context(), sess))
	router := chiRouter(f.handler)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.NoError(t, f.sessions.Commit(context.Background(), rec, req, sess))
	return rec, sess
}

func TestLoginInvalidCredentials(t *testing.T) {
	f := newFixture(t)

	for _, body := range []string{
		`{"email":"user@test.local","password":"wrongpass"}`,
		`{"email":"nobody@test.local","password":"correctpass"}`,
		`{"email":"disabled@test.local","password":"correctpass"}`,
	} {
		rec, sess := f.post(t, "/auth/login", body)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, body)
		assert.JSONEq(t, `{"message":"Invalid credentials"}`, rec.Body.String())
		assert.Empty(t, sess.User())
	}
	assert.Empty(t, f.repo.created)
}

func TestLoginValidation(t *testing.T) {
	f := newFixture(t)

	rec, _ := f.post(t, "/auth/login", `{"email":"not-an-email","password":"short"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var body struct {
		Errors map[string]string `json:"errors"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "email", body.Errors["Email"])
	assert.Equal(t, "min", body.Errors["Password"])

	rec, _ = f.post(t, "/auth/login", `{`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLoginBindsSessionAndRotatesToken(t *testing.T) {
	f := newFixture(t)

	rec, sess := f.post(t, "/auth/login", `{"email":"USER@test.local","password":"correctpass"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		CSRFToken string     `json:"csrf_token"`
		Data      users.User `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, int64(1), body.Data.ID)
	assert.NotEmpty(t, body.CSRFToken)
	assert.Equal(t, body.CSRFToken, sess.Get(shared.CSRFSessionKey))
	assert.Equal(t, "1", sess.User())

	require.Len(t, f.repo.created, 1)
	assert.Equal(t, sess.ID, f.repo.created[0].ID)

	stored, err := f.client.Get(context.Background(), "session:"+sess.ID).Result()
	require.NoError(t, err)
	assert.Contains(t, stored, `"user_id":"1"`)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: f.sessions.CookieName(), Value: sess.ID})
	loaded, err := f.sessions.Load(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "1", loaded.User())
}

func TestLogoutDestroysSession(t *testing.T) {
	f := newFixture(t)
	_, sess := f.post(t, "/auth/login", `{"email":"user@test.local","password":"correctpass"}`)

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: f.sessions.CookieName(), Value: sess.ID})
	loaded, err := f.sessions.Load(context.Background(), req)
	require.NoError(t, err)
	ctx := shared.ContextWithSession(req.Context(), loaded)
	ctx = rbac.ContextWithPrincipal(ctx, rbac.Principal{UserID: 1})
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()
	chiRouter(f.handler).ServeHTTP(rec, req)
	require.NoError(t, f.sessions.Commit(context.Background(), rec, req, loaded))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{sess.ID}, f.repo.deleted)
	assert.Equal(t, int64(0), f.client.Exists(context.Background(), "session:"+sess.ID).Val())
}

func TestCSRFTokenIsStable(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/auth/csrf", nil)
	sess, err := f.sessions.Load(context.Background(), req)
	require.NoError(t, err)
	req = req.WithContext(shared.ContextWithSession(req.Context(), sess))

	var tokens []string
	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		chiRouter(f.handler).ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		var body map[string]string
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		tokens = append(tokens, body["csrf_token"])
	}
	assert.NotEmpty(t, tokens[0])
	assert.Equal(t, tokens[0], tokens[1])
}

func TestMePermissions(t *testing.T) {
	repo := rbactest.NewMemory()
	svc := rbac.NewService(repo, nil, nil)
	_, err := seed.Apply(context.Background(), svc, "Developer", nil)
	require.NoError(t, err)
	reviewer, err := svc.FindRoleByName(context.Background(), "Reviewer")
	require.NoError(t, err)

	finder := stubUsers{byEmail: map[string]*users.User{"r@test.local": {ID: 9, Email: "r@test.local", RoleID: &reviewer.ID}}}
	h := auth.NewMeHandler(nil, finder, rbac.NewEngine(repo, nil))

	serve := func(path string, p *rbac.Principal) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if p != nil {
			req = req.WithContext(rbac.ContextWithPrincipal(req.Context(), *p))
		}
		rec := httptest.NewRecorder()
		meRouter(h).ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusUnauthorized, serve("/me/permissions", nil).Code)

	rec := serve("/me/permissions", &rbac.Principal{UserID: 9, RoleID: &reviewer.ID})
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Role        string                       `json:"role"`
		Permissions []string                     `json:"permissions"`
		ByModule    map[string][]string          `json:"by_module"`
		Modules     map[string]rbac.ModuleAccess `json:"modules"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "Reviewer", body.Role)
	assert.Contains(t, body.Permissions, "Review Files")
	assert.NotContains(t, body.Permissions, "Approve Files")
	assert.Contains(t, body.ByModule["Tags"], "View Tags")
	assert.Equal(t, rbac.ModuleAccess{CanView: true}, body.Modules["Tags"])

	rec = serve("/me/permissions", &rbac.Principal{UserID: 10})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, rbac.NoRoleLabel, body.Role)

	rec = serve("/me", &rbac.Principal{UserID: 9, RoleID: &reviewer.ID})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"role":"Reviewer"`)
}

func chiRouter(h *auth.Handler) http.Handler {
	r := chi.NewRouter()
	r.Route("/auth", h.MountRoutes)
	return r
}

func meRouter(h *auth.MeHandler) http.Handler {
	r := chi.NewRouter()
	r.Route("/me", h.MountRoutes)
	return r
}
