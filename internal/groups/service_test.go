package groups_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-dms/odyssey-dms/internal/groups"
	"github.com/odyssey-dms/odyssey-dms/internal/platform/httpx"
	"github.com/odyssey-dms/odyssey-dms/internal/rbac"
	"github.com/odyssey-dms/odyssey-dms/internal/rbac/rbactest"
	"github.com/odyssey-dms/odyssey-dms/internal/seed"
	"github.com/odyssey-dms/odyssey-dms/internal/shared"
)

type memRepo struct {
	groups map[int64]groups.Group
	users  map[int64]bool
	roles  map[int64]bool
	nextID int64
}

func newMemRepo() *memRepo {
	return &memRepo{
		groups: map[int64]groups.Group{},
		users:  map[int64]bool{1: true, 2: true, 3: true},
		roles:  map[int64]bool{10: true, 11: true},
	}
}

func (m *memRepo) List(context.Context) ([]groups.Group, error) {
	var out []groups.Group
	for id := int64(1); id <= m.nextID; id++ {
		if g, ok := m.groups[id]; ok {
			out = append(out, g)
		}
	}
	return out, nil
}

func (m *memRepo) Get(_ context.Context, id int64) (*groups.Group, error) {
	g, ok := m.groups[id]
	if !ok {
		return nil, groups.ErrNotFound
	}
	return &g, nil
}

func (m *memRepo) Insert(_ context.Context, g groups.Group) (groups.Group, error) {
	if err := m.known(m.users, g.MemberIDs); err != nil {
		return groups.Group{}, err
	}
	if err := m.known(m.roles, g.RoleIDs); err != nil {
		return groups.Group{}, err
	}
	m.nextID++
	g.ID = m.nextID
	m.groups[g.ID] = g
	return g, nil
}

func (m *memRepo) Update(_ context.Context, g groups.Group) (groups.Group, error) {
	current, ok := m.groups[g.ID]
	if !ok {
		return groups.Group{}, groups.ErrNotFound
	}
	g.MemberIDs, g.RoleIDs = current.MemberIDs, current.RoleIDs
	m.groups[g.ID] = g
	return g, nil
}

func (m *memRepo) Delete(_ context.Context, id int64) error {
	if _, ok := m.groups[id]; !ok {
		return groups.ErrNotFound
	}
	delete(m.groups, id)
	return nil
}

func (m *memRepo) ReplaceMembers(_ context.Context, id int64, ids []int64, _ *int64) error {
	g, ok := m.groups[id]
	if !ok {
		return groups.ErrNotFound
	}
	if err := m.known(m.users, ids); err != nil {
		return err
	}
	g.MemberIDs = ids
	m.groups[id] = g
	return nil
}

func (m *memRepo) ReplaceRoles(_ context.Context, id int64, ids []int64, _ *int64) error {
	g, ok := m.groups[id]
	if !ok {
		return groups.ErrNotFound
	}
	if err := m.known(m.roles, ids); err != nil {
		return err
	}
	g.RoleIDs = ids
	m.groups[id] = g
	return nil
}

func (m *memRepo) known(set map[int64]bool, ids []int64) error {
	for _, id := range ids {
		if !set[id] {
			return groups.ErrUnknownReference
		}
	}
	return nil
}

type recordingAudit struct {
	actions []string
}

func (a *recordingAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.actions = append(a.actions, log.Action)
	return nil
}

func TestCreateDefaultsAndNormalizesLinks(t *testing.T) {
	audit := &recordingAudit{}
	svc := groups.NewService(newMemRepo(), audit, nil)

	g, err := svc.Create(context.Background(), groups.Input{
		Name:      "  Finance ",
		MemberIDs: []int64{3, 1, 3},
		RoleIDs:   []int64{10},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Finance", g.Name)
	assert.Equal(t, groups.StatusActive, g.Status)
	assert.True(t, g.InheritPermissions)
	assert.Equal(t, []int64{1, 3}, g.MemberIDs)
	assert.Nil(t, g.Description)
	assert.Equal(t, []string{"create_group"}, audit.actions)
}

func TestCreateValidation(t *testing.T) {
	svc := groups.NewService(newMemRepo(), nil, nil)

	_, err := svc.Create(context.Background(), groups.Input{Name: ""}, nil)
	assert.ErrorIs(t, err, httpx.ErrValidation)

	_, err = svc.Create(context.Background(), groups.Input{Name: "Ops", Status: "archived"}, nil)
	assert.ErrorIs(t, err, httpx.ErrValidation)

	_, err = svc.Create(context.Background(), groups.Input{Name: "Ops", MemberIDs: []int64{99}}, nil)
	assert.ErrorIs(t, err, groups.ErrUnknownReference)
}

func TestUpdateKeepsLinksUnlessProvided(t *testing.T) {
	svc := groups.NewService(newMemRepo(), nil, nil)
	ctx := context.Background()
	g, err := svc.Create(ctx, groups.Input{Name: "Legal", MemberIDs: []int64{1, 2}}, nil)
	require.NoError(t, err)

	off := false
	updated, err := svc.Update(ctx, g.ID, groups.Input{Name: "Legal Team", Status: groups.StatusInactive, InheritPermissions: &off}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Legal Team", updated.Name)
	assert.Equal(t, groups.StatusInactive, updated.Status)
	assert.False(t, updated.InheritPermissions)
	assert.Equal(t, []int64{1, 2}, updated.MemberIDs)

	updated, err = svc.Update(ctx, g.ID, groups.Input{Name: "Legal Team", MemberIDs: []int64{}}, nil)
	require.NoError(t, err)
	assert.Empty(t, updated.MemberIDs)
	assert.Equal(t, groups.StatusInactive, updated.Status, "omitted status keeps the current one")
}

func TestSyncMembersAndRoles(t *testing.T) {
	svc := groups.NewService(newMemRepo(), nil, nil)
	ctx := context.Background()
	g, err := svc.Create(ctx, groups.Input{Name: "Reviewers"}, nil)
	require.NoError(t, err)

	g, err = svc.SyncMembers(ctx, g.ID, []int64{2, 2, 1}, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, g.MemberIDs)

	_, err = svc.SyncRoles(ctx, g.ID, []int64{10, 12}, nil)
	assert.ErrorIs(t, err, groups.ErrUnknownReference)
	current, err := svc.Get(ctx, g.ID)
	require.NoError(t, err)
	assert.Empty(t, current.RoleIDs, "failed sync leaves roles unchanged")

	_, err = svc.SyncMembers(ctx, g.ID, []int64{-1}, nil)
	assert.ErrorIs(t, err, httpx.ErrValidation)

	_, err = svc.SyncRoles(ctx, 404, []int64{10}, nil)
	assert.ErrorIs(t, err, groups.ErrNotFound)
}

func TestDeleteGroup(t *testing.T) {
	svc := groups.NewService(newMemRepo(), nil, nil)
	ctx := context.Background()
	g, err := svc.Create(ctx, groups.Input{Name: "Temp"}, nil)
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, g.ID, nil))
	assert.ErrorIs(t, svc.Delete(ctx, g.ID, nil), groups.ErrNotFound)
}

func TestHandlerRequiresGroupPermissions(t *testing.T) {
	rbacRepo := rbactest.NewMemory()
	rbacSvc := rbac.NewService(rbacRepo, nil, nil)
	_, err := seed.Apply(context.Background(), rbacSvc, "Developer", nil)
	require.NoError(t, err)
	ids := map[string]int64{}
	roles, err := rbacSvc.ListRoles(context.Background())
	require.NoError(t, err)
	for _, r := range roles {
		ids[r.Name] = r.ID
	}

	svc := groups.NewService(newMemRepo(), nil, nil)
	mw := rbac.Middleware{Engine: rbac.NewEngine(rbacRepo, nil)}
	router := chi.NewRouter()
	router.Route("/groups", groups.NewHandler(nil, svc, mw).MountRoutes)

	do := func(role, method, path, body string) int {
		id := ids[role]
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req = req.WithContext(rbac.ContextWithPrincipal(req.Context(), rbac.Principal{UserID: 1, RoleID: &id}))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusForbidden, do("Staff", http.MethodGet, "/groups/", ""), "staff lack User Management")
	assert.Equal(t, http.StatusOK, do("Reviewer", http.MethodGet, "/groups/", ""))
	assert.Equal(t, http.StatusForbidden, do("Reviewer", http.MethodPost, "/groups/", `{"name":"X"}`))
	assert.Equal(t, http.StatusCreated, do("Admin", http.MethodPost, "/groups/", `{"name":"X"}`))
	assert.Equal(t, http.StatusOK, do("Admin", http.MethodPut, "/groups/1/members", `{"ids":[1,2]}`))
	assert.Equal(t, http.StatusForbidden, do("Manager", http.MethodPut, "/groups/1/roles", `{"ids":[10]}`), "managers cannot view roles")
	assert.Equal(t, http.StatusUnprocessableEntity, do("Admin", http.MethodPut, "/groups/1/roles", `{"ids":[77]}`))
}
