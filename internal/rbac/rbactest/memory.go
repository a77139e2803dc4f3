// Package rbactest provides an in-memory rbac.Repository for tests.
package rbactest

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/odyssey-dms/odyssey-dms/internal/crypt"
	"github.com/odyssey-dms/odyssey-dms/internal/rbac"
)

type state struct {
	roles  map[int64]rbac.Role
	perms  map[int64]rbac.Permission
	grants map[int64][]rbac.Grant
	nextID int64
}

func (s state) clone() state {
	out := state{roles: maps.Clone(s.roles), perms: maps.Clone(s.perms), grants: make(map[int64][]rbac.Grant, len(s.grants)), nextID: s.nextID}
	for k, v := range s.grants {
		out.grants[k] = slices.Clone(v)
	}
	return out
}

// Memory is a goroutine-safe in-memory repository. WithTx restores the
// previous state when fn fails. With a codec, role and permission attributes
// are stored sealed and opened on every read, as the PostgreSQL repository
// does.
type Memory struct {
	mu    sync.Mutex
	txMu  sync.Mutex
	st    state
	codec *crypt.Codec
	Loads int
	Locks []rbac.NameScope

	// FailLoad, when set, is returned by LoadRole.
	FailLoad error
}

// NewMemory returns an empty repository storing plaintext.
func NewMemory() *Memory {
	return &Memory{st: state{roles: map[int64]rbac.Role{}, perms: map[int64]rbac.Permission{}, grants: map[int64][]rbac.Grant{}}}
}

// NewSealedMemory returns an empty repository that seals through codec.
func NewSealedMemory(codec *crypt.Codec) *Memory {
	m := NewMemory()
	m.codec = codec
	return m
}

// WithTx serialises transactions and rolls back on error.
func (m *Memory) WithTx(ctx context.Context, fn func(context.Context, rbac.Repository) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	m.mu.Lock()
	snapshot := m.st.clone()
	m.mu.Unlock()
	if err := fn(ctx, m); err != nil {
		m.mu.Lock()
		m.st = snapshot
		m.mu.Unlock()
		return err
	}
	return nil
}

// LoadRole returns the role with its granted permissions.
func (m *Memory) LoadRole(_ context.Context, id int64) (*rbac.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Loads++
	if m.FailLoad != nil {
		return nil, m.FailLoad
	}
	role, ok := m.st.roles[id]
	if !ok {
		return nil, rbac.ErrNotFound
	}
	out := m.withPermissions(m.openRole(role))
	return &out, nil
}

// LockRole reports whether the role exists.
func (m *Memory) LockRole(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.st.roles[id]; !ok {
		return rbac.ErrNotFound
	}
	return nil
}

// LockNames records the scope; transactions are already serialised.
func (m *Memory) LockNames(_ context.Context, scope rbac.NameScope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Locks = append(m.Locks, scope)
	return nil
}

// ListRoles returns roles ordered by id.
func (m *Memory) ListRoles(_ context.Context) ([]rbac.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := slices.Sorted(maps.Keys(m.st.roles))
	out := make([]rbac.Role, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.withPermissions(m.openRole(m.st.roles[id])))
	}
	return out, nil
}

// InsertRole stores a new role.
func (m *Memory) InsertRole(_ context.Context, role rbac.Role) (rbac.Role, error) {
	stored, err := m.sealRole(role)
	if err != nil {
		return rbac.Role{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.nextID++
	role.ID = m.st.nextID
	role.CreatedAt = time.Now()
	role.UpdatedAt = role.CreatedAt
	role.Permissions = nil
	stored.ID, stored.CreatedAt, stored.UpdatedAt, stored.Permissions = role.ID, role.CreatedAt, role.UpdatedAt, nil
	m.st.roles[role.ID] = stored
	return role, nil
}

// UpdateRole overwrites the role attributes.
func (m *Memory) UpdateRole(_ context.Context, role rbac.Role) (rbac.Role, error) {
	stored, err := m.sealRole(role)
	if err != nil {
		return rbac.Role{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.st.roles[role.ID]
	if !ok {
		return rbac.Role{}, rbac.ErrNotFound
	}
	role.CreatedBy = existing.CreatedBy
	role.CreatedAt = existing.CreatedAt
	role.UpdatedAt = time.Now()
	role.Permissions = nil
	stored.CreatedBy, stored.CreatedAt, stored.UpdatedAt, stored.Permissions = role.CreatedBy, role.CreatedAt, role.UpdatedAt, nil
	m.st.roles[role.ID] = stored
	return role, nil
}

// DeleteRole removes the role and its grants.
func (m *Memory) DeleteRole(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.st.roles[id]; !ok {
		return rbac.ErrNotFound
	}
	delete(m.st.roles, id)
	delete(m.st.grants, id)
	return nil
}

// ReplaceRolePermissions swaps the role's grants.
func (m *Memory) ReplaceRolePermissions(_ context.Context, roleID int64, ids []int64, actorID *int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	grants := make([]rbac.Grant, 0, len(ids))
	for _, id := range ids {
		if _, ok := m.st.perms[id]; !ok {
			return rbac.ErrUnknownPermission
		}
		grants = append(grants, rbac.Grant{RoleID: roleID, PermissionID: id, CreatedBy: actorID, UpdatedBy: actorID, CreatedAt: now, UpdatedAt: now})
	}
	m.st.grants[roleID] = grants
	return nil
}

// MissingPermissions returns ids with no stored permission.
func (m *Memory) MissingPermissions(_ context.Context, ids []int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var missing []int64
	for _, id := range ids {
		if _, ok := m.st.perms[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// ListPermissions returns permissions ordered by id.
func (m *Memory) ListPermissions(_ context.Context) ([]rbac.Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := slices.Sorted(maps.Keys(m.st.perms))
	out := make([]rbac.Permission, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.openPermission(m.st.perms[id]))
	}
	return out, nil
}

// GetPermission returns one permission.
func (m *Memory) GetPermission(_ context.Context, id int64) (*rbac.Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	perm, ok := m.st.perms[id]
	if !ok {
		return nil, rbac.ErrNotFound
	}
	perm = m.openPermission(perm)
	return &perm, nil
}

// InsertPermission stores a new permission.
func (m *Memory) InsertPermission(_ context.Context, perm rbac.Permission) (rbac.Permission, error) {
	stored, err := m.sealPermission(perm)
	if err != nil {
		return rbac.Permission{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.nextID++
	perm.ID = m.st.nextID
	perm.CreatedAt = time.Now()
	perm.UpdatedAt = perm.CreatedAt
	stored.ID, stored.CreatedAt, stored.UpdatedAt = perm.ID, perm.CreatedAt, perm.UpdatedAt
	m.st.perms[perm.ID] = stored
	return perm, nil
}

// UpdatePermission overwrites a permission.
func (m *Memory) UpdatePermission(_ context.Context, perm rbac.Permission) (rbac.Permission, error) {
	stored, err := m.sealPermission(perm)
	if err != nil {
		return rbac.Permission{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.st.perms[perm.ID]
	if !ok {
		return rbac.Permission{}, rbac.ErrNotFound
	}
	perm.CreatedAt = existing.CreatedAt
	perm.UpdatedAt = time.Now()
	stored.CreatedAt, stored.UpdatedAt = perm.CreatedAt, perm.UpdatedAt
	m.st.perms[perm.ID] = stored
	return perm, nil
}

// DeletePermission removes a permission and its grants.
func (m *Memory) DeletePermission(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.st.perms[id]; !ok {
		return rbac.ErrNotFound
	}
	delete(m.st.perms, id)
	for roleID, grants := range m.st.grants {
		m.st.grants[roleID] = slices.DeleteFunc(grants, func(g rbac.Grant) bool { return g.PermissionID == id })
	}
	return nil
}

// MarkUndecrypted stores raw as the permission's name column. With a codec the
// read path fails to open it on its own; without one the failure is recorded
// directly.
func (m *Memory) MarkUndecrypted(id int64, raw string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	perm := m.st.perms[id]
	perm.Name = raw
	if m.codec == nil {
		perm.Undecrypted = []string{"name"}
	}
	m.st.perms[id] = perm
}

// RawRole returns the role exactly as stored, bypassing decryption.
func (m *Memory) RawRole(id int64) (rbac.Role, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	role, ok := m.st.roles[id]
	return role, ok
}

// RawPermission returns the permission exactly as stored, bypassing decryption.
func (m *Memory) RawPermission(id int64) (rbac.Permission, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	perm, ok := m.st.perms[id]
	return perm, ok
}

// GrantCount returns the number of grants held by the role.
func (m *Memory) GrantCount(roleID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.st.grants[roleID])
}

func (m *Memory) sealRole(role rbac.Role) (rbac.Role, error) {
	if m.codec == nil {
		return role, nil
	}
	return rbac.SealRole(m.codec, role)
}

func (m *Memory) openRole(role rbac.Role) rbac.Role {
	if m.codec == nil {
		return role
	}
	return rbac.OpenRole(m.codec, role)
}

func (m *Memory) sealPermission(perm rbac.Permission) (rbac.Permission, error) {
	if m.codec == nil {
		return perm, nil
	}
	return rbac.SealPermission(m.codec, perm)
}

func (m *Memory) openPermission(perm rbac.Permission) rbac.Permission {
	if m.codec == nil {
		return perm
	}
	return rbac.OpenPermission(m.codec, perm)
}

func (m *Memory) withPermissions(role rbac.Role) rbac.Role {
	grants := m.st.grants[role.ID]
	role.Permissions = make([]rbac.Permission, 0, len(grants))
	for _, g := range grants {
		perm, ok := m.st.perms[g.PermissionID]
		if !ok {
			continue
		}
		perm = m.openPermission(perm)
		grant := g
		perm.Grant = &grant
		role.Permissions = append(role.Permissions, perm)
	}
	slices.SortFunc(role.Permissions, func(a, b rbac.Permission) int { return int(a.ID - b.ID) })
	return role
}

var _ rbac.Repository = (*Memory)(nil)
