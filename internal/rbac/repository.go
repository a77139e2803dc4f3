package rbac

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-dms/odyssey-dms/internal/crypt"
	"github.com/odyssey-dms/odyssey-dms/internal/platform/db"
)

// Repository defines persistence operations for roles, permissions and grants.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	LoadRole(ctx context.Context, id int64) (*Role, error)
	LockRole(ctx context.Context, id int64) error
	LockNames(ctx context.Context, scope NameScope) error
	ListRoles(ctx context.Context) ([]Role, error)
	InsertRole(ctx context.Context, role Role) (Role, error)
	UpdateRole(ctx context.Context, role Role) (Role, error)
	DeleteRole(ctx context.Context, id int64) error
	ReplaceRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64, actorID *int64) error
	MissingPermissions(ctx context.Context, ids []int64) ([]int64, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
	GetPermission(ctx context.Context, id int64) (*Permission, error)
	InsertPermission(ctx context.Context, perm Permission) (Permission, error)
	UpdatePermission(ctx context.Context, perm Permission) (Permission, error)
	DeletePermission(ctx context.Context, id int64) error
}

type dbtx interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// PGRepository implements Repository on PostgreSQL. Encrypted columns are
// sealed on write and opened on read through the codec.
type PGRepository struct {
	db    dbtx
	pool  *pgxpool.Pool
	codec *crypt.Codec
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool, codec *crypt.Codec) *PGRepository {
	return &PGRepository{db: pool, pool: pool, codec: codec}
}

// WithTx runs fn against a repository bound to a single transaction.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &PGRepository{db: tx, pool: r.pool, codec: r.codec})
	})
}

const roleWithPermissionsSQL = `
SELECT r.id, r.name, r.type, r.color, r.description, r.created_by, r.updated_by, r.created_at, r.updated_at,
       p.id, p.module, p.name, p.description, p.created_at, p.updated_at,
       rp.created_by, rp.updated_by, rp.created_at, rp.updated_at
FROM roles r
LEFT JOIN role_permission rp ON rp.role_id = r.id
LEFT JOIN permissions p ON p.id = rp.permission_id`

// LoadRole eagerly loads a role and its permissions in one query.
func (r *PGRepository) LoadRole(ctx context.Context, id int64) (*Role, error) {
	rows, err := r.db.Query(ctx, roleWithPermissionsSQL+` WHERE r.id = $1 ORDER BY p.id`, id)
	if err != nil {
		return nil, err
	}
	roles, err := r.scanRoles(rows)
	if err != nil {
		return nil, err
	}
	if len(roles) == 0 {
		return nil, ErrNotFound
	}
	return &roles[0], nil
}

// LockRole takes a row lock on the role for the rest of the transaction.
func (r *PGRepository) LockRole(ctx context.Context, id int64) error {
	var found int64
	if err := r.db.QueryRow(ctx, `SELECT id FROM roles WHERE id = $1 FOR UPDATE`, id).Scan(&found); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// NameScope identifies a set of encrypted names whose uniqueness is checked in
// application code.
type NameScope string

const (
	ScopeRoles       NameScope = "roles"
	ScopePermissions NameScope = "permissions"
)

// LockNames takes a transaction-scoped advisory lock on scope. Ciphertext
// columns cannot carry a UNIQUE constraint, so writers that check a name
// against the decrypted set hold this lock from the scan until commit.
func (r *PGRepository) LockNames(ctx context.Context, scope NameScope) error {
	if _, err := r.db.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "rbac:"+string(scope)); err != nil {
		return fmt.Errorf("rbac: lock %s: %w", scope, err)
	}
	return nil
}

// ListRoles returns every role with its permissions.
func (r *PGRepository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.db.Query(ctx, roleWithPermissionsSQL+` ORDER BY r.id, p.id`)
	if err != nil {
		return nil, err
	}
	return r.scanRoles(rows)
}

func (r *PGRepository) scanRoles(rows pgx.Rows) ([]Role, error) {
	defer rows.Close()
	var roles []Role
	index := make(map[int64]int)
	for rows.Next() {
		var (
			role                       Role
			name, typ, color           string
			desc                       *string
			permID                     *int64
			permModule, permName       *string
			permDesc                   *string
			permCreated, permUpdated   *time.Time
			grantBy, grantUpdBy        *int64
			grantCreated, grantUpdated *time.Time
		)
		if err := rows.Scan(
			&role.ID, &name, &typ, &color, &desc, &role.CreatedBy, &role.UpdatedBy, &role.CreatedAt, &role.UpdatedAt,
			&permID, &permModule, &permName, &permDesc, &permCreated, &permUpdated,
			&grantBy, &grantUpdBy, &grantCreated, &grantUpdated,
		); err != nil {
			return nil, err
		}
		pos, seen := index[role.ID]
		if !seen {
			role.Name, role.Type, role.Color, role.Description = name, typ, color, desc
			role = OpenRole(r.codec, role)
			role.Permissions = []Permission{}
			roles = append(roles, role)
			pos = len(roles) - 1
			index[role.ID] = pos
		}
		if permID == nil {
			continue
		}
		perm := OpenPermission(r.codec, Permission{
			ID:          *permID,
			Module:      deref(permModule),
			Name:        deref(permName),
			Description: permDesc,
			CreatedAt:   deref(permCreated),
			UpdatedAt:   deref(permUpdated),
		})
		perm.Grant = &Grant{
			RoleID:       role.ID,
			PermissionID: *permID,
			CreatedBy:    grantBy,
			UpdatedBy:    grantUpdBy,
			CreatedAt:    deref(grantCreated),
			UpdatedAt:    deref(grantUpdated),
		}
		roles[pos].Permissions = append(roles[pos].Permissions, perm)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

// InsertRole seals and inserts a role.
func (r *PGRepository) InsertRole(ctx context.Context, role Role) (Role, error) {
	sealed, err := SealRole(r.codec, role)
	if err != nil {
		return Role{}, err
	}
	err = r.db.QueryRow(ctx, `
		INSERT INTO roles (name, type, color, description, created_by, updated_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		RETURNING id, created_at, updated_at`,
		sealed.Name, sealed.Type, sealed.Color, sealed.Description,
		role.CreatedBy, role.UpdatedBy,
	).Scan(&role.ID, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		return Role{}, fmt.Errorf("rbac: insert role: %w", err)
	}
	return role, nil
}

// UpdateRole seals and updates the role's attributes.
func (r *PGRepository) UpdateRole(ctx context.Context, role Role) (Role, error) {
	sealed, err := SealRole(r.codec, role)
	if err != nil {
		return Role{}, err
	}
	err = r.db.QueryRow(ctx, `
		UPDATE roles SET name = $2, type = $3, color = $4, description = $5, updated_by = $6, updated_at = NOW()
		WHERE id = $1
		RETURNING created_by, created_at, updated_at`,
		role.ID, sealed.Name, sealed.Type, sealed.Color, sealed.Description,
		role.UpdatedBy,
	).Scan(&role.CreatedBy, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, ErrNotFound
		}
		return Role{}, fmt.Errorf("rbac: update role: %w", err)
	}
	return role, nil
}

// DeleteRole detaches the role's grants and deletes it.
func (r *PGRepository) DeleteRole(ctx context.Context, id int64) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM role_permission WHERE role_id = $1`, id); err != nil {
		return fmt.Errorf("rbac: detach permissions: %w", err)
	}
	tag, err := r.db.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("rbac: delete role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ReplaceRolePermissions deletes every grant of the role and inserts the new set.
func (r *PGRepository) ReplaceRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64, actorID *int64) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM role_permission WHERE role_id = $1`, roleID); err != nil {
		return fmt.Errorf("rbac: clear grants: %w", err)
	}
	if len(permissionIDs) == 0 {
		return nil
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO role_permission (role_id, permission_id, created_by, updated_by, created_at, updated_at)
		SELECT $1, pid, $3, $3, NOW(), NOW() FROM unnest($2::bigint[]) AS pid`,
		roleID, permissionIDs, actorID)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return ErrUnknownPermission
		}
		return fmt.Errorf("rbac: insert grants: %w", err)
	}
	return nil
}

// MissingPermissions returns the ids that do not exist.
func (r *PGRepository) MissingPermissions(ctx context.Context, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx, `SELECT id FROM permissions WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	found := make(map[int64]struct{}, len(ids))
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		found[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	var missing []int64
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

const permissionColumns = `id, module, name, description, created_at, updated_at`

// ListPermissions returns all permissions ordered by id.
func (r *PGRepository) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := r.db.Query(ctx, `SELECT `+permissionColumns+` FROM permissions ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		perm, err := r.scanPermission(rows)
		if err != nil {
			return nil, err
		}
		perms = append(perms, perm)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return perms, nil
}

// GetPermission fetches a permission by id.
func (r *PGRepository) GetPermission(ctx context.Context, id int64) (*Permission, error) {
	perm, err := r.scanPermission(r.db.QueryRow(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &perm, nil
}

// InsertPermission seals and inserts a permission.
func (r *PGRepository) InsertPermission(ctx context.Context, perm Permission) (Permission, error) {
	sealed, err := SealPermission(r.codec, perm)
	if err != nil {
		return Permission{}, err
	}
	err = r.db.QueryRow(ctx, `
		INSERT INTO permissions (module, name, description, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		RETURNING id, created_at, updated_at`,
		sealed.Module, sealed.Name, sealed.Description,
	).Scan(&perm.ID, &perm.CreatedAt, &perm.UpdatedAt)
	if err != nil {
		return Permission{}, fmt.Errorf("rbac: insert permission: %w", err)
	}
	return perm, nil
}

// UpdatePermission seals and updates a permission.
func (r *PGRepository) UpdatePermission(ctx context.Context, perm Permission) (Permission, error) {
	sealed, err := SealPermission(r.codec, perm)
	if err != nil {
		return Permission{}, err
	}
	err = r.db.QueryRow(ctx, `
		UPDATE permissions SET module = $2, name = $3, description = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING created_at, updated_at`,
		perm.ID, sealed.Module, sealed.Name, sealed.Description,
	).Scan(&perm.CreatedAt, &perm.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Permission{}, ErrNotFound
		}
		return Permission{}, fmt.Errorf("rbac: update permission: %w", err)
	}
	return perm, nil
}

// DeletePermission removes a permission and its grants.
func (r *PGRepository) DeletePermission(ctx context.Context, id int64) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM role_permission WHERE permission_id = $1`, id); err != nil {
		return fmt.Errorf("rbac: detach roles: %w", err)
	}
	tag, err := r.db.Exec(ctx, `DELETE FROM permissions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("rbac: delete permission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepository) scanPermission(row pgx.Row) (Permission, error) {
	var perm Permission
	if err := row.Scan(&perm.ID, &perm.Module, &perm.Name, &perm.Description, &perm.CreatedAt, &perm.UpdatedAt); err != nil {
		return Permission{}, err
	}
	return OpenPermission(r.codec, perm), nil
}

// SealRole returns role with its attribute columns replaced by their sealed
// form, as stored.
func SealRole(codec *crypt.Codec, role Role) (Role, error) {
	sealed, err := codec.Seal(role, roleRow(role))
	if err != nil {
		return Role{}, err
	}
	role.Name = sealed.String("name")
	role.Type = sealed.String("type")
	role.Color = sealed.String("color")
	role.Description = sealed.NullString("description")
	return role, nil
}

// OpenRole returns a stored role with its attribute columns opened. Columns
// no key opens keep the stored value and are listed in Undecrypted.
func OpenRole(codec *crypt.Codec, stored Role) Role {
	row, failed := codec.Open(stored, roleRow(stored))
	stored.Name = row.String("name")
	stored.Type = row.String("type")
	stored.Color = row.String("color")
	stored.Description = row.NullString("description")
	stored.Undecrypted = failed
	return stored
}

// SealPermission is SealRole for permissions.
func SealPermission(codec *crypt.Codec, perm Permission) (Permission, error) {
	sealed, err := codec.Seal(perm, permissionRow(perm))
	if err != nil {
		return Permission{}, err
	}
	perm.Module = sealed.String("module")
	perm.Name = sealed.String("name")
	perm.Description = sealed.NullString("description")
	return perm, nil
}

// OpenPermission is OpenRole for permissions.
func OpenPermission(codec *crypt.Codec, stored Permission) Permission {
	row, failed := codec.Open(stored, permissionRow(stored))
	stored.Module = row.String("module")
	stored.Name = row.String("name")
	stored.Description = row.NullString("description")
	stored.Undecrypted = failed
	return stored
}

func roleRow(role Role) crypt.Row {
	return crypt.Row{"name": role.Name, "type": role.Type, "color": role.Color, "description": role.Description}
}

func permissionRow(perm Permission) crypt.Row {
	return crypt.Row{"module": perm.Module, "name": perm.Name, "description": perm.Description}
}

func deref[T any](v *T) T {
	var zero T
	if v == nil {
		return zero
	}
	return *v
}

var _ Repository = (*PGRepository)(nil)
