package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-dms/odyssey-dms/internal/platform/httpx"
	"github.com/odyssey-dms/odyssey-dms/internal/shared"
)

var (
	// ErrNotFound indicates the role or permission does not exist.
	ErrNotFound = fmt.Errorf("rbac: %w", httpx.ErrNotFound)
	// ErrUnknownPermission indicates a sync referenced a permission id that does not exist.
	ErrUnknownPermission = fmt.Errorf("rbac: unknown permission: %w", httpx.ErrValidation)
	// ErrDuplicateRole indicates another role already carries the name.
	ErrDuplicateRole = fmt.Errorf("rbac: role name taken: %w", httpx.ErrDuplicate)
	// ErrDuplicatePermission indicates the (module, name) pair already exists.
	ErrDuplicatePermission = fmt.Errorf("rbac: permission exists: %w", httpx.ErrDuplicate)
	// ErrPrivilegedRole rejects changes to the privileged role by anyone not holding it.
	ErrPrivilegedRole = fmt.Errorf("rbac: privileged role is reserved: %w", httpx.ErrForbidden)
)

// AuditPort records administrative actions.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

const (
	auditModuleRoles       = "Access Controls"
	auditModulePermissions = "Permissions"
)

// RoleInput is the payload for creating or updating a role.
type RoleInput struct {
	Name          string  `json:"name" validate:"required,max=255"`
	Type          string  `json:"type" validate:"required,oneof=system custom"`
	Color         string  `json:"color" validate:"required,hexcolor,max=7"`
	Description   string  `json:"description" validate:"max=1000"`
	PermissionIDs []int64 `json:"permissions" validate:"dive,gt=0"`
}

// PermissionInput is the payload for creating or updating a permission.
type PermissionInput struct {
	Module      string `json:"module" validate:"required,max=255"`
	Name        string `json:"name" validate:"required,max=255"`
	Description string `json:"description" validate:"max=1000"`
}

// Service exposes role and permission administration.
type Service struct {
	repo       Repository
	audit      AuditPort
	logger     *slog.Logger
	validate   *validator.Validate
	privileged string
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithPrivilegedRole reserves the named role. Creating a role with that name,
// renaming a role to or from it, changing its grants and deleting it are
// limited to principals who hold it. Callers without a principal in context,
// such as the seed and CLI binaries, are not restricted.
func WithPrivilegedRole(name string) ServiceOption {
	return func(s *Service) { s.privileged = strings.TrimSpace(name) }
}

// NewService constructs the RBAC service. audit and logger may be nil.
func NewService(repo Repository, audit AuditPort, logger *slog.Logger, opts ...ServiceOption) *Service {
	s := &Service{repo: repo, audit: audit, logger: logger, validate: validator.New()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListRoles returns every role with its permissions.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.repo.ListRoles(ctx)
}

// GetRole returns a role with its permissions.
func (s *Service) GetRole(ctx context.Context, id int64) (*Role, error) {
	return s.repo.LoadRole(ctx, id)
}

// CreateRole inserts a role and grants the requested permissions atomically.
func (s *Service) CreateRole(ctx context.Context, in RoleInput, actorID *int64) (*Role, error) {
	if err := s.validateInput(in); err != nil {
		return nil, err
	}
	ids := normalizeIDs(in.PermissionIDs)
	var created *Role
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		if err := s.guardPrivileged(ctx, tx, in.Name); err != nil {
			return err
		}
		if err := tx.LockNames(ctx, ScopeRoles); err != nil {
			return err
		}
		if err := ensureRoleNameFree(ctx, tx, in.Name, 0); err != nil {
			return err
		}
		role, err := tx.InsertRole(ctx, Role{
			Name:        strings.TrimSpace(in.Name),
			Type:        in.Type,
			Color:       in.Color,
			Description: optional(in.Description),
			CreatedBy:   actorID,
			UpdatedBy:   actorID,
		})
		if err != nil {
			return err
		}
		if err := syncGrants(ctx, tx, role.ID, ids, actorID); err != nil {
			return err
		}
		created, err = tx.LoadRole(ctx, role.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, actorID, auditModuleRoles, "create_role", fmt.Sprintf("Created role %q with %d permissions", created.Name, len(ids)))
	return created, nil
}

// UpdateRole replaces a role's attributes and its entire permission set.
func (s *Service) UpdateRole(ctx context.Context, id int64, in RoleInput, actorID *int64) (*Role, error) {
	if err := s.validateInput(in); err != nil {
		return nil, err
	}
	ids := normalizeIDs(in.PermissionIDs)
	var updated *Role
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		if err := tx.LockNames(ctx, ScopeRoles); err != nil {
			return err
		}
		if err := tx.LockRole(ctx, id); err != nil {
			return err
		}
		current, err := tx.LoadRole(ctx, id)
		if err != nil {
			return err
		}
		if err := s.guardPrivileged(ctx, tx, current.Name, in.Name); err != nil {
			return err
		}
		if err := ensureRoleNameFree(ctx, tx, in.Name, id); err != nil {
			return err
		}
		if _, err := tx.UpdateRole(ctx, Role{
			ID:          id,
			Name:        strings.TrimSpace(in.Name),
			Type:        in.Type,
			Color:       in.Color,
			Description: optional(in.Description),
			UpdatedBy:   actorID,
		}); err != nil {
			return err
		}
		if err := syncGrants(ctx, tx, id, ids, actorID); err != nil {
			return err
		}
		updated, err = tx.LoadRole(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, actorID, auditModuleRoles, "update_role", fmt.Sprintf("Updated role %q with %d permissions", updated.Name, len(ids)))
	return updated, nil
}

// SyncRolePermissions replaces the role's permission set. Unknown ids abort
// the whole operation and leave the previous set intact.
func (s *Service) SyncRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64, actorID *int64) (*Role, error) {
	for _, id := range permissionIDs {
		if id <= 0 {
			return nil, fmt.Errorf("%w: permission id %d", httpx.ErrValidation, id)
		}
	}
	ids := normalizeIDs(permissionIDs)
	var synced *Role
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		if err := tx.LockRole(ctx, roleID); err != nil {
			return err
		}
		current, err := tx.LoadRole(ctx, roleID)
		if err != nil {
			return err
		}
		if err := s.guardPrivileged(ctx, tx, current.Name); err != nil {
			return err
		}
		if err := syncGrants(ctx, tx, roleID, ids, actorID); err != nil {
			return err
		}
		synced, err = tx.LoadRole(ctx, roleID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, actorID, auditModuleRoles, "sync_role_permissions", fmt.Sprintf("Synced %d permissions on role %q", len(ids), synced.Name))
	return synced, nil
}

// DeleteRole detaches all grants and removes the role. Users holding it are
// left without a role.
func (s *Service) DeleteRole(ctx context.Context, id int64, actorID *int64) error {
	var name string
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		role, err := tx.LoadRole(ctx, id)
		if err != nil {
			return err
		}
		if err := s.guardPrivileged(ctx, tx, role.Name); err != nil {
			return err
		}
		name = role.Name
		return tx.DeleteRole(ctx, id)
	})
	if err != nil {
		return err
	}
	s.record(ctx, actorID, auditModuleRoles, "delete_role", fmt.Sprintf("Deleted role %q", name))
	return nil
}

// ListPermissions returns the permission catalog.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.repo.ListPermissions(ctx)
}

// GetPermission returns one permission.
func (s *Service) GetPermission(ctx context.Context, id int64) (*Permission, error) {
	return s.repo.GetPermission(ctx, id)
}

// CreatePermission adds a permission to the catalog.
func (s *Service) CreatePermission(ctx context.Context, in PermissionInput, actorID *int64) (*Permission, error) {
	if err := s.validateInput(in); err != nil {
		return nil, err
	}
	var created Permission
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		if err := tx.LockNames(ctx, ScopePermissions); err != nil {
			return err
		}
		if existing, err := findPermission(ctx, tx, in.Module, in.Name); err != nil {
			return err
		} else if existing != nil {
			return ErrDuplicatePermission
		}
		var err error
		created, err = tx.InsertPermission(ctx, Permission{
			Module:      strings.TrimSpace(in.Module),
			Name:        strings.TrimSpace(in.Name),
			Description: optional(in.Description),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, actorID, auditModulePermissions, "create_permission", fmt.Sprintf("Created permission %q in %q", created.Name, created.Module))
	return &created, nil
}

// UpdatePermission rewrites a permission's module, name and description.
func (s *Service) UpdatePermission(ctx context.Context, id int64, in PermissionInput, actorID *int64) (*Permission, error) {
	if err := s.validateInput(in); err != nil {
		return nil, err
	}
	var updated Permission
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		if err := tx.LockNames(ctx, ScopePermissions); err != nil {
			return err
		}
		existing, err := findPermission(ctx, tx, in.Module, in.Name)
		if err != nil {
			return err
		}
		if existing != nil && existing.ID != id {
			return ErrDuplicatePermission
		}
		updated, err = tx.UpdatePermission(ctx, Permission{
			ID:          id,
			Module:      strings.TrimSpace(in.Module),
			Name:        strings.TrimSpace(in.Name),
			Description: optional(in.Description),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, actorID, auditModulePermissions, "update_permission", fmt.Sprintf("Updated permission %q in %q", updated.Name, updated.Module))
	return &updated, nil
}

// DeletePermission removes a permission and every grant of it.
func (s *Service) DeletePermission(ctx context.Context, id int64, actorID *int64) error {
	var name string
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		perm, err := tx.GetPermission(ctx, id)
		if err != nil {
			return err
		}
		name = perm.Name
		return tx.DeletePermission(ctx, id)
	})
	if err != nil {
		return err
	}
	s.record(ctx, actorID, auditModulePermissions, "delete_permission", fmt.Sprintf("Deleted permission %q", name))
	return nil
}

// EnsurePermission returns the permission matching (module, name), creating
// it when absent. The description of an existing permission is refreshed.
func (s *Service) EnsurePermission(ctx context.Context, in PermissionInput) (*Permission, bool, error) {
	if err := s.validateInput(in); err != nil {
		return nil, false, err
	}
	var (
		result  Permission
		created bool
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		if err := tx.LockNames(ctx, ScopePermissions); err != nil {
			return err
		}
		existing, err := findPermission(ctx, tx, in.Module, in.Name)
		if err != nil {
			return err
		}
		if existing == nil {
			created = true
			result, err = tx.InsertPermission(ctx, Permission{Module: in.Module, Name: in.Name, Description: optional(in.Description)})
			return err
		}
		desc := optional(in.Description)
		if equalOptional(existing.Description, desc) {
			result = *existing
			return nil
		}
		existing.Description = desc
		result, err = tx.UpdatePermission(ctx, *existing)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return &result, created, nil
}

// FindRoleByName returns the role whose decrypted name equals name.
func (s *Service) FindRoleByName(ctx context.Context, name string) (*Role, error) {
	roles, err := s.repo.ListRoles(ctx)
	if err != nil {
		return nil, err
	}
	for i := range roles {
		if opened(roles[i].Undecrypted, "name") && roles[i].Name == name {
			return &roles[i], nil
		}
	}
	return nil, ErrNotFound
}

func (s *Service) validateInput(in any) error {
	if err := s.validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s:%s", strings.ToLower(fe.Field()), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", httpx.ErrValidation, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", httpx.ErrValidation, err)
	}
	return nil
}

func (s *Service) record(ctx context.Context, actorID *int64, module, action, description string) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{PerformedBy: actorID, Module: module, Action: action, Description: description}); err != nil && s.logger != nil {
		s.logger.Warn("rbac audit", slog.String("action", action), slog.Any("error", err))
	}
}

// guardPrivileged rejects the change when any of names is the privileged role
// and the principal in ctx does not hold it.
func (s *Service) guardPrivileged(ctx context.Context, tx Repository, names ...string) error {
	if s.privileged == "" || !slices.ContainsFunc(names, func(n string) bool { return strings.TrimSpace(n) == s.privileged }) {
		return nil
	}
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return nil
	}
	if p.RoleID == nil {
		return ErrPrivilegedRole
	}
	held, err := tx.LoadRole(ctx, *p.RoleID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrPrivilegedRole
		}
		return err
	}
	if !opened(held.Undecrypted, "name") || held.Name != s.privileged {
		return ErrPrivilegedRole
	}
	return nil
}

func syncGrants(ctx context.Context, tx Repository, roleID int64, ids []int64, actorID *int64) error {
	missing, err := tx.MissingPermissions(ctx, ids)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %v", ErrUnknownPermission, missing)
	}
	return tx.ReplaceRolePermissions(ctx, roleID, ids, actorID)
}

func ensureRoleNameFree(ctx context.Context, tx Repository, name string, exceptID int64) error {
	roles, err := tx.ListRoles(ctx)
	if err != nil {
		return err
	}
	name = strings.TrimSpace(name)
	for _, r := range roles {
		if r.ID != exceptID && r.Name == name {
			return ErrDuplicateRole
		}
	}
	return nil
}

func findPermission(ctx context.Context, tx Repository, module, name string) (*Permission, error) {
	perms, err := tx.ListPermissions(ctx)
	if err != nil {
		return nil, err
	}
	module, name = strings.TrimSpace(module), strings.TrimSpace(name)
	for i := range perms {
		if perms[i].Module == module && perms[i].Name == name {
			return &perms[i], nil
		}
	}
	return nil, nil
}

func normalizeIDs(ids []int64) []int64 {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func equalOptional(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
