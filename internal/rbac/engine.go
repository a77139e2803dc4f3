package rbac

import (
	"context"
	"errors"
	"fmt"
)

// RoleLoader loads a role together with its decrypted permission set.
type RoleLoader interface {
	LoadRole(ctx context.Context, id int64) (*Role, error)
}

// DecisionObserver is notified of every evaluation outcome.
type DecisionObserver interface {
	ObserveDecision(check string, allowed bool)
}

// Engine evaluates permission checks by name against a principal's role.
// Every call reloads and decrypts the role's permission set; nothing is cached.
type Engine struct {
	roles    RoleLoader
	observer DecisionObserver
}

// NewEngine constructs an Engine. observer may be nil.
func NewEngine(roles RoleLoader, observer DecisionObserver) *Engine {
	return &Engine{roles: roles, observer: observer}
}

// Role returns the principal's role with permissions, or nil when the
// principal has no role or the referenced role no longer exists.
func (e *Engine) Role(ctx context.Context, p Principal) (*Role, error) {
	if p.RoleID == nil {
		return nil, nil
	}
	role, err := e.roles.LoadRole(ctx, *p.RoleID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("rbac: load role %d: %w", *p.RoleID, err)
	}
	return role, nil
}

// RoleName returns the decrypted role name for diagnostics.
func (e *Engine) RoleName(ctx context.Context, p Principal) string {
	role, err := e.Role(ctx, p)
	if err != nil || role == nil {
		return NoRoleLabel
	}
	return role.Name
}

// HasPermission reports whether the principal's role grants a permission whose
// decrypted name equals name exactly. Module is not considered.
func (e *Engine) HasPermission(ctx context.Context, p Principal, name string) (bool, error) {
	role, err := e.Role(ctx, p)
	if err != nil {
		return false, err
	}
	return e.observe("permission", grants(role, name)), nil
}

// HasAnyPermission reports whether at least one name is granted. An empty
// list is never satisfied.
func (e *Engine) HasAnyPermission(ctx context.Context, p Principal, names []string) (bool, error) {
	if len(names) == 0 {
		return e.observe("any", false), nil
	}
	role, err := e.Role(ctx, p)
	if err != nil {
		return false, err
	}
	for _, n := range names {
		if grants(role, n) {
			return e.observe("any", true), nil
		}
	}
	return e.observe("any", false), nil
}

// HasAllPermissions reports whether every name is granted. An empty list is
// vacuously satisfied.
func (e *Engine) HasAllPermissions(ctx context.Context, p Principal, names []string) (bool, error) {
	if len(names) == 0 {
		return e.observe("all", true), nil
	}
	role, err := e.Role(ctx, p)
	if err != nil {
		return false, err
	}
	for _, n := range names {
		if !grants(role, n) {
			return e.observe("all", false), nil
		}
	}
	return e.observe("all", true), nil
}

// HasModulePermission matches the (module, name) pair instead of the name alone.
func (e *Engine) HasModulePermission(ctx context.Context, p Principal, module, name string) (bool, error) {
	role, err := e.Role(ctx, p)
	if err != nil {
		return false, err
	}
	if role == nil {
		return e.observe("module_permission", false), nil
	}
	for _, perm := range role.Permissions {
		if opened(perm.Undecrypted, "name") && opened(perm.Undecrypted, "module") &&
			perm.Module == module && perm.Name == name {
			return e.observe("module_permission", true), nil
		}
	}
	return e.observe("module_permission", false), nil
}

// CanAccessModule reports whether any granted permission belongs to module.
func (e *Engine) CanAccessModule(ctx context.Context, p Principal, module string) (bool, error) {
	role, err := e.Role(ctx, p)
	if err != nil {
		return false, err
	}
	if role == nil {
		return e.observe("module", false), nil
	}
	for _, perm := range role.Permissions {
		if opened(perm.Undecrypted, "module") && perm.Module == module {
			return e.observe("module", true), nil
		}
	}
	return e.observe("module", false), nil
}

// HasRole reports whether the principal's role name equals name.
func (e *Engine) HasRole(ctx context.Context, p Principal, name string) (bool, error) {
	role, err := e.Role(ctx, p)
	if err != nil {
		return false, err
	}
	ok := role != nil && opened(role.Undecrypted, "name") && role.Name == name
	return e.observe("role", ok), nil
}

// PermissionNames lists the decrypted permission names of the principal.
func (e *Engine) PermissionNames(ctx context.Context, p Principal) ([]string, error) {
	role, err := e.Role(ctx, p)
	if err != nil {
		return nil, err
	}
	if role == nil {
		return []string{}, nil
	}
	names := make([]string, 0, len(role.Permissions))
	for _, perm := range role.Permissions {
		names = append(names, perm.Name)
	}
	return names, nil
}

// PermissionsByModule groups the principal's permission names by module.
func (e *Engine) PermissionsByModule(ctx context.Context, p Principal) (map[string][]string, error) {
	role, err := e.Role(ctx, p)
	if err != nil {
		return nil, err
	}
	grouped := make(map[string][]string)
	if role == nil {
		return grouped, nil
	}
	for _, perm := range role.Permissions {
		grouped[perm.Module] = append(grouped[perm.Module], perm.Name)
	}
	return grouped, nil
}

// ModulePermissions derives the CRUD summary of module from the conventional
// "View <module>", "Create <module>", "Edit <module>" and "Delete <module>" names.
func (e *Engine) ModulePermissions(ctx context.Context, p Principal, module string) (ModuleAccess, error) {
	role, err := e.Role(ctx, p)
	if err != nil {
		return ModuleAccess{}, err
	}
	return ModuleAccess{
		CanView:   grants(role, "View "+module),
		CanCreate: grants(role, "Create "+module),
		CanEdit:   grants(role, "Edit "+module),
		CanDelete: grants(role, "Delete "+module),
	}, nil
}

func (e *Engine) observe(check string, allowed bool) bool {
	if e.observer != nil {
		e.observer.ObserveDecision(check, allowed)
	}
	return allowed
}

// grants skips permissions whose name failed to decrypt, so a stored
// ciphertext can never satisfy a comparison.
func grants(role *Role, name string) bool {
	if role == nil {
		return false
	}
	for _, perm := range role.Permissions {
		if !opened(perm.Undecrypted, "name") {
			continue
		}
		if len(perm.Name) == len(name) && perm.Name == name {
			return true
		}
	}
	return false
}
