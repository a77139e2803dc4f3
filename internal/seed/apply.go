package seed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/odyssey-dms/odyssey-dms/internal/rbac"
)

// RBACPort is the subset of rbac.Service the seeder drives.
type RBACPort interface {
	EnsurePermission(ctx context.Context, in rbac.PermissionInput) (*rbac.Permission, bool, error)
	FindRoleByName(ctx context.Context, name string) (*rbac.Role, error)
	CreateRole(ctx context.Context, in rbac.RoleInput, actorID *int64) (*rbac.Role, error)
	SyncRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64, actorID *int64) (*rbac.Role, error)
}

// Result summarises an Apply run.
type Result struct {
	PermissionsCreated int
	RolesCreated       int
	RolesSynced        int
}

// Apply upserts the catalog and creates or re-syncs every blueprint role.
// It is idempotent.
func Apply(ctx context.Context, svc RBACPort, privileged string, logger *slog.Logger) (Result, error) {
	var res Result
	catalog := Catalog()
	ids := make(map[Ref]int64)
	for _, m := range catalog {
		for _, p := range m.Permissions {
			perm, created, err := svc.EnsurePermission(ctx, rbac.PermissionInput{Module: m.Name, Name: p.Name, Description: p.Description})
			if err != nil {
				return res, fmt.Errorf("seed: permission %s/%s: %w", m.Name, p.Name, err)
			}
			if created {
				res.PermissionsCreated++
			}
			ids[Ref{Module: m.Name, Name: p.Name}] = perm.ID
		}
	}

	for _, bp := range Blueprints(privileged) {
		refs := bp.Select(catalog)
		grant := make([]int64, 0, len(refs))
		for _, ref := range refs {
			grant = append(grant, ids[ref])
		}
		role, err := svc.FindRoleByName(ctx, bp.Name)
		switch {
		case errors.Is(err, rbac.ErrNotFound):
			if _, err := svc.CreateRole(ctx, rbac.RoleInput{
				Name:          bp.Name,
				Type:          "system",
				Color:         bp.Color,
				Description:   bp.Description,
				PermissionIDs: grant,
			}, nil); err != nil {
				return res, fmt.Errorf("seed: role %s: %w", bp.Name, err)
			}
			res.RolesCreated++
		case err != nil:
			return res, fmt.Errorf("seed: role %s: %w", bp.Name, err)
		default:
			if _, err := svc.SyncRolePermissions(ctx, role.ID, grant, nil); err != nil {
				return res, fmt.Errorf("seed: sync %s: %w", bp.Name, err)
			}
			res.RolesSynced++
		}
		if logger != nil {
			logger.Info("seed role", slog.String("role", bp.Name), slog.Int("permissions", len(grant)))
		}
	}
	return res, nil
}
