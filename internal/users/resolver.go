package users

import (
	"context"

	"github.com/odyssey-dms/odyssey-dms/internal/rbac"
)

// AccessPort reads the columns a principal is built from.
type AccessPort interface {
	Access(ctx context.Context, id int64) (*int64, bool, error)
}

// Resolver turns session user ids into RBAC principals. Deactivated and
// missing users resolve to ErrNotFound.
type Resolver struct {
	repo AccessPort
}

// NewResolver constructs a Resolver.
func NewResolver(repo AccessPort) *Resolver {
	return &Resolver{repo: repo}
}

// Principal implements rbac.PrincipalResolver.
func (r *Resolver) Principal(ctx context.Context, userID int64) (rbac.Principal, error) {
	roleID, active, err := r.repo.Access(ctx, userID)
	if err != nil {
		return rbac.Principal{}, err
	}
	if !active {
		return rbac.Principal{}, ErrNotFound
	}
	return rbac.Principal{UserID: userID, RoleID: roleID}, nil
}

var _ rbac.PrincipalResolver = (*Resolver)(nil)
