package rbac

import (
	"slices"
	"time"

	"github.com/odyssey-dms/odyssey-dms/internal/crypt"
)

// Role is a named bundle of permissions assignable to a user.
type Role struct {
	ID          int64        `json:"id"`
	Name        string       `json:"name"`
	Type        string       `json:"type"`
	Color       string       `json:"color"`
	Description *string      `json:"description"`
	CreatedBy   *int64       `json:"created_by"`
	UpdatedBy   *int64       `json:"updated_by"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	Permissions []Permission `json:"permissions"`

	// Undecrypted lists columns whose stored value could not be opened.
	Undecrypted []string `json:"-"`
}

// EncryptedFields implements crypt.Encryptable.
func (Role) EncryptedFields() crypt.Schema {
	return crypt.Schema{"name": crypt.String, "type": crypt.String, "color": crypt.String, "description": crypt.String}
}

// Permission represents an atomic capability identified by its module and name.
type Permission struct {
	ID          int64     `json:"id"`
	Module      string    `json:"module"`
	Name        string    `json:"name"`
	Description *string   `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// Grant carries the pivot row when the permission was loaded through a role.
	Grant *Grant `json:"grant,omitempty"`

	Undecrypted []string `json:"-"`
}

// EncryptedFields implements crypt.Encryptable.
func (Permission) EncryptedFields() crypt.Schema {
	return crypt.Schema{"module": crypt.String, "name": crypt.String, "description": crypt.String}
}

// Grant is the audited role_permission row.
type Grant struct {
	RoleID       int64     `json:"role_id"`
	PermissionID int64     `json:"permission_id"`
	CreatedBy    *int64    `json:"created_by"`
	UpdatedBy    *int64    `json:"updated_by"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Principal describes the authenticated actor a check is performed for.
type Principal struct {
	UserID int64
	RoleID *int64
}

// HasRole reports whether the principal has a role assigned.
func (p Principal) HasRole() bool {
	return p.RoleID != nil
}

// ModuleAccess is the CRUD capability summary of a module.
type ModuleAccess struct {
	CanView   bool `json:"can_view"`
	CanCreate bool `json:"can_create"`
	CanEdit   bool `json:"can_edit"`
	CanDelete bool `json:"can_delete"`
}

// NoRoleLabel is reported for principals without a role.
const NoRoleLabel = "No role assigned"

func opened(undecrypted []string, col string) bool {
	return !slices.Contains(undecrypted, col)
}
