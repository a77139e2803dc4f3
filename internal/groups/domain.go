package groups

import (
	"time"

	"github.com/odyssey-dms/odyssey-dms/internal/crypt"
)

// Group statuses.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// Group bundles users and roles for document access. Name, description and
// colour are stored encrypted.
type Group struct {
	ID                  int64     `json:"id"`
	Name                string    `json:"name"`
	Description         *string   `json:"description"`
	AssignedColor       *string   `json:"assigned_color"`
	Status              string    `json:"status"`
	IsDefaultGroup      bool      `json:"is_default_group"`
	WorkflowParticipant bool      `json:"workflow_participant"`
	InheritPermissions  bool      `json:"inherit_permissions"`
	MemberIDs           []int64   `json:"members"`
	RoleIDs             []int64   `json:"roles"`
	CreatedBy           *int64    `json:"created_by"`
	UpdatedBy           *int64    `json:"updated_by"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`

	Undecrypted []string `json:"-"`
}

// EncryptedFields implements crypt.Encryptable.
func (Group) EncryptedFields() crypt.Schema {
	return crypt.Schema{
		"name":           crypt.String,
		"description":    crypt.String,
		"assigned_color": crypt.String,
	}
}
