package users

import (
	"strings"
	"time"

	"github.com/odyssey-dms/odyssey-dms/internal/crypt"
)

// User represents a user account. Identity and profile columns are stored
// encrypted; EmailHash is the blind index used for lookups.
type User struct {
	ID            int64     `json:"id"`
	UserID        *string   `json:"user_id"`
	FirstName     string    `json:"first_name"`
	LastName      string    `json:"last_name"`
	Email         string    `json:"email"`
	AssignedColor *string   `json:"assigned_color"`
	Groups        []string  `json:"groups"`
	RoleID        *int64    `json:"role_id"`
	IsActive      bool      `json:"is_active"`
	CreatedBy     *int64    `json:"created_by"`
	LastUpdatedBy *int64    `json:"last_updated_by"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`

	EmailHash    string   `json:"-"`
	PasswordHash string   `json:"-"`
	Undecrypted  []string `json:"-"`
}

// EncryptedFields implements crypt.Encryptable.
func (User) EncryptedFields() crypt.Schema {
	return crypt.Schema{
		"user_id":        crypt.String,
		"first_name":     crypt.String,
		"last_name":      crypt.String,
		"email":          crypt.String,
		"assigned_color": crypt.String,
		"groups":         crypt.JSON,
	}
}

// FullName joins first and last name.
func (u User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// NormalizeEmail is applied before computing the blind index so lookups are
// case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
