package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-dms/odyssey-dms/internal/platform/httpx"
	"github.com/odyssey-dms/odyssey-dms/internal/rbac"
	"github.com/odyssey-dms/odyssey-dms/internal/shared"
)

var (
	// ErrNotFound indicates the user does not exist.
	ErrNotFound = fmt.Errorf("users: %w", httpx.ErrNotFound)
	// ErrDuplicateEmail indicates another account uses the email.
	ErrDuplicateEmail = fmt.Errorf("users: email taken: %w", httpx.ErrDuplicate)
	// ErrUnknownRole indicates the role to assign does not exist.
	ErrUnknownRole = fmt.Errorf("users: unknown role: %w", httpx.ErrValidation)
	// ErrSelfDelete prevents an administrator from deleting their own account.
	ErrSelfDelete = fmt.Errorf("users: cannot delete own account: %w", httpx.ErrForbidden)
)

const auditModule = "Lists of Users"

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	List(ctx context.Context) ([]User, error)
	Get(ctx context.Context, id int64) (*User, error)
	FindByEmailHash(ctx context.Context, hash string) (*User, error)
	Access(ctx context.Context, id int64) (*int64, bool, error)
	Insert(ctx context.Context, u User) (User, error)
	Update(ctx context.Context, u User) (User, error)
	SetRole(ctx context.Context, id int64, roleID *int64, actorID *int64) error
	Delete(ctx context.Context, id int64) error
}

// RolePort resolves roles for assignment.
type RolePort interface {
	GetRole(ctx context.Context, id int64) (*rbac.Role, error)
}

// Indexer computes the email blind index. BlindIndexes lists the current
// digest first, then the digests under previous keys.
type Indexer interface {
	BlindIndex(value string) string
	BlindIndexes(value string) []string
}

// AuditPort records administrative actions.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// CreateInput is the payload for creating a user.
type CreateInput struct {
	UserID        string   `json:"user_id" validate:"max=64"`
	FirstName     string   `json:"first_name" validate:"required,max=255"`
	LastName      string   `json:"last_name" validate:"required,max=255"`
	Email         string   `json:"email" validate:"required,email,max=255"`
	Password      string   `json:"password" validate:"required,min=8,max=72"`
	AssignedColor string   `json:"assigned_color" validate:"omitempty,hexcolor"`
	Groups        []string `json:"groups" validate:"dive,required,max=255"`
	RoleID        *int64   `json:"role_id" validate:"omitempty,gt=0"`
}

// UpdateInput is the payload for updating a user. An empty password keeps
// the current one.
type UpdateInput struct {
	UserID        string   `json:"user_id" validate:"max=64"`
	FirstName     string   `json:"first_name" validate:"required,max=255"`
	LastName      string   `json:"last_name" validate:"required,max=255"`
	Email         string   `json:"email" validate:"required,email,max=255"`
	Password      string   `json:"password" validate:"omitempty,min=8,max=72"`
	AssignedColor string   `json:"assigned_color" validate:"omitempty,hexcolor"`
	Groups        []string `json:"groups" validate:"dive,required,max=255"`
	IsActive      *bool    `json:"is_active"`
}

// Service handles user business logic.
type Service struct {
	repo     RepositoryPort
	roles    RolePort
	index    Indexer
	audit    AuditPort
	logger   *slog.Logger
	validate *validator.Validate
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, roles RolePort, index Indexer, audit AuditPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, roles: roles, index: index, audit: audit, logger: logger, validate: validator.New()}
}

// List returns all users.
func (s *Service) List(ctx context.Context) ([]User, error) {
	return s.repo.List(ctx)
}

// Get returns a user.
func (s *Service) Get(ctx context.Context, id int64) (*User, error) {
	return s.repo.Get(ctx, id)
}

// FindByEmail looks a user up through the email blind index. Rows not yet
// resealed after a key rotation still carry a digest under a previous key.
func (s *Service) FindByEmail(ctx context.Context, email string) (*User, error) {
	for _, hash := range s.index.BlindIndexes(NormalizeEmail(email)) {
		u, err := s.repo.FindByEmailHash(ctx, hash)
		if err == nil {
			return u, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return nil, ErrNotFound
}

// ensureEmailFree rejects an email held by another account under any index key.
func (s *Service) ensureEmailFree(ctx context.Context, email string, self int64) error {
	u, err := s.FindByEmail(ctx, email)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil
	case err != nil:
		return err
	case u.ID != self:
		return ErrDuplicateEmail
	}
	return nil
}

// Create registers a user with a bcrypt password hash.
func (s *Service) Create(ctx context.Context, in CreateInput, actorID *int64) (*User, error) {
	if err := s.check(in); err != nil {
		return nil, err
	}
	if in.RoleID != nil {
		if err := s.ensureRole(ctx, *in.RoleID); err != nil {
			return nil, err
		}
	}
	email := NormalizeEmail(in.Email)
	if err := s.ensureEmailFree(ctx, email, 0); err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("users: hash password: %w", err)
	}
	u, err := s.repo.Insert(ctx, User{
		UserID:        optional(in.UserID),
		FirstName:     strings.TrimSpace(in.FirstName),
		LastName:      strings.TrimSpace(in.LastName),
		Email:         email,
		EmailHash:     s.index.BlindIndex(email),
		PasswordHash:  string(hash),
		AssignedColor: optional(in.AssignedColor),
		Groups:        in.Groups,
		RoleID:        in.RoleID,
		IsActive:      true,
		CreatedBy:     actorID,
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, actorID, &u.ID, "create_user", fmt.Sprintf("Created user %s", u.FullName()))
	return &u, nil
}

// Update rewrites the user's profile.
func (s *Service) Update(ctx context.Context, id int64, in UpdateInput, actorID *int64) (*User, error) {
	if err := s.check(in); err != nil {
		return nil, err
	}
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	email := NormalizeEmail(in.Email)
	if err := s.ensureEmailFree(ctx, email, id); err != nil {
		return nil, err
	}
	var hash string
	if in.Password != "" {
		raw, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("users: hash password: %w", err)
		}
		hash = string(raw)
	}
	active := current.IsActive
	if in.IsActive != nil {
		active = *in.IsActive
	}
	u, err := s.repo.Update(ctx, User{
		ID:            id,
		UserID:        optional(in.UserID),
		FirstName:     strings.TrimSpace(in.FirstName),
		LastName:      strings.TrimSpace(in.LastName),
		Email:         email,
		EmailHash:     s.index.BlindIndex(email),
		PasswordHash:  hash,
		AssignedColor: optional(in.AssignedColor),
		Groups:        in.Groups,
		IsActive:      active,
		LastUpdatedBy: actorID,
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, actorID, &id, "update_user", fmt.Sprintf("Updated user %s", u.FullName()))
	return &u, nil
}

// AssignRole sets the user's role; nil clears it.
func (s *Service) AssignRole(ctx context.Context, id int64, roleID *int64, actorID *int64) error {
	label := rbac.NoRoleLabel
	if roleID != nil {
		role, err := s.roles.GetRole(ctx, *roleID)
		if err != nil {
			if errors.Is(err, rbac.ErrNotFound) {
				return ErrUnknownRole
			}
			return err
		}
		label = role.Name
	}
	if err := s.repo.SetRole(ctx, id, roleID, actorID); err != nil {
		return err
	}
	s.record(ctx, actorID, &id, "assign_role", fmt.Sprintf("Assigned role %q", label))
	return nil
}

// Delete removes a user account.
func (s *Service) Delete(ctx context.Context, id int64, actorID *int64) error {
	if actorID != nil && *actorID == id {
		return ErrSelfDelete
	}
	u, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.record(ctx, actorID, nil, "delete_user", fmt.Sprintf("Deleted user %s", u.FullName()))
	return nil
}

func (s *Service) ensureRole(ctx context.Context, id int64) error {
	if _, err := s.roles.GetRole(ctx, id); err != nil {
		if errors.Is(err, rbac.ErrNotFound) {
			return ErrUnknownRole
		}
		return err
	}
	return nil
}

func (s *Service) check(in any) error {
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

func (s *Service) record(ctx context.Context, actorID, target *int64, action, description string) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{PerformedBy: actorID, TargetUserID: target, Module: auditModule, Action: action, Description: description})
	if err != nil && s.logger != nil {
		s.logger.Warn("users audit", slog.String("action", action), slog.Any("error", err))
	}
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
