package groups

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
	// ErrNotFound indicates the group does not exist.
	ErrNotFound = fmt.Errorf("groups: %w", httpx.ErrNotFound)
	// ErrUnknownReference indicates a member or role id does not exist.
	ErrUnknownReference = fmt.Errorf("groups: unknown reference: %w", httpx.ErrValidation)
)

const auditModule = "User Management"

// RepositoryPort defines data access methods for groups.
type RepositoryPort interface {
	List(ctx context.Context) ([]Group, error)
	Get(ctx context.Context, id int64) (*Group, error)
	Insert(ctx context.Context, g Group) (Group, error)
	Update(ctx context.Context, g Group) (Group, error)
	Delete(ctx context.Context, id int64) error
	ReplaceMembers(ctx context.Context, groupID int64, userIDs []int64, actorID *int64) error
	ReplaceRoles(ctx context.Context, groupID int64, roleIDs []int64, actorID *int64) error
}

// AuditPort records administrative actions.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Input is the payload for creating or updating a group.
type Input struct {
	Name                string  `json:"name" validate:"required,max=255"`
	Description         string  `json:"description" validate:"max=1000"`
	AssignedColor       string  `json:"assigned_color" validate:"omitempty,hexcolor"`
	Status              string  `json:"status" validate:"omitempty,oneof=active inactive"`
	IsDefaultGroup      bool    `json:"is_default_group"`
	WorkflowParticipant bool    `json:"workflow_participant"`
	InheritPermissions  *bool   `json:"inherit_permissions"`
	MemberIDs           []int64 `json:"members" validate:"dive,gt=0"`
	RoleIDs             []int64 `json:"roles" validate:"dive,gt=0"`
}

// Service handles group business logic.
type Service struct {
	repo     RepositoryPort
	audit    AuditPort
	logger   *slog.Logger
	validate *validator.Validate
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, audit AuditPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, audit: audit, logger: logger, validate: validator.New()}
}

// List returns all groups.
func (s *Service) List(ctx context.Context) ([]Group, error) {
	return s.repo.List(ctx)
}

// Get returns a group.
func (s *Service) Get(ctx context.Context, id int64) (*Group, error) {
	return s.repo.Get(ctx, id)
}

// Create stores a group with its initial members and roles.
func (s *Service) Create(ctx context.Context, in Input, actorID *int64) (*Group, error) {
	if err := s.check(in); err != nil {
		return nil, err
	}
	g := fromInput(in, Group{InheritPermissions: true, Status: StatusActive})
	g.MemberIDs = normalizeIDs(in.MemberIDs)
	g.RoleIDs = normalizeIDs(in.RoleIDs)
	g.CreatedBy = actorID
	created, err := s.repo.Insert(ctx, g)
	if err != nil {
		return nil, err
	}
	s.record(ctx, actorID, "create_group", fmt.Sprintf("Created group %q", created.Name))
	return &created, nil
}

// Update rewrites group attributes. Members and roles are synced only when
// the payload carries them.
func (s *Service) Update(ctx context.Context, id int64, in Input, actorID *int64) (*Group, error) {
	if err := s.check(in); err != nil {
		return nil, err
	}
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	g := fromInput(in, *current)
	g.UpdatedBy = actorID
	if _, err := s.repo.Update(ctx, g); err != nil {
		return nil, err
	}
	if in.MemberIDs != nil {
		if err := s.repo.ReplaceMembers(ctx, id, normalizeIDs(in.MemberIDs), actorID); err != nil {
			return nil, err
		}
	}
	if in.RoleIDs != nil {
		if err := s.repo.ReplaceRoles(ctx, id, normalizeIDs(in.RoleIDs), actorID); err != nil {
			return nil, err
		}
	}
	s.record(ctx, actorID, "update_group", fmt.Sprintf("Updated group %q", g.Name))
	return s.repo.Get(ctx, id)
}

// Delete removes a group.
func (s *Service) Delete(ctx context.Context, id int64, actorID *int64) error {
	g, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.record(ctx, actorID, "delete_group", fmt.Sprintf("Deleted group %q", g.Name))
	return nil
}

// SyncMembers replaces the group's members.
func (s *Service) SyncMembers(ctx context.Context, id int64, userIDs []int64, actorID *int64) (*Group, error) {
	if err := s.positive(userIDs); err != nil {
		return nil, err
	}
	ids := normalizeIDs(userIDs)
	if err := s.repo.ReplaceMembers(ctx, id, ids, actorID); err != nil {
		return nil, err
	}
	g, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.record(ctx, actorID, "sync_group_members", fmt.Sprintf("Group %q now has %d members", g.Name, len(ids)))
	return g, nil
}

// SyncRoles replaces the roles attached to the group.
func (s *Service) SyncRoles(ctx context.Context, id int64, roleIDs []int64, actorID *int64) (*Group, error) {
	if err := s.positive(roleIDs); err != nil {
		return nil, err
	}
	ids := normalizeIDs(roleIDs)
	if err := s.repo.ReplaceRoles(ctx, id, ids, actorID); err != nil {
		return nil, err
	}
	g, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.record(ctx, actorID, "sync_group_roles", fmt.Sprintf("Group %q now has %d roles", g.Name, len(ids)))
	return g, nil
}

func fromInput(in Input, base Group) Group {
	base.Name = strings.TrimSpace(in.Name)
	base.Description = optional(in.Description)
	base.AssignedColor = optional(in.AssignedColor)
	if in.Status != "" {
		base.Status = in.Status
	}
	base.IsDefaultGroup = in.IsDefaultGroup
	base.WorkflowParticipant = in.WorkflowParticipant
	if in.InheritPermissions != nil {
		base.InheritPermissions = *in.InheritPermissions
	}
	return base
}

func (s *Service) positive(ids []int64) error {
	for _, id := range ids {
		if id <= 0 {
			return fmt.Errorf("%w: ids must be positive", httpx.ErrValidation)
		}
	}
	return nil
}

func (s *Service) check(in Input) error {
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

func (s *Service) record(ctx context.Context, actorID *int64, action, description string) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{PerformedBy: actorID, Module: auditModule, Action: action, Description: description})
	if err != nil && s.logger != nil {
		s.logger.Warn("groups audit", slog.String("action", action), slog.Any("error", err))
	}
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
