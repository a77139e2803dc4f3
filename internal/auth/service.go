package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-dms/odyssey-dms/internal/platform/httpx"
	"github.com/odyssey-dms/odyssey-dms/internal/shared"
	"github.com/odyssey-dms/odyssey-dms/internal/users"
)

const auditModule = "Authentication"

// UserFinder looks accounts up by email.
type UserFinder interface {
	FindByEmail(ctx context.Context, email string) (*users.User, error)
}

// AuditPort records authentication events.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service wraps authentication business rules.
type Service struct {
	users  UserFinder
	repo   Repository
	audit  AuditPort
	logger *slog.Logger
	// compared against when the email is unknown so both paths pay for bcrypt
	dummy []byte
}

// NewService constructs a new Service.
func NewService(users UserFinder, repo Repository, audit AuditPort, logger *slog.Logger) *Service {
	dummy, _ := bcrypt.GenerateFromPassword([]byte("odyssey-dms-placeholder"), bcrypt.MinCost)
	return &Service{users: users, repo: repo, audit: audit, logger: logger, dummy: dummy}
}

// Authenticate validates email/password credentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*users.User, error) {
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, httpx.ErrNotFound) {
			return nil, err
		}
		_ = bcrypt.CompareHashAndPassword(s.dummy, []byte(password))
		return nil, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, shared.ErrInvalidCredentials
	}
	return user, nil
}

// RegisterSession persists the session metadata in postgres.
func (s *Service) RegisterSession(ctx context.Context, rec SessionRecord) error {
	if err := s.repo.CreateSession(ctx, rec); err != nil {
		return err
	}
	s.record(ctx, &rec.UserID, "login", "User logged in")
	return nil
}

// RemoveSession deletes a session record from postgres.
func (s *Service) RemoveSession(ctx context.Context, id string, userID *int64) error {
	if err := s.repo.DeleteSession(ctx, id); err != nil {
		return err
	}
	if userID != nil {
		s.record(ctx, userID, "logout", "User logged out")
	}
	return nil
}

// PurgeExpired drops session records past their expiry.
func (s *Service) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	return s.repo.PurgeExpired(ctx, now)
}

func (s *Service) record(ctx context.Context, userID *int64, action, description string) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{PerformedBy: userID, TargetUserID: userID, Module: auditModule, Action: action, Description: description})
	if err != nil && s.logger != nil {
		s.logger.Warn("auth audit", slog.String("action", action), slog.Any("error", err))
	}
}
