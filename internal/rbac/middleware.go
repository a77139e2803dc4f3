package rbac

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/odyssey-dms/odyssey-dms/internal/platform/httpx"
	"github.com/odyssey-dms/odyssey-dms/internal/shared"
)

// PrincipalResolver maps a session user id to the principal checks run for.
type PrincipalResolver interface {
	Principal(ctx context.Context, userID int64) (Principal, error)
}

// Middleware wires RBAC authorization helpers for HTTP handlers.
type Middleware struct {
	Engine   *Engine
	Resolver PrincipalResolver
	Logger   *slog.Logger
}

// Denial is the body of a 403 response.
type Denial struct {
	Message             string   `json:"message"`
	RequiredPermission  string   `json:"required_permission,omitempty"`
	RequiredPermissions []string `json:"required_permissions,omitempty"`
	RequiredRole        string   `json:"required_role,omitempty"`
	UserRole            string   `json:"user_role,omitempty"`
	CurrentRole         string   `json:"current_role,omitempty"`
}

// Authenticate resolves the session user into a Principal stored in the
// request context. Requests without a resolvable user pass through
// unauthenticated; the guards below reject them.
func (m Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := m.currentUserID(r)
		if !ok || m.Resolver == nil {
			next.ServeHTTP(w, r)
			return
		}
		p, err := m.Resolver.Principal(r.Context(), userID)
		if err != nil {
			if !errors.Is(err, httpx.ErrNotFound) {
				m.logError("rbac resolve principal", err)
				httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
				return
			}
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), p)))
	})
}

// RequirePermission admits principals whose role grants name.
func (m Middleware) RequirePermission(name string) func(http.Handler) http.Handler {
	return m.guard("require permission", func(ctx context.Context, p Principal) (bool, error) {
		return m.Engine.HasPermission(ctx, p, name)
	}, func(role string) Denial {
		return Denial{
			Message:            "Access denied. You do not have permission to perform this action.",
			RequiredPermission: name,
			UserRole:           role,
		}
	})
}

// RequireAny admits principals holding at least one of names.
func (m Middleware) RequireAny(names ...string) func(http.Handler) http.Handler {
	required := append([]string{}, names...)
	return m.guard("require any", func(ctx context.Context, p Principal) (bool, error) {
		return m.Engine.HasAnyPermission(ctx, p, required)
	}, func(role string) Denial {
		return Denial{
			Message:             "Access denied. You do not have any of the required permissions.",
			RequiredPermissions: required,
			UserRole:            role,
		}
	})
}

// RequireAll admits principals holding every one of names.
func (m Middleware) RequireAll(names ...string) func(http.Handler) http.Handler {
	required := append([]string{}, names...)
	return m.guard("require all", func(ctx context.Context, p Principal) (bool, error) {
		return m.Engine.HasAllPermissions(ctx, p, required)
	}, func(role string) Denial {
		return Denial{
			Message:             "Access denied. You do not have all of the required permissions.",
			RequiredPermissions: required,
			UserRole:            role,
		}
	})
}

// RequireRole admits principals whose decrypted role name equals name. It is
// used for the privileged administration surface and never consults grants.
func (m Middleware) RequireRole(name string) func(http.Handler) http.Handler {
	return m.guard("require role", func(ctx context.Context, p Principal) (bool, error) {
		return m.Engine.HasRole(ctx, p, name)
	}, func(role string) Denial {
		return Denial{
			Message:      "Access denied. Only " + strings.ToLower(name) + "s can manage permissions.",
			RequiredRole: name,
			CurrentRole:  role,
		}
	})
}

func (m Middleware) guard(op string, check func(context.Context, Principal) (bool, error), deny func(role string) Denial) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				httpx.JSON(w, http.StatusUnauthorized, map[string]string{"message": "Unauthenticated"})
				return
			}
			allowed, err := check(r.Context(), p)
			if err != nil {
				m.logError("rbac "+op, err)
				httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
				return
			}
			if allowed {
				next.ServeHTTP(w, r)
				return
			}
			role := m.Engine.RoleName(r.Context(), p)
			if m.Logger != nil {
				m.Logger.Info("rbac denied",
					slog.String("check", op),
					slog.Int64("user_id", p.UserID),
					slog.String("path", r.URL.Path))
			}
			httpx.JSON(w, http.StatusForbidden, deny(role))
		})
	}
}

func (m Middleware) currentUserID(r *http.Request) (int64, bool) {
	id, ok, err := shared.SessionUserID(r.Context())
	if err != nil {
		m.logError("rbac session user", err)
	}
	return id, ok
}

func (m Middleware) logError(msg string, err error) {
	if m.Logger != nil {
		m.Logger.Error(msg, slog.Any("error", err))
	}
}
