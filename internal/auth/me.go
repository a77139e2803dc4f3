package auth

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-dms/odyssey-dms/internal/platform/httpx"
	"github.com/odyssey-dms/odyssey-dms/internal/rbac"
	"github.com/odyssey-dms/odyssey-dms/internal/users"
)

// UserReader loads the signed-in account.
type UserReader interface {
	Get(ctx context.Context, id int64) (*users.User, error)
}

// MeHandler reports the signed-in user and their effective permissions.
type MeHandler struct {
	logger *slog.Logger
	users  UserReader
	engine *rbac.Engine
}

// NewMeHandler constructs a MeHandler.
func NewMeHandler(logger *slog.Logger, users UserReader, engine *rbac.Engine) *MeHandler {
	return &MeHandler{logger: logger, users: users, engine: engine}
}

// MountRoutes registers /me routes.
func (h *MeHandler) MountRoutes(r chi.Router) {
	r.Get("/", h.show)
	r.Get("/permissions", h.permissions)
}

type permissionsResponse struct {
	Role        string                       `json:"role"`
	Permissions []string                     `json:"permissions"`
	ByModule    map[string][]string          `json:"by_module"`
	Modules     map[string]rbac.ModuleAccess `json:"modules"`
}

func (h *MeHandler) show(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	u, err := h.users.Get(r.Context(), p.UserID)
	if err != nil {
		h.fail(w, "load current user", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"data": u,
		"role": h.engine.RoleName(r.Context(), p),
	})
}

func (h *MeHandler) permissions(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	names, err := h.engine.PermissionNames(ctx, p)
	if err != nil {
		h.fail(w, "permission names", err)
		return
	}
	byModule, err := h.engine.PermissionsByModule(ctx, p)
	if err != nil {
		h.fail(w, "permissions by module", err)
		return
	}
	modules := make(map[string]rbac.ModuleAccess, len(byModule))
	for module := range byModule {
		access, err := h.engine.ModulePermissions(ctx, p, module)
		if err != nil {
			h.fail(w, "module permissions", err)
			return
		}
		modules[module] = access
	}
	httpx.JSON(w, http.StatusOK, permissionsResponse{
		Role:        h.engine.RoleName(ctx, p),
		Permissions: names,
		ByModule:    byModule,
		Modules:     modules,
	})
}

func (h *MeHandler) fail(w http.ResponseWriter, op string, err error) {
	if h.logger != nil && httpx.IsInternal(err) {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func principal(w http.ResponseWriter, r *http.Request) (rbac.Principal, bool) {
	p, ok := rbac.PrincipalFromContext(r.Context())
	if !ok {
		httpx.JSON(w, http.StatusUnauthorized, map[string]string{"message": "Unauthenticated"})
	}
	return p, ok
}
