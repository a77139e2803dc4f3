package rbac

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-dms/odyssey-dms/internal/platform/httpx"
)

// PermissionsHandler exposes the permission catalog. Every route is
// restricted to the privileged role.
type PermissionsHandler struct {
	logger     *slog.Logger
	service    *Service
	rbac       Middleware
	privileged string
}

// NewPermissionsHandler builds PermissionsHandler instance.
func NewPermissionsHandler(logger *slog.Logger, service *Service, rbac Middleware, privilegedRole string) *PermissionsHandler {
	return &PermissionsHandler{logger: logger, service: service, rbac: rbac, privileged: privilegedRole}
}

// MountRoutes registers permission routes.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireRole(h.privileged))
		r.Get("/", h.listPermissions)
		r.Post("/", h.createPermission)
		r.Get("/{id}", h.showPermission)
		r.Put("/{id}", h.updatePermission)
		r.Delete("/{id}", h.deletePermission)
	})
}

func (h *PermissionsHandler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.ListPermissions(r.Context())
	if err != nil {
		h.fail(w, "list permissions", err)
		return
	}
	if perms == nil {
		perms = []Permission{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": perms})
}

func (h *PermissionsHandler) showPermission(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	perm, err := h.service.GetPermission(r.Context(), id)
	if err != nil {
		h.fail(w, "get permission", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": perm})
}

func (h *PermissionsHandler) createPermission(w http.ResponseWriter, r *http.Request) {
	var in PermissionInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	perm, err := h.service.CreatePermission(r.Context(), in, ActorID(r.Context()))
	if err != nil {
		h.fail(w, "create permission", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"message": "Permission created successfully", "data": perm})
}

func (h *PermissionsHandler) updatePermission(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var in PermissionInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	perm, err := h.service.UpdatePermission(r.Context(), id, in, ActorID(r.Context()))
	if err != nil {
		h.fail(w, "update permission", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"message": "Permission updated successfully", "data": perm})
}

func (h *PermissionsHandler) deletePermission(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeletePermission(r.Context(), id, ActorID(r.Context())); err != nil {
		h.fail(w, "delete permission", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"message": "Permission deleted successfully"})
}

func (h *PermissionsHandler) fail(w http.ResponseWriter, op string, err error) {
	logServiceError(h.logger, op, err)
	httpx.RespondError(w, err)
}

// ActorID returns the authenticated user's id for audit columns.
func ActorID(ctx context.Context) *int64 {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return nil
	}
	id := p.UserID
	return &id
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return 0, false
	}
	return id, true
}

func logServiceError(logger *slog.Logger, op string, err error) {
	if logger == nil || !httpx.IsInternal(err) {
		return
	}
	logger.Error("rbac "+op, slog.Any("error", err))
}
