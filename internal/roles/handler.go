package roles

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-dms/odyssey-dms/internal/platform/httpx"
	"github.com/odyssey-dms/odyssey-dms/internal/rbac"
)

// Permission names guarding role administration.
const (
	PermView   = "View Roles"
	PermCreate = "Create Roles"
	PermEdit   = "Edit Roles"
	PermDelete = "Delete Roles"
)

// Handler manages role management endpoints.
type Handler struct {
	logger  *slog.Logger
	service *rbac.Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *rbac.Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers role routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.rbac.RequirePermission(PermView)).Get("/", h.listRoles)
	r.With(h.rbac.RequirePermission(PermView)).Get("/{id}", h.showRole)
	r.With(h.rbac.RequirePermission(PermCreate)).Post("/", h.createRole)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequirePermission(PermEdit))
		r.Put("/{id}", h.updateRole)
		r.Put("/{id}/permissions", h.syncPermissions)
	})
	r.With(h.rbac.RequirePermission(PermDelete)).Delete("/{id}", h.deleteRole)
}

type syncRequest struct {
	Permissions []int64 `json:"permissions"`
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRoles(r.Context())
	if err != nil {
		h.fail(w, "list roles", err)
		return
	}
	if roles == nil {
		roles = []rbac.Role{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": roles})
}

func (h *Handler) showRole(w http.ResponseWriter, r *http.Request) {
	id, ok := roleID(w, r)
	if !ok {
		return
	}
	role, err := h.service.GetRole(r.Context(), id)
	if err != nil {
		h.fail(w, "get role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": role})
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var in rbac.RoleInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	role, err := h.service.CreateRole(r.Context(), in, rbac.ActorID(r.Context()))
	if err != nil {
		h.fail(w, "create role", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"message": "Role created successfully", "data": role})
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	id, ok := roleID(w, r)
	if !ok {
		return
	}
	var in rbac.RoleInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	role, err := h.service.UpdateRole(r.Context(), id, in, rbac.ActorID(r.Context()))
	if err != nil {
		h.fail(w, "update role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"message": "Role updated successfully", "data": role})
}

func (h *Handler) syncPermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := roleID(w, r)
	if !ok {
		return
	}
	var req syncRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	role, err := h.service.SyncRolePermissions(r.Context(), id, req.Permissions, rbac.ActorID(r.Context()))
	if err != nil {
		h.fail(w, "sync role permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"message": "Role permissions updated successfully", "data": role})
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	id, ok := roleID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteRole(r.Context(), id, rbac.ActorID(r.Context())); err != nil {
		h.fail(w, "delete role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"message": "Role deleted successfully"})
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if h.logger != nil && httpx.IsInternal(err) {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func roleID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid role id")
		return 0, false
	}
	return id, true
}
