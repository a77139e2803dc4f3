package groups

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-dms/odyssey-dms/internal/platform/httpx"
	"github.com/odyssey-dms/odyssey-dms/internal/rbac"
)

// Permission names guarding group administration.
const (
	PermView   = "View Groups"
	PermCreate = "Create Groups"
	PermEdit   = "Edit Groups"
	PermDelete = "Delete Groups"
)

// Handler exposes group endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers group routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequirePermission(PermView))
		r.Get("/", h.list)
		r.Get("/{id}", h.show)
	})
	r.With(h.rbac.RequirePermission(PermCreate)).Post("/", h.create)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequirePermission(PermEdit))
		r.Put("/{id}", h.update)
		r.Put("/{id}/members", h.syncMembers)
		r.With(h.rbac.RequirePermission("View Roles")).Put("/{id}/roles", h.syncRoles)
	})
	r.With(h.rbac.RequirePermission(PermDelete)).Delete("/{id}", h.delete)
}

type idsRequest struct {
	IDs []int64 `json:"ids"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	groups, err := h.service.List(r.Context())
	if err != nil {
		h.fail(w, "list groups", err)
		return
	}
	if groups == nil {
		groups = []Group{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": groups})
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, ok := groupID(w, r)
	if !ok {
		return
	}
	g, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "get group", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": g})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var in Input
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	g, err := h.service.Create(r.Context(), in, rbac.ActorID(r.Context()))
	if err != nil {
		h.fail(w, "create group", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"message": "Group created successfully", "data": g})
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := groupID(w, r)
	if !ok {
		return
	}
	var in Input
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	g, err := h.service.Update(r.Context(), id, in, rbac.ActorID(r.Context()))
	if err != nil {
		h.fail(w, "update group", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"message": "Group updated successfully", "data": g})
}

func (h *Handler) syncMembers(w http.ResponseWriter, r *http.Request) {
	h.sync(w, r, "sync group members", h.service.SyncMembers)
}

func (h *Handler) syncRoles(w http.ResponseWriter, r *http.Request) {
	h.sync(w, r, "sync group roles", h.service.SyncRoles)
}

func (h *Handler) sync(w http.ResponseWriter, r *http.Request, op string, fn func(ctx context.Context, id int64, ids []int64, actor *int64) (*Group, error)) {
	id, ok := groupID(w, r)
	if !ok {
		return
	}
	var req idsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	g, err := fn(r.Context(), id, req.IDs, rbac.ActorID(r.Context()))
	if err != nil {
		h.fail(w, op, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"message": "Group updated successfully", "data": g})
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := groupID(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), id, rbac.ActorID(r.Context())); err != nil {
		h.fail(w, "delete group", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"message": "Group deleted successfully"})
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if h.logger != nil && httpx.IsInternal(err) {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func groupID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid group id")
		return 0, false
	}
	return id, true
}
