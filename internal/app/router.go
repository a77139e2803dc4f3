package app

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	audithttp "github.com/odyssey-dms/odyssey-dms/internal/audit/http"
	"github.com/odyssey-dms/odyssey-dms/internal/auth"
	"github.com/odyssey-dms/odyssey-dms/internal/groups"
	"github.com/odyssey-dms/odyssey-dms/internal/observability"
	"github.com/odyssey-dms/odyssey-dms/internal/platform/httpx"
	"github.com/odyssey-dms/odyssey-dms/internal/rbac"
	"github.com/odyssey-dms/odyssey-dms/internal/roles"
	"github.com/odyssey-dms/odyssey-dms/internal/shared"
	"github.com/odyssey-dms/odyssey-dms/internal/users"
	"github.com/odyssey-dms/odyssey-dms/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	SessionManager     *shared.SessionManager
	CSRFManager        *shared.CSRFManager
	RBACMiddleware     rbac.Middleware
	AuthHandler        *auth.Handler
	MeHandler          *auth.MeHandler
	RolesHandler       *roles.Handler
	PermissionsHandler *rbac.PermissionsHandler
	UsersHandler       *users.Handler
	GroupsHandler      *groups.Handler
	AuditHandler       *audithttp.Handler
	JobHandler         *jobs.Handler
	Metrics            *observability.Metrics
	Readiness          map[string]ReadinessCheck
}

// NewRouter constructs the chi.Router with Odyssey defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)
	r.Use(params.RBACMiddleware.Authenticate)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if len(params.Readiness) > 0 {
		logger := params.Logger
		if logger == nil {
			logger = slog.Default()
		}
		r.Method(http.MethodGet, "/readyz", ReadinessHandler(params.Readiness, 2*time.Second, func(name string, err error) {
			logger.Warn("readiness check failed", slog.String("check", name), slog.Any("error", err))
		}))
	}

	if params.AuthHandler != nil {
		r.Route("/auth", params.AuthHandler.MountRoutes)
	}
	if params.MeHandler != nil {
		r.Route("/me", params.MeHandler.MountRoutes)
	}
	if params.RolesHandler != nil {
		r.Route("/roles", params.RolesHandler.MountRoutes)
	}
	if params.PermissionsHandler != nil {
		r.Route("/permissions", params.PermissionsHandler.MountRoutes)
	}
	if params.UsersHandler != nil {
		r.Route("/users", params.UsersHandler.MountRoutes)
	}
	if params.GroupsHandler != nil {
		r.Route("/groups", params.GroupsHandler.MountRoutes)
	}
	if params.AuditHandler != nil {
		r.Route("/audit-logs", params.AuditHandler.MountRoutes)
	}
	if params.JobHandler != nil {
		privileged := "Developer"
		if params.Config != nil {
			privileged = params.Config.PrivilegedRole
		}
		r.Route("/jobs", func(r chi.Router) {
			r.Use(params.RBACMiddleware.RequireRole(privileged))
			params.JobHandler.MountRoutes(r)
		})
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
