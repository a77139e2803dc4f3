package audithttp

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/odyssey-dms/odyssey-dms/internal/platform/httpx"
	"github.com/odyssey-dms/odyssey-dms/internal/rbac"
)

// Per-user export budget, applied on top of the global per-IP limit.
const (
	exportLimit  = 10
	exportWindow = time.Minute
)

// MountRoutes registers the audit log listing and CSV export.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(exportLimit, exportWindow,
		httprate.WithKeyFuncs(exportKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", strconv.Itoa(int(exportWindow.Seconds())))
			httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests", "export limit reached, retry later")
		}),
	)
	r.Group(func(gr chi.Router) {
		gr.Use(h.rbac.RequirePermission(PermView))
		gr.Get("/", h.handleTimeline)
		gr.With(limiter).Get("/export.csv", h.handleExport)
	})
}

// exportKey buckets by principal and falls back to the client IP.
func exportKey(r *http.Request) (string, error) {
	if p, ok := rbac.PrincipalFromContext(r.Context()); ok {
		return "user:" + strconv.FormatInt(p.UserID, 10), nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}
