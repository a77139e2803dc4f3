package audithttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-dms/odyssey-dms/internal/audit"
	"github.com/odyssey-dms/odyssey-dms/internal/rbac"
	"github.com/odyssey-dms/odyssey-dms/internal/rbac/rbactest"
	"github.com/odyssey-dms/odyssey-dms/internal/seed"
)

type stubTimelineService struct {
	result      audit.Result
	exportRows  []audit.TimelineRow
	lastFilters audit.TimelineFilters
}

func (s *stubTimelineService) Timeline(ctx context.Context, filters audit.TimelineFilters) (audit.Result, error) {
	s.lastFilters = filters
	return s.result, nil
}

func (s *stubTimelineService) Export(ctx context.Context, filters audit.TimelineFilters) ([]audit.TimelineRow, error) {
	s.lastFilters = filters
	return s.exportRows, nil
}

type harness struct {
	router http.Handler
	roles  map[string]int64
}

func newHarness(t *testing.T, service *stubTimelineService) harness {
	t.Helper()
	repo := rbactest.NewMemory()
	svc := rbac.NewService(repo, nil, nil)
	if _, err := seed.Apply(context.Background(), svc, "Developer", nil); err != nil {
		t.Fatalf("seed: %v", err)
	}
	list, err := svc.ListRoles(context.Background())
	if err != nil {
		t.Fatalf("roles: %v", err)
	}
	roles := map[string]int64{}
	for _, r := range list {
		roles[r.Name] = r.ID
	}
	handler := NewHandler(nil, service, rbac.Middleware{Engine: rbac.NewEngine(repo, nil)})
	handler.now = func() time.Time { return time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC) }
	r := chi.NewRouter()
	r.Route("/audit-logs", handler.MountRoutes)
	return harness{router: r, roles: roles}
}

func (h harness) get(role, path string) *httptest.ResponseRecorder {
	id := h.roles[role]
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req = req.WithContext(rbac.ContextWithPrincipal(req.Context(), rbac.Principal{UserID: 7, RoleID: &id}))
	rr := httptest.NewRecorder()
	h.router.ServeHTTP(rr, req)
	return rr
}

func TestTimelineRequiresPermission(t *testing.T) {
	h := newHarness(t, &stubTimelineService{})
	if rr := h.get("Manager", "/audit-logs/"); rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	if rr := h.get("Staff", "/audit-logs/export.csv"); rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 on export, got %d", rr.Code)
	}
}

func TestTimelineReturnsRows(t *testing.T) {
	actor := int64(3)
	rows := []audit.TimelineRow{{ID: 1, At: time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC), Module: "Access Controls", Action: "create_role", PerformedBy: &actor}}
	service := &stubTimelineService{result: audit.Result{Rows: rows, Paging: audit.PagingInfo{Page: 1, PageSize: 20}}}
	h := newHarness(t, service)

	rr := h.get("Admin", "/audit-logs/?from=2024-03-01&to=2024-03-15&module=Access+Controls&performed_by=3")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body audit.Result
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Rows) != 1 || body.Rows[0].Action != "create_role" {
		t.Fatalf("unexpected rows: %+v", body.Rows)
	}
	f := service.lastFilters
	if f.From.Format("2006-01-02") != "2024-03-01" || f.To.Format("2006-01-02") != "2024-03-16" {
		t.Fatalf("unexpected range: %+v", f)
	}
	if f.Module != "Access Controls" || f.PerformedBy == nil || *f.PerformedBy != 3 {
		t.Fatalf("unexpected filters: %+v", f)
	}
}

func TestTimelineRejectsBadFilters(t *testing.T) {
	h := newHarness(t, &stubTimelineService{})
	for _, q := range []string{"from=2024-03-20&to=2024-03-01", "to=yesterday", "page=0", "performed_by=abc", "from=2020-01-01&to=2024-03-01"} {
		if rr := h.get("Developer", "/audit-logs/?"+q); rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", q, rr.Code)
		}
	}
}

func TestExportCSV(t *testing.T) {
	rows := []audit.TimelineRow{{ID: 4, Module: "Permissions", Action: "create_permission", Description: "Created, with comma"}}
	h := newHarness(t, &stubTimelineService{exportRows: rows})
	rr := h.get("Developer", "/audit-logs/export.csv?from=2024-03-01&to=2024-03-05")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if ctype := rr.Header().Get("Content-Type"); !strings.Contains(ctype, "text/csv") {
		t.Fatalf("unexpected content-type: %s", ctype)
	}
	if !strings.Contains(rr.Body.String(), `"Created, with comma"`) {
		t.Fatalf("expected quoted description: %s", rr.Body.String())
	}
}

func TestExportRateLimitedPerUser(t *testing.T) {
	h := newHarness(t, &stubTimelineService{})
	for i := 0; i < exportLimit; i++ {
		if rr := h.get("Developer", "/audit-logs/export.csv"); rr.Code != http.StatusOK {
			t.Fatalf("export %d: expected 200, got %d", i, rr.Code)
		}
	}
	rr := h.get("Developer", "/audit-logs/export.csv")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
}
