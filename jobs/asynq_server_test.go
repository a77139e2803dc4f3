package jobs

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/odyssey-dms/odyssey-dms/internal/jobs"
	"github.com/odyssey-dms/odyssey-dms/internal/rbac"
)

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) { return s.info, s.err }

type stubEnqueuer struct {
	payloads []ResealPayload
	err      error
}

func (s *stubEnqueuer) EnqueueReseal(_ context.Context, p ResealPayload) (*asynq.TaskInfo, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.payloads = append(s.payloads, p)
	return &asynq.TaskInfo{ID: "task-1"}, nil
}

func serve(h *Handler, method, path, body string, p *rbac.Principal) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Route("/jobs", h.MountRoutes)
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if p != nil {
		req = req.WithContext(rbac.ContextWithPrincipal(req.Context(), *p))
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHealthReportsQueueDepth(t *testing.T) {
	rec := serve(NewHandler(nil, nil, nil), http.MethodGet, "/jobs/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"queue":"default","pending":0,"active":0,"failed":0}`, rec.Body.String())

	h := NewHandler(stubInspector{info: &asynq.QueueInfo{Queue: "default", Pending: 3, Active: 1}}, nil, nil)
	rec = serve(h, http.MethodGet, "/jobs/health", "", nil)
	assert.JSONEq(t, `{"queue":"default","pending":3,"active":1,"failed":0}`, rec.Body.String())

	h = NewHandler(stubInspector{err: asynq.ErrQueueNotFound}, nil, nil)
	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/jobs/health", "", nil).Code)

	h = NewHandler(stubInspector{err: errors.New("redis down")}, nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, serve(h, http.MethodGet, "/jobs/health", "", nil).Code)
}

func TestResealEndpoint(t *testing.T) {
	enq := &stubEnqueuer{}
	h := NewHandler(nil, enq, nil)

	rec := serve(h, http.MethodPost, "/jobs/reseal", `{"tables":["users"]}`, &rbac.Principal{UserID: 4})
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), `"task_id":"task-1"`)
	require.Len(t, enq.payloads, 1)
	assert.Equal(t, []string{"users"}, enq.payloads[0].Tables)
	require.NotNil(t, enq.payloads[0].RequestedBy)
	assert.Equal(t, int64(4), *enq.payloads[0].RequestedBy)

	assert.Equal(t, http.StatusAccepted, serve(h, http.MethodPost, "/jobs/reseal", "", nil).Code)
	assert.Equal(t, http.StatusUnprocessableEntity, serve(h, http.MethodPost, "/jobs/reseal", `{"tables":["documents"]}`, nil).Code)
	assert.Equal(t, http.StatusBadRequest, serve(h, http.MethodPost, "/jobs/reseal", `{`, nil).Code)

	dup := NewHandler(nil, &stubEnqueuer{err: asynq.ErrDuplicateTask}, nil)
	assert.Equal(t, http.StatusConflict, serve(dup, http.MethodPost, "/jobs/reseal", "", nil).Code)

	assert.Equal(t, http.StatusServiceUnavailable, serve(NewHandler(nil, nil, nil), http.MethodPost, "/jobs/reseal", "", nil).Code)
}

type stubPurger struct {
	at  time.Time
	err error
}

func (s *stubPurger) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	s.at = now
	return 2, s.err
}

func TestPurgeSessionsJob(t *testing.T) {
	purger := &stubPurger{}
	job := NewPurgeSessionsJob(purger, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	job.WithClock(func() time.Time { return fixed })

	require.NoError(t, job.Handle(context.Background(), NewPurgeSessionsTask()))
	assert.Equal(t, fixed, purger.at)

	purger.err = errors.New("db down")
	assert.Error(t, job.Handle(context.Background(), NewPurgeSessionsTask()))
}

func TestNewResealTask(t *testing.T) {
	task, err := NewResealTask(ResealPayload{Tables: []string{"roles"}})
	require.NoError(t, err)
	assert.Equal(t, TaskReseal, task.Type())
	assert.JSONEq(t, `{"tables":["roles"]}`, string(task.Payload()))
}
