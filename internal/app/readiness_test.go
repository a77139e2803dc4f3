package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReadinessHandler(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }
	slow := func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}

	rec := httptest.NewRecorder()
	ReadinessHandler(map[string]ReadinessCheck{"postgres": ok, "redis": ok}, time.Second, nil).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ready","checks":{"postgres":"ok","redis":"ok"}}`, rec.Body.String())

	var failed []string
	rec = httptest.NewRecorder()
	ReadinessHandler(map[string]ReadinessCheck{"postgres": ok, "redis": down, "queue": slow}, 20*time.Millisecond,
		func(name string, _ error) { failed = append(failed, name) }).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"unavailable","checks":{"postgres":"ok","queue":"failed","redis":"failed"}}`, rec.Body.String())
	assert.ElementsMatch(t, []string{"queue", "redis"}, failed)
}
