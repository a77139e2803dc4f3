package app

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/odyssey-dms/odyssey-dms/internal/platform/httpx"
)

// ReadinessCheck probes one dependency.
type ReadinessCheck func(ctx context.Context) error

// ReadinessHandler runs every check concurrently under timeout and answers
// 200 when all pass, 503 otherwise. Failure details stay in the log.
func ReadinessHandler(checks map[string]ReadinessCheck, timeout time.Duration, onFailure func(name string, err error)) http.Handler {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		errs := make([]error, len(names))
		var wg sync.WaitGroup
		for i, name := range names {
			wg.Add(1)
			go func(i int, check ReadinessCheck) {
				defer wg.Done()
				errs[i] = check(ctx)
			}(i, checks[name])
		}
		wg.Wait()

		code, overall := http.StatusOK, "ready"
		results := make(map[string]string, len(names))
		for i, name := range names {
			if errs[i] == nil {
				results[name] = "ok"
				continue
			}
			results[name] = "failed"
			code, overall = http.StatusServiceUnavailable, "unavailable"
			if onFailure != nil {
				onFailure(name, errs[i])
			}
		}
		httpx.JSON(w, code, map[string]any{"status": overall, "checks": results})
	})
}
