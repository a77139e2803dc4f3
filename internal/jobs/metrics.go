package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	runs        *prometheus.CounterVec
	failures    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec
	resealed    *prometheus.CounterVec
	unreadable  *prometheus.CounterVec
	purged      prometheus.Counter
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against the provided registerer. When the
// registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker times one job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track starts a tracker for the given task type.
func (m *Metrics) Track(job string) *Tracker {
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End records the run outcome and duration and returns err unchanged.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	m := t.metrics
	status := "success"
	if err != nil {
		status = "failure"
		m.failures.WithLabelValues(t.job).Inc()
	} else {
		m.lastSuccess.WithLabelValues(t.job).SetToCurrentTime()
	}
	m.runs.WithLabelValues(t.job, status).Inc()
	m.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// AddResealed counts rows rewritten by a reseal run.
func (m *Metrics) AddResealed(table string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.resealed.WithLabelValues(table).Add(float64(count))
}

// UnreadableValue counts a stored value the reseal run could not rewrite.
func (m *Metrics) UnreadableValue(table, column string) {
	if m == nil {
		return
	}
	m.unreadable.WithLabelValues(table, column).Inc()
}

// AddPurgedSessions counts expired session rows deleted.
func (m *Metrics) AddPurgedSessions(count int64) {
	if m == nil || count <= 0 {
		return
	}
	m.purged.Add(float64(count))
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_jobs_total",
			Help: "Job executions by task type and status.",
		}, []string{"job", "status"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_jobs_failures_total",
			Help: "Failed job executions by task type.",
		}, []string{"job"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "odyssey_job_duration_seconds",
			Help:    "Duration in seconds of job executions.",
			Buckets: []float64{0.05, 0.25, 1, 5, 15, 60, 300, 900},
		}, []string{"job"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "odyssey_job_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run by task type.",
		}, []string{"job"}),
		resealed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_resealed_rows_total",
			Help: "Rows rewritten under the current encryption key, by table.",
		}, []string{"table"}),
		unreadable: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_reseal_unreadable_values_total",
			Help: "Stored values a reseal run left unchanged because they could not be rewritten.",
		}, []string{"table", "column"}),
		purged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "odyssey_sessions_purged_total",
			Help: "Expired session rows deleted.",
		}),
	}
	registerer.MustRegister(m.runs, m.failures, m.duration, m.lastSuccess, m.resealed, m.unreadable, m.purged)
	return m
}
