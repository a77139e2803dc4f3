package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-dms/odyssey-dms/internal/jobs"
)

// SessionPurger removes session records that expired before now.
type SessionPurger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// PurgeSessionsJob deletes expired session rows. Redis keys expire on their own.
type PurgeSessionsJob struct {
	Purger  SessionPurger
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewPurgeSessionsJob constructs the job handler.
func NewPurgeSessionsJob(purger SessionPurger, logger *slog.Logger, metrics *jobmetrics.Metrics) *PurgeSessionsJob {
	return &PurgeSessionsJob{Purger: purger, Logger: logger, Metrics: metrics}
}

// Handle executes the purge.
func (j *PurgeSessionsJob) Handle(ctx context.Context, _ *asynq.Task) (err error) {
	if j == nil || j.Purger == nil {
		return errors.New("purge sessions: dependencies not configured")
	}
	metrics := j.Metrics
	if metrics == nil {
		metrics = defaultJobMetrics
	}
	tracker := metrics.Track(TaskPurgeSessions)
	defer func() {
		err = tracker.End(err)
	}()

	n, err := j.Purger.PurgeExpired(ctx, j.now())
	if err != nil {
		j.log().Error("purge sessions", slog.Any("error", err))
		return err
	}
	metrics.AddPurgedSessions(n)
	j.log().Info("purged expired sessions", slog.Int64("count", n))
	return nil
}

// WithClock overrides the internal clock for deterministic tests.
func (j *PurgeSessionsJob) WithClock(clock func() time.Time) {
	if j != nil && clock != nil {
		j.clock = clock
	}
}

func (j *PurgeSessionsJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

func (j *PurgeSessionsJob) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskPurgeSessions))
	}
	return slog.Default().With(slog.String("job", TaskPurgeSessions))
}
