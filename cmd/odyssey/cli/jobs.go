package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hibiken/asynq"

	"github.com/odyssey-dms/odyssey-dms/jobs"
)

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    *asynq.Client
	inspector *asynq.Inspector
}

// NewJobsCLI initialises the CLI helpers against the queue's Redis.
func NewJobsCLI(opt asynq.RedisConnOpt) (*JobsCLI, error) {
	if opt == nil {
		return nil, errors.New("jobs cli: redis options required")
	}
	client := asynq.NewClient(opt)
	inspector := asynq.NewInspector(opt)
	return &JobsCLI{client: client, inspector: inspector}, nil
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var err error
	if c.inspector != nil {
		if closeErr := c.inspector.Close(); closeErr != nil {
			err = closeErr
		}
	}
	if c.client != nil {
		if closeErr := c.client.Close(); closeErr != nil {
			err = closeErr
		}
	}
	return err
}

// BuildTask prepares the task for a supported job name. args are the table
// names for a reseal run and must be empty for the others.
func BuildTask(name string, args []string) (*asynq.Task, error) {
	switch name {
	case "reseal", jobs.TaskReseal:
		tables := make([]string, 0, len(args))
		for _, a := range args {
			for _, t := range strings.Split(a, ",") {
				if t = strings.TrimSpace(t); t != "" {
					tables = append(tables, t)
				}
			}
		}
		if err := validateTables(tables); err != nil {
			return nil, err
		}
		return jobs.NewResealTask(jobs.ResealPayload{Tables: tables})
	case "purge-sessions", jobs.TaskPurgeSessions:
		if len(args) > 0 {
			return nil, fmt.Errorf("jobs cli: %s takes no arguments", name)
		}
		return jobs.NewPurgeSessionsTask(), nil
	default:
		return nil, fmt.Errorf("jobs cli: unsupported job %s", name)
	}
}

func validateTables(tables []string) error {
	known := map[string]bool{}
	for _, t := range jobs.ResealTargets() {
		known[t.Table] = true
	}
	for _, t := range tables {
		if !known[t] {
			return fmt.Errorf("jobs cli: unknown table %q", t)
		}
	}
	return nil
}

// Trigger enqueues a supported job by name.
func (c *JobsCLI) Trigger(ctx context.Context, name string, args []string) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	task, err := BuildTask(name, args)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task, asynq.MaxRetry(3))
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string
	Pending   int
	Active    int
	Scheduled int
	Retry     int
}

// InspectQueue reports the queue metrics for the default queue.
func (c *JobsCLI) InspectQueue(ctx context.Context) (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		if errors.Is(err, asynq.ErrQueueNotFound) {
			return QueueStats{Queue: jobs.QueueDefault}, nil
		}
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: jobs.QueueDefault}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
	}
	return stats, nil
}
