package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-dms/odyssey-dms/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskReseal re-encrypts every confidential column under the current key.
	TaskReseal = "crypt:reseal"
	// TaskPurgeSessions removes expired rows from the sessions table.
	TaskPurgeSessions = "auth:purge_sessions"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// ResealPayload scopes a reseal run. An empty Tables list reseals every table.
type ResealPayload struct {
	Tables      []string `json:"tables,omitempty"`
	BatchSize   int      `json:"batch_size,omitempty"`
	RequestedBy *int64   `json:"requested_by,omitempty"`
}

// NewResealTask constructs a reseal task.
func NewResealTask(payload ResealPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReseal, body, asynq.Queue(QueueDefault), asynq.Unique(DefaultResealUniqueTTL)), nil
}

// NewPurgeSessionsTask constructs a session purge task.
func NewPurgeSessionsTask() *asynq.Task {
	return asynq.NewTask(TaskPurgeSessions, nil, asynq.Queue(QueueDefault))
}
