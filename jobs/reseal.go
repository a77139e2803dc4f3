package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-dms/odyssey-dms/internal/crypt"
	"github.com/odyssey-dms/odyssey-dms/internal/groups"
	jobmetrics "github.com/odyssey-dms/odyssey-dms/internal/jobs"
	"github.com/odyssey-dms/odyssey-dms/internal/rbac"
	"github.com/odyssey-dms/odyssey-dms/internal/shared"
	"github.com/odyssey-dms/odyssey-dms/internal/users"
)

const (
	// DefaultResealBatch bounds the rows locked by a single reseal transaction.
	DefaultResealBatch = 200
	// DefaultResealUniqueTTL keeps duplicate reseal tasks out of the queue.
	DefaultResealUniqueTTL = 30 * time.Minute
)

// ResealTarget describes one table holding encrypted columns.
type ResealTarget struct {
	Table   string
	Entity  crypt.Encryptable
	Columns []string
	// Extra columns are read alongside the encrypted ones and may be
	// rewritten by Derive.
	Extra  []string
	Derive func(codec *crypt.Codec, row map[string]*string) map[string]string
}

// ResealRow is one locked row: its id and the stored values of the target's
// encrypted and extra columns.
type ResealRow struct {
	ID     int64
	Values map[string]*string
}

// ResealStore walks a table in id order, handing each locked batch to fn and
// persisting the column updates it returns.
type ResealStore interface {
	ResealBatches(ctx context.Context, target ResealTarget, batch int, fn func([]ResealRow) map[int64]map[string]string) error
}

// ResealTargets lists every table whose columns are sealed by the codec.
func ResealTargets() []ResealTarget {
	return []ResealTarget{
		target("roles", rbac.Role{}),
		target("permissions", rbac.Permission{}),
		withEmailIndex(target("users", users.User{})),
		target("groups", groups.Group{}),
		target("audit_logs", shared.AuditLog{}),
	}
}

func target(table string, e crypt.Encryptable) ResealTarget {
	return ResealTarget{Table: table, Entity: e, Columns: e.EncryptedFields().Columns()}
}

// withEmailIndex recomputes users.email_hash, whose key is derived from the
// current application key.
func withEmailIndex(t ResealTarget) ResealTarget {
	t.Extra = []string{"email_hash"}
	t.Derive = func(codec *crypt.Codec, row map[string]*string) map[string]string {
		email := row["email"]
		if email == nil {
			return nil
		}
		plain, ok := codec.DecryptString(*email)
		if !ok {
			return nil
		}
		hash := codec.BlindIndex(users.NormalizeEmail(plain))
		if current := row["email_hash"]; current != nil && *current == hash {
			return nil
		}
		return map[string]string{"email_hash": hash}
	}
	return t
}

// ResealResult summarises a run per table.
type ResealResult struct {
	RunID   string         `json:"run_id"`
	Updated map[string]int `json:"updated"`
}

// ResealJob rewrites encrypted columns with the current key. Values sealed
// with a previous key are re-encrypted and legacy plaintext is encrypted
// as-is. Sealed values no configured key opens are left in place and counted.
type ResealJob struct {
	Store   ResealStore
	Codec   *crypt.Codec
	Targets []ResealTarget
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewResealJob constructs the job for every known target.
func NewResealJob(store ResealStore, codec *crypt.Codec, logger *slog.Logger, metrics *jobmetrics.Metrics) *ResealJob {
	return &ResealJob{Store: store, Codec: codec, Targets: ResealTargets(), Logger: logger, Metrics: metrics}
}

// Handle executes a reseal task.
func (j *ResealJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Store == nil || j.Codec == nil {
		return errors.New("reseal: dependencies not configured")
	}
	var payload ResealPayload
	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	_, err := j.Run(ctx, payload)
	return err
}

// Run reseals the selected tables concurrently.
func (j *ResealJob) Run(ctx context.Context, payload ResealPayload) (ResealResult, error) {
	targets, err := j.selectTargets(payload.Tables)
	if err != nil {
		return ResealResult{}, fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	batch := payload.BatchSize
	if batch <= 0 {
		batch = DefaultResealBatch
	}

	result := ResealResult{RunID: uuid.NewString(), Updated: make(map[string]int, len(targets))}
	logger := j.log().With(slog.String("run_id", result.RunID))
	if payload.RequestedBy != nil {
		logger = logger.With(slog.Int64("requested_by", *payload.RequestedBy))
	}

	tracker := j.metrics().Track(TaskReseal)
	start := time.Now()
	counts := make([]int, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	for i, t := range targets {
		g.Go(func() error {
			n, err := j.resealTable(gctx, t, batch)
			counts[i] = n
			if err != nil {
				return fmt.Errorf("reseal %s: %w", t.Table, err)
			}
			j.metrics().AddResealed(t.Table, n)
			return nil
		})
	}
	err = tracker.End(g.Wait())
	for i, t := range targets {
		result.Updated[t.Table] = counts[i]
	}
	if err != nil {
		logger.Error("reseal failed", slog.Any("updated", result.Updated), slog.Any("error", err))
		return result, err
	}
	logger.Info("reseal complete", slog.Any("updated", result.Updated), slog.Duration("duration", time.Since(start)))
	return result, nil
}

func (j *ResealJob) resealTable(ctx context.Context, t ResealTarget, batch int) (int, error) {
	updated := 0
	err := j.Store.ResealBatches(ctx, t, batch, func(rows []ResealRow) map[int64]map[string]string {
		changes := make(map[int64]map[string]string)
		for _, row := range rows {
			if set := j.resealRow(t, row); len(set) > 0 {
				changes[row.ID] = set
				updated++
			}
		}
		return changes
	})
	return updated, err
}

func (j *ResealJob) resealRow(t ResealTarget, row ResealRow) map[string]string {
	set := map[string]string{}
	resealed := make(map[string]*string, len(row.Values))
	for k, v := range row.Values {
		resealed[k] = v
	}
	for _, col := range t.Columns {
		stored := row.Values[col]
		if stored == nil {
			continue
		}
		sealed, changed, err := j.Codec.Reseal(*stored)
		if err != nil {
			j.log().Warn("reseal value", slog.String("table", t.Table), slog.String("column", col), slog.Int64("id", row.ID), slog.Any("error", err))
			j.metrics().UnreadableValue(t.Table, col)
			continue
		}
		if changed {
			set[col] = sealed
			resealed[col] = &sealed
		}
	}
	if t.Derive != nil {
		for k, v := range t.Derive(j.Codec, resealed) {
			set[k] = v
		}
	}
	return set
}

func (j *ResealJob) selectTargets(tables []string) ([]ResealTarget, error) {
	all := j.Targets
	if len(all) == 0 {
		all = ResealTargets()
	}
	if len(tables) == 0 {
		return all, nil
	}
	byName := make(map[string]ResealTarget, len(all))
	for _, t := range all {
		byName[t.Table] = t
	}
	selected := make([]ResealTarget, 0, len(tables))
	for _, name := range tables {
		t, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("unknown table %q", name)
		}
		selected = append(selected, t)
	}
	return selected, nil
}

func (j *ResealJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *ResealJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskReseal))
	}
	return slog.Default().With(slog.String("job", TaskReseal))
}
