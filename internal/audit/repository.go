package audit

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-dms/odyssey-dms/internal/crypt"
	"github.com/odyssey-dms/odyssey-dms/internal/shared"
)

// WindowParams selects a page of audit entries. A zero Limit returns every
// matching row.
type WindowParams struct {
	From        pgtype.Timestamptz
	To          pgtype.Timestamptz
	Module      pgtype.Text
	PerformedBy pgtype.Int8
	Target      pgtype.Int8
	Offset      int32
	Limit       int32
}

// PGRepository reads audit_logs and decrypts the sealed columns.
type PGRepository struct {
	pool  *pgxpool.Pool
	codec *crypt.Codec
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool, codec *crypt.Codec) *PGRepository {
	return &PGRepository{pool: pool, codec: codec}
}

const timelineSQL = `
	SELECT id, performed_at, COALESCE(module, ''), action, description, performed_by, target_user_id
	FROM audit_logs
	WHERE ($1::timestamptz IS NULL OR performed_at >= $1)
	  AND ($2::timestamptz IS NULL OR performed_at < $2)
	  AND ($3::text IS NULL OR module = $3)
	  AND ($4::bigint IS NULL OR performed_by = $4)
	  AND ($5::bigint IS NULL OR target_user_id = $5)
	ORDER BY performed_at DESC, id DESC
	OFFSET $6`

// Window returns the matching entries, newest first.
func (r *PGRepository) Window(ctx context.Context, arg WindowParams) ([]TimelineRow, error) {
	query := timelineSQL
	args := []any{arg.From, arg.To, arg.Module, arg.PerformedBy, arg.Target, arg.Offset}
	if arg.Limit > 0 {
		query += ` LIMIT $7`
		args = append(args, arg.Limit)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TimelineRow
	for rows.Next() {
		row, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *PGRepository) scan(s pgx.Row) (TimelineRow, error) {
	var (
		row         TimelineRow
		action      string
		description *string
	)
	if err := s.Scan(&row.ID, &row.At, &row.Module, &action, &description, &row.PerformedBy, &row.TargetUserID); err != nil {
		return TimelineRow{}, err
	}
	opened, failed := r.codec.Open(shared.AuditLog{}, crypt.Row{"action": action, "description": description})
	row.Action = opened.String("action")
	row.Description = opened.String("description")
	row.Undecrypted = failed
	return row, nil
}

func toPgTime(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func optionalText(value string) pgtype.Text {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: trimmed, Valid: true}
}

func optionalInt(v *int64) pgtype.Int8 {
	if v == nil {
		return pgtype.Int8{}
	}
	return pgtype.Int8{Int64: *v, Valid: true}
}
