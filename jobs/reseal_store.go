package jobs

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-dms/odyssey-dms/internal/platform/db"
)

// PGResealStore implements ResealStore on PostgreSQL. Each batch is selected
// FOR UPDATE and rewritten inside one transaction.
type PGResealStore struct {
	pool *pgxpool.Pool
}

// NewPGResealStore constructs the store.
func NewPGResealStore(pool *pgxpool.Pool) *PGResealStore {
	return &PGResealStore{pool: pool}
}

// ResealBatches implements ResealStore.
func (s *PGResealStore) ResealBatches(ctx context.Context, target ResealTarget, batch int, fn func([]ResealRow) map[int64]map[string]string) error {
	columns := append(append([]string{}, target.Columns...), target.Extra...)
	table := pgx.Identifier{target.Table}.Sanitize()
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	query := fmt.Sprintf(`SELECT id, %s FROM %s WHERE id > $1 ORDER BY id LIMIT $2 FOR UPDATE`, strings.Join(quoted, ", "), table)

	var after int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		var rows []ResealRow
		err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
			var err error
			rows, err = selectBatch(ctx, tx, query, columns, after, batch)
			if err != nil {
				return err
			}
			for id, set := range fn(rows) {
				if err := updateRow(ctx, tx, table, id, set); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		if len(rows) < batch {
			return nil
		}
		after = rows[len(rows)-1].ID
	}
}

func selectBatch(ctx context.Context, tx pgx.Tx, query string, columns []string, after int64, limit int) ([]ResealRow, error) {
	rows, err := tx.Query(ctx, query, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ResealRow
	for rows.Next() {
		var id int64
		values := make([]*string, len(columns))
		dest := make([]any, 0, len(columns)+1)
		dest = append(dest, &id)
		for i := range values {
			dest = append(dest, &values[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		row := ResealRow{ID: id, Values: make(map[string]*string, len(columns))}
		for i, c := range columns {
			row.Values[c] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func updateRow(ctx context.Context, tx pgx.Tx, table string, id int64, set map[string]string) error {
	cols := make([]string, 0, len(set))
	for c := range set {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	assignments := make([]string, len(cols))
	args := make([]any, 0, len(cols)+1)
	for i, c := range cols {
		assignments[i] = fmt.Sprintf("%s = $%d", pgx.Identifier{c}.Sanitize(), i+1)
		args = append(args, set[c])
	}
	args = append(args, id)
	_, err := tx.Exec(ctx, fmt.Sprintf(`UPDATE %s SET %s WHERE id = $%d`, table, strings.Join(assignments, ", "), len(args)), args...)
	return err
}
