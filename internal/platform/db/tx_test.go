package db

import (
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestSQLState(t *testing.T) {
	unique := fmt.Errorf("insert: %w", &pgconn.PgError{Code: CodeUniqueViolation})
	fk := &pgconn.PgError{Code: CodeForeignKeyViolation}

	assert.Equal(t, CodeUniqueViolation, SQLState(unique))
	assert.True(t, IsUniqueViolation(unique))
	assert.False(t, IsForeignKeyViolation(unique))
	assert.True(t, IsForeignKeyViolation(fk))
	assert.Empty(t, SQLState(fmt.Errorf("plain")))
	assert.Empty(t, SQLState(nil))
}

func TestPoolOptions(t *testing.T) {
	cfg, err := poolConfig("postgres://u:p@localhost:5432/db", PoolOptions{MaxConns: 12, MinConns: 2})
	assert.NoError(t, err)
	assert.EqualValues(t, 12, cfg.MaxConns)
	assert.EqualValues(t, 2, cfg.MinConns)

	cfg, err = poolConfig("postgres://u:p@localhost:5432/db", PoolOptions{})
	assert.NoError(t, err)
	assert.Positive(t, cfg.MaxConns)

	_, err = poolConfig("postgres://u:p@localhost:5432/db", PoolOptions{MaxConns: 1, MinConns: 2})
	assert.Error(t, err)
	_, err = poolConfig("::not a dsn", PoolOptions{})
	assert.Error(t, err)
}
