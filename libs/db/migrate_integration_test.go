//go:build integration

package db_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/mspharm/libs/db"
	"github.com/md-rashed-zaman/mspharm/libs/db/dbtest"
	"github.com/md-rashed-zaman/mspharm/migrations"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrateIsIdempotent(t *testing.T) {
	pool := dbtest.Start(t)
	ctx := context.Background()

	current, latest, err := db.MigrationStatus(ctx, pool, migrations.FS)
	require.NoError(t, err)
	assert.Equal(t, latest, current)
	assert.Positive(t, latest)

	require.NoError(t, db.Migrate(ctx, pool, migrations.FS, slog.New(slog.DiscardHandler)))
	again, _, err := db.MigrationStatus(ctx, pool, migrations.FS)
	require.NoError(t, err)
	assert.Equal(t, current, again)
}

func TestInTxAndErrorHelpers(t *testing.T) {
	pool := dbtest.Start(t)
	ctx := context.Background()
	insert := `INSERT INTO employees (name, password_hash, role) VALUES ($1, 'x', 'staff')`

	boom := errors.New("boom")
	err := pool.InTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, insert, "롤백"); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var n int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM employees WHERE name = '롤백'`).Scan(&n))
	assert.Zero(t, n)

	_, err = pool.Exec(ctx, insert, "중복")
	require.NoError(t, err)
	_, err = pool.Exec(ctx, insert, "중복")
	assert.True(t, db.IsUniqueViolation(err))

	err = pool.QueryRow(ctx, `SELECT name FROM employees WHERE name = '없음'`).Scan(new(string))
	assert.True(t, db.IsNotFound(err))
}
