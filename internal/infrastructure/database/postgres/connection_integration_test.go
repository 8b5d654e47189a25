//go:build integration

package postgres_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/Opposition-Intelligence/internal/infrastructure/database/postgres"
	"github.com/turtacn/Opposition-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/Opposition-Intelligence/internal/testutil"
)

func setupTestDB(t *testing.T) (*postgres.Connection, postgres.PostgresConfig) {
	t.Helper()
	cfg := testutil.StartPostgres(t)
	conn, err := postgres.NewConnection(context.Background(), cfg, logging.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(conn.Close)
	return conn, cfg
}

func count(t *testing.T, conn *postgres.Connection, table string) int {
	t.Helper()
	var n int
	err := conn.Pool().QueryRow(context.Background(), "SELECT COUNT(*) FROM "+table).Scan(&n)
	require.NoError(t, err)
	return n
}

func TestMigrations(t *testing.T) {
	conn, cfg := setupTestDB(t)
	dsn := postgres.BuildDSN(cfg)

	version, dirty, err := postgres.MigrationStatus(dsn)
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	// Up again is a no-op.
	require.NoError(t, postgres.RunMigrations(dsn))

	require.NoError(t, postgres.RollbackMigration(dsn, 1))
	version, _, err = postgres.MigrationStatus(dsn)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	require.NoError(t, postgres.ResetDatabase(dsn))
	assert.Equal(t, 0, count(t, conn, "case_chunks"))
	require.NoError(t, conn.HealthCheck(context.Background()))
}

func TestWithTransaction_CommitsOnSuccess(t *testing.T) {
	conn, _ := setupTestDB(t)
	ctx := context.Background()

	err := postgres.WithTransaction(ctx, conn.Pool(), func(tx pgx.Tx, txCtx context.Context) error {
		_, err := tx.Exec(txCtx, "INSERT INTO case_records (case_reference) VALUES ('O/0001/24')")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count(t, conn, "case_records"))
}

func TestWithTransaction_RollsBackOnError(t *testing.T) {
	conn, _ := setupTestDB(t)
	ctx := context.Background()

	err := postgres.WithTransaction(ctx, conn.Pool(), func(tx pgx.Tx, txCtx context.Context) error {
		_, err := tx.Exec(txCtx, "INSERT INTO case_records (case_reference) VALUES ('O/0001/24')")
		require.NoError(t, err)
		return fmt.Errorf("intentional error for rollback test")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "intentional error")
	assert.Equal(t, 0, count(t, conn, "case_records"))
}

func TestWithTransaction_RollsBackOnPanic(t *testing.T) {
	conn, _ := setupTestDB(t)
	ctx := context.Background()

	assert.Panics(t, func() {
		_ = postgres.WithTransaction(ctx, conn.Pool(), func(tx pgx.Tx, txCtx context.Context) error {
			_, _ = tx.Exec(txCtx, "INSERT INTO case_records (case_reference) VALUES ('O/0001/24')")
			panic("intentional panic")
		})
	})
	assert.Equal(t, 0, count(t, conn, "case_records"))
}

func TestWithTransaction_NestedUsesSavepoint(t *testing.T) {
	conn, _ := setupTestDB(t)
	ctx := context.Background()

	err := postgres.WithTransaction(ctx, conn.Pool(), func(outerTx pgx.Tx, outerCtx context.Context) error {
		_, err := outerTx.Exec(outerCtx, "INSERT INTO case_records (case_reference) VALUES ('O/0001/24')")
		require.NoError(t, err)

		innerErr := postgres.WithTransaction(outerCtx, conn.Pool(), func(innerTx pgx.Tx, innerCtx context.Context) error {
			_, err := innerTx.Exec(innerCtx, "INSERT INTO case_records (case_reference) VALUES ('O/0002/24')")
			require.NoError(t, err)
			return fmt.Errorf("inner transaction error")
		})
		assert.Error(t, innerErr)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count(t, conn, "case_records"))
}
