package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t,
		"/tmp/t.db?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)",
		sqliteDSN("/tmp/t.db"))
	assert.Equal(t,
		"file:t.db?mode=memory&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)",
		sqliteDSN("file:t.db?mode=memory"))
}

func TestNewSQLite_CreatesParentDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "safkaty.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	_, err = os.Stat(dbPath)
	assert.NoError(t, err)
}

func TestSQLite_MigrateIsIdempotent(t *testing.T) {
	st, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	ctx := context.Background()
	require.NoError(t, st.Migrate(ctx))
	_, _, err = st.Upsert(ctx, sampleTender("A"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(ctx))

	stats, err := st.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
}

func TestSQLite_PersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	require.NoError(t, st.Migrate(ctx))
	_, id, err := st.Upsert(ctx, sampleTender("12/2025"))
	require.NoError(t, err)
	require.NoError(t, st.UpdateNotes(ctx, id, "visite des lieux le 10"))
	require.NoError(t, st.Close())

	st, err = NewSQLite(dbPath)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck
	got, err := st.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "visite des lieux le 10", got.Workflow.Notes)
}

func TestSQLite_ForeignKeysCascade(t *testing.T) {
	st := newTestSQLite(t).(*SQLiteStore)
	ctx := context.Background()

	_, id, err := st.Upsert(ctx, sampleTender("A"))
	require.NoError(t, err)
	_, err = st.db.ExecContext(ctx, `DELETE FROM tenders WHERE id = ?`, id)
	require.NoError(t, err)

	var n int
	require.NoError(t, st.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tender_workflow`).Scan(&n))
	assert.Zero(t, n)
}
