package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safkaty/safkaty/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

var trackedColumns = []string{
	"id", "reference", "title", "location", "estimation", "guarantee_deposit",
	"deadline_date", "deadline_time", "buyer_organization", "publication_date",
	"category", "description", "contact_email", "contact_phone", "source_url",
	"created_at", "updated_at",
	"status", "priority", "notes", "updated_at",
}

func trackedRow(id int64, ref string, status model.Status, priority int) []any {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	est := 1500000.0
	return []any{
		id, ref, "Travaux de voirie", "Agadir", &est, (*float64)(nil),
		"2025-04-15", "10:00", "Commune d'Agadir", "2025-03-01",
		"Travaux de voirie", "Travaux de voirie", "", "", "https://example.test/detail",
		now, now,
		status, priority, "", now,
	}
}

// upsertArgs matches the tender columns of t followed by created_at and
// updated_at. Pointer amounts and timestamps match any value.
func upsertArgs(t model.Tender) []any {
	return []any{
		t.Reference, t.Title, t.Location, pgxmock.AnyArg(), pgxmock.AnyArg(),
		t.DeadlineDate, t.DeadlineTime, t.BuyerOrganization, t.PublicationDate,
		t.Category, t.Description, t.ContactEmail, t.ContactPhone, t.SourceURL,
		pgxmock.AnyArg(), pgxmock.AnyArg(),
	}
}

func TestPostgresStore_Upsert_New(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	tender := model.Tender{Reference: "12/2025", Title: "Voirie"}

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO tenders .* ON CONFLICT \(reference\) DO UPDATE SET .* RETURNING id, \(xmax = 0\)`).
		WithArgs(upsertArgs(tender)...).
		WillReturnRows(pgxmock.NewRows([]string{"id", "inserted"}).AddRow(int64(7), true))
	mock.ExpectExec(`INSERT INTO tender_workflow`).
		WithArgs(int64(7), "new", 3, "", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	isNew, id, err := s.Upsert(context.Background(), tender)
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Equal(t, int64(7), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Upsert_ExistingKeepsWorkflow(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	tender := model.Tender{Reference: "12/2025", Location: "Agadir"}

	// No workflow insert is expected: the existing row is left alone.
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO tenders`).
		WithArgs(upsertArgs(tender)...).
		WillReturnRows(pgxmock.NewRows([]string{"id", "inserted"}).AddRow(int64(7), false))
	mock.ExpectCommit()

	isNew, id, err := s.Upsert(context.Background(), tender)
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, int64(7), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Upsert_EmptyReference(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	_, _, err := s.Upsert(context.Background(), model.Tender{Reference: "  "})
	assert.ErrorIs(t, err, ErrEmptyReference)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveAll(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	cols := append(append([]string{}, tenderColumns...), "updated_at")
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_tenders"}, cols).WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "tenders"`).WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectExec(`INSERT INTO tender_workflow .* reference = ANY\(\$1\)`).
		WithArgs([]string{"A", "B"}, "new", 3, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	res, err := s.SaveAll(context.Background(), []model.Tender{
		{Reference: "A", Title: "first"},
		{Reference: "B"},
		{Reference: "A", Title: "second"},
	})
	require.NoError(t, err)
	assert.Equal(t, SaveResult{Inserted: 1, Updated: 1}, res)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveAll_Empty(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	res, err := s.SaveAll(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, SaveResult{}, res)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Get(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM tenders t\s+JOIN tender_workflow w ON w.tender_id = t.id WHERE t.id = \$1`).
		WithArgs(int64(3)).
		WillReturnRows(pgxmock.NewRows(trackedColumns).AddRow(trackedRow(3, "12/2025", model.StatusWon, 1)...))

	got, err := s.Get(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, "12/2025", got.Reference)
	assert.Equal(t, model.StatusWon, got.Workflow.Status)
	assert.Equal(t, 1, got.Workflow.Priority)
	assert.Equal(t, int64(3), got.Workflow.TenderID)
	require.NotNil(t, got.Estimation)
	assert.InDelta(t, 1500000.0, *got.Estimation, 0.001)
	assert.Nil(t, got.GuaranteeDeposit)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Get_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`WHERE t.id = \$1`).
		WithArgs(int64(99)).
		WillReturnError(pgx.ErrNoRows)

	_, err := s.Get(context.Background(), 99)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_List_Filters(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`WHERE true AND \(t.reference ILIKE \$1 .*\) AND w.status = \$2 AND w.priority = \$3 ORDER BY w.priority ASC.* LIMIT \$4 OFFSET \$5`).
		WithArgs("%voirie%", "in_progress", 2, 10, 5).
		WillReturnRows(pgxmock.NewRows(trackedColumns).
			AddRow(trackedRow(1, "A", model.StatusInProgress, 2)...).
			AddRow(trackedRow(2, "B", model.StatusInProgress, 2)...))

	got, err := s.List(context.Background(), ListFilter{
		Text: "Voirie", Status: model.StatusInProgress, Priority: 2, Limit: 10, Offset: 5,
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "B", got[1].Reference)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_List_InvalidFilter(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	_, err := s.List(context.Background(), ListFilter{Status: "archived"})
	assert.ErrorIs(t, err, ErrInvalidStatus)

	_, err = s.List(context.Background(), ListFilter{Priority: 4})
	assert.ErrorIs(t, err, ErrInvalidPriority)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Search(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	rows := pgxmock.NewRows(trackedColumns[:17]).AddRow(trackedRow(5, "50%_OFF", model.StatusNew, 3)[:17]...)
	mock.ExpectQuery(`FROM tenders\s+WHERE reference ILIKE \$1 .* ORDER BY`).
		WithArgs(`%50\%\_off%`).
		WillReturnRows(rows)

	got, err := s.Search(context.Background(), "50%_OFF")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(5), got[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Delete(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM tenders WHERE id = \$1`).
		WithArgs(int64(4)).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(`DELETE FROM tenders WHERE id = \$1`).
		WithArgs(int64(5)).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	require.NoError(t, s.Delete(context.Background(), 4))
	assert.ErrorIs(t, s.Delete(context.Background(), 5), ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateWorkflow(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`SELECT id, \$2, \$3, \$4, \$5 FROM tenders WHERE id = \$1\s+ON CONFLICT \(tender_id\) DO UPDATE SET status = EXCLUDED.status`).
		WithArgs(int64(1), "won", 3, "", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`DO UPDATE SET priority = EXCLUDED.priority`).
		WithArgs(int64(1), "new", 1, "", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`DO UPDATE SET notes = EXCLUDED.notes`).
		WithArgs(int64(2), "new", 3, "call buyer", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	ctx := context.Background()
	require.NoError(t, s.UpdateStatus(ctx, 1, model.StatusWon))
	require.NoError(t, s.UpdatePriority(ctx, 1, 1))
	assert.ErrorIs(t, s.UpdateNotes(ctx, 2, "call buyer"), ErrNotFound)

	assert.ErrorIs(t, s.UpdateStatus(ctx, 1, "archived"), ErrInvalidStatus)
	assert.ErrorIs(t, s.UpdatePriority(ctx, 1, 0), ErrInvalidPriority)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Stats(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM tenders`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery(`SELECT status, COUNT\(\*\) FROM tender_workflow GROUP BY status`).
		WillReturnRows(pgxmock.NewRows([]string{"status", "count"}).
			AddRow("new", 2).
			AddRow("won", 1))

	stats, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.ByStatus[model.StatusNew])
	assert.Equal(t, 1, stats.ByStatus[model.StatusWon])
	assert.Equal(t, 0, stats.ByStatus[model.StatusLost])
	assert.Len(t, stats.ByStatus, len(model.Statuses))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SearchHistory(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	at := time.Date(2025, 3, 2, 8, 0, 0, 0, time.UTC)
	mock.ExpectExec(`INSERT INTO search_history`).
		WithArgs("terrain", 4, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`FROM search_history ORDER BY searched_at DESC, id DESC LIMIT \$1`).
		WithArgs(50).
		WillReturnRows(pgxmock.NewRows([]string{"id", "keyword", "result_count", "searched_at"}).
			AddRow(int64(1), "terrain", 4, at))

	ctx := context.Background()
	require.NoError(t, s.RecordSearch(ctx, "  terrain ", 4))
	got, err := s.ListSearchHistory(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "terrain", got[0].Keyword)
	assert.Equal(t, at, got[0].SearchedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS tenders`).
		WillReturnError(errors.New("permission denied"))

	err := s.Migrate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: migrate")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "$1, $2, $3", placeholders(1, 3))
	assert.Equal(t, "$4", placeholders(4, 1))
}
