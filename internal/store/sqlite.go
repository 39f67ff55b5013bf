package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/safkaty/safkaty/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. All access goes
// through a single connection so writers never interleave.
type SQLiteStore struct {
	db *sql.DB
}

// sqlitePragmas are applied to every connection the pool opens.
var sqlitePragmas = []string{
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"synchronous(NORMAL)",
	"foreign_keys(1)",
}

// NewSQLite opens (creating if needed) the SQLite database at path.
func NewSQLite(path string) (*SQLiteStore, error) {
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, eris.Wrapf(err, "sqlite: create directory for %s", path)
		}
	}

	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close() //nolint:errcheck
		return nil, eris.Wrapf(err, "sqlite: ping %s", path)
	}
	return &SQLiteStore{db: db}, nil
}

func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	var b strings.Builder
	b.WriteString(path)
	for _, p := range sqlitePragmas {
		b.WriteString(sep)
		b.WriteString("_pragma=")
		b.WriteString(p)
		sep = "&"
	}
	return b.String()
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS tenders (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	reference          TEXT NOT NULL UNIQUE,
	title              TEXT NOT NULL DEFAULT '',
	location           TEXT NOT NULL DEFAULT '',
	estimation         REAL,
	guarantee_deposit  REAL,
	deadline_date      TEXT NOT NULL DEFAULT '',
	deadline_time      TEXT NOT NULL DEFAULT '',
	buyer_organization TEXT NOT NULL DEFAULT '',
	publication_date   TEXT NOT NULL DEFAULT '',
	category           TEXT NOT NULL DEFAULT '',
	description        TEXT NOT NULL DEFAULT '',
	contact_email      TEXT NOT NULL DEFAULT '',
	contact_phone      TEXT NOT NULL DEFAULT '',
	source_url         TEXT NOT NULL DEFAULT '',
	created_at         DATETIME NOT NULL,
	updated_at         DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS tender_workflow (
	tender_id  INTEGER PRIMARY KEY REFERENCES tenders(id) ON DELETE CASCADE,
	status     TEXT NOT NULL DEFAULT 'new',
	priority   INTEGER NOT NULL DEFAULT 3 CHECK (priority BETWEEN 1 AND 3),
	notes      TEXT NOT NULL DEFAULT '',
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS search_history (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	keyword      TEXT NOT NULL,
	result_count INTEGER NOT NULL DEFAULT 0,
	searched_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tenders_deadline ON tenders(deadline_date);
CREATE INDEX IF NOT EXISTS idx_tenders_publication ON tenders(publication_date);
CREATE INDEX IF NOT EXISTS idx_workflow_status ON tender_workflow(status);
CREATE INDEX IF NOT EXISTS idx_search_history_at ON search_history(searched_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Upsert inserts t or overwrites the stored tender with the same reference.
// A new tender gets its default workflow row in the same transaction.
func (s *SQLiteStore) Upsert(ctx context.Context, t model.Tender) (bool, int64, error) {
	if err := validateTender(t); err != nil {
		return false, 0, err
	}
	var (
		isNew bool
		id    int64
	)
	err := s.inTx(ctx, "upsert "+t.Reference, func(tx *sql.Tx) error {
		var err error
		isNew, id, err = upsertTx(ctx, tx, t, time.Now().UTC())
		return err
	})
	return isNew, id, err
}

// SaveAll upserts every tender in one transaction.
func (s *SQLiteStore) SaveAll(ctx context.Context, tenders []model.Tender) (SaveResult, error) {
	var res SaveResult
	for _, t := range tenders {
		if err := validateTender(t); err != nil {
			return res, err
		}
	}
	err := s.inTx(ctx, "save all", func(tx *sql.Tx) error {
		now := time.Now().UTC()
		for _, t := range dedupeByReference(tenders) {
			isNew, _, err := upsertTx(ctx, tx, t, now)
			if err != nil {
				return err
			}
			if isNew {
				res.Inserted++
			} else {
				res.Updated++
			}
		}
		return nil
	})
	if err != nil {
		return SaveResult{}, err
	}
	return res, nil
}

func upsertTx(ctx context.Context, tx *sql.Tx, t model.Tender, now time.Time) (bool, int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM tenders WHERE reference = ?`, t.Reference).Scan(&id)
	switch {
	case err == nil:
		args := append(tenderValues(t)[1:], now, id)
		_, err = tx.ExecContext(ctx, `UPDATE tenders SET
			title = ?, location = ?, estimation = ?, guarantee_deposit = ?,
			deadline_date = ?, deadline_time = ?, buyer_organization = ?, publication_date = ?,
			category = ?, description = ?, contact_email = ?, contact_phone = ?, source_url = ?,
			updated_at = ?
			WHERE id = ?`, args...)
		if err != nil {
			return false, 0, eris.Wrapf(err, "sqlite: update tender %d", id)
		}
		return false, id, nil

	case errors.Is(err, sql.ErrNoRows):
		args := append(tenderValues(t), now, now)
		res, err := tx.ExecContext(ctx, `INSERT INTO tenders (`+strings.Join(tenderColumns, ", ")+`, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
		if err != nil {
			return false, 0, eris.Wrapf(err, "sqlite: insert tender %s", t.Reference)
		}
		if id, err = res.LastInsertId(); err != nil {
			return false, 0, eris.Wrap(err, "sqlite: last insert id")
		}
		w := model.DefaultWorkflow(id)
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tender_workflow (tender_id, status, priority, notes, updated_at) VALUES (?, ?, ?, ?, ?)`,
			id, string(w.Status), w.Priority, w.Notes, now,
		); err != nil {
			return false, 0, eris.Wrapf(err, "sqlite: insert workflow for tender %d", id)
		}
		return true, id, nil

	default:
		return false, 0, eris.Wrapf(err, "sqlite: lookup tender %s", t.Reference)
	}
}

func (s *SQLiteStore) Search(ctx context.Context, keyword string) ([]model.StoredTender, error) {
	pattern := likePattern(keyword)
	rows, err := s.db.QueryContext(ctx, selectStored+`
		WHERE lower(reference) LIKE ? ESCAPE '\'
		   OR lower(title) LIKE ? ESCAPE '\'
		   OR lower(location) LIKE ? ESCAPE '\'
		   OR lower(category) LIKE ? ESCAPE '\'
		   OR lower(description) LIKE ? ESCAPE '\'
		   OR lower(buyer_organization) LIKE ? ESCAPE '\'`+searchOrder,
		pattern, pattern, pattern, pattern, pattern, pattern,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: search tenders")
	}
	defer rows.Close() //nolint:errcheck

	out := []model.StoredTender{}
	for rows.Next() {
		var t model.StoredTender
		if err := rows.Scan(storedDest(&t)...); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan tender")
		}
		out = append(out, t)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: search tenders iterate")
}

func (s *SQLiteStore) List(ctx context.Context, f ListFilter) ([]model.TrackedTender, error) {
	query := selectTracked + ` WHERE 1=1`
	var args []any

	if strings.TrimSpace(f.Text) != "" {
		p := likePattern(f.Text)
		query += ` AND (lower(t.reference) LIKE ? ESCAPE '\' OR lower(t.title) LIKE ? ESCAPE '\'
			OR lower(t.location) LIKE ? ESCAPE '\' OR lower(t.buyer_organization) LIKE ? ESCAPE '\')`
		args = append(args, p, p, p, p)
	}
	if f.Status != "" {
		if err := validateStatus(f.Status); err != nil {
			return nil, err
		}
		query += ` AND w.status = ?`
		args = append(args, string(f.Status))
	}
	if f.Priority != 0 {
		if err := validatePriority(f.Priority); err != nil {
			return nil, err
		}
		query += ` AND w.priority = ?`
		args = append(args, f.Priority)
	}
	query += listOrder
	if f.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, max(f.Offset, 0))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list tenders")
	}
	defer rows.Close() //nolint:errcheck

	out := []model.TrackedTender{}
	for rows.Next() {
		t, err := scanTracked(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list tenders iterate")
}

func (s *SQLiteStore) Get(ctx context.Context, id int64) (*model.TrackedTender, error) {
	return scanTracked(s.db.QueryRowContext(ctx, selectTracked+` WHERE t.id = ?`, id))
}

func scanTracked(row scannable) (*model.TrackedTender, error) {
	var t model.TrackedTender
	err := row.Scan(trackedDest(&t)...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan tracked tender")
	}
	t.Workflow.TenderID = t.ID
	return &t, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id int64) error {
	return s.inTx(ctx, "delete tender", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM tender_workflow WHERE tender_id = ?`, id); err != nil {
			return eris.Wrapf(err, "sqlite: delete workflow %d", id)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM tenders WHERE id = ?`, id)
		if err != nil {
			return eris.Wrapf(err, "sqlite: delete tender %d", id)
		}
		return checkRowsAffected(res, id)
	})
}

func (s *SQLiteStore) UpdateStatus(ctx context.Context, id int64, status model.Status) error {
	if err := validateStatus(status); err != nil {
		return err
	}
	return s.updateWorkflow(ctx, id, "status", string(status))
}

func (s *SQLiteStore) UpdatePriority(ctx context.Context, id int64, priority int) error {
	if err := validatePriority(priority); err != nil {
		return err
	}
	return s.updateWorkflow(ctx, id, "priority", priority)
}

func (s *SQLiteStore) UpdateNotes(ctx context.Context, id int64, notes string) error {
	return s.updateWorkflow(ctx, id, "notes", notes)
}

// updateWorkflow sets one workflow column, creating the row with defaults if
// it is missing. column is one of a fixed set, never user input.
func (s *SQLiteStore) updateWorkflow(ctx context.Context, id int64, column string, value any) error {
	return s.inTx(ctx, "update "+column, func(tx *sql.Tx) error {
		if err := tenderExists(ctx, tx, id); err != nil {
			return err
		}
		args := append(workflowArgs(id, column, value), time.Now().UTC())
		_, err := tx.ExecContext(ctx, `INSERT INTO tender_workflow (tender_id, status, priority, notes, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(tender_id) DO UPDATE SET `+column+` = excluded.`+column+`, updated_at = excluded.updated_at`,
			args...,
		)
		return eris.Wrapf(err, "sqlite: update %s of tender %d", column, id)
	})
}

func tenderExists(ctx context.Context, tx *sql.Tx, id int64) error {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM tenders WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "tender %d", id)
	}
	return eris.Wrapf(err, "sqlite: lookup tender %d", id)
}

func (s *SQLiteStore) Stats(ctx context.Context) (model.Stats, error) {
	stats := model.NewStats()
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tenders`).Scan(&stats.Total); err != nil {
		return stats, eris.Wrap(err, "sqlite: count tenders")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM tender_workflow GROUP BY status`)
	if err != nil {
		return stats, eris.Wrap(err, "sqlite: count by status")
	}
	defer rows.Close() //nolint:errcheck
	for rows.Next() {
		var (
			st model.Status
			n  int
		)
		if err := rows.Scan(&st, &n); err != nil {
			return stats, eris.Wrap(err, "sqlite: scan status count")
		}
		stats.ByStatus[st] = n
	}
	return stats, eris.Wrap(rows.Err(), "sqlite: count by status iterate")
}

func (s *SQLiteStore) RecordSearch(ctx context.Context, keyword string, resultCount int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO search_history (keyword, result_count, searched_at) VALUES (?, ?, ?)`,
		strings.TrimSpace(keyword), resultCount, time.Now().UTC(),
	)
	return eris.Wrap(err, "sqlite: record search")
}

func (s *SQLiteStore) ListSearchHistory(ctx context.Context, limit int) ([]model.SearchHistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, keyword, result_count, searched_at FROM search_history ORDER BY searched_at DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list search history")
	}
	defer rows.Close() //nolint:errcheck

	out := []model.SearchHistoryEntry{}
	for rows.Next() {
		var e model.SearchHistoryEntry
		if err := rows.Scan(&e.ID, &e.Keyword, &e.ResultCount, &e.SearchedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan search history")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list search history iterate")
}

// inTx runs fn in a transaction, committing when it returns nil.
func (s *SQLiteStore) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrapf(err, "sqlite: begin %s", op)
	}
	if err := fn(tx); err != nil {
		tx.Rollback() //nolint:errcheck
		return err
	}
	return eris.Wrapf(tx.Commit(), "sqlite: commit %s", op)
}

func checkRowsAffected(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "tender %d", id)
	}
	return nil
}
