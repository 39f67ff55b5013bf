package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/safkaty/safkaty/internal/db"
	"github.com/safkaty/safkaty/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS tenders (
	id                 BIGSERIAL PRIMARY KEY,
	reference          TEXT NOT NULL UNIQUE,
	title              TEXT NOT NULL DEFAULT '',
	location           TEXT NOT NULL DEFAULT '',
	estimation         DOUBLE PRECISION,
	guarantee_deposit  DOUBLE PRECISION,
	deadline_date      TEXT NOT NULL DEFAULT '',
	deadline_time      TEXT NOT NULL DEFAULT '',
	buyer_organization TEXT NOT NULL DEFAULT '',
	publication_date   TEXT NOT NULL DEFAULT '',
	category           TEXT NOT NULL DEFAULT '',
	description        TEXT NOT NULL DEFAULT '',
	contact_email      TEXT NOT NULL DEFAULT '',
	contact_phone      TEXT NOT NULL DEFAULT '',
	source_url         TEXT NOT NULL DEFAULT '',
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS tender_workflow (
	tender_id  BIGINT PRIMARY KEY REFERENCES tenders(id) ON DELETE CASCADE,
	status     TEXT NOT NULL DEFAULT 'new',
	priority   INTEGER NOT NULL DEFAULT 3 CHECK (priority BETWEEN 1 AND 3),
	notes      TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS search_history (
	id           BIGSERIAL PRIMARY KEY,
	keyword      TEXT NOT NULL,
	result_count INTEGER NOT NULL DEFAULT 0,
	searched_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_tenders_deadline ON tenders(deadline_date);
CREATE INDEX IF NOT EXISTS idx_tenders_publication ON tenders(publication_date);
CREATE INDEX IF NOT EXISTS idx_workflow_status ON tender_workflow(status);
CREATE INDEX IF NOT EXISTS idx_search_history_at ON search_history(searched_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// placeholders returns "$from, $from+1, ..." for n parameters.
func placeholders(from, n int) string {
	ps := make([]string, n)
	for i := range ps {
		ps[i] = fmt.Sprintf("$%d", from+i)
	}
	return strings.Join(ps, ", ")
}

// upsertTenderSQL reports whether the row was inserted through xmax, which
// is zero only for a tuple created by this statement.
var upsertTenderSQL = func() string {
	sets := make([]string, 0, len(tenderColumns))
	for _, c := range tenderColumns[1:] {
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
	}
	return `INSERT INTO tenders (` + strings.Join(tenderColumns, ", ") + `, created_at, updated_at)
		VALUES (` + placeholders(1, len(tenderColumns)+2) + `)
		ON CONFLICT (reference) DO UPDATE SET ` + strings.Join(sets, ", ") + `, updated_at = EXCLUDED.updated_at
		RETURNING id, (xmax = 0)`
}()

const insertDefaultWorkflowSQL = `INSERT INTO tender_workflow (tender_id, status, priority, notes, updated_at)
	VALUES ($1, $2, $3, $4, $5) ON CONFLICT (tender_id) DO NOTHING`

// Upsert inserts t or overwrites the stored tender with the same reference.
func (s *PostgresStore) Upsert(ctx context.Context, t model.Tender) (bool, int64, error) {
	if err := validateTender(t); err != nil {
		return false, 0, err
	}

	var (
		isNew bool
		id    int64
	)
	err := s.inTx(ctx, "upsert "+t.Reference, func(tx pgx.Tx) error {
		now := time.Now().UTC()
		args := append(tenderValues(t), now, now)
		if err := tx.QueryRow(ctx, upsertTenderSQL, args...).Scan(&id, &isNew); err != nil {
			return eris.Wrapf(err, "postgres: upsert tender %s", t.Reference)
		}
		if !isNew {
			return nil
		}
		w := model.DefaultWorkflow(id)
		_, err := tx.Exec(ctx, insertDefaultWorkflowSQL, id, string(w.Status), w.Priority, w.Notes, now)
		return eris.Wrapf(err, "postgres: insert workflow for tender %d", id)
	})
	return isNew, id, err
}

// SaveAll loads the batch through COPY and merges it in one transaction.
// Workflow rows are created for the references that did not have one.
func (s *PostgresStore) SaveAll(ctx context.Context, tenders []model.Tender) (SaveResult, error) {
	for _, t := range tenders {
		if err := validateTender(t); err != nil {
			return SaveResult{}, err
		}
	}
	unique := dedupeByReference(tenders)
	if len(unique) == 0 {
		return SaveResult{}, nil
	}

	now := time.Now().UTC()
	refs := make([]string, len(unique))
	rows := make([][]any, len(unique))
	for i, t := range unique {
		refs[i] = t.Reference
		rows[i] = append(tenderValues(t), now)
	}

	var inserted int64
	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "tenders",
		Columns:      append(append([]string{}, tenderColumns...), "updated_at"),
		ConflictKeys: []string{"reference"},
		AfterUpsert: func(ctx context.Context, tx pgx.Tx) error {
			tag, err := tx.Exec(ctx, `INSERT INTO tender_workflow (tender_id, status, priority, notes, updated_at)
				SELECT id, $2, $3, '', $4 FROM tenders WHERE reference = ANY($1)
				ON CONFLICT (tender_id) DO NOTHING`,
				refs, string(model.StatusNew), model.DefaultPriority, now,
			)
			if err != nil {
				return eris.Wrap(err, "postgres: insert default workflows")
			}
			inserted = tag.RowsAffected()
			return nil
		},
	}, rows)
	if err != nil {
		return SaveResult{}, eris.Wrap(err, "postgres: save all")
	}
	return SaveResult{Inserted: int(inserted), Updated: len(unique) - int(inserted)}, nil
}

func (s *PostgresStore) Search(ctx context.Context, keyword string) ([]model.StoredTender, error) {
	rows, err := s.pool.Query(ctx, selectStored+`
		WHERE reference ILIKE $1 OR title ILIKE $1 OR location ILIKE $1
		   OR category ILIKE $1 OR description ILIKE $1 OR buyer_organization ILIKE $1`+searchOrder,
		likePattern(keyword),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: search tenders")
	}
	defer rows.Close()

	out := []model.StoredTender{}
	for rows.Next() {
		var t model.StoredTender
		if err := rows.Scan(storedDest(&t)...); err != nil {
			return nil, eris.Wrap(err, "postgres: scan tender")
		}
		out = append(out, t)
	}
	return out, eris.Wrap(rows.Err(), "postgres: search tenders iterate")
}

func (s *PostgresStore) List(ctx context.Context, f ListFilter) ([]model.TrackedTender, error) {
	query := selectTracked + ` WHERE true`
	args := []any{}
	argIdx := 1

	if strings.TrimSpace(f.Text) != "" {
		query += fmt.Sprintf(` AND (t.reference ILIKE $%[1]d OR t.title ILIKE $%[1]d
			OR t.location ILIKE $%[1]d OR t.buyer_organization ILIKE $%[1]d)`, argIdx)
		args = append(args, likePattern(f.Text))
		argIdx++
	}
	if f.Status != "" {
		if err := validateStatus(f.Status); err != nil {
			return nil, err
		}
		query += fmt.Sprintf(` AND w.status = $%d`, argIdx)
		args = append(args, string(f.Status))
		argIdx++
	}
	if f.Priority != 0 {
		if err := validatePriority(f.Priority); err != nil {
			return nil, err
		}
		query += fmt.Sprintf(` AND w.priority = $%d`, argIdx)
		args = append(args, f.Priority)
		argIdx++
	}
	query += listOrder
	if f.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d OFFSET $%d`, argIdx, argIdx+1)
		args = append(args, f.Limit, max(f.Offset, 0))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list tenders")
	}
	defer rows.Close()

	out := []model.TrackedTender{}
	for rows.Next() {
		t, err := scanTrackedPG(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list tenders iterate")
}

func (s *PostgresStore) Get(ctx context.Context, id int64) (*model.TrackedTender, error) {
	return scanTrackedPG(s.pool.QueryRow(ctx, selectTracked+` WHERE t.id = $1`, id))
}

func scanTrackedPG(row scannable) (*model.TrackedTender, error) {
	var t model.TrackedTender
	err := row.Scan(trackedDest(&t)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan tracked tender")
	}
	t.Workflow.TenderID = t.ID
	return &t, nil
}

// Delete removes the tender; its workflow row goes with it through the
// cascading foreign key.
func (s *PostgresStore) Delete(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM tenders WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete tender %d", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "tender %d", id)
	}
	return nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, id int64, status model.Status) error {
	if err := validateStatus(status); err != nil {
		return err
	}
	return s.updateWorkflow(ctx, id, "status", string(status))
}

func (s *PostgresStore) UpdatePriority(ctx context.Context, id int64, priority int) error {
	if err := validatePriority(priority); err != nil {
		return err
	}
	return s.updateWorkflow(ctx, id, "priority", priority)
}

func (s *PostgresStore) UpdateNotes(ctx context.Context, id int64, notes string) error {
	return s.updateWorkflow(ctx, id, "notes", notes)
}

// updateWorkflow sets one workflow column, creating the row if it is
// missing. The INSERT selects from tenders so an unknown id writes nothing.
// column is one of a fixed set, never user input.
func (s *PostgresStore) updateWorkflow(ctx context.Context, id int64, column string, value any) error {
	args := append(workflowArgs(id, column, value), time.Now().UTC())
	tag, err := s.pool.Exec(ctx, `INSERT INTO tender_workflow (tender_id, status, priority, notes, updated_at)
		SELECT id, $2, $3, $4, $5 FROM tenders WHERE id = $1
		ON CONFLICT (tender_id) DO UPDATE SET `+column+` = EXCLUDED.`+column+`, updated_at = EXCLUDED.updated_at`,
		args...,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update %s of tender %d", column, id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "tender %d", id)
	}
	return nil
}

func (s *PostgresStore) Stats(ctx context.Context) (model.Stats, error) {
	stats := model.NewStats()
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM tenders`).Scan(&stats.Total); err != nil {
		return stats, eris.Wrap(err, "postgres: count tenders")
	}

	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM tender_workflow GROUP BY status`)
	if err != nil {
		return stats, eris.Wrap(err, "postgres: count by status")
	}
	defer rows.Close()
	for rows.Next() {
		var (
			st string
			n  int
		)
		if err := rows.Scan(&st, &n); err != nil {
			return stats, eris.Wrap(err, "postgres: scan status count")
		}
		stats.ByStatus[model.Status(st)] = n
	}
	return stats, eris.Wrap(rows.Err(), "postgres: count by status iterate")
}

func (s *PostgresStore) RecordSearch(ctx context.Context, keyword string, resultCount int) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO search_history (keyword, result_count, searched_at) VALUES ($1, $2, $3)`,
		strings.TrimSpace(keyword), resultCount, time.Now().UTC(),
	)
	return eris.Wrap(err, "postgres: record search")
}

func (s *PostgresStore) ListSearchHistory(ctx context.Context, limit int) ([]model.SearchHistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, keyword, result_count, searched_at FROM search_history ORDER BY searched_at DESC, id DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list search history")
	}
	defer rows.Close()

	out := []model.SearchHistoryEntry{}
	for rows.Next() {
		var e model.SearchHistoryEntry
		if err := rows.Scan(&e.ID, &e.Keyword, &e.ResultCount, &e.SearchedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan search history")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list search history iterate")
}

func (s *PostgresStore) inTx(ctx context.Context, op string, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrapf(err, "postgres: begin %s", op)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	return eris.Wrapf(tx.Commit(ctx), "postgres: commit %s", op)
}
