package store

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/safkaty/safkaty/internal/model"
)

// Errors callers are expected to branch on.
var (
	ErrNotFound        = eris.New("store: tender not found")
	ErrInvalidStatus   = eris.New("store: invalid status")
	ErrInvalidPriority = eris.New("store: invalid priority")
	ErrEmptyReference  = eris.New("store: tender reference is empty")
)

// ListFilter narrows List. Zero values match everything.
type ListFilter struct {
	// Text matches reference, title, location or buyer organization
	// (case-insensitive substring).
	Text     string       `json:"text,omitempty"`
	Status   model.Status `json:"status,omitempty"`
	Priority int          `json:"priority,omitempty"`
	Limit    int          `json:"limit,omitempty"`
	Offset   int          `json:"offset,omitempty"`
}

// SaveResult summarizes a batch upsert.
type SaveResult struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
}

// Store persists tenders, their workflow rows and the search history.
type Store interface {
	// Tenders
	Upsert(ctx context.Context, t model.Tender) (isNew bool, id int64, err error)
	SaveAll(ctx context.Context, tenders []model.Tender) (SaveResult, error)
	Search(ctx context.Context, keyword string) ([]model.StoredTender, error)
	List(ctx context.Context, filter ListFilter) ([]model.TrackedTender, error)
	Get(ctx context.Context, id int64) (*model.TrackedTender, error)
	Delete(ctx context.Context, id int64) error

	// Workflow
	UpdateStatus(ctx context.Context, id int64, status model.Status) error
	UpdatePriority(ctx context.Context, id int64, priority int) error
	UpdateNotes(ctx context.Context, id int64, notes string) error
	Stats(ctx context.Context) (model.Stats, error)

	// Search history
	RecordSearch(ctx context.Context, keyword string, resultCount int) error
	ListSearchHistory(ctx context.Context, limit int) ([]model.SearchHistoryEntry, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// tenderColumns are the displayable columns written by Upsert, in the order
// of tenderValues.
var tenderColumns = []string{
	"reference", "title", "location", "estimation", "guarantee_deposit",
	"deadline_date", "deadline_time", "buyer_organization", "publication_date",
	"category", "description", "contact_email", "contact_phone", "source_url",
}

func tenderValues(t model.Tender) []any {
	return []any{
		t.Reference, t.Title, t.Location, t.Estimation, t.GuaranteeDeposit,
		t.DeadlineDate, t.DeadlineTime, t.BuyerOrganization, t.PublicationDate,
		t.Category, t.Description, t.ContactEmail, t.ContactPhone, t.SourceURL,
	}
}

// selectTracked reads a tender joined with its workflow row. Every tender
// has exactly one, created in the insert transaction.
const selectTracked = `SELECT t.id, t.reference, t.title, t.location, t.estimation, t.guarantee_deposit,
	t.deadline_date, t.deadline_time, t.buyer_organization, t.publication_date,
	t.category, t.description, t.contact_email, t.contact_phone, t.source_url,
	t.created_at, t.updated_at,
	w.status, w.priority, w.notes, w.updated_at
FROM tenders t
JOIN tender_workflow w ON w.tender_id = t.id`

const selectStored = `SELECT id, reference, title, location, estimation, guarantee_deposit,
	deadline_date, deadline_time, buyer_organization, publication_date,
	category, description, contact_email, contact_phone, source_url,
	created_at, updated_at
FROM tenders`

// listOrder puts urgent tenders first, then the nearest deadline; tenders
// without a deadline go last.
const listOrder = ` ORDER BY w.priority ASC,
	CASE WHEN t.deadline_date = '' THEN 1 ELSE 0 END,
	t.deadline_date ASC, t.id ASC`

// searchOrder lists the most recently published first; undated tenders go last.
const searchOrder = ` ORDER BY CASE WHEN publication_date = '' THEN 1 ELSE 0 END,
	publication_date DESC, id DESC`

type scannable interface {
	Scan(dest ...any) error
}

func storedDest(t *model.StoredTender) []any {
	return []any{
		&t.ID, &t.Reference, &t.Title, &t.Location, &t.Estimation, &t.GuaranteeDeposit,
		&t.DeadlineDate, &t.DeadlineTime, &t.BuyerOrganization, &t.PublicationDate,
		&t.Category, &t.Description, &t.ContactEmail, &t.ContactPhone, &t.SourceURL,
		&t.CreatedAt, &t.UpdatedAt,
	}
}

func trackedDest(t *model.TrackedTender) []any {
	return append(storedDest(&t.StoredTender),
		&t.Workflow.Status, &t.Workflow.Priority, &t.Workflow.Notes, &t.Workflow.UpdatedAt)
}

// workflowArgs returns tender_id, status, priority and notes of a workflow
// row with column set to value and defaults elsewhere.
func workflowArgs(id int64, column string, value any) []any {
	w := model.DefaultWorkflow(id)
	args := []any{id, string(w.Status), w.Priority, w.Notes}
	switch column {
	case "status":
		args[1] = value
	case "priority":
		args[2] = value
	case "notes":
		args[3] = value
	}
	return args
}

func validateTender(t model.Tender) error {
	if strings.TrimSpace(t.Reference) == "" {
		return ErrEmptyReference
	}
	return nil
}

func validateStatus(s model.Status) error {
	if !s.Valid() {
		return eris.Wrapf(ErrInvalidStatus, "status %q", s)
	}
	return nil
}

func validatePriority(p int) error {
	if !model.ValidPriority(p) {
		return eris.Wrapf(ErrInvalidPriority, "priority %d", p)
	}
	return nil
}

// likePattern builds a case-insensitive LIKE pattern matching s anywhere,
// escaping LIKE metacharacters with a backslash.
func likePattern(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}

// dedupeByReference keeps the last tender for each reference, in order of
// first appearance.
func dedupeByReference(tenders []model.Tender) []model.Tender {
	idx := make(map[string]int, len(tenders))
	out := make([]model.Tender, 0, len(tenders))
	for _, t := range tenders {
		if i, ok := idx[t.Reference]; ok {
			out[i] = t
			continue
		}
		idx[t.Reference] = len(out)
		out = append(out, t)
	}
	return out
}
