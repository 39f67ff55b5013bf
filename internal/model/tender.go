package model

import (
	"strconv"
	"time"
)

// UnknownReference tags a tender whose reference could not be extracted.
const UnknownReference = "(unknown)"

// Tender is one public tender ("marché public") or one lot of a multi-lot
// consultation. Reference is the business key used for deduplication.
type Tender struct {
	Reference         string   `json:"reference"`
	Title             string   `json:"title"`
	Location          string   `json:"location"`
	Estimation        *float64 `json:"estimation,omitempty"`
	GuaranteeDeposit  *float64 `json:"guarantee_deposit,omitempty"`
	DeadlineDate      string   `json:"deadline_date,omitempty"` // yyyy-mm-dd
	DeadlineTime      string   `json:"deadline_time,omitempty"` // HH:MM
	BuyerOrganization string   `json:"buyer_organization"`
	PublicationDate   string   `json:"publication_date,omitempty"` // yyyy-mm-dd
	Category          string   `json:"category"`
	Description       string   `json:"description"`
	ContactEmail      string   `json:"contact_email"`
	ContactPhone      string   `json:"contact_phone"`
	SourceURL         string   `json:"source_url"`
}

// Lot is one sub-allocation of a consultation as read from the portal's
// lots popup. Lots never leave the acquisition pipeline; they are expanded
// into one Tender each before persistence.
type Lot struct {
	Number     int      `json:"lot"`
	Title      string   `json:"lot_title,omitempty"`
	Estimation *float64 `json:"estimation,omitempty"`
	Caution    *float64 `json:"caution,omitempty"`
}

// LotReference returns the reference of lot n of the consultation ref.
func LotReference(ref string, n int) string {
	if ref == "" {
		ref = UnknownReference
	}
	if n <= 0 {
		return ref
	}
	return ref + " [Lot " + strconv.Itoa(n) + "]"
}

// StoredTender is a Tender as persisted by the store.
type StoredTender struct {
	ID int64 `json:"id"`
	Tender
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TrackedTender joins a stored tender with its workflow row.
type TrackedTender struct {
	StoredTender
	Workflow Workflow `json:"workflow"`
}

// SearchHistoryEntry is one append-only audit row for a portal search.
type SearchHistoryEntry struct {
	ID          int64     `json:"id"`
	Keyword     string    `json:"keyword"`
	ResultCount int       `json:"result_count"`
	SearchedAt  time.Time `json:"searched_at"`
}
