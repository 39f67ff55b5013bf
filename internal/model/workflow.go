package model

import "time"

// Status is the bid-tracking state of a stored tender.
type Status string

const (
	StatusNew          Status = "new"
	StatusInProgress   Status = "in_progress"
	StatusBidSubmitted Status = "bid_submitted"
	StatusWon          Status = "won"
	StatusLost         Status = "lost"
	StatusCancelled    Status = "cancelled"
)

// Statuses lists every workflow status in display order.
var Statuses = []Status{
	StatusNew,
	StatusInProgress,
	StatusBidSubmitted,
	StatusWon,
	StatusLost,
	StatusCancelled,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, st := range Statuses {
		if s == st {
			return true
		}
	}
	return false
}

// Priority bounds. 1 is the most urgent.
const (
	PriorityHigh    = 1
	PriorityMedium  = 2
	PriorityLow     = 3
	DefaultPriority = PriorityLow
)

// ValidPriority reports whether p is within 1..3.
func ValidPriority(p int) bool {
	return p >= PriorityHigh && p <= PriorityLow
}

// Workflow is the one-to-one tracking extension of a stored tender.
type Workflow struct {
	TenderID  int64     `json:"tender_id"`
	Status    Status    `json:"status"`
	Priority  int       `json:"priority"`
	Notes     string    `json:"notes"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultWorkflow returns the workflow a tender receives at first insert.
func DefaultWorkflow(tenderID int64) Workflow {
	return Workflow{
		TenderID: tenderID,
		Status:   StatusNew,
		Priority: DefaultPriority,
	}
}

// Stats holds workflow counts by status plus the total number of tenders.
type Stats struct {
	ByStatus map[Status]int `json:"by_status"`
	Total    int            `json:"total"`
}

// NewStats returns a Stats with every status present at zero.
func NewStats() Stats {
	s := Stats{ByStatus: make(map[Status]int, len(Statuses))}
	for _, st := range Statuses {
		s.ByStatus[st] = 0
	}
	return s
}
