package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/safkaty/safkaty/internal/model"
	"github.com/safkaty/safkaty/internal/normalize"
)

const titleWidth = 60

// truncate shortens s to n runes, marking the cut with "...".
func truncate(s string, n int) string {
	if len([]rune(s)) <= n {
		return s
	}
	return s[:normalize.RunePrefixLen(s, n-3)] + "..."
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return normalize.Placeholder
	}
	return s
}

func deadline(t model.Tender) string {
	d := normalize.FormatDateLocal(t.DeadlineDate)
	if t.DeadlineTime != "" && t.DeadlineDate != "" {
		d += " " + t.DeadlineTime
	}
	return d
}

// formatSearchResults writes freshly acquired tenders as a table.
func formatSearchResults(out io.Writer, tenders []model.Tender) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "REFERENCE\tTITLE\tLOCATION\tDEADLINE\tESTIMATION\tBUYER")
	for _, t := range tenders {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			t.Reference,
			truncate(orDash(t.Title), titleWidth),
			orDash(t.Location),
			deadline(t),
			normalize.FormatMoney(t.Estimation),
			truncate(orDash(t.BuyerOrganization), 40),
		)
	}
	_ = w.Flush()
}

// formatTendersList writes stored tenders with their workflow columns.
func formatTendersList(out io.Writer, tenders []model.TrackedTender) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tPRIO\tSTATUS\tREFERENCE\tTITLE\tDEADLINE\tESTIMATION")
	for _, t := range tenders {
		_, _ = fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\t%s\t%s\n",
			t.ID,
			t.Workflow.Priority,
			t.Workflow.Status,
			t.Reference,
			truncate(orDash(t.Title), titleWidth),
			deadline(t.Tender),
			normalize.FormatMoney(t.Estimation),
		)
	}
	_ = w.Flush()
}

// formatStoredTenders writes keyword matches from the store.
func formatStoredTenders(out io.Writer, tenders []model.StoredTender) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tREFERENCE\tTITLE\tLOCATION\tPUBLISHED\tDEADLINE")
	for _, t := range tenders {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			t.ID,
			t.Reference,
			truncate(orDash(t.Title), titleWidth),
			orDash(t.Location),
			normalize.FormatDateLocal(t.PublicationDate),
			deadline(t.Tender),
		)
	}
	_ = w.Flush()
}

// formatTenderDetail writes one tender as label/value lines.
func formatTenderDetail(out io.Writer, t *model.TrackedTender) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	rows := [][2]string{
		{"ID", strconv.FormatInt(t.ID, 10)},
		{"Reference", t.Reference},
		{"Title", orDash(t.Title)},
		{"Buyer", orDash(t.BuyerOrganization)},
		{"Location", orDash(t.Location)},
		{"Category", orDash(t.Category)},
		{"Published", normalize.FormatDateLocal(t.PublicationDate)},
		{"Deadline", deadline(t.Tender)},
		{"Estimation", normalize.FormatMoney(t.Estimation)},
		{"Guarantee", normalize.FormatMoney(t.GuaranteeDeposit)},
		{"Email", orDash(t.ContactEmail)},
		{"Phone", orDash(t.ContactPhone)},
		{"Source", orDash(t.SourceURL)},
		{"Status", string(t.Workflow.Status)},
		{"Priority", strconv.Itoa(t.Workflow.Priority)},
		{"Notes", orDash(t.Workflow.Notes)},
		{"Updated", t.UpdatedAt.Local().Format(time.DateTime)},
	}
	for _, r := range rows {
		_, _ = fmt.Fprintf(w, "%s:\t%s\n", r[0], r[1])
	}
	_ = w.Flush()
}

// formatStats writes per-status counts in workflow order.
func formatStats(out io.Writer, s model.Stats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "STATUS\tCOUNT")
	for _, st := range model.Statuses {
		_, _ = fmt.Fprintf(w, "%s\t%d\n", st, s.ByStatus[st])
	}
	_, _ = fmt.Fprintf(w, "total\t%d\n", s.Total)
	_ = w.Flush()
}

func formatHistory(out io.Writer, entries []model.SearchHistoryEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "WHEN\tKEYWORD\tRESULTS")
	for _, e := range entries {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\n", e.SearchedAt.Local().Format(time.DateTime), e.Keyword, e.ResultCount)
	}
	_ = w.Flush()
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
