package acquire

import (
	"github.com/safkaty/safkaty/internal/model"
	"github.com/safkaty/safkaty/internal/scrape"
)

// merge combines a search row with its detail page. Reference and title keep
// the row's value when it has one; every other field prefers the detail
// page. A consultation with several lots becomes one tender per lot.
func merge(row scrape.Row, d *scrape.Detail) []model.Tender {
	if d == nil {
		d = &scrape.Detail{}
	}

	base := model.Tender{
		Reference:         first(row.Reference, d.Reference),
		Title:             first(row.Title, d.Title),
		Location:          first(d.Location, row.Location),
		Estimation:        firstAmount(d.Estimation, row.Estimation),
		GuaranteeDeposit:  firstAmount(d.Caution, row.Caution),
		DeadlineDate:      first(d.DeadlineDate, row.DeadlineDate),
		DeadlineTime:      first(d.DeadlineTime, row.DeadlineTime),
		BuyerOrganization: first(d.Organization, row.Organization),
		PublicationDate:   first(d.PublicationDate, row.PublicationDate),
		Category:          d.Category,
		ContactEmail:      d.ContactEmail,
		ContactPhone:      d.ContactPhone,
		SourceURL:         row.DetailURL,
	}
	base.Description = base.Title
	if base.Reference == "" {
		base.Reference = model.UnknownReference
	}

	lots := d.Lots
	if len(lots) < 2 {
		return []model.Tender{base}
	}

	out := make([]model.Tender, 0, len(lots))
	for _, lot := range lots {
		t := base
		t.Reference = model.LotReference(base.Reference, lot.Number)
		t.Title = first(lot.Title, base.Title)
		t.Estimation = lot.Estimation
		t.GuaranteeDeposit = lot.Caution
		out = append(out, t)
	}
	return out
}

func first(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstAmount(vals ...*float64) *float64 {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}
