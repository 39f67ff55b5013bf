package scrape

import (
	"context"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/safkaty/safkaty/internal/fetcher"
	"github.com/safkaty/safkaty/internal/model"
	"github.com/safkaty/safkaty/internal/normalize"
)

// Fetcher is the subset of the HTTP client the enricher needs.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, params url.Values, headers http.Header) (string, error)
}

// Detail holds what a detail page (and its lots popup) adds to a row.
type Detail struct {
	Reference       string
	Title           string
	Organization    string
	Location        string
	DeadlineDate    string
	DeadlineTime    string
	PublicationDate string
	Category        string
	ContactEmail    string
	ContactPhone    string
	Estimation      *float64
	Caution         *float64
	Lots            []model.Lot
}

var (
	referenceLabelRe   = regexp.MustCompile(`^references?\b`)
	titleLabelRe       = regexp.MustCompile(`^objet\b`)
	buyerLabelRe       = regexp.MustCompile(`^acheteur public\b`)
	locationLabelRe    = regexp.MustCompile(`^lieu d'execution\b`)
	deadlineLabelRe    = regexp.MustCompile(`^date (?:et heure )?limite de remise des plis\b`)
	estimationLabelRe  = regexp.MustCompile(`^(?:estimation|montant estimatif|montant estime)\b`)
	cautionLabelRe     = regexp.MustCompile(`^(?:caution provisoire|garantie provisoire|caution)\b`)
	categoryLabelRe    = regexp.MustCompile(`^categorie\b`)
	publicationLabelRe = regexp.MustCompile(`^date (?:de mise en ligne|de publication)\b`)
	emailLabelRe       = regexp.MustCompile(`^adresse electronique\b`)

	estimationLooseRe = regexp.MustCompile(`(?i)Estimation\s*(?:\([^)]*\))?\s*:?\s*([0-9][0-9 .,\x{00A0}\x{202F}]*)`)
	estimationCutRe   = regexp.MustCompile(`(?i)\bEstimation\b`)

	contactStartRe = regexp.MustCompile(`(?i)contact\s+administratif`)
	contactStopRe  = regexp.MustCompile(`(?i)\n(?:contact\s+technique|objet\s*:|acheteur\s+public|lieu\s+d['’]ex[ée]cution|date\s+et\s+heure\s+limite|lots?\b)`)
	emailRe        = regexp.MustCompile(`(?i)[A-Z0-9._%+\-]+@[A-Z0-9.\-]+\.[A-Z]{2,}`)
	phoneLabelRe   = regexp.MustCompile(`(?i)(?:Téléphone|Telephone|Tél|Tel)\s*[:\-]?\s*(\+?\d[\d \-/.]{6,})`)
	phoneLooseRe   = regexp.MustCompile(`(?:\+212\s?|\b0)[5-8](?:[ .\-]?\d){8}\b`)
)

// ParseDetail extracts the detail-page fields from page. Lots are not
// resolved here since they live behind a separate popup.
func ParseDetail(page string) *Detail {
	return parseDetail(parseDoc(page))
}

func parseDetail(doc *goquery.Document) *Detail {
	lines := textLines(doc.Selection)
	full := strings.Join(lines, "\n")

	d := &Detail{
		Reference:    scanText(lines, referenceLabelRe),
		Title:        scanText(lines, titleLabelRe),
		Organization: scanText(lines, buyerLabelRe),
		Category:     scanText(lines, categoryLabelRe),
	}

	loc := scanText(lines, locationLabelRe)
	if i := estimationCutRe.FindStringIndex(loc); i != nil {
		loc = loc[:i[0]]
	}
	d.Location = normalize.Whitespace(loc)

	if deadline := scanText(lines, deadlineLabelRe); deadline != "" {
		d.DeadlineDate, _ = normalize.ParseDate(deadline)
		d.DeadlineTime = normalize.ExtractTime(deadline)
	}
	if pub := scanText(lines, publicationLabelRe); pub != "" {
		d.PublicationDate, _ = normalize.ParseDate(pub)
	}

	est := scanMoney(lines, estimationLabelRe, true)
	if est == "" {
		if m := estimationLooseRe.FindStringSubmatch(full); m != nil {
			est = normalize.EnsureCurrency(normalize.Whitespace(m[1]))
		}
	}
	d.Estimation = normalize.ParseMoneyPtr(est)
	d.Caution = normalize.ParseMoneyPtr(scanMoney(lines, cautionLabelRe, true))

	block := contactBlock(full)
	if email := emailRe.FindString(scanText(lines, emailLabelRe)); email != "" {
		d.ContactEmail = email
	} else {
		d.ContactEmail = emailRe.FindString(block)
	}
	d.ContactPhone = findPhone(block)

	return d
}

// contactBlock narrows the page to the administrative contact section so
// footer addresses are not picked up. Without that section the whole page
// is used.
func contactBlock(full string) string {
	loc := contactStartRe.FindStringIndex(full)
	if loc == nil {
		return full
	}
	tail := full[loc[0]:]
	if stop := contactStopRe.FindStringIndex(tail); stop != nil {
		return tail[:stop[0]]
	}
	return tail
}

func findPhone(text string) string {
	if m := phoneLabelRe.FindStringSubmatch(text); m != nil {
		return strings.TrimRight(strings.TrimSpace(m[1]), "-/.")
	}
	return strings.TrimSpace(phoneLooseRe.FindString(text))
}

// Enricher fetches detail pages and their lots popups.
type Enricher struct {
	fetcher Fetcher
	baseURL string
}

// NewEnricher creates an Enricher for the portal at baseURL.
func NewEnricher(f Fetcher, baseURL string) *Enricher {
	return &Enricher{fetcher: f, baseURL: strings.TrimRight(baseURL, "/")}
}

// SearchPageURL is the Referer sent with detail page requests.
func (e *Enricher) SearchPageURL() string {
	return e.baseURL + "/index.php?page=entreprise.EntrepriseAdvancedSearch&lang=fr"
}

// Enrich fetches detailURL and extracts its fields and lots. Only a failure
// to fetch the detail page itself is an error; popup failures leave the lots
// empty.
func (e *Enricher) Enrich(ctx context.Context, detailURL string) (*Detail, error) {
	page, err := e.fetcher.Fetch(ctx, detailURL, nil, http.Header{"Referer": {e.SearchPageURL()}})
	if err != nil {
		return nil, eris.Wrapf(err, "scrape: fetch detail %s", detailURL)
	}

	doc := parseDoc(page)
	d := parseDetail(doc)
	d.Lots = e.lots(ctx, doc, page, detailURL, d)

	if len(d.Lots) == 1 {
		if d.Estimation == nil {
			d.Estimation = d.Lots[0].Estimation
		}
		if d.Caution == nil {
			d.Caution = d.Lots[0].Caution
		}
	}
	return d, nil
}

func (e *Enricher) lots(ctx context.Context, doc *goquery.Document, page, detailURL string, d *Detail) []model.Lot {
	if href := discoverPopup(doc, page); href != "" {
		lots, err := e.fetchPopup(ctx, AbsURL(e.baseURL, href), detailURL, d)
		if len(lots) > 0 {
			return lots
		}
		if fetcher.IsBlocked(err) {
			return nil
		}
	}
	for _, candidate := range popupCandidates(e.baseURL, detailURL) {
		if ctx.Err() != nil {
			break
		}
		lots, err := e.fetchPopup(ctx, candidate, detailURL, d)
		if len(lots) > 0 {
			return lots
		}
		// A blocked portal gets no further popup requests.
		if fetcher.IsBlocked(err) {
			break
		}
	}
	return nil
}

func (e *Enricher) fetchPopup(ctx context.Context, popupURL, detailURL string, d *Detail) ([]model.Lot, error) {
	page, err := e.fetcher.Fetch(ctx, popupURL, nil, http.Header{"Referer": {detailURL}})
	if err != nil {
		zap.L().Debug("lots popup fetch failed",
			zap.String("popup_url", popupURL),
			zap.Error(err),
		)
		return nil, err
	}
	return ParsePopup(page, d.Estimation, d.Caution), nil
}
