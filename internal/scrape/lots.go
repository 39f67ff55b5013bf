package scrape

import (
	"html"
	"net/url"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/safkaty/safkaty/internal/model"
	"github.com/safkaty/safkaty/internal/normalize"
)

var (
	lotEstimationRe = regexp.MustCompile(`^estimation\b`)
	lotCautionRe    = regexp.MustCompile(`^caution provisoire\b`)
	lotCategoryRe   = regexp.MustCompile(`^categorie\b`)
	categoryWordRe  = regexp.MustCompile(`^(?:services|travaux|fournitures)\b`)

	popupOnclickRe = regexp.MustCompile(`(index\.php\?page=commun\.PopUpDetailLots[^'"]+)`)
	popupRawRe     = regexp.MustCompile(`(index\.php\?page=commun\.PopUpDetailLots[^'"\s>]+)`)
)

// discoverPopup finds the lots popup link on a detail page: an anchor href
// first, then an onclick handler, then anywhere in the raw HTML.
func discoverPopup(doc *goquery.Document, page string) string {
	var href string
	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		if h, _ := a.Attr("href"); strings.Contains(h, popupMarker) {
			href = h
			return false
		}
		return true
	})
	if href != "" {
		return href
	}

	doc.Find("[onclick]").EachWithBreak(func(_ int, el *goquery.Selection) bool {
		onclick, _ := el.Attr("onclick")
		if m := popupOnclickRe.FindStringSubmatch(onclick); m != nil {
			href = m[1]
			return false
		}
		return true
	})
	if href != "" {
		return href
	}

	if m := popupRawRe.FindStringSubmatch(page); m != nil {
		return html.UnescapeString(m[1])
	}
	return ""
}

// popupCandidates rebuilds lots popup URLs from the detail URL's query when
// the page links none. The portal has spelled the organisation parameter
// both orgAcronyme and orgAccronyme, so each spelling is tried.
func popupCandidates(baseURL, detailURL string) []string {
	u, err := url.Parse(detailURL)
	if err != nil {
		return nil
	}
	q := u.Query()
	ref := firstParam(q, "refConsultation", "refconsultation")
	org := firstParam(q, "orgAcronyme", "orgacronyme", "orgAccronyme")
	if ref == "" || org == "" {
		return nil
	}
	lang := strings.TrimSpace(q.Get("lang"))
	if lang == "" {
		lang = "fr"
	}

	variants := [][]string{
		{"orgAcronyme", "orgAccronyme"},
		{"orgAccronyme"},
		{"orgAcronyme"},
	}
	out := make([]string, 0, len(variants))
	for _, names := range variants {
		params := url.Values{
			"page":            {"commun.PopUpDetailLots"},
			"refConsultation": {ref},
			"code":            {q.Get("code")},
			"retraits":        {q.Get("retraits")},
			"lang":            {lang},
		}
		for _, n := range names {
			params.Set(n, org)
		}
		out = append(out, strings.TrimRight(baseURL, "/")+"/index.php?"+params.Encode())
	}
	return out
}

func firstParam(q url.Values, names ...string) string {
	for _, n := range names {
		if v := q.Get(n); v != "" {
			return v
		}
	}
	return ""
}

// ParsePopup reads the per-lot breakdown from the lots popup. The text is
// split at "Lot N" header lines; each block yields a title and its
// estimation and caution. Amounts without a currency are taken to be in
// dirhams. Without any header the whole popup is an implicit lot 1, which
// falls back to the page's own amounts (topEst, topCau) when the popup has
// none. Lots are returned in lot-number order.
func ParsePopup(page string, topEst, topCau *float64) []model.Lot {
	lines := textLines(parseDoc(page).Selection)

	var lots []model.Lot
	var (
		current = -1
		header  string
		block   []string
	)
	flush := func() {
		if current < 0 {
			return
		}
		title := header
		if title == "" {
			title = lotTitle(block)
		}
		est := lotAmount(block, lotEstimationRe)
		cau := lotAmount(block, lotCautionRe)
		if est != nil || cau != nil || title != "" {
			lots = append(lots, model.Lot{Number: current, Title: title, Estimation: est, Caution: cau})
		}
		current, header, block = -1, "", nil
	}

	for _, ln := range lines {
		if m := lotHeaderRe.FindStringSubmatch(ln); m != nil {
			flush()
			current, _ = strconv.Atoi(m[1])
			header = normalize.Whitespace(m[2])
			continue
		}
		if current >= 0 {
			block = append(block, ln)
		}
	}
	flush()

	if len(lots) == 0 {
		est := lotAmount(lines, lotEstimationRe)
		cau := lotAmount(lines, lotCautionRe)
		if est == nil && cau == nil {
			est, cau = topEst, topCau
		}
		if est != nil || cau != nil {
			lots = []model.Lot{{Number: 1, Estimation: est, Caution: cau}}
		}
	}

	slices.SortStableFunc(lots, func(a, b model.Lot) int { return a.Number - b.Number })
	return lots
}

func lotAmount(lines []string, label *regexp.Regexp) *float64 {
	v := scanMoney(lines, label, false)
	if v == "" {
		return nil
	}
	return normalize.ParseMoneyPtr(normalize.EnsureCurrency(v))
}

// lotTitle is the first meaningful line of a lot block before its category.
func lotTitle(block []string) string {
	for _, ln := range block {
		folded := normalize.Fold(ln)
		if lotCategoryRe.MatchString(folded) {
			break
		}
		if isDash(ln) || categoryWordRe.MatchString(folded) || knownLabelRe.MatchString(folded) {
			continue
		}
		return ln
	}
	return ""
}
