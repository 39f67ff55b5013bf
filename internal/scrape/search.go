package scrape

import (
	"regexp"
	"slices"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/safkaty/safkaty/internal/model"
	"github.com/safkaty/safkaty/internal/normalize"
)

// Row is one search result, before enrichment. Dates are ISO.
type Row struct {
	Reference       string
	Title           string
	Organization    string
	Location        string
	PublicationDate string
	DeadlineDate    string
	DeadlineTime    string
	DetailURL       string

	// Estimation and Caution are only set on rows produced by ExpandLots.
	Estimation *float64
	Caution    *float64
	Lots       []model.Lot
}

// denylist holds folded phrases of portal action links and boilerplate
// that share the result rows with tender data.
var denylist = []string{
	"infosite",
	"conditions d'utilisation",
	"conditions dutilisation",
	"pre requis",
	"prerequis",
	"pre-requis",
	"acceder a la consultation",
	"tester la configuration",
	"ajouter au panier",
	"reponse electronique",
	"signature electronique",
	"pas de reponse electronique",
	"nouvelle recherche",
	"actions",
}

var (
	objetSplitRe = regexp.MustCompile(`(?i)\bObjet\b\s*:`)
	objetRe      = regexp.MustCompile(`(?i)Objet\s*:\s*(.+)`)
	buyerRe      = regexp.MustCompile(`(?i)Acheteur\s+public\s*:\s*(.+)`)
	capsLineRe   = regexp.MustCompile(`^[A-ZÀ-Ü\s'\-]{3,}$`)
	refTokenRe   = regexp.MustCompile(`[^A-Za-z0-9/_-]`)

	// Reference shapes seen on the portal, most specific first:
	// 34/BP/2025, TC4129613/2025/ONEEBELEC, 336/2025/SRMCS, 21/DAAF/2025,
	// 08/2026.
	referenceRes = []*regexp.Regexp{
		regexp.MustCompile(`\b\d{1,6}/[A-Z]{1,10}/\d{4}\b`),
		regexp.MustCompile(`\b[A-Z0-9]{1,20}/\d{4}/[A-Z0-9_-]+\b`),
		regexp.MustCompile(`\b\d{1,6}/\d{4}/[A-Z0-9_-]+\b`),
		regexp.MustCompile(`\b\d{1,6}/[A-Z0-9_-]{2,20}/\d{4}\b`),
		regexp.MustCompile(`\b\d{1,6}/\d{4}\b`),
	}
)

// IsDenylisted reports whether line contains one of the portal's action or
// boilerplate phrases, ignoring case and accents.
func IsDenylisted(line string) bool {
	k := normalize.Key(line)
	for _, phrase := range denylist {
		if strings.Contains(k, phrase) {
			return true
		}
	}
	return false
}

// ParseSearch extracts the result rows of a search page in page order. Only
// table rows holding a detail link are considered; everything else on the
// page is ignored.
func ParseSearch(page, baseURL string) []Row {
	doc := parseDoc(page)

	var rows []Row
	doc.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		anchor := firstDetailAnchor(tr)
		if anchor == nil {
			return
		}
		// Nested layout tables: only the innermost matching row counts.
		nested := false
		tr.Find("tr").EachWithBreak(func(_ int, inner *goquery.Selection) bool {
			if firstDetailAnchor(inner) != nil {
				nested = true
			}
			return !nested
		})
		if nested {
			return
		}

		href, _ := anchor.Attr("href")
		rows = append(rows, parseRow(tr, anchor, AbsURL(baseURL, href)))
	})

	return ExpandLots(rows)
}

func firstDetailAnchor(sel *goquery.Selection) *goquery.Selection {
	var found *goquery.Selection
	sel.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		if href, _ := a.Attr("href"); isDetailHref(href) {
			found = a
			return false
		}
		return true
	})
	return found
}

func parseRow(tr, anchor *goquery.Selection, detailURL string) Row {
	var lines []string
	for _, ln := range textLines(tr) {
		if ln == "-" || IsDenylisted(ln) {
			continue
		}
		lines = append(lines, ln)
	}
	full := strings.Join(lines, "\n")

	row := Row{
		Reference: extractReference(full),
		Location:  pickLocation(lines),
		DetailURL: detailURL,
	}

	if m := objetRe.FindStringSubmatch(full); m != nil {
		row.Title = normalize.Whitespace(m[1])
	} else {
		row.Title = normalize.Whitespace(anchor.Text())
	}

	if m := buyerRe.FindStringSubmatch(full); m != nil {
		if org := normalize.Whitespace(m[1]); !IsDenylisted(org) {
			row.Organization = org
		}
	}

	var dates []string
	for _, ln := range lines {
		dates = append(dates, normalize.AllDates(ln)...)
		if row.DeadlineTime == "" {
			row.DeadlineTime = normalize.ExtractTime(ln)
		}
	}
	if len(dates) > 0 {
		row.PublicationDate = slices.Min(dates)
		row.DeadlineDate = slices.Max(dates)
	}

	return row
}

// extractReference looks for a reference code in the text before "Objet :",
// falling back to the sanitized first token.
func extractReference(full string) string {
	text := full
	if loc := objetSplitRe.FindStringIndex(full); loc != nil {
		text = full[:loc[0]]
	}
	for _, re := range referenceRes {
		if m := re.FindString(text); m != "" {
			return m
		}
	}
	first, _, _ := strings.Cut(strings.TrimSpace(text), "\n")
	fields := strings.Fields(first)
	if len(fields) == 0 {
		return ""
	}
	return refTokenRe.ReplaceAllString(fields[0], "")
}

func isShortPlain(ln string) bool {
	n := utf8.RuneCountInString(ln)
	return n >= 2 && n <= 80 && !strings.Contains(ln, ":")
}

// pickLocation guesses the execution location of a result row: first the
// short line following the buyer, then the best all-caps line, then the last
// short unlabelled line.
func pickLocation(lines []string) string {
	for i, ln := range lines {
		if !strings.Contains(normalize.Key(ln), "acheteur public") {
			continue
		}
		for j := i + 1; j < len(lines) && j <= i+5; j++ {
			if c := lines[j]; isShortPlain(c) && !IsDenylisted(c) {
				return c
			}
		}
	}

	type candidate struct {
		score int
		line  string
	}
	var cands []candidate
	for _, ln := range lines {
		if IsDenylisted(ln) || strings.Contains(ln, ":") || utf8.RuneCountInString(ln) > 80 {
			continue
		}
		score := 0
		if strings.ToUpper(ln) == ln && strings.IndexFunc(ln, unicode.IsLetter) >= 0 {
			score += 3
		}
		if capsLineRe.MatchString(ln) {
			score += 2
		}
		if n := len(strings.Fields(ln)); n >= 1 && n <= 5 {
			score++
		}
		if score >= 3 {
			cands = append(cands, candidate{score, ln})
		}
	}
	if len(cands) > 0 {
		slices.SortStableFunc(cands, func(a, b candidate) int {
			if a.score != b.score {
				return b.score - a.score
			}
			return utf8.RuneCountInString(a.line) - utf8.RuneCountInString(b.line)
		})
		return cands[0].line
	}

	for i := len(lines) - 1; i >= 0; i-- {
		if ln := lines[i]; isShortPlain(ln) && !IsDenylisted(ln) {
			return ln
		}
	}
	return ""
}

// ExpandLots replaces every row carrying lots with one row per lot. The lot
// rows share the parent's fields, with the reference suffixed " | Lot N" and
// the lot's amounts, falling back to the parent's. Result pages seen so far
// never list lots inline, so on live pages this returns rows unchanged; lots
// normally arrive through the detail page and merge in the acquire package.
func ExpandLots(rows []Row) []Row {
	out := make([]Row, 0, len(rows))
	for _, r := range rows {
		if len(r.Lots) == 0 {
			out = append(out, r)
			continue
		}
		for _, lot := range r.Lots {
			lr := r
			lr.Lots = nil
			lr.Reference = r.Reference + " | Lot " + strconv.Itoa(lot.Number)
			if lot.Estimation != nil {
				lr.Estimation = lot.Estimation
			}
			if lot.Caution != nil {
				lr.Caution = lot.Caution
			}
			out = append(out, lr)
		}
	}
	return out
}
