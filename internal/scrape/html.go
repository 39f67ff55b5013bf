// Package scrape turns portal HTML into tender fields: search result rows,
// detail page fields and the per-lot breakdown of the lots popup. Extraction
// is heuristic and never fails on unexpected markup; missing values come back
// empty.
package scrape

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/safkaty/safkaty/internal/normalize"
)

// Marker substrings of the portal's detail and lots popup links.
const (
	detailMarker = "EntrepriseDetailsConsultation"
	refMarker    = "refConsultation="
	popupMarker  = "PopUpDetailLots"
)

func parseDoc(page string) *goquery.Document {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		// html.Parse only fails on reader errors; a strings.Reader has none.
		return goquery.NewDocumentFromNode(&html.Node{Type: html.DocumentNode})
	}
	return doc
}

// textLines flattens the selection into one line per text segment, in
// document order. Lines are NFC-normalized with whitespace collapsed; empty
// lines are dropped. Script and style contents are skipped.
func textLines(sel *goquery.Selection) []string {
	var out []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			for _, seg := range strings.Split(n.Data, "\n") {
				if ln := normalize.Whitespace(normalize.NFC(seg)); ln != "" {
					out = append(out, ln)
				}
			}
			return
		case html.ElementNode:
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Template:
				return
			}
		case html.CommentNode:
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}
	return out
}

func isDetailHref(href string) bool {
	return strings.Contains(href, detailMarker) && strings.Contains(href, refMarker)
}

// AbsURL resolves href against the portal base URL. Absolute hrefs are
// returned unchanged; relative ones are taken from the portal root.
func AbsURL(baseURL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	base, err := url.Parse(strings.TrimRight(baseURL, "/") + "/")
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(href, "/")
	}
	return base.ResolveReference(ref).String()
}

// DetailLinks returns the de-duplicated absolute detail URLs on the page,
// in document order.
func DetailLinks(page, baseURL string) []string {
	doc := parseDoc(page)
	seen := make(map[string]bool)
	var out []string
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if !isDetailHref(href) {
			return
		}
		u := AbsURL(baseURL, href)
		if !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	})
	return out
}

// CountDetailLinks counts detail anchors (duplicates included). Used to
// pick the better of two search endpoints.
func CountDetailLinks(page string) int {
	n := 0
	parseDoc(page).Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		if href, _ := a.Attr("href"); isDetailHref(href) {
			n++
		}
	})
	return n
}
