package scrape

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/safkaty/safkaty/internal/normalize"
)

// maxValueLines bounds how far below a label the scanner looks for its value.
const maxValueLines = 10

// Label patterns run against folded text (lowercase, no accents, ASCII
// apostrophes) and are anchored at the start of a line.
var (
	knownLabelRe = regexp.MustCompile(`^(?:references?|objet|acheteur public|lieu|date et heure|date limite|date de mise en ligne|date de publication|estimation|montant estim\w*|caution|garantie provisoire|categorie|procedure|type d'annonce|allotissement|adresse electronique|contact|telephone|fax)\b`)
	genericLabelRe = regexp.MustCompile(`^\pL[^:]{0,80}:`)
	lotHeaderRe    = regexp.MustCompile(`(?i)^lot\s*(?:n\s*[°o]\s*)?(\d+)\b(?:\s*[:\-–—]\s*(.*))?$`)
	parentheticRe  = regexp.MustCompile(`^\([^)]*\)`)
	bareNumberRe   = regexp.MustCompile(`^[0-9][0-9 .,\x{00A0}\x{202F}]*$`)
)

type scanState int

const (
	seekingLabel scanState = iota
	capturingValue
)

// labelScanner finds the value belonging to a label in a flattened page.
// The value is either on the label line after ':' or on the following lines
// up to the next label, a lot header, a blank line or the line window.
//
// With accept set, each candidate is passed through it and the first
// non-empty result wins (used for amounts). Without it, consecutive value
// lines are joined with a space.
type labelScanner struct {
	label  *regexp.Regexp
	accept func(string) string
}

func (s labelScanner) scan(lines []string) string {
	state := seekingLabel
	var parts []string
	window := 0

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		switch state {
		case seekingLabel:
			rest, ok := s.matchLabel(line)
			if !ok {
				continue
			}
			if v, ok := inlineValue(rest); ok {
				if v = s.take(v); v != "" {
					return v
				}
			}
			state, parts, window = capturingValue, nil, 0

		case capturingValue:
			window++
			trimmed := strings.TrimSpace(line)
			folded := normalize.Fold(trimmed)
			stop := trimmed == "" || window > maxValueLines || lotHeaderRe.MatchString(trimmed) ||
				knownLabelRe.MatchString(folded) ||
				((s.accept != nil || len(parts) > 0) && genericLabelRe.MatchString(folded))
			if stop {
				if len(parts) > 0 {
					return strings.Join(parts, " ")
				}
				// Nothing captured; this occurrence had no value. Re-examine
				// the stopping line as a possible later occurrence.
				state = seekingLabel
				if trimmed != "" && window <= maxValueLines {
					i--
				}
				continue
			}
			if isDash(trimmed) || trimmed == ":" {
				continue
			}
			trimmed = strings.TrimSpace(strings.TrimPrefix(trimmed, ":"))
			if trimmed == "" {
				continue
			}
			if s.accept != nil {
				if v := s.accept(trimmed); v != "" {
					return v
				}
				continue
			}
			parts = append(parts, trimmed)
		}
	}
	return strings.Join(parts, " ")
}

// matchLabel reports whether line starts with the label and returns the text
// following it.
func (s labelScanner) matchLabel(line string) (string, bool) {
	folded := normalize.Fold(line)
	loc := s.label.FindStringIndex(folded)
	if loc == nil || loc[0] != 0 {
		return "", false
	}
	n := utf8.RuneCountInString(folded[:loc[1]])
	return line[normalize.RunePrefixLen(line, n):], true
}

func (s labelScanner) take(v string) string {
	if s.accept != nil {
		return s.accept(v)
	}
	return v
}

// inlineValue extracts a same-line value from the text after a label:
// "(en Dhs TTC) : 400 200,00" gives "400 200,00".
func inlineValue(rest string) (string, bool) {
	rest = strings.TrimSpace(rest)
	rest = strings.TrimSpace(parentheticRe.ReplaceAllString(rest, ""))
	if rest == "" {
		return "", false
	}
	if after, ok := strings.CutPrefix(rest, ":"); ok {
		after = strings.TrimSpace(after)
		return after, after != ""
	}
	// "de la consultation : X" keeps what follows the colon, but a colon
	// preceded by digits belongs to a time of day.
	if i := strings.Index(rest, ":"); i >= 0 && !strings.ContainsAny(rest[:i], "0123456789") {
		after := strings.TrimSpace(rest[i+1:])
		return after, after != ""
	}
	return rest, true
}

func isDash(s string) bool {
	switch s {
	case "-", "—", "–":
		return true
	}
	return false
}

func scanText(lines []string, label *regexp.Regexp) string {
	return labelScanner{label: label}.scan(lines)
}

// scanMoney returns the first money-looking value for label. With
// assumeCurrency, a value that is nothing but a number is taken to be in
// dirhams.
func scanMoney(lines []string, label *regexp.Regexp, assumeCurrency bool) string {
	accept := normalize.MoneyCandidate
	if assumeCurrency {
		accept = func(v string) string {
			if bareNumberRe.MatchString(v) {
				v = normalize.EnsureCurrency(v)
			}
			return normalize.MoneyCandidate(v)
		}
	}
	return labelScanner{label: label, accept: accept}.scan(lines)
}
