package normalize

import (
	"regexp"
	"strings"
	"time"
)

const isoLayout = "2006-01-02"

var (
	dmyRe       = regexp.MustCompile(`(\d{2})/(\d{2})/(\d{4})`)
	dmyBoundRe  = regexp.MustCompile(`\b(\d{2})/(\d{2})/(\d{4})\b`)
	isoRe       = regexp.MustCompile(`(\d{4})-(\d{2})-(\d{2})`)
	clockTimeRe = regexp.MustCompile(`\b(\d{1,2}:\d{2})\b`)
)

// ParseDate finds the first dd/mm/yyyy (optionally followed by a time) or
// yyyy-mm-dd date in s and returns it as yyyy-mm-dd.
func ParseDate(s string) (string, bool) {
	if m := dmyRe.FindStringSubmatch(s); m != nil {
		if iso, ok := validISO(m[3], m[2], m[1]); ok {
			return iso, true
		}
	}
	if m := isoRe.FindStringSubmatch(s); m != nil {
		if iso, ok := validISO(m[1], m[2], m[3]); ok {
			return iso, true
		}
	}
	return "", false
}

// AllDates returns every standalone dd/mm/yyyy date in s as yyyy-mm-dd, in
// order of appearance.
func AllDates(s string) []string {
	var out []string
	for _, m := range dmyBoundRe.FindAllStringSubmatch(s, -1) {
		if iso, ok := validISO(m[3], m[2], m[1]); ok {
			out = append(out, iso)
		}
	}
	return out
}

// ExtractTime returns the first standalone H:MM or HH:MM in s.
func ExtractTime(s string) string {
	m := clockTimeRe.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	return m[1]
}

// FormatDateLocal renders yyyy-mm-dd as dd/mm/yyyy. Empty input yields the
// placeholder; anything that is not an ISO date is returned unchanged.
func FormatDateLocal(iso string) string {
	if iso == "" {
		return Placeholder
	}
	parts := strings.Split(iso, "-")
	if len(parts) != 3 {
		return iso
	}
	return parts[2] + "/" + parts[1] + "/" + parts[0]
}

func validISO(yyyy, mm, dd string) (string, bool) {
	iso := yyyy + "-" + mm + "-" + dd
	if _, err := time.Parse(isoLayout, iso); err != nil {
		return "", false
	}
	return iso, true
}
