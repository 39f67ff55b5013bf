package normalize

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Placeholder is displayed for a missing amount or date.
const Placeholder = "—"

// maxMoneyDigits is the digit ceiling above which a number is taken to be an
// identifier or a concatenation rather than an amount.
const maxMoneyDigits = 15

var (
	currencyRe   = regexp.MustCompile(`(?i)(dirhams?|dhs|dh|mad)`)
	numberRe     = regexp.MustCompile(`-?\d+(?:\.\d+)?`)
	candidateRe  = regexp.MustCompile(`(?i)([0-9][0-9 \t.,\x{00A0}\x{202F}]*)(?:\s*(DHS|DH|MAD)\b)?`)
	nonDigitRe   = regexp.MustCompile(`[^0-9]`)
	decimalSepRe = regexp.MustCompile(`\d[.,]\d`)

	moneyPrinter = message.NewPrinter(language.English)
)

// HasCurrency reports whether s carries a currency token (DH, DHS, MAD, Dirham).
func HasCurrency(s string) bool {
	return currencyRe.MatchString(s)
}

// ParseMoney parses a portal amount such as "400 200,00 DH" or
// "120000.00 MAD". A single comma is a decimal separator (dots are then
// thousands separators). Bare digit runs with neither a decimal separator
// nor a currency token are rejected as likely phone numbers. The digit
// ceiling for free text lives in MoneyCandidate.
func ParseMoney(s string) (float64, bool) {
	t := strings.NewReplacer("\u00a0", " ", "\u202f", " ").Replace(s)
	hasCurrency := currencyRe.MatchString(t)
	t = currencyRe.ReplaceAllString(t, "")
	t = strings.Join(strings.Fields(t), "")

	if !strings.ContainsAny(t, ".,") && !hasCurrency {
		return 0, false
	}
	if strings.Count(t, ",") == 1 {
		t = strings.ReplaceAll(t, ".", "")
		t = strings.Replace(t, ",", ".", 1)
	}

	m := numberRe.FindString(t)
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// ParseMoneyPtr is ParseMoney returning nil for "none".
func ParseMoneyPtr(s string) *float64 {
	v, ok := ParseMoney(s)
	if !ok {
		return nil
	}
	return &v
}

// MoneyCandidate scans free text (typically a lots popup line) for the first
// amount-looking substring. Candidates must carry a decimal separator or an
// explicit currency and at most 15 digits. The returned string keeps the
// portal's formatting plus its currency, e.g. "12 000,00 DH".
func MoneyCandidate(text string) string {
	text = Whitespace(text)
	for _, m := range candidateRe.FindAllStringSubmatch(text, -1) {
		raw := m[1]
		cur := strings.ToUpper(strings.TrimSpace(m[2]))
		if !decimalSepRe.MatchString(raw) && cur == "" {
			continue
		}
		if len(nonDigitRe.ReplaceAllString(raw, "")) > maxMoneyDigits {
			continue
		}
		out := strings.TrimRight(Whitespace(raw), ".,")
		if out == "" {
			continue
		}
		if cur != "" {
			out += " " + cur
		}
		return out
	}
	return ""
}

// EnsureCurrency appends the portal's default "DH" suffix to a non-empty
// amount that carries no currency token.
func EnsureCurrency(s string) string {
	s = Whitespace(s)
	if s == "" || HasCurrency(s) {
		return s
	}
	return s + " DH"
}

// FormatMoney renders an amount as "400 200.00 MAD", or the placeholder for nil.
func FormatMoney(v *float64) string {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return Placeholder
	}
	s := moneyPrinter.Sprintf("%.2f", *v)
	return strings.ReplaceAll(s, ",", " ") + " MAD"
}
