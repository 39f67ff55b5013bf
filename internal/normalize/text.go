// Package normalize holds the pure string helpers shared by the scraper and
// the store: whitespace collapsing, accent folding, money and date parsing.
package normalize

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Whitespace collapses runs of whitespace (including U+00A0 and U+202F) to a
// single ASCII space and trims both ends.
func Whitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// NFC returns s in canonical composed form so that folded text keeps one
// rune per visible character.
func NFC(s string) string {
	return norm.NFC.String(s)
}

// Fold lowercases s, strips diacritics and maps typographic apostrophes to
// ASCII. The result has exactly as many runes as s, so a rune offset found
// in the folded string is valid in the original.
func Fold(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		b.WriteRune(foldRune(r))
	}
	return b.String()
}

func foldRune(r rune) rune {
	switch r {
	case '\u2019', '\u2018', '\u02bc', '`', '\u00b4':
		return '\''
	case '\u00a0', '\u202f':
		return ' '
	}
	if r < utf8.RuneSelf {
		return unicode.ToLower(r)
	}
	base, _ := utf8.DecodeRuneInString(norm.NFD.String(string(r)))
	return unicode.ToLower(base)
}

// Key folds s and collapses its whitespace; used for phrase comparison.
func Key(s string) string {
	return Whitespace(Fold(s))
}

// RunePrefixLen returns the byte length of the first n runes of s.
func RunePrefixLen(s string, n int) int {
	i := 0
	for n > 0 && i < len(s) {
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
		n--
	}
	return i
}
