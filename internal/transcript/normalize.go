package transcript

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

var punctStripper = strings.NewReplacer(
	".", "", ",", "", "!", "", "?", "", ";", "", ":", "", "…", "",
)

// normalizeText lowercases, strips sentence punctuation, and
// collapses runs of whitespace to single spaces.
func normalizeText(s string) string {
	s = punctStripper.Replace(strings.ToLower(s))
	return strings.Join(strings.Fields(s), " ")
}

// tokenize splits normalized text on whitespace.
func tokenize(s string) []string {
	return strings.Fields(normalizeText(s))
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

// fuzzyTokenMatch treats two tokens as the same word when they are
// equal, or when both are longer than three runes and share their
// first four.
func fuzzyTokenMatch(a, b string) bool {
	if a == b {
		return true
	}
	ra, rb := []rune(a), []rune(b)
	if len(ra) <= 3 || len(rb) <= 3 {
		return false
	}
	return string(ra[:4]) == string(rb[:4])
}

// startMatchRatio is the fraction of f's tokens that fuzzy-match l's
// tokens position by position from the start, stopping at the first
// mismatch.
func startMatchRatio(f, l []string) float64 {
	if len(f) == 0 {
		return 0
	}
	n := 0
	for i := 0; i < len(f) && i < len(l); i++ {
		if !fuzzyTokenMatch(f[i], l[i]) {
			break
		}
		n++
	}
	return float64(n) / float64(len(f))
}

// containsAllRatio is the fraction of f's tokens that fuzzy-match any
// token of l.
func containsAllRatio(f, l []string) float64 {
	if len(f) == 0 {
		return 0
	}
	n := 0
	for _, t := range f {
		for _, u := range l {
			if fuzzyTokenMatch(t, u) {
				n++
				break
			}
		}
	}
	return float64(n) / float64(len(f))
}

func endsTerminal(s string) bool {
	s = strings.TrimSpace(s)
	r, size := utf8.DecodeLastRuneInString(s)
	if size == 0 {
		return false
	}
	return strings.ContainsRune(".!?…", r)
}

func startsUpper(s string) bool {
	r, size := utf8.DecodeRuneInString(strings.TrimSpace(s))
	if size == 0 {
		return false
	}
	return unicode.IsUpper(r)
}

func lastTokens(s string, n int) []string {
	toks := tokenize(s)
	if len(toks) > n {
		toks = toks[len(toks)-n:]
	}
	return toks
}
