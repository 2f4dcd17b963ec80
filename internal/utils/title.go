package utils

import (
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NormalizeTitle trims and case-folds a title so that equal titles compare equal
func NormalizeTitle(title string) string {
	return cases.Fold().String(strings.TrimSpace(title))
}

// SearchKey reduces a title to lowercase letters and digits without accents, for fuzzy comparison
func SearchKey(title string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, title)
	if err != nil {
		stripped = title
	}

	var b strings.Builder
	lastSpace := true
	for _, r := range cases.Fold().String(stripped) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case !lastSpace:
			b.WriteByte(' ')
			lastSpace = true
		}
	}
	return strings.TrimSpace(b.String())
}

// TitleSimilarity returns a score in [0,1], 1 meaning identical search keys
func TitleSimilarity(a, b string) float64 {
	ka, kb := SearchKey(a), SearchKey(b)
	if ka == "" && kb == "" {
		return 1
	}
	maxLen := len([]rune(ka))
	if l := len([]rune(kb)); l > maxLen {
		maxLen = l
	}
	distance := levenshtein.ComputeDistance(ka, kb)
	return 1 - float64(distance)/float64(maxLen)
}

// Truncate returns at most n runes of s
func Truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
