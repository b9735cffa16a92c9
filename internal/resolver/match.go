package resolver

import (
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
)

// normalize lowercases, strips punctuation and collapses whitespace so
// "J.  Doe" and "j doe" compare equal.
func normalize(s string) string {
	var b strings.Builder
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		default:
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// similarity scores two strings 0-100 from their edit distance over
// normalized forms. 100 means equal after normalization.
func similarity(a, b string) int {
	na, nb := normalize(a), normalize(b)
	if na == nb {
		return 100
	}
	longest := len(na)
	if len(nb) > longest {
		longest = len(nb)
	}
	if longest == 0 {
		return 0
	}
	dist := levenshtein.ComputeDistance(na, nb)
	score := 100 - (100*dist)/longest
	if score < 0 {
		score = 0
	}
	return score
}
