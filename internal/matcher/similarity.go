package matcher

import (
	"strings"

	"github.com/shopspring/decimal"
	"github.com/texttheater/golang-levenshtein/levenshtein"
)

// StringSimilarity returns 1 - levenshtein(A, B) / max(len(A), len(B)) where
// A and B are the trimmed, upper-cased inputs and lengths count runes.
// Insertions, deletions and substitutions all cost 1. Two empty strings
// score 0.
func StringSimilarity(a, b string) float64 {
	return similarity(a, b).InexactFloat64()
}

func similarity(a, b string) decimal.Decimal {
	ra := []rune(strings.ToUpper(strings.TrimSpace(a)))
	rb := []rune(strings.ToUpper(strings.TrimSpace(b)))

	longest := len(ra)
	if len(rb) > longest {
		longest = len(rb)
	}
	if longest == 0 {
		return decimal.Zero
	}

	distance := levenshtein.DistanceForStrings(ra, rb, levenshtein.DefaultOptionsWithSub)
	return decimal.NewFromInt(1).Sub(decimal.NewFromInt(int64(distance)).Div(decimal.NewFromInt(int64(longest))))
}
