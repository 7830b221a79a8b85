package scorer

import (
	"context"
	"math"
	"strings"
	"unicode"
)

// Overlap is the lexical last-resort tier. It needs no provider and never
// fails, so every chain that ends with it always produces scores.
type Overlap struct{}

func (Overlap) Name() string { return "token_overlap" }

func (Overlap) TryScore(_ context.Context, rows []Pair) ([]float64, Meta, error) {
	scores := make([]float64, len(rows))
	for i, row := range rows {
		scores[i] = overlapScore(row.Answer, row.Truth)
	}
	return scores, Meta{}, nil
}

// overlapScore grades lexically: exact match 1.0, containment 0.8,
// otherwise the shared-token ratio banded into [0.3, 0.9], and 0.0 when
// nothing is shared.
func overlapScore(answer, truth string) float64 {
	a := normalize(answer)
	t := normalize(truth)
	if a == t {
		return 1.0
	}
	if a == "" || t == "" {
		return 0.0
	}
	if strings.Contains(a, t) || strings.Contains(t, a) {
		return 0.8
	}

	answerTokens := tokenSet(a)
	truthTokens := tokenSet(t)
	if len(truthTokens) == 0 {
		return 0.0
	}
	shared := 0
	for token := range answerTokens {
		if truthTokens[token] {
			shared++
		}
	}
	if shared == 0 {
		return 0.0
	}
	return math.Min(0.9, math.Max(0.3, float64(shared)/float64(len(truthTokens))))
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, token := range strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		set[token] = true
	}
	return set
}
