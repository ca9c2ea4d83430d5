package scene

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// UnknownTag is returned when the classifier is not confident about any category.
	UnknownTag = "Unknown"

	singleTagConfidence = 0.9
	pairTagConfidence   = 0.5
)

// Capitalize upper-cases the first letter and lower-cases the rest ("living room" -> "Living room").
func Capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}

// TagsFromPrediction picks tags from one probability vector using the two best categories:
// a top score above 0.9 yields only the top category, a combined score of the top two above
// 0.5 yields both, anything less yields "Unknown".
func TagsFromPrediction(probs []float64, categories []string) []string {
	n := min(len(probs), len(categories))
	if n == 0 {
		return []string{UnknownTag}
	}

	first, second := -1, -1
	for i := range n {
		switch {
		case first < 0 || probs[i] > probs[first]:
			first, second = i, first
		case second < 0 || probs[i] > probs[second]:
			second = i
		}
	}

	top := probs[first]
	if top > singleTagConfidence {
		return []string{Capitalize(categories[first])}
	}
	if second >= 0 && top+probs[second] > pairTagConfidence {
		return []string{Capitalize(categories[first]), Capitalize(categories[second])}
	}
	if second < 0 && top > pairTagConfidence {
		return []string{Capitalize(categories[first])}
	}
	return []string{UnknownTag}
}
