// Package resolve matches reference events and market outcomes onto the
// exchange's events and betting lines.
//
// Event pairing scores candidates on start-time proximity plus fuzzy team
// name similarity; market resolution maps each reference outcome to an
// exchange line_id, honoring point equality for spreads and totals.
package resolve

import (
	"strings"
	"unicode"
)

// normalizeName lowercases, strips punctuation, and collapses whitespace so
// "St. Louis  Cardinals" and "st louis cardinals" compare equal.
func normalizeName(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
		// Punctuation is dropped entirely.
	}
	return strings.TrimSpace(b.String())
}

// insignificantWords are too generic to count as a meaningful overlap
// between two team names.
var insignificantWords = map[string]bool{
	"fc": true, "sc": true, "the": true, "of": true, "de": true,
	"city": true, "united": true, "club": true, "team": true,
}

func significantWord(w string) bool {
	return len(w) >= 3 && !insignificantWords[w]
}

// nameSimilarity scores two already-normalized names in [0, 1].
//
//	1.00  exact match
//	0.95  one is a substring of the other
//	else  Jaccard over word sets, boosted by 0.2 (capped at 0.95) when any
//	      significant word overlaps; character similarity as a floor.
func nameSimilarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1.0
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return 0.95
	}

	aWords := strings.Fields(a)
	bWords := strings.Fields(b)
	score := jaccard(aWords, bWords)

	if hasSignificantOverlap(aWords, bWords) {
		score += 0.2
		if score > 0.95 {
			score = 0.95
		}
	}

	if cs := charSimilarity(a, b); cs > score {
		score = cs
	}
	return score
}

func jaccard(a, b []string) float64 {
	set := make(map[string]bool, len(a))
	for _, w := range a {
		set[w] = true
	}
	union := make(map[string]bool, len(a)+len(b))
	for _, w := range a {
		union[w] = true
	}
	inter := 0
	for _, w := range b {
		if set[w] {
			inter++
			delete(set, w) // count each shared word once
		}
		union[w] = true
	}
	if len(union) == 0 {
		return 0
	}
	return float64(inter) / float64(len(union))
}

func hasSignificantOverlap(a, b []string) bool {
	set := make(map[string]bool, len(a))
	for _, w := range a {
		if significantWord(w) {
			set[w] = true
		}
	}
	for _, w := range b {
		if set[w] {
			return true
		}
	}
	return false
}

// charSimilarity is a crude fallback: the fraction of characters the two
// strings share, counting multiplicity.
func charSimilarity(a, b string) float64 {
	counts := make(map[rune]int)
	for _, r := range a {
		counts[r]++
	}
	common := 0
	for _, r := range b {
		if counts[r] > 0 {
			counts[r]--
			common++
		}
	}
	total := len([]rune(a)) + len([]rune(b))
	if total == 0 {
		return 0
	}
	return float64(2*common) / float64(total)
}
