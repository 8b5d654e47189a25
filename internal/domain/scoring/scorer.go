// Package scoring holds the deterministic visual and aural mark scores.
//
// Both scores are normalized Levenshtein similarities: 1 - d(a,b)/max(|a|,|b|)
// with lengths counted in runes. The visual score compares the marks as
// written (case-sensitive). The aural score compares Double Metaphone codes.
package scoring

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

// VisualScore returns the normalized edit similarity of a and b.
func VisualScore(a, b string) float64 {
	return normalized(a, b)
}

// AuralScore returns the best normalized edit similarity across the phonetic
// codes of a and b. Marks with no encodable letters fall back to VisualScore.
func AuralScore(a, b string) float64 {
	ca, cb := PhoneticCodes(a), PhoneticCodes(b)
	if len(ca) == 0 && len(cb) == 0 {
		return VisualScore(a, b)
	}
	if len(ca) == 0 || len(cb) == 0 {
		return 0
	}
	best := 0.0
	for _, x := range ca {
		for _, y := range cb {
			if s := normalized(x, y); s > best {
				best = s
			}
		}
	}
	return best
}

// MaxCodeCombinations bounds how many joined codes PhoneticCodes returns for
// one mark. Once the bound is reached, remaining words extend every
// combination with their primary code only.
const MaxCodeCombinations = 64

// PhoneticCodes encodes mark word by word and returns every distinct join of
// one code per word, so a word's primary and alternate codes are combined
// with each code of the other words. The all-primary join comes first and
// the all-alternate join is always present. Empty when no word encodes.
func PhoneticCodes(mark string) []string {
	words := strings.FieldsFunc(mark, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	var primary, alternate []string
	combos := [][]string{nil}
	for _, w := range words {
		p, s := matchr.DoubleMetaphone(w)
		if p == "" && s == "" {
			continue
		}
		if p == "" {
			p = s
		}
		if s == "" {
			s = p
		}
		primary = append(primary, p)
		alternate = append(alternate, s)

		variants := []string{p}
		if s != p && len(combos)*2 <= MaxCodeCombinations {
			variants = append(variants, s)
		}
		next := make([][]string, 0, len(combos)*len(variants))
		for _, c := range combos {
			for _, v := range variants {
				next = append(next, append(append(make([]string, 0, len(c)+1), c...), v))
			}
		}
		combos = next
	}
	if len(primary) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(combos)+1)
	out := make([]string, 0, len(combos)+1)
	add := func(code string) {
		if !seen[code] {
			seen[code] = true
			out = append(out, code)
		}
	}
	for _, c := range combos {
		add(strings.Join(c, " "))
	}
	add(strings.Join(alternate, " "))
	return out
}

func normalized(a, b string) float64 {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := la
	if lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 1.0
	}
	if a == b {
		return 1.0
	}
	d := matchr.Levenshtein(a, b)
	return clamp01(1 - float64(d)/float64(longest))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
