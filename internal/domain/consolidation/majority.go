// Package consolidation reduces repeated structured-extraction passes to a
// single record by per-field majority vote.
package consolidation

import (
	"github.com/turtacn/Opposition-Intelligence/pkg/types/trademark"
)

// MajorityVote consolidates passes field by field. For each name in fields
// the most frequent non-empty value wins. A field is unresolved when no pass
// produced a value or when two or more values share the top count; the first
// value is never picked on a tie. Passes are compared by value only, so the
// order in which they arrive does not matter.
func MajorityVote(passes []map[string]string, fields []string) map[string]trademark.FieldValue {
	out := make(map[string]trademark.FieldValue, len(fields))
	for _, name := range fields {
		counts := make(map[string]int)
		for _, p := range passes {
			if v, ok := p[name]; ok && v != "" {
				counts[v]++
			}
		}
		out[name] = pick(counts, len(passes))
	}
	return out
}

func pick(counts map[string]int, passes int) trademark.FieldValue {
	best, bestN, tied := "", 0, false
	for v, n := range counts {
		switch {
		case n > bestN:
			best, bestN, tied = v, n, false
		case n == bestN:
			tied = true
		}
	}
	if bestN == 0 || tied {
		return trademark.FieldValue{Votes: bestN, Passes: passes, Unresolved: true}
	}
	return trademark.FieldValue{Value: best, Votes: bestN, Passes: passes}
}

// UnresolvedCount returns the number of unresolved fields in fv.
func UnresolvedCount(fv map[string]trademark.FieldValue) int {
	n := 0
	for _, v := range fv {
		if v.Unresolved {
			n++
		}
	}
	return n
}
