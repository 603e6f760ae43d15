package match

import (
	"sort"
	"strings"

	"github.com/agext/levenshtein"
)

var levParams = levenshtein.NewParams()

// tokenSetRatio scores two strings by splitting each into a sorted set of
// word tokens and taking the best edit-distance similarity among the
// intersection and the two intersection+remainder combinations. A keyword
// whose tokens are a subset of the sentence's scores 1.0 regardless of the
// extra words, which is what makes scrambled or padded phrasings match.
func tokenSetRatio(a, b string) float64 {
	ta := tokenSet(a)
	tb := tokenSet(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	inter, onlyA, onlyB := splitSets(ta, tb)

	t0 := strings.Join(inter, " ")
	t1 := joinNonEmpty(t0, strings.Join(onlyA, " "))
	t2 := joinNonEmpty(t0, strings.Join(onlyB, " "))

	best := levenshtein.Similarity(t0, t1, levParams)
	if s := levenshtein.Similarity(t0, t2, levParams); s > best {
		best = s
	}
	if s := levenshtein.Similarity(t1, t2, levParams); s > best {
		best = s
	}
	return best
}

// tokenSet returns the sorted unique word tokens of s.
func tokenSet(s string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, tok := range wordTokenRe.FindAllString(s, -1) {
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	sort.Strings(out)
	return out
}

// splitSets partitions two sorted unique slices into their intersection and
// the elements unique to each side.
func splitSets(a, b []string) (inter, onlyA, onlyB []string) {
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			inter = append(inter, a[i])
			i++
			j++
		case a[i] < b[j]:
			onlyA = append(onlyA, a[i])
			i++
		default:
			onlyB = append(onlyB, b[j])
			j++
		}
	}
	onlyA = append(onlyA, a[i:]...)
	onlyB = append(onlyB, b[j:]...)
	return inter, onlyA, onlyB
}

func joinNonEmpty(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + " " + b
	}
}
