package entity

import (
	"math"
	"regexp"
	"slices"
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	// knownPersonFactor scales similarity up when either side is a
	// catalogued person.
	knownPersonFactor = 1.1

	// knownFuzzyThreshold is the Levenshtein ratio above which a name counts
	// as a known person without an exact catalogue hit.
	knownFuzzyThreshold = 0.90
)

var (
	initialRe   = regexp.MustCompile(`(\w)\.\s*`)
	namePunctRe = regexp.MustCompile(`[^\w\s]`)
	nameSpaceRe = regexp.MustCompile(`\s+`)
)

// NameMatcher standardizes person names and scores their similarity on a
// 0–100 scale. It is read-only after construction and safe for concurrent
// use.
type NameMatcher struct {
	formats    []RewriteRule
	translit   map[string]string
	knownLower []string
	knownSet   map[string]struct{}
}

// NewNameMatcher builds a matcher over the given persons catalogue.
func NewNameMatcher(persons PersonsCatalogue) *NameMatcher {
	m := &NameMatcher{
		formats:  persons.NameFormats,
		translit: persons.Transliterations,
		knownSet: make(map[string]struct{}, len(persons.KnownPersons)),
	}
	for _, p := range persons.KnownPersons {
		low := strings.ToLower(strings.TrimSpace(p))
		if _, dup := m.knownSet[low]; dup {
			continue
		}
		m.knownSet[low] = struct{}{}
		m.knownLower = append(m.knownLower, low)
	}
	return m
}

// Standardize rewrites name into its canonical spelling: transliteration
// table first, then whitespace collapse, then "X." initial clusters become
// bare initials, then each catalogue rewrite rule in order.
func (m *NameMatcher) Standardize(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	if canonical, ok := m.translit[strings.ToLower(name)]; ok {
		name = canonical
	}
	name = nameSpaceRe.ReplaceAllString(name, " ")
	name = initialRe.ReplaceAllString(name, "${1} ")
	for _, rule := range m.formats {
		name = rule.Apply(name)
	}
	return strings.TrimSpace(nameSpaceRe.ReplaceAllString(name, " "))
}

// IsKnownPerson reports whether name refers to a catalogued person, either
// by exact lowercase equality or by a Levenshtein ratio above
// [knownFuzzyThreshold].
func (m *NameMatcher) IsKnownPerson(name string) bool {
	low := strings.ToLower(strings.TrimSpace(name))
	if low == "" {
		return false
	}
	if _, ok := m.knownSet[low]; ok {
		return true
	}
	for _, known := range m.knownLower {
		if levRatio(low, known) > knownFuzzyThreshold {
			return true
		}
	}
	return false
}

// Similarity scores how alike two person names are, in [0, 100].
//
// Both names are standardized (see [NameMatcher.Standardize]) and then
// normalized (punctuation stripped, lowercased) before comparison, so
// "Prof. B. Ravi" and "B Ravi" compare equal when the catalogue rules strip
// honorifics. Equal normalized names score 100. Otherwise the names are
// split into parts and aligned positionally up to the longer length; each
// position scores 1.0 for identical parts, 0.4 when one part is a single
// initial sharing the other's first letter, and Levenshtein ratio × 0.6
// otherwise. The first and last positions weigh 1.2, middle positions 1.0.
// The weighted mean scales to 100, gains ×1.1 when either input is a known
// person, and caps at 100.
//
// Similarity is symmetric. Two empty inputs score 0.
func (m *NameMatcher) Similarity(a, b string) float64 {
	sa, sb := m.Standardize(a), m.Standardize(b)
	na, nb := normalizeName(sa), normalizeName(sb)
	if na == "" && nb == "" {
		return 0
	}
	if na == nb {
		return 100
	}

	pa, pb := strings.Fields(na), strings.Fields(nb)
	n := max(len(pa), len(pb))
	if n == 0 {
		return 0
	}

	var total, weightSum float64
	for i := range n {
		w := 1.0
		if i == 0 || i == n-1 {
			w = 1.2
		}
		var s float64
		if i < len(pa) && i < len(pb) {
			s = partSimilarity(pa[i], pb[i])
		}
		total += s * w
		weightSum += w
	}

	score := total / weightSum * 100
	if m.IsKnownPerson(sa) || m.IsKnownPerson(sb) {
		score *= knownPersonFactor
	}
	return math.Min(score, 100)
}

// partSimilarity scores one aligned name part pair in [0, 1].
func partSimilarity(x, y string) float64 {
	if x == y {
		return 1
	}
	if x == "" || y == "" {
		return 0
	}
	rx, ry := []rune(x), []rune(y)
	if (len(rx) == 1 || len(ry) == 1) && rx[0] == ry[0] {
		// Initial vs. full name, e.g. "b" ~ "bhallamudi".
		return 0.4
	}
	return levRatio(x, y) * 0.6
}

// normalizeName strips punctuation, lowercases, and collapses whitespace.
func normalizeName(s string) string {
	s = namePunctRe.ReplaceAllString(s, "")
	s = nameSpaceRe.ReplaceAllString(s, " ")
	return strings.ToLower(strings.TrimSpace(s))
}

// levRatio is a length-normalized Levenshtein similarity in [0, 1]:
// 1 for equal strings, approaching 0 as the edit distance nears the longer
// string's length.
func levRatio(a, b string) float64 {
	if a == b {
		return 1
	}
	longest := max(len([]rune(a)), len([]rune(b)))
	if longest == 0 {
		return 1
	}
	r := 1 - float64(matchr.Levenshtein(a, b))/float64(longest)
	return math.Max(r, 0)
}

// tokenSortRatio is the Levenshtein ratio of the two strings with their
// tokens lowercased, punctuation-stripped, and sorted. Word order does not
// affect the score.
func tokenSortRatio(a, b string) float64 {
	return levRatio(sortTokens(a), sortTokens(b))
}

func sortTokens(s string) string {
	fields := strings.Fields(normalizeName(s))
	slices.Sort(fields)
	return strings.Join(fields, " ")
}
