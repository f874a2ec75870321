// Package textnorm cleans query and document text for retrieval: social
// artifacts (@handles, #tags, URLs) are stripped, whitespace is collapsed,
// and meaningful search terms are extracted with stopwords removed.
//
// All functions are stateless and never fail; empty input yields empty output.
package textnorm

import (
	"regexp"
	"strings"
)

var (
	mentionRe = regexp.MustCompile(`@\w+`)
	hashtagRe = regexp.MustCompile(`#\w+`)
	urlRe     = regexp.MustCompile(`http\S+|www\.\S+`)
	charsetRe = regexp.MustCompile(`[^a-zA-Z0-9\s.,!?-]`)
	spaceRe   = regexp.MustCompile(`\s+`)
	punctRe   = regexp.MustCompile(`[^\w\s]`)
)

// stopwords is the closed set of terms excluded from [Terms] output.
var stopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "but": {},
	"in": {}, "on": {}, "at": {}, "to": {}, "for": {},
}

// Clean normalizes s for retrieval and cache fingerprinting: mentions,
// hashtags, and URLs are removed, characters outside [A-Za-z0-9 .,!?-] are
// dropped, and whitespace runs collapse to single spaces.
//
// Clean is idempotent: applying it to already-clean text returns the text
// unchanged.
func Clean(s string) string {
	if s == "" {
		return ""
	}
	s = mentionRe.ReplaceAllString(s, "")
	s = hashtagRe.ReplaceAllString(s, "")
	s = urlRe.ReplaceAllString(s, "")
	s = charsetRe.ReplaceAllString(s, "")
	// Collapse after the removals so deletions never leave double spaces.
	s = spaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Terms extracts the meaningful search terms of s: lowercased, punctuation
// stripped, stopwords removed, first occurrence order preserved, duplicates
// dropped.
func Terms(s string) []string {
	if s == "" {
		return nil
	}
	s = punctRe.ReplaceAllString(strings.ToLower(s), "")

	var terms []string
	seen := map[string]struct{}{}
	for _, w := range strings.Fields(s) {
		if _, skip := stopwords[w]; skip {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		terms = append(terms, w)
	}
	return terms
}

// Overlap reports the fraction of query terms that also occur in doc,
// in [0, 1]. An empty query yields 0.
func Overlap(query, doc []string) float64 {
	if len(query) == 0 {
		return 0
	}
	docSet := make(map[string]struct{}, len(doc))
	for _, t := range doc {
		docSet[t] = struct{}{}
	}
	matches := 0
	for _, t := range query {
		if _, ok := docSet[t]; ok {
			matches++
		}
	}
	return float64(matches) / float64(len(query))
}
