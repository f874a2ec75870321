package entity

import (
	"strings"

	"github.com/MrWong99/pythia/pkg/knowledge"
)

const (
	// maxChunkTokens bounds the token window scanned for multi-word entities.
	maxChunkTokens = 5

	// highConfidence is the token-sort ratio at which a non-person match wins
	// the whole extraction immediately.
	highConfidence = 0.9

	// acceptConfidence is the minimum score to keep a match as a candidate.
	acceptConfidence = 0.8
)

// nonPersonTypes are scanned with token-sort matching; PERSON uses name
// similarity instead.
var nonPersonTypes = []knowledge.EntityType{
	knowledge.Organization,
	knowledge.Location,
	knowledge.Event,
	knowledge.Title,
}

// Extractor recognises at most one catalogue entity in a query. It holds
// immutable views of the catalogue and the name matcher and is safe for
// concurrent use.
type Extractor struct {
	cat     *Catalogue
	matcher *NameMatcher
}

// NewExtractor builds an extractor over cat using matcher for person names.
func NewExtractor(cat *Catalogue, matcher *NameMatcher) *Extractor {
	return &Extractor{cat: cat, matcher: matcher}
}

// Extract returns the single best entity match for question, or nil when no
// catalogue entry matches.
//
// Matching order: the whole question is first tried verbatim against every
// category; then token windows of up to [maxChunkTokens] words are scanned
// left to right, advancing past each accepted window. An exact window hit or
// a non-person match at [highConfidence] ends the scan immediately; weaker
// candidates compete on confidence. Extract never fails.
func (e *Extractor) Extract(question string) *Match {
	q := strings.TrimSpace(question)
	if q == "" {
		return nil
	}

	// Whole-question exact pass.
	for _, t := range knowledge.EntityTypes() {
		if canonical, ok := e.cat.Lookup(t, q); ok {
			return &Match{Text: canonical, Type: t, Confidence: 1, Exact: true}
		}
	}

	words := strings.Fields(q)
	var best *Match

	i := 0
	for i < len(words) {
		advance := 1
		var accepted *Match

		for size := min(maxChunkTokens, len(words)-i); size >= 1; size-- {
			chunk := strings.Join(words[i:i+size], " ")
			m := e.matchChunk(chunk)
			if m == nil {
				continue
			}
			if m.Confidence >= 1 || (m.Type != knowledge.Person && m.Confidence >= highConfidence) {
				return m
			}
			accepted = m
			advance = size
			break
		}

		if accepted != nil && (best == nil || accepted.Confidence > best.Confidence) {
			best = accepted
		}
		i += advance
	}
	return best
}

// matchChunk scores one token window against every category. A non-person
// entry at [highConfidence] or an exact window hit returns immediately;
// otherwise the best candidate at [acceptConfidence] is returned, non-person
// categories winning ties.
func (e *Extractor) matchChunk(chunk string) *Match {
	for _, t := range knowledge.EntityTypes() {
		if canonical, ok := e.cat.Lookup(t, chunk); ok {
			return &Match{Text: canonical, Type: t, Confidence: 1}
		}
	}

	var best *Match
	for _, t := range nonPersonTypes {
		for _, entry := range e.cat.Entries(t) {
			r := tokenSortRatio(chunk, entry)
			if r >= highConfidence {
				return &Match{Text: entry, Type: t, Confidence: r}
			}
			if r >= acceptConfidence && (best == nil || r > best.Confidence) {
				best = &Match{Text: entry, Type: t, Confidence: r}
			}
		}
	}
	for _, person := range e.cat.Persons.KnownPersons {
		s := e.matcher.Similarity(chunk, person) / 100
		if s >= acceptConfidence && (best == nil || s > best.Confidence) {
			best = &Match{Text: person, Type: knowledge.Person, Confidence: s}
		}
	}
	return best
}
