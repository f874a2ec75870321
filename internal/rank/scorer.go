// Package rank scores retrieved chunks against a question and returns the
// best candidates in relevance order.
//
// The final score of a candidate is the sum of its vector similarity and a
// set of additive boosts: query-term overlap, hashtag and mention matches,
// entity matches, and fuzzy person name matches. Every boost records a
// human-readable reason so API consumers can see why a source ranked where
// it did.
package rank

import (
	"cmp"
	"crypto/md5"
	"fmt"
	"math"
	"slices"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/MrWong99/pythia/internal/config"
	"github.com/MrWong99/pythia/internal/entity"
	"github.com/MrWong99/pythia/internal/textnorm"
	"github.com/MrWong99/pythia/pkg/knowledge"
)

// defaultEntityMemoSize caps the document entity memo when the configuration
// leaves it unset.
const defaultEntityMemoSize = 1000

// Breakdown itemizes how one candidate's score was assembled. All components
// are additive; Final is their exact sum.
type Breakdown struct {
	// Initial is the vector similarity, 1 − min(distance, 1).
	Initial float64

	// TermBoost rewards strong query-term overlap with the chunk body.
	TermBoost float64

	// MetadataBoost rewards hashtags and mentions containing query terms.
	MetadataBoost float64

	// EntityBoost rewards document entities matching the query entity.
	EntityBoost float64

	// PersonBoost rewards fuzzy person name matches above the threshold.
	PersonBoost float64

	// Final is Initial + TermBoost + MetadataBoost + EntityBoost + PersonBoost.
	Final float64

	// Reasons lists every applied boost in "<kind>: +<amount>" form.
	Reasons []string
}

// Scored is a search hit with its assembled score attached.
type Scored struct {
	knowledge.SearchHit
	Breakdown
}

// Scorer ranks search hits for a question. It is read-only after construction
// and safe for concurrent use; the entity memo is an internally synchronized
// LRU.
type Scorer struct {
	matcher *entity.NameMatcher
	cfg     config.RankingConfig

	// boosts maps each entity category to its configured additive boost.
	// Categories without a configured boost (TITLE) are absent and score 0.
	boosts map[knowledge.EntityType]float64

	// entityMemo caches the lowercased entity view of a chunk, keyed by the
	// MD5 of its body, so repeated candidates skip the per-name normalization.
	entityMemo *lru.Cache[[16]byte, map[knowledge.EntityType][]string]
}

// NewScorer builds a [Scorer] from the ranking configuration. The entity
// boost table is fixed at construction; matcher scores person name
// similarity.
func NewScorer(matcher *entity.NameMatcher, cfg config.RankingConfig) (*Scorer, error) {
	memoSize := cfg.EntityMemoSize
	if memoSize <= 0 {
		memoSize = defaultEntityMemoSize
	}
	memo, err := lru.New[[16]byte, map[knowledge.EntityType][]string](memoSize)
	if err != nil {
		return nil, fmt.Errorf("rank: create entity memo: %w", err)
	}
	return &Scorer{
		matcher: matcher,
		cfg:     cfg,
		boosts: map[knowledge.EntityType]float64{
			knowledge.Person:       cfg.PersonBoost,
			knowledge.Organization: cfg.OrganizationBoost,
			knowledge.Location:     cfg.LocationBoost,
			knowledge.Event:        cfg.EventBoost,
		},
		entityMemo: memo,
	}, nil
}

// Rank scores every hit, drops candidates below the relevance floor,
// deduplicates identical bodies keeping the first occurrence, and returns at
// most k results in descending score order.
//
// Once k candidates are held, scoring stops early when the newest score falls
// far enough below the best one that later candidates cannot matter.
// queryEntity may be nil when the question names no catalogued entity.
func (s *Scorer) Rank(query string, queryEntity *entity.Match, hits []knowledge.SearchHit, k int) []Scored {
	queryTerms := textnorm.Terms(query)

	var (
		kept []Scored
		top  float64
	)
	seen := make(map[[16]byte]struct{}, len(hits))

	for _, hit := range hits {
		bodyHash := md5.Sum([]byte(strings.TrimSpace(hit.Chunk.Body)))
		if _, dup := seen[bodyHash]; dup {
			continue
		}
		seen[bodyHash] = struct{}{}

		scored := s.score(queryTerms, queryEntity, hit, bodyHash)
		if scored.Final < s.cfg.MinRelevanceScore {
			continue
		}
		kept = append(kept, scored)
		if scored.Final > top {
			top = scored.Final
		}
		if len(kept) >= k && scored.Final < top*s.cfg.MinRelevanceScore*4 {
			break
		}
	}

	slices.SortStableFunc(kept, func(a, b Scored) int {
		return cmp.Compare(b.Final, a.Final)
	})
	if len(kept) > k {
		kept = kept[:k]
	}
	return kept
}

// score assembles the full breakdown for a single candidate.
func (s *Scorer) score(queryTerms []string, queryEntity *entity.Match, hit knowledge.SearchHit, bodyHash [16]byte) Scored {
	b := Breakdown{Initial: 1 - math.Min(hit.Distance, 1)}

	overlap := textnorm.Overlap(queryTerms, textnorm.Terms(hit.Chunk.Body))
	if overlap >= s.cfg.MinTermMatch {
		b.TermBoost = overlap * s.cfg.ExactMatchBoost
	}

	var metaReasons []string
	b.MetadataBoost, metaReasons = s.metadataBoost(hit.Chunk.Metadata, queryTerms)
	b.Reasons = append(b.Reasons, metaReasons...)

	if queryEntity != nil {
		docEntities := s.docEntities(bodyHash, hit.Chunk)

		var entityReasons []string
		b.EntityBoost, entityReasons = s.entityBoost(queryEntity, docEntities, hit.ExactMatch)
		b.Reasons = append(b.Reasons, entityReasons...)

		if queryEntity.Type == knowledge.Person {
			var personReasons []string
			b.PersonBoost, personReasons = s.personBoost(queryEntity, docEntities[knowledge.Person])
			b.Reasons = append(b.Reasons, personReasons...)
		}
	}

	b.Final = b.Initial + b.TermBoost + b.MetadataBoost + b.EntityBoost + b.PersonBoost
	return Scored{SearchHit: hit, Breakdown: b}
}

// docEntities returns the chunk's entity lists with every name lowercased,
// memoized by body hash. Identical bodies across requests share one view.
func (s *Scorer) docEntities(bodyHash [16]byte, c knowledge.Chunk) map[knowledge.EntityType][]string {
	if view, ok := s.entityMemo.Get(bodyHash); ok {
		return view
	}
	view := make(map[knowledge.EntityType][]string, len(c.Metadata.Entities))
	for t, names := range c.Metadata.Entities {
		lowered := make([]string, len(names))
		for i, n := range names {
			lowered[i] = strings.ToLower(n)
		}
		view[t] = lowered
	}
	s.entityMemo.Add(bodyHash, view)
	return view
}

// metadataBoost rewards hashtags and mentions that contain any query term as
// a substring, case-insensitively.
func (s *Scorer) metadataBoost(meta knowledge.Metadata, queryTerms []string) (float64, []string) {
	var boost float64
	var reasons []string

	if n := countContaining(meta.Hashtags, queryTerms); n > 0 {
		tagBoost := float64(n) * s.cfg.HashtagBoost
		boost += tagBoost
		reasons = append(reasons, fmt.Sprintf("hashtags: +%.3f", tagBoost))
	}
	if n := countContaining(meta.Mentions, queryTerms); n > 0 {
		mentionBoost := float64(n) * s.cfg.MentionBoost
		boost += mentionBoost
		reasons = append(reasons, fmt.Sprintf("mentions: +%.3f", mentionBoost))
	}
	return boost, reasons
}

// entityBoost applies the configured boost for the query entity's category.
// An entity-first hit earns the boost unconditionally; otherwise each
// document entity equal to the query entity (case-insensitive) earns it.
func (s *Scorer) entityBoost(match *entity.Match, docEntities map[knowledge.EntityType][]string, exactHit bool) (float64, []string) {
	typeBoost := s.boosts[match.Type]
	if typeBoost == 0 {
		return 0, nil
	}
	label := strings.ToLower(string(match.Type))

	if exactHit {
		reason := fmt.Sprintf("exact %s match (%s): +%.3f", label, match.Text, typeBoost)
		return typeBoost, []string{reason}
	}

	var boost float64
	var reasons []string
	queryLower := strings.ToLower(match.Text)
	for _, docEnt := range docEntities[match.Type] {
		if docEnt == queryLower {
			boost += typeBoost
			reasons = append(reasons, fmt.Sprintf("%s match (%s): +%.3f", label, docEnt, typeBoost))
		}
	}
	return boost, reasons
}

// personBoost scores the query person against every document person and
// applies the boost scaled by the best similarity, when it clears the
// configured threshold.
func (s *Scorer) personBoost(match *entity.Match, docPersons []string) (float64, []string) {
	if len(docPersons) == 0 {
		return 0, nil
	}

	var bestName string
	var bestSim float64
	for _, name := range docPersons {
		if sim := s.matcher.Similarity(match.Text, name); sim > bestSim {
			bestSim, bestName = sim, name
		}
	}
	if bestSim < s.cfg.NameMatchThreshold {
		return 0, nil
	}

	quality := bestSim / 100
	boost := s.cfg.PersonBoost * quality
	reason := fmt.Sprintf("person match (%s → %s, %.2f): +%.3f",
		strings.ToLower(match.Text), bestName, quality, boost)
	return boost, []string{reason}
}

// countContaining counts values that contain any of the terms as a
// case-insensitive substring.
func countContaining(values, terms []string) int {
	n := 0
	for _, v := range values {
		low := strings.ToLower(v)
		for _, term := range terms {
			if strings.Contains(low, term) {
				n++
				break
			}
		}
	}
	return n
}
