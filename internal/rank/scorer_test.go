package rank_test

import (
	"math"
	"slices"
	"testing"

	"github.com/MrWong99/pythia/internal/config"
	"github.com/MrWong99/pythia/internal/entity"
	"github.com/MrWong99/pythia/internal/rank"
	"github.com/MrWong99/pythia/pkg/knowledge"
)

// testScorer builds a scorer with the default ranking weights and a name
// matcher that strips honorifics, optionally seeded with known persons.
func testScorer(t *testing.T, known ...string) *rank.Scorer {
	t.Helper()
	honorifics, err := entity.NewRewriteRule(`^(?:prof|professor|dr|mr|mrs|ms)\s+`, "")
	if err != nil {
		t.Fatalf("compile honorifics rule: %v", err)
	}
	matcher := entity.NewNameMatcher(entity.PersonsCatalogue{
		KnownPersons: known,
		NameFormats:  []entity.RewriteRule{honorifics},
	})
	scorer, err := rank.NewScorer(matcher, config.Default().Ranking)
	if err != nil {
		t.Fatalf("NewScorer: %v", err)
	}
	return scorer
}

func hit(body string, distance float64) knowledge.SearchHit {
	return knowledge.SearchHit{Chunk: knowledge.Chunk{Body: body}, Distance: distance}
}

func approx(got, want float64) bool {
	return math.Abs(got-want) < 1e-9
}

func TestNewScorer_DefaultMemoSize(t *testing.T) {
	t.Parallel()
	cfg := config.Default().Ranking
	cfg.EntityMemoSize = 0
	if _, err := rank.NewScorer(entity.NewNameMatcher(entity.PersonsCatalogue{}), cfg); err != nil {
		t.Fatalf("NewScorer with unset memo size: %v", err)
	}
}

func TestRank_OrdersByScoreDescending(t *testing.T) {
	t.Parallel()
	s := testScorer(t)

	hits := []knowledge.SearchHit{
		hit("The mess serves dinner from seven.", 0.5),
		hit("The beach gate closes at dusk.", 0.2),
		hit("Shuttle buses run every hour.", 0.4),
	}

	got := s.Rank("convocation schedule", nil, hits, 3)

	if len(got) != 3 {
		t.Fatalf("got %d results, want 3", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Final > got[i-1].Final {
			t.Errorf("result %d score %v exceeds previous %v, want descending", i, got[i].Final, got[i-1].Final)
		}
	}
	if !approx(got[0].Final, 0.8) {
		t.Errorf("best score = %v, want 0.8 from distance 0.2", got[0].Final)
	}
}

func TestRank_DropsBelowRelevanceFloor(t *testing.T) {
	t.Parallel()
	s := testScorer(t)

	hits := []knowledge.SearchHit{
		hit("Completely unrelated content.", 0.9),
		hit("Even further away in vector space.", 1.5),
	}

	if got := s.Rank("convocation schedule", nil, hits, 5); len(got) != 0 {
		t.Errorf("got %d results, want 0 when every score is below the floor", len(got))
	}
}

func TestRank_DeduplicatesIdenticalBodies(t *testing.T) {
	t.Parallel()
	s := testScorer(t)

	hits := []knowledge.SearchHit{
		hit("The swimming pool reopens next week.", 0.3),
		hit("  The swimming pool reopens next week.  ", 0.1),
	}

	got := s.Rank("convocation schedule", nil, hits, 5)

	if len(got) != 1 {
		t.Fatalf("got %d results, want 1 after dedup", len(got))
	}
	if !approx(got[0].Final, 0.7) {
		t.Errorf("score = %v, want 0.7 from the first occurrence", got[0].Final)
	}
}

func TestRank_TermBoost(t *testing.T) {
	t.Parallel()
	s := testScorer(t)

	full := hit("Library timings extended during exams.", 0.4)
	partial := hit("Library renovation starts in May.", 0.4)

	got := s.Rank("library timings", nil, []knowledge.SearchHit{full}, 5)
	if len(got) != 1 {
		t.Fatalf("got %d results, want 1", len(got))
	}
	// Both query terms occur in the body: overlap 1.0 × 0.15.
	if !approx(got[0].Breakdown.TermBoost, 0.15) {
		t.Errorf("full overlap TermBoost = %v, want 0.15", got[0].Breakdown.TermBoost)
	}
	if !approx(got[0].Breakdown.Final, 0.75) {
		t.Errorf("Final = %v, want 0.6 + 0.15", got[0].Breakdown.Final)
	}

	got = s.Rank("library timings", nil, []knowledge.SearchHit{partial}, 5)
	if len(got) != 1 {
		t.Fatalf("got %d results, want 1", len(got))
	}
	// Only one of two terms matches: overlap 0.5 is below the 0.7 threshold.
	if got[0].Breakdown.TermBoost != 0 {
		t.Errorf("partial overlap TermBoost = %v, want 0", got[0].Breakdown.TermBoost)
	}
}

func TestRank_MetadataBoost(t *testing.T) {
	t.Parallel()
	s := testScorer(t)

	h := hit("The reading hall stays open all night.", 0.4)
	h.Chunk.Metadata = knowledge.Metadata{
		Hashtags: []string{"campuslibrary", "unrelated"},
		Mentions: []string{"library_desk"},
	}

	got := s.Rank("library timings", nil, []knowledge.SearchHit{h}, 5)
	if len(got) != 1 {
		t.Fatalf("got %d results, want 1", len(got))
	}
	b := got[0].Breakdown
	if !approx(b.MetadataBoost, 0.04) {
		t.Errorf("MetadataBoost = %v, want 0.02 + 0.02", b.MetadataBoost)
	}
	if !slices.Contains(b.Reasons, "hashtags: +0.020") {
		t.Errorf("reasons %v missing hashtag entry", b.Reasons)
	}
	if !slices.Contains(b.Reasons, "mentions: +0.020") {
		t.Errorf("reasons %v missing mention entry", b.Reasons)
	}
}

func TestRank_EntityBoost_ExactHit(t *testing.T) {
	t.Parallel()
	s := testScorer(t)

	h := hit("The institute hosted the annual technical fest.", 0.4)
	h.ExactMatch = true
	match := &entity.Match{Text: "NITK", Type: knowledge.Organization, Confidence: 1, Exact: true}

	got := s.Rank("what happened", match, []knowledge.SearchHit{h}, 5)
	if len(got) != 1 {
		t.Fatalf("got %d results, want 1", len(got))
	}
	b := got[0].Breakdown
	// Entity-first hits earn the boost even without document entity lists.
	if !approx(b.EntityBoost, 0.10) {
		t.Errorf("EntityBoost = %v, want 0.10", b.EntityBoost)
	}
	if !slices.Contains(b.Reasons, "exact organization match (NITK): +0.100") {
		t.Errorf("reasons %v missing exact match entry", b.Reasons)
	}
}

func TestRank_EntityBoost_DocumentMatch(t *testing.T) {
	t.Parallel()
	s := testScorer(t)

	h := hit("The beach campus sits by the sea.", 0.4)
	h.Chunk.Metadata.Entities = map[knowledge.EntityType][]string{
		knowledge.Location: {"Surathkal", "Mangalore"},
	}
	match := &entity.Match{Text: "Surathkal", Type: knowledge.Location, Confidence: 1}

	got := s.Rank("beach campus", match, []knowledge.SearchHit{h}, 5)
	if len(got) != 1 {
		t.Fatalf("got %d results, want 1", len(got))
	}
	b := got[0].Breakdown
	if !approx(b.EntityBoost, 0.08) {
		t.Errorf("EntityBoost = %v, want 0.08", b.EntityBoost)
	}
	if !slices.Contains(b.Reasons, "location match (surathkal): +0.080") {
		t.Errorf("reasons %v missing location match entry", b.Reasons)
	}
}

func TestRank_EntityBoost_NoMatchWithoutEquality(t *testing.T) {
	t.Parallel()
	s := testScorer(t)

	h := hit("The beach campus sits by the sea.", 0.4)
	h.Chunk.Metadata.Entities = map[knowledge.EntityType][]string{
		knowledge.Location: {"Mangalore"},
	}
	match := &entity.Match{Text: "Surathkal", Type: knowledge.Location, Confidence: 1}

	got := s.Rank("beach campus", match, []knowledge.SearchHit{h}, 5)
	if len(got) != 1 {
		t.Fatalf("got %d results, want 1", len(got))
	}
	if got[0].Breakdown.EntityBoost != 0 {
		t.Errorf("EntityBoost = %v, want 0 for a different location", got[0].Breakdown.EntityBoost)
	}
}

func TestRank_PersonBoost(t *testing.T) {
	t.Parallel()
	s := testScorer(t, "B Ravi")

	h := hit("The director addressed the gathering.", 0.4)
	h.Chunk.Metadata.Entities = map[knowledge.EntityType][]string{
		knowledge.Person: {"Prof. B. Ravi"},
	}
	match := &entity.Match{Text: "B Ravi", Type: knowledge.Person, Confidence: 1}

	got := s.Rank("who spoke", match, []knowledge.SearchHit{h}, 5)
	if len(got) != 1 {
		t.Fatalf("got %d results, want 1", len(got))
	}
	b := got[0].Breakdown
	// Honorific stripping makes the names identical: similarity 100, so the
	// full person boost applies.
	if !approx(b.PersonBoost, 0.15) {
		t.Errorf("PersonBoost = %v, want 0.15", b.PersonBoost)
	}
	if !slices.Contains(b.Reasons, "person match (b ravi → prof. b. ravi, 1.00): +0.150") {
		t.Errorf("reasons %v missing person match entry", b.Reasons)
	}
}

func TestRank_PersonBoost_BelowThreshold(t *testing.T) {
	t.Parallel()
	s := testScorer(t)

	h := hit("The director addressed the gathering.", 0.4)
	h.Chunk.Metadata.Entities = map[knowledge.EntityType][]string{
		knowledge.Person: {"Anil Kumar"},
	}
	match := &entity.Match{Text: "B Ravi", Type: knowledge.Person, Confidence: 1}

	got := s.Rank("who spoke", match, []knowledge.SearchHit{h}, 5)
	if len(got) != 1 {
		t.Fatalf("got %d results, want 1", len(got))
	}
	if got[0].Breakdown.PersonBoost != 0 {
		t.Errorf("PersonBoost = %v, want 0 below the name match threshold", got[0].Breakdown.PersonBoost)
	}
}

func TestRank_NilEntitySkipsEntityScoring(t *testing.T) {
	t.Parallel()
	s := testScorer(t)

	h := hit("The beach campus sits by the sea.", 0.2)
	h.Chunk.Metadata.Entities = map[knowledge.EntityType][]string{
		knowledge.Location: {"Surathkal"},
		knowledge.Person:   {"B Ravi"},
	}

	got := s.Rank("beach campus", nil, []knowledge.SearchHit{h}, 5)
	if len(got) != 1 {
		t.Fatalf("got %d results, want 1", len(got))
	}
	b := got[0].Breakdown
	if b.EntityBoost != 0 || b.PersonBoost != 0 {
		t.Errorf("entity boosts = %v, %v, want 0, 0 without a query entity", b.EntityBoost, b.PersonBoost)
	}
}

func TestRank_EarlyExitSkipsRemainingCandidates(t *testing.T) {
	t.Parallel()
	s := testScorer(t)

	hits := []knowledge.SearchHit{
		hit("First candidate about campus life.", 0.2),
		hit("Second candidate about sports meets.", 0.4),
		// Would win outright, but ranking stops before reaching it once k
		// results are held and scores have fallen off.
		hit("Third candidate about research labs.", 0.0),
	}

	got := s.Rank("convocation schedule", nil, hits, 1)

	if len(got) != 1 {
		t.Fatalf("got %d results, want 1", len(got))
	}
	if !approx(got[0].Final, 0.8) {
		t.Errorf("score = %v, want 0.8 (the perfect-distance candidate must not be scored)", got[0].Final)
	}
}

func TestRank_TrimsToK(t *testing.T) {
	t.Parallel()
	s := testScorer(t)

	// Ascending scores defeat the early exit, so all four are scored.
	hits := []knowledge.SearchHit{
		hit("Candidate one about the gymkhana.", 0.5),
		hit("Candidate two about hostel blocks.", 0.4),
		hit("Candidate three about the main building.", 0.3),
		hit("Candidate four about the lighthouse.", 0.2),
	}

	got := s.Rank("convocation schedule", nil, hits, 2)

	if len(got) != 2 {
		t.Fatalf("got %d results, want 2", len(got))
	}
	if !approx(got[0].Final, 0.8) || !approx(got[1].Final, 0.7) {
		t.Errorf("scores = %v, %v, want 0.8, 0.7", got[0].Final, got[1].Final)
	}
}

func TestRank_FinalEqualsComponentSum(t *testing.T) {
	t.Parallel()
	s := testScorer(t, "B Ravi")

	h := hit("Library timings changed; B Ravi announced it.", 0.3)
	h.Chunk.Metadata = knowledge.Metadata{
		Hashtags: []string{"librarynews"},
		Entities: map[knowledge.EntityType][]string{
			knowledge.Person: {"B Ravi"},
		},
	}
	match := &entity.Match{Text: "B Ravi", Type: knowledge.Person, Confidence: 1}

	got := s.Rank("library timings", match, []knowledge.SearchHit{h}, 5)
	if len(got) != 1 {
		t.Fatalf("got %d results, want 1", len(got))
	}
	b := got[0].Breakdown
	sum := b.Initial + b.TermBoost + b.MetadataBoost + b.EntityBoost + b.PersonBoost
	if !approx(b.Final, sum) {
		t.Errorf("Final = %v, want component sum %v", b.Final, sum)
	}
	if b.Final < b.Initial {
		t.Errorf("Final = %v below Initial %v, boosts must never subtract", b.Final, b.Initial)
	}
}
