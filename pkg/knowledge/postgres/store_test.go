package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/pythia/pkg/knowledge"
	"github.com/MrWong99/pythia/pkg/knowledge/postgres"
)

const testEmbeddingDim = 4

// testDSN returns the test database DSN from the environment, or skips the
// test if PYTHIA_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("PYTHIA_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("PYTHIA_TEST_POSTGRES_DSN not set — skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh [postgres.Store] with a clean schema and
// returns it together with a bare pool for seeding test data.
func newTestStore(t *testing.T) (*postgres.Store, *pgxpool.Pool) {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool := mustPool(t, ctx, dsn)
	t.Cleanup(pool.Close)
	if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS chunks CASCADE"); err != nil {
		t.Fatalf("drop chunks: %v", err)
	}

	store, err := postgres.NewStore(ctx, dsn, testEmbeddingDim)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(store.Close)
	return store, pool
}

// mustPool opens a pgxpool with pgvector types registered so seeded rows can
// carry vector values.
func mustPool(t *testing.T, ctx context.Context, dsn string) *pgxpool.Pool {
	t.Helper()
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		// best-effort: pgvector may not be installed yet on a fresh DB
		_ = pgxvec.RegisterTypes(ctx, conn)
		return nil
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	return pool
}

// insertChunk seeds one chunk row directly, playing the role of the external
// indexing pipeline.
func insertChunk(t *testing.T, ctx context.Context, pool *pgxpool.Pool, c knowledge.Chunk, embedding []float32) {
	t.Helper()
	const q = `
		INSERT INTO chunks
		    (source_id, position, body, platform, source_url, created_date, author,
		     hashtags, mentions, persons, organizations, locations, events, titles, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	ent := func(typ knowledge.EntityType) []string {
		if v := c.Metadata.Entities[typ]; v != nil {
			return v
		}
		return []string{}
	}
	orEmpty := func(v []string) []string {
		if v != nil {
			return v
		}
		return []string{}
	}

	_, err := pool.Exec(ctx, q,
		c.SourceID,
		c.Position,
		c.Body,
		c.Metadata.Platform,
		c.Metadata.SourceURL,
		c.Metadata.CreatedDate,
		c.Metadata.Author,
		orEmpty(c.Metadata.Hashtags),
		orEmpty(c.Metadata.Mentions),
		ent(knowledge.Person),
		ent(knowledge.Organization),
		ent(knowledge.Location),
		ent(knowledge.Event),
		ent(knowledge.Title),
		pgvector.NewVector(embedding),
	)
	if err != nil {
		t.Fatalf("insert chunk %s/%d: %v", c.SourceID, c.Position, err)
	}
}

// TestNewStore_InvalidDSN verifies that an unparseable DSN fails fast without
// requiring a live database.
func TestNewStore_InvalidDSN(t *testing.T) {
	_, err := postgres.NewStore(context.Background(), "://not-a-dsn", testEmbeddingDim)
	if err == nil {
		t.Fatal("expected error for invalid DSN, got nil")
	}
}

func TestSearch_OrdersByDistanceAndRoundTripsMetadata(t *testing.T) {
	store, pool := newTestStore(t)
	ctx := context.Background()

	insertChunk(t, ctx, pool, knowledge.Chunk{
		SourceID: "tweet-1",
		Position: 0,
		Body:     "Prof. Ravi inaugurated the Central Research Facility.",
		Metadata: knowledge.Metadata{
			Platform:    "twitter",
			SourceURL:   "https://twitter.com/nitk/status/1",
			CreatedDate: "2023-06-15",
			Author:      "nitkofficial",
			Hashtags:    []string{"NITK", "research"},
			Mentions:    []string{"nitksurathkal"},
			Entities: map[knowledge.EntityType][]string{
				knowledge.Person:       {"B Ravi"},
				knowledge.Organization: {"Central Research Facility"},
			},
		},
	}, []float32{1, 0, 0, 0})
	insertChunk(t, ctx, pool, knowledge.Chunk{
		SourceID: "page-7",
		Position: 2,
		Body:     "The annual technical festival attracts thousands of students.",
	}, []float32{0, 1, 0, 0})
	insertChunk(t, ctx, pool, knowledge.Chunk{
		SourceID: "tweet-9",
		Position: 0,
		Body:     "Admissions for the new academic year open in May.",
	}, []float32{0.9, 0.1, 0, 0})

	hits, err := store.Search(ctx, []float32{1, 0, 0, 0}, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].Chunk.SourceID != "tweet-1" {
		t.Errorf("nearest hit: got %q, want tweet-1", hits[0].Chunk.SourceID)
	}
	if hits[1].Chunk.SourceID != "tweet-9" {
		t.Errorf("second hit: got %q, want tweet-9", hits[1].Chunk.SourceID)
	}
	if hits[0].Distance > hits[1].Distance {
		t.Errorf("distances out of order: %v then %v", hits[0].Distance, hits[1].Distance)
	}
	if hits[0].ExactMatch {
		t.Error("plain search must not mark hits as exact matches")
	}

	meta := hits[0].Chunk.Metadata
	if meta.Platform != "twitter" || meta.Author != "nitkofficial" {
		t.Errorf("metadata lost: %+v", meta)
	}
	if len(meta.Hashtags) != 2 || meta.Hashtags[0] != "NITK" {
		t.Errorf("hashtags lost: %v", meta.Hashtags)
	}
	if got := meta.Entities[knowledge.Person]; len(got) != 1 || got[0] != "B Ravi" {
		t.Errorf("person entities lost: %v", got)
	}
	if got := meta.Entities[knowledge.Organization]; len(got) != 1 || got[0] != "Central Research Facility" {
		t.Errorf("organization entities lost: %v", got)
	}
	if _, ok := meta.Entities[knowledge.Event]; ok {
		t.Error("empty entity categories should be omitted from the map")
	}
}

func TestSearch_EmptyCollection(t *testing.T) {
	store, _ := newTestStore(t)

	hits, err := store.Search(context.Background(), []float32{1, 0, 0, 0}, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if hits == nil {
		t.Fatal("expected empty non-nil slice")
	}
	if len(hits) != 0 {
		t.Errorf("expected no hits, got %d", len(hits))
	}
}

func TestSearchContaining_FiltersAndMarksExact(t *testing.T) {
	store, pool := newTestStore(t)
	ctx := context.Background()

	insertChunk(t, ctx, pool, knowledge.Chunk{
		SourceID: "a", Position: 0,
		Body: "Professor B Ravi heads the research centre.",
	}, []float32{1, 0, 0, 0})
	insertChunk(t, ctx, pool, knowledge.Chunk{
		SourceID: "b", Position: 0,
		Body: "The hostel mess timings changed this semester.",
	}, []float32{0.99, 0.01, 0, 0})

	hits, err := store.SearchContaining(ctx, []float32{1, 0, 0, 0}, "b ravi", 5)
	if err != nil {
		t.Fatalf("SearchContaining: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
	if hits[0].Chunk.SourceID != "a" {
		t.Errorf("hit: got %q, want a", hits[0].Chunk.SourceID)
	}
	if !hits[0].ExactMatch {
		t.Error("SearchContaining hits must be marked as exact matches")
	}
}

func TestSearchContaining_NoMatch(t *testing.T) {
	store, pool := newTestStore(t)
	ctx := context.Background()

	insertChunk(t, ctx, pool, knowledge.Chunk{
		SourceID: "a", Position: 0, Body: "Campus placements concluded in March.",
	}, []float32{1, 0, 0, 0})

	hits, err := store.SearchContaining(ctx, []float32{1, 0, 0, 0}, "no such text", 5)
	if err != nil {
		t.Fatalf("SearchContaining: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("expected no hits, got %d", len(hits))
	}
}

func TestCountAndPing(t *testing.T) {
	store, pool := newTestStore(t)
	ctx := context.Background()

	if err := store.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	n, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 0 {
		t.Errorf("empty collection count: got %d, want 0", n)
	}

	insertChunk(t, ctx, pool, knowledge.Chunk{
		SourceID: "a", Position: 0, Body: "one",
	}, []float32{1, 0, 0, 0})
	insertChunk(t, ctx, pool, knowledge.Chunk{
		SourceID: "a", Position: 1, Body: "two",
	}, []float32{0, 1, 0, 0})

	n, err = store.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 2 {
		t.Errorf("count: got %d, want 2", n)
	}
}
