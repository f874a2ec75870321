// Package postgres provides the PostgreSQL-backed implementation of
// [knowledge.Store], using pgvector for approximate nearest-neighbour search
// over pre-embedded document chunks.
//
// The chunks table is populated by an external indexing pipeline; this package
// only reads it. [NewStore] ensures the schema exists (idempotently) so a fresh
// database comes up empty rather than erroring.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, 1536)
//	if err != nil { … }
//	defer store.Close()
//
//	hits, err := store.Search(ctx, queryEmbedding, 5)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/pythia/pkg/knowledge"
)

// Compile-time interface check.
var _ knowledge.Store = (*Store)(nil)

// Store is the PostgreSQL-backed chunk collection. It holds a single
// [pgxpool.Pool]; all operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store, establishes a connection pool to the
// PostgreSQL database at dsn, registers pgvector types on every connection,
// verifies connectivity with a ping, and ensures the chunks schema exists.
//
// embeddingDimensions must match the output dimension of the embedding model
// that produced the stored vectors. Changing this value after the first
// migration requires a manual schema change.
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("knowledge store: parse dsn: %w", err)
	}

	// Register pgvector types on every new connection so that vector columns
	// can be scanned into and inserted from pgvector.Vector values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("knowledge store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("knowledge store: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("knowledge store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// hitColumns is the SELECT list shared by Search and SearchContaining. The
// query embedding is always $1 so the distance expression can reference it.
const hitColumns = `
	SELECT source_id, position, body, platform, source_url, created_date, author,
	       hashtags, mentions, persons, organizations, locations, events, titles,
	       embedding <=> $1 AS distance
	FROM   chunks`

// Search implements [knowledge.Store]. It finds the limit chunks whose
// embeddings are closest (cosine distance) to the supplied query embedding.
//
// Results are ordered by ascending cosine distance (most similar first).
func (s *Store) Search(ctx context.Context, embedding []float32, limit int) ([]knowledge.SearchHit, error) {
	q := hitColumns + `
	ORDER  BY distance
	LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, fmt.Errorf("knowledge store: search: %w", err)
	}

	hits, err := pgx.CollectRows(rows, scanHit)
	if err != nil {
		return nil, fmt.Errorf("knowledge store: scan rows: %w", err)
	}
	if hits == nil {
		hits = []knowledge.SearchHit{}
	}
	return hits, nil
}

// SearchContaining implements [knowledge.Store]. It behaves like Search but
// only considers chunks whose body contains substr, case-insensitively. Every
// returned hit has ExactMatch set.
func (s *Store) SearchContaining(ctx context.Context, embedding []float32, substr string, limit int) ([]knowledge.SearchHit, error) {
	args := []any{pgvector.NewVector(embedding)} // $1 = query vector
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	where := "WHERE body ILIKE '%' || " + next(substr) + " || '%'"
	limitArg := next(limit)

	q := fmt.Sprintf(`%s
	%s
	ORDER  BY distance
	LIMIT  %s`, hitColumns, where, limitArg)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("knowledge store: search containing: %w", err)
	}

	hits, err := pgx.CollectRows(rows, scanHit)
	if err != nil {
		return nil, fmt.Errorf("knowledge store: scan rows: %w", err)
	}
	if hits == nil {
		hits = []knowledge.SearchHit{}
	}
	for i := range hits {
		hits[i].ExactMatch = true
	}
	return hits, nil
}

// Count implements [knowledge.Store].
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, "SELECT count(*) FROM chunks").Scan(&n); err != nil {
		return 0, fmt.Errorf("knowledge store: count: %w", err)
	}
	return n, nil
}

// Ping implements [knowledge.Store] by verifying database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("knowledge store: ping: %w", err)
	}
	return nil
}

// Close releases all connections held by the underlying connection pool.
// It should be called when the Store is no longer needed, typically via defer.
func (s *Store) Close() {
	s.pool.Close()
}

// scanHit maps one result row to a [knowledge.SearchHit]. The jsonb entity
// columns are folded into the Metadata.Entities map, omitting empty categories.
func scanHit(row pgx.CollectableRow) (knowledge.SearchHit, error) {
	var (
		hit                                               knowledge.SearchHit
		persons, organizations, locations, events, titles []string
	)
	if err := row.Scan(
		&hit.Chunk.SourceID,
		&hit.Chunk.Position,
		&hit.Chunk.Body,
		&hit.Chunk.Metadata.Platform,
		&hit.Chunk.Metadata.SourceURL,
		&hit.Chunk.Metadata.CreatedDate,
		&hit.Chunk.Metadata.Author,
		&hit.Chunk.Metadata.Hashtags,
		&hit.Chunk.Metadata.Mentions,
		&persons,
		&organizations,
		&locations,
		&events,
		&titles,
		&hit.Distance,
	); err != nil {
		return knowledge.SearchHit{}, err
	}

	entities := make(map[knowledge.EntityType][]string, 5)
	for _, ec := range []struct {
		typ   knowledge.EntityType
		names []string
	}{
		{knowledge.Person, persons},
		{knowledge.Organization, organizations},
		{knowledge.Location, locations},
		{knowledge.Event, events},
		{knowledge.Title, titles},
	} {
		if len(ec.names) > 0 {
			entities[ec.typ] = ec.names
		}
	}
	if len(entities) > 0 {
		hit.Chunk.Metadata.Entities = entities
	}
	return hit, nil
}
