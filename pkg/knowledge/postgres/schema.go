package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ddlChunks returns the chunks DDL with the embedding dimension substituted.
// The vector dimension is baked into the column type at schema creation time.
func ddlChunks(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS chunks (
    source_id     TEXT     NOT NULL,
    position      INTEGER  NOT NULL,
    body          TEXT     NOT NULL,
    platform      TEXT     NOT NULL DEFAULT '',
    source_url    TEXT     NOT NULL DEFAULT '',
    created_date  TEXT     NOT NULL DEFAULT '',
    author        TEXT     NOT NULL DEFAULT '',
    hashtags      JSONB    NOT NULL DEFAULT '[]',
    mentions      JSONB    NOT NULL DEFAULT '[]',
    persons       JSONB    NOT NULL DEFAULT '[]',
    organizations JSONB    NOT NULL DEFAULT '[]',
    locations     JSONB    NOT NULL DEFAULT '[]',
    events        JSONB    NOT NULL DEFAULT '[]',
    titles        JSONB    NOT NULL DEFAULT '[]',
    embedding     vector(%d),
    PRIMARY KEY (source_id, position)
);

CREATE INDEX IF NOT EXISTS idx_chunks_embedding
    ON chunks USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates or ensures the chunks table and its indexes exist.
// It is idempotent (CREATE TABLE IF NOT EXISTS / CREATE INDEX IF NOT EXISTS) and
// safe to call on every application start.
//
// embeddingDimensions must match the vector model configured for your deployment
// (e.g., 1536 for OpenAI text-embedding-3-small, 768 for nomic-embed-text).
// Changing this value after the first migration requires a manual schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	if _, err := pool.Exec(ctx, ddlChunks(embeddingDimensions)); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}
