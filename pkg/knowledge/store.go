// Package knowledge defines the read-side data model of the document
// collection that backs retrieval: chunks, their metadata, and the [Store]
// interface the query engine searches against.
//
// The collection itself is populated by an external ingestion/indexing
// pipeline. The query engine never writes chunks; every [Store]
// implementation is a read-only view plus operational helpers (ping, count).
//
// All implementations must be safe for concurrent use.
package knowledge

import "context"

// Store is a vector collection of [Chunk] records supporting approximate
// nearest-neighbour search with an optional body-substring restriction.
type Store interface {
	// Search returns the limit chunks whose embeddings are closest to the
	// query embedding, ordered by ascending cosine distance.
	// Returns an empty (non-nil) slice when the collection is empty.
	Search(ctx context.Context, embedding []float32, limit int) ([]SearchHit, error)

	// SearchContaining behaves like Search but only considers chunks whose
	// Body contains substr (case-insensitive). Hits are returned with
	// ExactMatch set.
	SearchContaining(ctx context.Context, embedding []float32, substr string, limit int) ([]SearchHit, error)

	// Count reports the number of chunks in the collection.
	Count(ctx context.Context) (int64, error)

	// Ping verifies the backing collection is reachable.
	Ping(ctx context.Context) error
}
