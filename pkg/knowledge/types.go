package knowledge

// EntityType classifies a named entity attached to a document chunk or
// recognised in a query.
type EntityType string

const (
	// Person is an individual, usually faculty, staff, alumni, or a guest.
	Person EntityType = "PERSON"

	// Organization is an institute, department, club, or company.
	Organization EntityType = "ORGANIZATION"

	// Location is a city, state, country, or campus location.
	Location EntityType = "LOCATION"

	// Event is a named happening such as a fest, conference, or convocation.
	Event EntityType = "EVENT"

	// Title is an honorific or role designation (e.g., "Director", "Professor").
	Title EntityType = "TITLE"
)

// EntityTypes returns all entity types in canonical matching order.
// The order matters: extraction and scoring iterate categories in this
// sequence, so PERSON wins ties against later categories.
func EntityTypes() []EntityType {
	return []EntityType{Person, Organization, Location, Event, Title}
}

// Metadata is the descriptive envelope of a [Chunk], written by the ingestion
// pipeline and read-only to the query engine.
type Metadata struct {
	// Platform names the source system ("twitter", "website", "reddit", …).
	Platform string

	// SourceURL is the canonical URL of the original content, when known.
	SourceURL string

	// CreatedDate is the original publication date as recorded by the
	// ingestion pipeline (free-form, typically ISO 8601 or "02 January 2006").
	CreatedDate string

	// Author is the content author handle or display name.
	Author string

	// Hashtags are the #tags found in the source content, without the '#'.
	Hashtags []string

	// Mentions are the @handles found in the source content, without the '@'.
	Mentions []string

	// Entities maps each [EntityType] to the entity surface forms the
	// ingestion pipeline recognised in this chunk.
	Entities map[EntityType][]string
}

// Chunk is the unit of retrieval: a short text passage with metadata and a
// pre-computed embedding stored in the vector collection.
//
// (SourceID, Position) is unique across the collection.
type Chunk struct {
	// SourceID identifies the originating document or post.
	SourceID string

	// Position is the zero-based index of this chunk within its source.
	Position int

	// Body is the chunk text. This is what retrieval matches against and
	// what the orchestrator joins into the LLM context.
	Body string

	// Metadata carries the descriptive fields of this chunk.
	Metadata Metadata
}

// SearchHit pairs a retrieved [Chunk] with its vector-space distance from the
// query embedding. Distance is cosine distance in [0, 2]; 0 means identical
// direction. Lower is more similar.
type SearchHit struct {
	// Chunk is the retrieved passage.
	Chunk Chunk

	// Distance is the cosine distance to the query embedding.
	Distance float64

	// ExactMatch is true when the hit came from an entity-first search whose
	// substring filter guaranteed the entity text occurs in Body.
	ExactMatch bool
}
