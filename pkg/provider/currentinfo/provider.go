// Package currentinfo defines the Provider interface for live information backends.
//
// A current-info provider answers questions about the present moment (weather,
// news, ongoing events, "today" and "now" questions) that a static knowledge
// base cannot. The answer engine routes temporally sensitive questions here
// instead of the retrieval pipeline whenever a provider is configured.
//
// Implementations must be safe for concurrent use.
package currentinfo

import "context"

// Provider is the abstraction over any live information backend.
type Provider interface {
	// StreamAnswer queries the backend for a current-information answer and
	// returns a channel of whitespace-delimited text tokens. format is "web"
	// (detailed) or "voice" (brief, speech-friendly); it controls the answer
	// length and phrasing requested from the backend.
	//
	// The channel is closed once the full answer has been delivered or ctx is
	// cancelled. Errors that occur before any token can be produced are
	// returned directly; a nil error guarantees a non-nil channel.
	StreamAnswer(ctx context.Context, question, format string) (<-chan string, error)

	// TestConnection verifies that the backend is reachable and accepting
	// requests. Used by health checks; implementations should keep it cheap.
	TestConnection(ctx context.Context) error
}
