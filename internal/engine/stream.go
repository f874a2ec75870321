package engine

import (
	"context"
	"time"

	"github.com/MrWong99/pythia/internal/entity"
)

// streamBuf is the buffer depth of the chunk channel handed to callers.
const streamBuf = 32

// Metadata is the per-request record attached to an [Outcome].
type Metadata struct {
	// Intent classifies what the question was about, derived from the
	// extracted entity.
	Intent entity.Intent

	// Entity is the canonical text of the extracted entity, empty when the
	// question named none.
	Entity string

	// Temporal reports whether the question asked about current events.
	Temporal bool

	// CacheHit reports whether the answer was replayed from the response
	// cache.
	CacheHit bool

	// Results is the number of ranked chunks handed to the LLM as context.
	Results int

	// Duration is the end-to-end processing time of the request.
	Duration time.Duration
}

// Outcome is the post-stream summary of one query. It becomes readable
// through [Stream.Outcome] only after the chunk channel has closed.
type Outcome struct {
	// Emotion is the label detected from the final answer text.
	Emotion Emotion

	// CacheSafe is false when the answer depends on the present moment or a
	// failure occurred. Such answers must never be cached, by the engine or
	// by any client.
	CacheSafe bool

	Metadata
}

// Stream delivers one answer as an ordered sequence of text fragments
// followed by a single [Outcome].
//
// Consumers range over [Stream.Chunks] until it closes, then read
// [Stream.Outcome]. Fragments arrive in upstream order; their concatenation
// is the complete answer text.
type Stream struct {
	ch      chan string
	done    chan struct{}
	outcome Outcome
}

func newStream() *Stream {
	return &Stream{
		ch:   make(chan string, streamBuf),
		done: make(chan struct{}),
	}
}

// Chunks returns the channel of answer fragments. The engine closes it after
// the final fragment.
func (s *Stream) Chunks() <-chan string { return s.ch }

// Outcome returns the post-stream record. It blocks until the engine has
// closed the chunk channel and published the outcome, so the caller must
// drain [Stream.Chunks] first (or do so concurrently).
func (s *Stream) Outcome() Outcome {
	<-s.done
	return s.outcome
}

// send delivers one fragment to the consumer, abandoning the write when ctx
// ends first. It reports whether the fragment was delivered.
func (s *Stream) send(ctx context.Context, text string) bool {
	select {
	case s.ch <- text:
		return true
	case <-ctx.Done():
		return false
	}
}

// close seals the stream: the chunk channel closes and out becomes readable.
// Must be called exactly once, after the final send.
func (s *Stream) close(out Outcome) {
	close(s.ch)
	s.outcome = out
	close(s.done)
}
