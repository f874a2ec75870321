// Package mock provides a test double for the currentinfo.Provider interface.
//
// Use Provider to feed scripted answers without a live backend and to verify
// which questions and formats the answer engine routes to current info.
//
// Example:
//
//	p := &mock.Provider{
//	    AnswerTokens: []string{"Based ", "on ", "current ", "information..."},
//	}
//	tokens, _ := p.StreamAnswer(ctx, "weather today?", "voice")
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/pythia/pkg/provider/currentinfo"
)

// StreamCall records a single invocation of StreamAnswer.
type StreamCall struct {
	// Ctx is the context passed to StreamAnswer.
	Ctx context.Context
	// Question is the question passed to StreamAnswer.
	Question string
	// Format is the response format passed to StreamAnswer.
	Format string
}

// Provider is a mock implementation of currentinfo.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// AnswerTokens is the sequence of tokens emitted on the channel returned by
	// StreamAnswer. All tokens are sent before the channel is closed.
	AnswerTokens []string

	// StreamErr, if non-nil, is returned as the error from StreamAnswer instead
	// of starting a channel.
	StreamErr error

	// TestConnectionErr is returned by TestConnection.
	TestConnectionErr error

	// --- Call records ---

	// StreamCalls records every invocation of StreamAnswer in order.
	StreamCalls []StreamCall

	// TestConnectionCallCount is the number of times TestConnection was called.
	TestConnectionCallCount int
}

// StreamAnswer records the call and returns a channel that emits AnswerTokens.
// If StreamErr is set, it returns nil, StreamErr without opening a channel.
func (p *Provider) StreamAnswer(ctx context.Context, question, format string) (<-chan string, error) {
	p.mu.Lock()
	if p.StreamErr != nil {
		err := p.StreamErr
		p.StreamCalls = append(p.StreamCalls, StreamCall{Ctx: ctx, Question: question, Format: format})
		p.mu.Unlock()
		return nil, err
	}
	tokens := make([]string, len(p.AnswerTokens))
	copy(tokens, p.AnswerTokens)
	p.StreamCalls = append(p.StreamCalls, StreamCall{Ctx: ctx, Question: question, Format: format})
	p.mu.Unlock()

	ch := make(chan string, len(tokens))
	go func() {
		defer close(ch)
		for _, tok := range tokens {
			select {
			case <-ctx.Done():
				return
			case ch <- tok:
			}
		}
	}()
	return ch, nil
}

// TestConnection records the call and returns TestConnectionErr.
func (p *Provider) TestConnection(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TestConnectionCallCount++
	return p.TestConnectionErr
}

// CallCount returns the number of StreamAnswer invocations so far. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.StreamCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StreamCalls = nil
	p.TestConnectionCallCount = 0
}

// Ensure Provider implements currentinfo.Provider at compile time.
var _ currentinfo.Provider = (*Provider)(nil)
