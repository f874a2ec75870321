// Package perplexity provides a current-info provider backed by the Perplexity API.
//
// Perplexity (https://perplexity.ai) answers questions with live web search
// results. This package talks to the chat completions endpoint directly over
// net/http with server-sent events, collects the full answer, strips citation
// markers, and re-streams it word by word.
//
// Example usage:
//
//	p, err := perplexity.New(os.Getenv("PERPLEXITY_API_KEY"), "sonar")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	tokens, err := p.StreamAnswer(ctx, "What is the weather in Mangalore today?", "voice")
package perplexity

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/MrWong99/pythia/pkg/provider/currentinfo"
)

// DefaultURL is the Perplexity chat completions endpoint.
const DefaultURL = "https://api.perplexity.ai/chat/completions"

// DefaultModel is the default Perplexity model.
const DefaultModel = "sonar"

// defaultTimeout bounds a single streaming request.
const defaultTimeout = 60 * time.Second

// timeLayout renders timestamps for the system prompt.
const timeLayout = "January 2, 2006 at 3:04 PM"

// citationRe matches Perplexity's inline citation markers such as [1], [2-4]
// and [1,3].
var citationRe = regexp.MustCompile(`\[\d+(?:[-,]\d+)*\]`)

// Ensure Provider implements the currentinfo.Provider interface at compile time.
var _ currentinfo.Provider = (*Provider)(nil)

var (
	zoneIndia     = mustZone("Asia/Kolkata")
	zoneUSEastern = mustZone("America/New_York")
	zoneUSPacific = mustZone("America/Los_Angeles")
)

// mustZone loads a timezone, falling back to UTC when tzdata is unavailable.
func mustZone(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Provider implements currentinfo.Provider using the Perplexity API.
//
// Answers are fetched with a streaming request, accumulated in full, cleaned
// (citation markers removed, terminal punctuation ensured) and then emitted
// word by word on the returned channel. Provider is safe for concurrent use.
type Provider struct {
	apiKey     string
	model      string
	url        string
	httpClient *http.Client
}

// config holds optional configuration collected from functional options.
type config struct {
	url     string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default Perplexity endpoint URL. Useful for
// proxies and tests.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.url = url
	}
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 60 seconds.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new Perplexity Provider.
//
// apiKey must not be empty. If model is empty, DefaultModel ("sonar") is used.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("perplexity: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{
		url:     DefaultURL,
		timeout: defaultTimeout,
	}
	for _, o := range opts {
		o(cfg)
	}

	return &Provider{
		apiKey:     apiKey,
		model:      model,
		url:        cfg.url,
		httpClient: &http.Client{Timeout: cfg.timeout},
	}, nil
}

// chatRequest is the JSON request body for the chat completions endpoint.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

// chatMessage is a single chat message in the request body.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatChunk is one decoded server-sent event frame of a streaming response.
type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// StreamAnswer implements currentinfo.Provider.
//
// The full answer is collected and cleaned before the first token is sent, so
// any request or stream error is reported through the returned error rather
// than a truncated channel.
func (p *Provider) StreamAnswer(ctx context.Context, question, format string) (<-chan string, error) {
	text, err := p.collect(ctx, question, format)
	if err != nil {
		return nil, err
	}

	ch := make(chan string, 32)
	go func() {
		defer close(ch)
		words := strings.Fields(text)
		for i, w := range words {
			token := w
			if i < len(words)-1 {
				token += " "
			}
			select {
			case ch <- token:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// TestConnection implements currentinfo.Provider with a minimal non-streaming
// completion request capped at 10 seconds.
func (p *Provider) TestConnection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	body, err := json.Marshal(chatRequest{
		Model:     p.model,
		Messages:  []chatMessage{{Role: "user", Content: "Hello"}},
		MaxTokens: 10,
	})
	if err != nil {
		return fmt.Errorf("perplexity: connection test: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("perplexity: connection test: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perplexity: connection test: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("perplexity: connection test: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// collect performs the streaming request and returns the cleaned full answer.
func (p *Provider) collect(ctx context.Context, question, format string) (string, error) {
	maxTokens := 800
	if format == "voice" {
		maxTokens = 200
	}

	body, err := json.Marshal(chatRequest{
		Model: p.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt(format, time.Now())},
			{Role: "user", Content: question},
		},
		Stream:      true,
		Temperature: 0.3,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("perplexity: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("perplexity: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("perplexity: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("perplexity: api error %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var full strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk chatChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// Skip malformed frames; the stream often carries keep-alives.
			continue
		}
		if len(chunk.Choices) > 0 {
			full.WriteString(chunk.Choices[0].Delta.Content)
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("perplexity: read stream: %w", err)
	}

	return cleanAnswer(full.String()), nil
}

// cleanAnswer strips citation markers and guarantees terminal punctuation.
func cleanAnswer(s string) string {
	s = citationRe.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	last, _ := utf8.DecodeLastRuneInString(s)
	if !strings.ContainsRune(".!?", last) {
		s += "."
	}
	return s
}

// systemPrompt renders the dated system prompt for the given response format.
//
// The current moment is spelled out in four timezones so the model can answer
// "what time" and "today" questions correctly for campus (IST) as well as
// international audiences.
func systemPrompt(format string, now time.Time) string {
	utc := now.UTC()

	base := fmt.Sprintf(`You are a helpful assistant providing current information.

IMPORTANT TIMEZONE CONTEXT:
- Current UTC time: %s UTC
- Current time in India: %s IST
- Current time in US Eastern: %s EST/EDT
- Current time in US Pacific: %s PST/PDT

GUIDELINES:
- Always specify the timezone when providing timestamps
- For location-specific queries, use the appropriate local timezone
- When uncertain about user location, provide times in UTC and mention major timezones
- Always cite your sources and indicate when information is current/recent`,
		utc.Format(timeLayout),
		utc.In(zoneIndia).Format(timeLayout),
		utc.In(zoneUSEastern).Format(timeLayout),
		utc.In(zoneUSPacific).Format(timeLayout),
	)

	if format == "voice" {
		return base + `

RESPONSE FORMAT FOR VOICE:
- Keep responses brief and conversational (40-60 words max)
- Use simple, complete sentences suitable for text-to-speech
- Start with "Based on current information..."
- Provide only the most essential current facts
- Include relevant timestamp with appropriate timezone when discussing current conditions
- For location-specific queries, use the local timezone for that location
- End naturally with complete sentences - do not cut off mid-thought
- Always end with proper punctuation (. ! ?)`
	}

	return base + `

RESPONSE FORMAT FOR WEB:
- Provide structured, informative responses (150-300 words)
- Start with "Based on current web information..."
- Include key current facts, dates, and context with proper timezones
- For location-specific queries, use the appropriate local timezone
- Use bullet points for lists when helpful
- Cite sources when possible
- Be detailed but concise for web reading`
}
