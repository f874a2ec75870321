// Package engine orchestrates the full question answering pipeline: temporal
// routing, entity extraction, response cache consultation, retrieval,
// ranking, prompt assembly, and LLM streaming.
//
// The entry point is [Engine.Query], which returns a [Stream] of answer
// fragments produced by a background goroutine. The caller drains
// [Stream.Chunks] and then reads the [Outcome] carrying the emotion label,
// the cache-safety flag, and the per-request metadata. Every failure inside
// the pipeline funnels into a single fallback emission site, so the stream
// always closes and the outcome is always published.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/MrWong99/pythia/internal/entity"
	"github.com/MrWong99/pythia/internal/observe"
	"github.com/MrWong99/pythia/internal/rank"
	"github.com/MrWong99/pythia/internal/respcache"
	"github.com/MrWong99/pythia/internal/search"
	"github.com/MrWong99/pythia/internal/temporal"
	"github.com/MrWong99/pythia/internal/textnorm"
	"github.com/MrWong99/pythia/pkg/knowledge"
	"github.com/MrWong99/pythia/pkg/provider/currentinfo"
	"github.com/MrWong99/pythia/pkg/provider/llm"
)

// ErrClosed is returned by [Engine.Query] after [Engine.Close].
var ErrClosed = errors.New("engine: engine is closed")

// Fixed answers emitted when an upstream provider fails. Fallback answers
// are never cache-safe.
const (
	// currentInfoFallbackVoice replaces a failed live information answer on a
	// voice request.
	currentInfoFallbackVoice = "I can't access current information right now."

	// currentInfoFallbackWeb replaces a failed live information answer on a
	// web request.
	currentInfoFallbackWeb = "I'm unable to access current information at the moment. Please try again later."

	// llmFallback replaces the answer when the completion stream fails.
	llmFallback = "An error occurred."
)

const (
	// defaultMaxResults is the number of ranked chunks handed to the LLM as
	// context.
	defaultMaxResults = 5

	// defaultTemperature is the sampling temperature for answer generation.
	defaultTemperature = 0.4

	// defaultLLMTimeout bounds one full completion stream.
	defaultLLMTimeout = 60 * time.Second

	// defaultCurrentInfoTimeout bounds one live information request.
	defaultCurrentInfoTimeout = 60 * time.Second
)

// Engine answers questions over the institutional knowledge base. It owns
// every pipeline dependency; nothing is shared mutably across requests, so
// an Engine is safe for concurrent use and each [Engine.Query] runs
// independently.
type Engine struct {
	llmP        llm.Provider
	searcher    *search.Service
	scorer      *rank.Scorer
	extractor   *entity.Extractor
	matcher     *entity.NameMatcher
	classifier  *temporal.Classifier
	currentInfo currentinfo.Provider // nil = temporal questions answered from the knowledge base
	cache       *respcache.Cache     // nil = response caching disabled
	metrics     *observe.Metrics

	maxResults     int
	temperature    float64
	maxTokens      int
	llmTimeout     time.Duration
	currentTimeout time.Duration
	promptTemplate string
	now            func() time.Time

	mu     sync.Mutex
	closed bool

	// wg tracks pipeline goroutines spawned by Query so Close (and tests, via
	// Wait) can synchronise with the end of in-flight requests.
	wg sync.WaitGroup
}

// Option is a functional option for configuring an Engine during
// construction.
type Option func(*Engine)

// WithCurrentInfo routes questions about current events to p instead of the
// knowledge base. Without it every question takes the static path.
func WithCurrentInfo(p currentinfo.Provider) Option {
	return func(e *Engine) { e.currentInfo = p }
}

// WithCache enables the response cache. Only non-temporal answers are read
// from or written to it.
func WithCache(c *respcache.Cache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithMetrics replaces the default metrics instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithMaxResults sets how many ranked chunks feed the LLM context.
// Default is 5.
func WithMaxResults(n int) Option {
	return func(e *Engine) { e.maxResults = n }
}

// WithTemperature sets the LLM sampling temperature. Default is 0.4.
func WithTemperature(t float64) Option {
	return func(e *Engine) { e.temperature = t }
}

// WithMaxTokens caps the completion length. Zero keeps the provider default.
func WithMaxTokens(n int) Option {
	return func(e *Engine) { e.maxTokens = n }
}

// WithLLMTimeout bounds one full completion stream. Default is 60 seconds.
func WithLLMTimeout(d time.Duration) Option {
	return func(e *Engine) { e.llmTimeout = d }
}

// WithCurrentInfoTimeout bounds one live information request. Default is 60
// seconds.
func WithCurrentInfoTimeout(d time.Duration) Option {
	return func(e *Engine) { e.currentTimeout = d }
}

// WithSystemPrompt replaces the built-in institutional prompt template. The
// placeholder {current_date} expands to the current date; the format
// instruction block is appended either way.
func WithSystemPrompt(template string) Option {
	return func(e *Engine) { e.promptTemplate = template }
}

// WithNow replaces the clock used for prompt dating and the duration
// metadata.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New constructs an Engine over the given backends. The positional
// dependencies are required; optional behavior (live information provider,
// response cache, metrics, tuning) is applied through options.
func New(llmP llm.Provider, searcher *search.Service, scorer *rank.Scorer, extractor *entity.Extractor, matcher *entity.NameMatcher, classifier *temporal.Classifier, opts ...Option) *Engine {
	e := &Engine{
		llmP:           llmP,
		searcher:       searcher,
		scorer:         scorer,
		extractor:      extractor,
		matcher:        matcher,
		classifier:     classifier,
		metrics:        observe.DefaultMetrics(),
		maxResults:     defaultMaxResults,
		temperature:    defaultTemperature,
		llmTimeout:     defaultLLMTimeout,
		currentTimeout: defaultCurrentInfoTimeout,
		promptTemplate: defaultPromptTemplate,
		now:            time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Query answers question in the requested format ("web" or "voice").
//
// The pipeline runs in a background goroutine; Query itself never blocks on
// I/O. The caller must drain [Stream.Chunks] before reading
// [Stream.Outcome]. Cancelling ctx abandons the upstream stream; a partial
// answer is never cached. Input validation is the transport layer's concern:
// the engine assumes a non-empty question and a known format.
func (e *Engine) Query(ctx context.Context, question, format string) (*Stream, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrClosed
	}
	e.wg.Add(1)
	e.mu.Unlock()

	s := newStream()
	go func() {
		defer e.wg.Done()
		e.run(ctx, question, format, s)
	}()
	return s, nil
}

// Close marks the engine closed and waits for in-flight queries to finish.
// Subsequent Query calls fail with [ErrClosed]. Close is safe to call
// multiple times.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()
	e.wg.Wait()
	return nil
}

// Wait blocks until every pipeline goroutine spawned by [Engine.Query] has
// finished. This is primarily useful in tests to synchronise before
// inspecting mock call records.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// ─── Pipeline ─────────────────────────────────────────────────────────────────

// run executes the pipeline for one query and always seals the stream.
func (e *Engine) run(ctx context.Context, question, format string, s *Stream) {
	start := e.now()
	meta := Metadata{Intent: entity.IntentGeneral}

	meta.Temporal = e.classifier.NeedsCurrent(question)
	if meta.Temporal && e.currentInfo != nil {
		e.runCurrent(ctx, question, format, s, meta, start)
		return
	}
	e.runStatic(ctx, question, format, s, meta, start)
}

// runCurrent answers from the live information provider. Live answers are
// never cache-safe.
func (e *Engine) runCurrent(ctx context.Context, question, format string, s *Stream, meta Metadata, start time.Time) {
	curCtx, cancel := context.WithTimeout(ctx, e.currentTimeout)
	defer cancel()

	tokens, err := e.currentInfo.StreamAnswer(curCtx, question, format)
	if err != nil {
		slog.Error("engine: live information request failed", "err", err)
		e.fallback(ctx, s, currentFallback(format), question, meta, start)
		return
	}

	var text strings.Builder
	for tok := range tokens {
		text.WriteString(tok)
		if !s.send(ctx, tok) {
			break
		}
	}
	e.finish(ctx, s, "current", Outcome{
		Emotion:   Detect(text.String(), question),
		CacheSafe: false,
		Metadata:  meta,
	}, start)
}

// runStatic answers from the knowledge base, consulting the response cache
// first. Temporal questions reach this path only when no live information
// provider is configured; they stay cache-safe but never touch the cache.
func (e *Engine) runStatic(ctx context.Context, question, format string, s *Stream, meta Metadata, start time.Time) {
	cleaned := textnorm.Clean(question)

	match := e.extractor.Extract(cleaned)
	fingerprint := question
	if match != nil {
		meta.Intent = entity.IntentFor(match.Type)
		meta.Entity = match.Text
		if match.Type == knowledge.Person {
			// Spelling variants of the same person must share a cache entry.
			fingerprint = e.matcher.Standardize(question)
		}
	}

	useCache := e.cache != nil && !meta.Temporal
	var key string
	if useCache {
		key = respcache.Key(fingerprint, format)
		if cached, ok := e.cache.Get(key); ok {
			e.metrics.ResponseCacheHits.Add(ctx, 1)
			meta.CacheHit = true
			slog.Info("engine: serving cached response", "key", key)
			e.replay(ctx, s, cached.Response, question, meta, start)
			return
		}
		e.metrics.ResponseCacheMisses.Add(ctx, 1)
	}

	hits := e.retrieve(ctx, cleaned, match)
	ranked := e.scorer.Rank(cleaned, match, hits, e.maxResults)
	meta.Results = len(ranked)

	bodies := make([]string, len(ranked))
	for i, r := range ranked {
		bodies[i] = r.Chunk.Body
	}

	req := llm.CompletionRequest{
		SystemPrompt: systemPrompt(e.promptTemplate, e.now(), format),
		Prompt:       userPrompt(strings.Join(bodies, "\n"), cleaned),
		Temperature:  e.temperature,
		MaxTokens:    e.maxTokens,
	}

	llmCtx, cancel := context.WithTimeout(ctx, e.llmTimeout)
	defer cancel()

	chunks, err := e.llmP.StreamCompletion(llmCtx, req)
	if err != nil {
		slog.Error("engine: completion stream failed to start", "err", err)
		e.fallback(ctx, s, llmFallback, question, meta, start)
		return
	}

	text, upstreamErr := e.forward(llmCtx, chunks, s)
	switch {
	case upstreamErr:
		e.fallback(ctx, s, llmFallback, question, meta, start)
		return
	case ctx.Err() != nil:
		// Client gone: seal the stream without caching the partial answer.
		e.finish(ctx, s, "rag", Outcome{Emotion: Detect(text, question), CacheSafe: false, Metadata: meta}, start)
		return
	case llmCtx.Err() != nil:
		slog.Error("engine: completion stream timed out", "timeout", e.llmTimeout)
		e.fallback(ctx, s, llmFallback, question, meta, start)
		return
	}

	out := Outcome{Emotion: Detect(text, question), CacheSafe: true, Metadata: meta}
	if useCache {
		e.store(ctx, key, text, format, out)
	}
	e.finish(ctx, s, "rag", out, start)
}

// retrieve picks the search strategy: entity-first for person and
// organization questions, semantic otherwise. An empty entity-first result
// falls through to semantic search.
func (e *Engine) retrieve(ctx context.Context, query string, match *entity.Match) []knowledge.SearchHit {
	if match != nil && (match.Type == knowledge.Person || match.Type == knowledge.Organization) {
		hits := e.searcher.EntityFirst(ctx, query, match.Text, e.maxResults)
		if len(hits) > 0 {
			slog.Info("engine: entity-first search", "entity", match.Text, "type", match.Type, "hits", len(hits))
			return hits
		}
	}
	hits := e.searcher.Semantic(ctx, query, e.maxResults)
	slog.Info("engine: semantic search", "hits", len(hits))
	return hits
}

// forward relays completion chunks to the caller and accumulates the full
// answer text. It reports the collected text and whether the stream broke
// with an upstream error. The error chunk's text is the provider's error
// message and is never forwarded.
func (e *Engine) forward(ctx context.Context, ch <-chan llm.Chunk, s *Stream) (string, bool) {
	var text strings.Builder
	for {
		select {
		case <-ctx.Done():
			go drainChunks(ch)
			return text.String(), false
		case chunk, ok := <-ch:
			if !ok {
				return text.String(), false
			}
			if chunk.FinishReason == "error" {
				slog.Error("engine: completion stream broke", "err", chunk.Text)
				go drainChunks(ch)
				return text.String(), true
			}
			if chunk.Text != "" {
				text.WriteString(chunk.Text)
				if !s.send(ctx, chunk.Text) {
					go drainChunks(ch)
					return text.String(), false
				}
			}
			if chunk.FinishReason != "" {
				return text.String(), false
			}
		}
	}
}

// replay streams a cached answer word-by-word. Tokens keep their original
// whitespace so the reassembled text is byte-identical to the cached one.
func (e *Engine) replay(ctx context.Context, s *Stream, text, question string, meta Metadata, start time.Time) {
	for _, tok := range wordTokens(text) {
		if !s.send(ctx, tok) {
			break
		}
	}
	e.finish(ctx, s, "cached", Outcome{
		Emotion:   Detect(text, question),
		CacheSafe: true,
		Metadata:  meta,
	}, start)
}

// store writes a finished answer to the response cache.
func (e *Engine) store(ctx context.Context, key, text, format string, out Outcome) {
	entry := respcache.Entry{
		Response: text,
		Format:   format,
		Emotion:  string(out.Emotion),
		Metadata: map[string]any{
			"intent":  string(out.Intent),
			"entity":  out.Entity,
			"results": out.Results,
		},
	}
	if err := e.cache.Put(key, entry); err != nil {
		slog.Error("engine: cache response", "err", err)
		return
	}
	e.metrics.ResponseCacheWrites.Add(ctx, 1)
}

// fallback emits msg as the remaining answer after a pipeline failure.
// Failed answers are never cache-safe and never cached.
func (e *Engine) fallback(ctx context.Context, s *Stream, msg, question string, meta Metadata, start time.Time) {
	s.send(ctx, msg)
	e.finish(ctx, s, "fallback", Outcome{
		Emotion:   Detect(msg, question),
		CacheSafe: false,
		Metadata:  meta,
	}, start)
}

// finish stamps the duration, records the per-query metrics, and seals the
// stream. path labels which pipeline branch produced the answer.
func (e *Engine) finish(ctx context.Context, s *Stream, path string, out Outcome, start time.Time) {
	out.Duration = e.now().Sub(start)
	e.metrics.RecordQuery(ctx, path, out.Duration)
	s.close(out)
}

// currentFallback returns the fixed answer for a failed live information
// request in the given format.
func currentFallback(format string) string {
	if format == FormatVoice {
		return currentInfoFallbackVoice
	}
	return currentInfoFallbackWeb
}

// wordTokens splits text into word-granular tokens, each carrying its
// trailing whitespace, so concatenating the tokens reproduces text exactly.
func wordTokens(text string) []string {
	if text == "" {
		return nil
	}
	var tokens []string
	start := 0
	inSpace := false
	for i, r := range text {
		isSpace := unicode.IsSpace(r)
		if inSpace && !isSpace {
			tokens = append(tokens, text[start:i])
			start = i
		}
		inSpace = isSpace
	}
	return append(tokens, text[start:])
}

// drainChunks discards the remainder of ch so the provider's stream
// goroutine can never block on an abandoned channel.
func drainChunks(ch <-chan llm.Chunk) {
	for range ch {
	}
}
