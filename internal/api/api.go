// Package api exposes the question answering pipeline over HTTP.
//
// Endpoints:
//
//   - POST /query       — answer a question ("web" or "voice" format)
//   - GET  /stats       — service configuration, features, and counters
//   - GET  /cache/stats — response cache statistics (404 when disabled)
//   - POST /cache/clear — drop all cached responses (404 when disabled)
//   - GET  /metrics     — Prometheus metrics
//   - GET  /health      — readiness (mounted from internal/health)
//
// Every response is JSON. Errors use a flat {"error": "..."} envelope. The
// middleware chain is observability (span, correlation ID, request metrics)
// followed by permissive CORS, so browser front-ends on other origins can
// call the service directly.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/pythia/internal/config"
	"github.com/MrWong99/pythia/internal/engine"
	"github.com/MrWong99/pythia/internal/health"
	"github.com/MrWong99/pythia/internal/observe"
	"github.com/MrWong99/pythia/internal/respcache"
)

const (
	// serviceName is reported by /stats.
	serviceName = "pythia"

	// maxQuestionChars is the question length limit in characters.
	maxQuestionChars = 1000

	// maxBodyBytes caps the request body size.
	maxBodyBytes = 1 << 20
)

// Server holds the HTTP handler dependencies. Construct with [New], then
// mount [Server.Handler] on an [http.Server].
type Server struct {
	engine  *engine.Engine
	cfg     *config.Config
	cache   *respcache.Cache // nil = cache endpoints return 404
	checks  *health.Handler  // nil = no /health route
	metrics *observe.Metrics
	version string

	// temporalRouting reports whether a live information provider is wired.
	// It only affects the /stats payload.
	temporalRouting bool
}

// Option is a functional option for [New].
type Option func(*Server)

// WithCache enables the /cache endpoints and the cache section of /stats.
func WithCache(c *respcache.Cache) Option {
	return func(s *Server) { s.cache = c }
}

// WithHealth mounts the /health endpoint.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.checks = h }
}

// WithMetrics replaces the default metrics instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithVersion sets the version string reported by /stats.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// WithTemporalRouting records whether questions about current events are
// routed to a live information provider.
func WithTemporalRouting(enabled bool) Option {
	return func(s *Server) { s.temporalRouting = enabled }
}

// New creates a Server around the answer engine and the loaded configuration.
func New(eng *engine.Engine, cfg *config.Config, opts ...Option) *Server {
	s := &Server{
		engine:  eng,
		cfg:     cfg,
		metrics: observe.DefaultMetrics(),
		version: "dev",
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the complete HTTP handler: all routes wrapped in the
// observability and CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /query", s.handleQuery)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /cache/stats", s.handleCacheStats)
	mux.HandleFunc("POST /cache/clear", s.handleCacheClear)
	mux.Handle("GET /metrics", promhttp.Handler())
	if s.checks != nil {
		s.checks.Register(mux)
	}
	return observe.Middleware(s.metrics)(cors(mux))
}

// ─── POST /query ─────────────────────────────────────────────────────────────

type queryRequest struct {
	Question string `json:"question"`
	Format   string `json:"format"`
}

type queryMetadata struct {
	Intent     string `json:"intent"`
	Entity     string `json:"entity"`
	Temporal   bool   `json:"temporal"`
	CacheHit   bool   `json:"cache_hit"`
	Results    int    `json:"results"`
	DurationMS int64  `json:"duration_ms"`
}

type queryResponse struct {
	Response  string        `json:"response"`
	Emotion   string        `json:"emotion"`
	CacheSafe bool          `json:"cache_safe"`
	Metadata  queryMetadata `json:"metadata"`
}

// handleQuery validates the request, runs the pipeline, and returns the
// complete answer. The engine streams internally; the handler drains the
// stream fully before reading the outcome, so the response carries the final
// emotion label and cache-safety flag.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	question := strings.TrimSpace(req.Question)
	if question == "" {
		writeError(w, http.StatusBadRequest, "Question cannot be empty")
		return
	}
	if utf8.RuneCountInString(question) > maxQuestionChars {
		writeError(w, http.StatusBadRequest, "Question too long (max 1000 characters)")
		return
	}

	format := req.Format
	if format == "" {
		format = engine.FormatWeb
	}
	if format != engine.FormatWeb && format != engine.FormatVoice {
		writeError(w, http.StatusBadRequest, "Format must be 'web' or 'voice'")
		return
	}

	stream, err := s.engine.Query(r.Context(), question, format)
	if err != nil {
		slog.Error("api: query rejected", "err", err)
		writeError(w, http.StatusInternalServerError, "Query processing failed")
		return
	}

	var text strings.Builder
	for chunk := range stream.Chunks() {
		text.WriteString(chunk)
	}
	out := stream.Outcome()

	slog.Info("api: query answered",
		"format", format,
		"emotion", out.Emotion,
		"cache_safe", out.CacheSafe,
		"cache_hit", out.CacheHit,
		"duration", out.Duration)

	writeJSON(w, http.StatusOK, queryResponse{
		Response:  text.String(),
		Emotion:   string(out.Emotion),
		CacheSafe: out.CacheSafe,
		Metadata: queryMetadata{
			Intent:     string(out.Intent),
			Entity:     out.Entity,
			Temporal:   out.Temporal,
			CacheHit:   out.CacheHit,
			Results:    out.Results,
			DurationMS: out.Duration.Milliseconds(),
		},
	})
}

// ─── GET /stats ──────────────────────────────────────────────────────────────

type statsFeatures struct {
	EmotionDetection     bool     `json:"emotion_detection"`
	FormatAwareResponses bool     `json:"format_aware_responses"`
	EntityFirstSearch    bool     `json:"entity_first_search"`
	TemporalRouting      bool     `json:"temporal_routing"`
	CacheEnabled         bool     `json:"cache_enabled"`
	SupportedEmotions    []string `json:"supported_emotions"`
}

type statsRanking struct {
	ExactMatchBoost   float64 `json:"exact_match_boost"`
	PersonBoost       float64 `json:"person_boost"`
	OrganizationBoost float64 `json:"organization_boost"`
	LocationBoost     float64 `json:"location_boost"`
	EventBoost        float64 `json:"event_boost"`
	HashtagBoost      float64 `json:"hashtag_boost"`
	MentionBoost      float64 `json:"mention_boost"`
	MinRelevanceScore float64 `json:"min_relevance_score"`
}

type statsTemporal struct {
	Enabled          bool     `json:"enabled"`
	TemporalKeywords []string `json:"temporal_keywords"`
	StatusKeywords   []string `json:"status_keywords"`
	YearWindow       int      `json:"year_window"`
}

type statsConfiguration struct {
	Model            string        `json:"model"`
	EmbeddingModel   string        `json:"embedding_model"`
	MaxQueryLength   int           `json:"max_query_length"`
	MaxResults       int           `json:"max_results"`
	SupportedFormats []string      `json:"supported_formats"`
	Ranking          statsRanking  `json:"ranking"`
	Temporal         statsTemporal `json:"temporal"`
	CacheTTL         string        `json:"cache_ttl"`
}

type statsResponse struct {
	Service       string             `json:"service"`
	Version       string             `json:"version"`
	Status        string             `json:"status"`
	Features      statsFeatures      `json:"features"`
	Configuration statsConfiguration `json:"configuration"`
	CacheStats    *respcache.Stats   `json:"cache_stats,omitempty"`
}

// handleStats reports the effective configuration, the feature set, and the
// response cache counters.
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	emotions := engine.Emotions()
	labels := make([]string, len(emotions))
	for i, e := range emotions {
		labels[i] = string(e)
	}

	resp := statsResponse{
		Service: serviceName,
		Version: s.version,
		Status:  "operational",
		Features: statsFeatures{
			EmotionDetection:     true,
			FormatAwareResponses: true,
			EntityFirstSearch:    true,
			TemporalRouting:      s.temporalRouting,
			CacheEnabled:         s.cache != nil,
			SupportedEmotions:    labels,
		},
		Configuration: statsConfiguration{
			Model:            s.cfg.Providers.LLM.Model,
			EmbeddingModel:   s.cfg.Providers.Embeddings.Model,
			MaxQueryLength:   maxQuestionChars,
			MaxResults:       s.cfg.Query.MaxResults,
			SupportedFormats: []string{engine.FormatWeb, engine.FormatVoice},
			Ranking: statsRanking{
				ExactMatchBoost:   s.cfg.Ranking.ExactMatchBoost,
				PersonBoost:       s.cfg.Ranking.PersonBoost,
				OrganizationBoost: s.cfg.Ranking.OrganizationBoost,
				LocationBoost:     s.cfg.Ranking.LocationBoost,
				EventBoost:        s.cfg.Ranking.EventBoost,
				HashtagBoost:      s.cfg.Ranking.HashtagBoost,
				MentionBoost:      s.cfg.Ranking.MentionBoost,
				MinRelevanceScore: s.cfg.Ranking.MinRelevanceScore,
			},
			Temporal: statsTemporal{
				Enabled:          s.temporalRouting,
				TemporalKeywords: s.cfg.Temporal.TemporalKeywords,
				StatusKeywords:   s.cfg.Temporal.StatusKeywords,
				YearWindow:       s.cfg.Temporal.YearWindow,
			},
			CacheTTL: s.cfg.Cache.TTL.Std().String(),
		},
	}
	if s.cache != nil {
		st := s.cache.Stats()
		resp.CacheStats = &st
	}

	writeJSON(w, http.StatusOK, resp)
}

// ─── Cache endpoints ─────────────────────────────────────────────────────────

// handleCacheStats reports the response cache counters.
func (s *Server) handleCacheStats(w http.ResponseWriter, _ *http.Request) {
	if s.cache == nil {
		writeError(w, http.StatusNotFound, "Cache is disabled")
		return
	}
	writeJSON(w, http.StatusOK, s.cache.Stats())
}

type clearResponse struct {
	Status  string `json:"status"`
	Cleared int    `json:"cleared"`
}

// handleCacheClear drops every cached response.
func (s *Server) handleCacheClear(w http.ResponseWriter, _ *http.Request) {
	if s.cache == nil {
		writeError(w, http.StatusNotFound, "Cache is disabled")
		return
	}
	n, err := s.cache.Clear()
	if err != nil {
		slog.Error("api: clear cache", "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to clear cache")
		return
	}
	slog.Info("api: cache cleared", "entries", n)
	writeJSON(w, http.StatusOK, clearResponse{Status: "ok", Cleared: n})
}

// ─── Middleware and helpers ──────────────────────────────────────────────────

// cors answers preflight requests and marks every response as callable from
// any origin. The service is designed for local-network front-ends.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v as JSON and writes it with the given status code. On
// encoding failure it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failed"}`, http.StatusInternalServerError)
	}
}

// writeError writes the flat error envelope.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
