package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":          {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"embeddings":   {"openai", "ollama"},
	"current_info": {"perplexity"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r over the defaults and validates
// the result. Fields absent from the YAML keep their [Default] values.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Store
	if cfg.Store.PostgresDSN == "" {
		errs = append(errs, errors.New("store.postgres_dsn is required"))
	}
	if cfg.Store.EmbeddingDimensions < 1 {
		errs = append(errs, fmt.Errorf("store.embedding_dimensions %d must be at least 1", cfg.Store.EmbeddingDimensions))
	}

	// Providers
	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm.name is required"))
	}
	if t := cfg.Providers.LLM.Temperature; t < 0 || t > 2 {
		errs = append(errs, fmt.Errorf("providers.llm.temperature %.2f is out of range [0, 2]", t))
	}
	if cfg.Providers.LLM.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("providers.llm.max_tokens %d must not be negative", cfg.Providers.LLM.MaxTokens))
	}
	for i, fb := range cfg.Providers.LLM.Fallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm.fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("llm", fb.Name)
	}
	if cfg.Providers.Embeddings.Name == "" {
		errs = append(errs, errors.New("providers.embeddings.name is required"))
	}
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)
	validateProviderName("current_info", cfg.Providers.CurrentInfo.Name)

	if cfg.Providers.CurrentInfo.Name == "" {
		slog.Warn("providers.current_info.name is empty; questions about current events will be answered from the knowledge base only")
	}

	// Query pipeline
	if cfg.Query.MaxResults < 1 {
		errs = append(errs, fmt.Errorf("query.max_results %d must be at least 1", cfg.Query.MaxResults))
	}
	if cfg.Query.CandidateMultiplier < 1 {
		errs = append(errs, fmt.Errorf("query.candidate_multiplier %d must be at least 1", cfg.Query.CandidateMultiplier))
	}
	if cfg.Query.EmbedCacheSize < 1 {
		errs = append(errs, fmt.Errorf("query.embed_cache_size %d must be at least 1", cfg.Query.EmbedCacheSize))
	}
	for _, timeout := range []struct {
		name  string
		value Duration
	}{
		{"query.vector_timeout", cfg.Query.VectorTimeout},
		{"query.llm_timeout", cfg.Query.LLMTimeout},
		{"query.current_info_timeout", cfg.Query.CurrentInfoTimeout},
	} {
		if timeout.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", timeout.name))
		}
	}

	// Ranking
	for _, boost := range []struct {
		name  string
		value float64
	}{
		{"ranking.exact_match_boost", cfg.Ranking.ExactMatchBoost},
		{"ranking.person_boost", cfg.Ranking.PersonBoost},
		{"ranking.organization_boost", cfg.Ranking.OrganizationBoost},
		{"ranking.location_boost", cfg.Ranking.LocationBoost},
		{"ranking.event_boost", cfg.Ranking.EventBoost},
		{"ranking.hashtag_boost", cfg.Ranking.HashtagBoost},
		{"ranking.mention_boost", cfg.Ranking.MentionBoost},
	} {
		if boost.value < 0 {
			errs = append(errs, fmt.Errorf("%s %.3f must not be negative", boost.name, boost.value))
		}
	}
	if v := cfg.Ranking.MinTermMatch; v < 0 || v > 1 {
		errs = append(errs, fmt.Errorf("ranking.min_term_match %.2f is out of range [0, 1]", v))
	}
	if v := cfg.Ranking.MinRelevanceScore; v < 0 || v > 1 {
		errs = append(errs, fmt.Errorf("ranking.min_relevance_score %.2f is out of range [0, 1]", v))
	}
	if v := cfg.Ranking.NameMatchThreshold; v < 0 || v > 100 {
		errs = append(errs, fmt.Errorf("ranking.name_match_threshold %.1f is out of range [0, 100]", v))
	}
	if cfg.Ranking.EntityMemoSize < 1 {
		errs = append(errs, fmt.Errorf("ranking.entity_memo_size %d must be at least 1", cfg.Ranking.EntityMemoSize))
	}

	// Entities
	if cfg.Entities.Dir == "" {
		slog.Warn("entities.dir is empty; every entity category will load empty and entity-aware ranking will be inert")
	}

	// Temporal
	if cfg.Temporal.YearWindow < 1 {
		errs = append(errs, fmt.Errorf("temporal.year_window %d must be at least 1", cfg.Temporal.YearWindow))
	}

	// Cache
	if cfg.Cache.Enabled {
		if cfg.Cache.Dir == "" {
			errs = append(errs, errors.New("cache.dir is required when the cache is enabled"))
		}
		if cfg.Cache.TTL <= 0 {
			errs = append(errs, errors.New("cache.ttl must be positive when the cache is enabled"))
		}
		if cfg.Cache.CleanupInterval <= 0 {
			errs = append(errs, errors.New("cache.cleanup_interval must be positive when the cache is enabled"))
		}
		if cfg.Cache.MaxBytes <= 0 {
			errs = append(errs, errors.New("cache.max_bytes must be positive when the cache is enabled"))
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
