// Package app wires all Pythia subsystems into a running service.
//
// The App struct owns the full lifecycle: New connects the knowledge store,
// loads the entity catalogues, and assembles the query engine behind the
// HTTP API; Run serves requests until the context ends; Shutdown tears
// everything down in reverse-init order.
//
// For testing, inject doubles via functional options (WithStore). When an
// option is not provided, New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/pythia/internal/api"
	"github.com/MrWong99/pythia/internal/config"
	"github.com/MrWong99/pythia/internal/engine"
	"github.com/MrWong99/pythia/internal/entity"
	"github.com/MrWong99/pythia/internal/health"
	"github.com/MrWong99/pythia/internal/observe"
	"github.com/MrWong99/pythia/internal/rank"
	"github.com/MrWong99/pythia/internal/respcache"
	"github.com/MrWong99/pythia/internal/search"
	"github.com/MrWong99/pythia/internal/temporal"
	"github.com/MrWong99/pythia/pkg/knowledge"
	"github.com/MrWong99/pythia/pkg/knowledge/postgres"
	"github.com/MrWong99/pythia/pkg/provider/currentinfo"
	"github.com/MrWong99/pythia/pkg/provider/embeddings"
	"github.com/MrWong99/pythia/pkg/provider/llm"
)

const (
	serviceName = "pythia"

	// readHeaderTimeout bounds how long a client may take to send request
	// headers before the connection is dropped.
	readHeaderTimeout = 10 * time.Second

	// stopGrace bounds the HTTP drain started when Run's context ends.
	stopGrace = 10 * time.Second
)

// Providers holds one interface value per provider slot, populated by main
// via the config registry. LLM and Embeddings are required; a nil CurrentInfo
// disables the current-information routing path.
type Providers struct {
	LLM         llm.Provider
	Embeddings  embeddings.Provider
	CurrentInfo currentinfo.Provider
}

// App owns all subsystem lifetimes and serves the Pythia HTTP API.
type App struct {
	cfg       *config.Config
	providers *Providers
	version   string

	// Subsystems — initialised in New, torn down in Shutdown.
	store      knowledge.Store
	catalogue  *entity.Catalogue
	matcher    *entity.NameMatcher
	extractor  *entity.Extractor
	searcher   *search.Service
	scorer     *rank.Scorer
	classifier *temporal.Classifier
	cache      *respcache.Cache
	metrics    *observe.Metrics
	engine     *engine.Engine
	checks     *health.Handler
	server     *http.Server

	// closers run in reverse registration order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a knowledge store instead of connecting to PostgreSQL.
// Closing an injected store stays the caller's responsibility.
func WithStore(s knowledge.Store) Option {
	return func(a *App) { a.store = s }
}

// WithVersion sets the version string reported by /health and /stats.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// WithCloser registers an extra closer to run during Shutdown. Closers run
// in reverse registration order, so a closer registered here runs after the
// app's own subsystems are released.
func WithCloser(fn func() error) Option {
	return func(a *App) { a.closers = append(a.closers, fn) }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main (populated via the config registry). Use Option functions
// to inject test doubles.
//
// New performs all initialisation synchronously: store connection, catalogue
// loading, search and ranking construction, cache opening, engine assembly,
// and HTTP handler setup. It does not bind the listen address; that happens
// in Run.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.LLM == nil {
		return nil, errors.New("app: an LLM provider is required")
	}
	if providers.Embeddings == nil {
		return nil, errors.New("app: an embeddings provider is required")
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
		version:   "dev",
		metrics:   observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Knowledge store ───────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Entity catalogues ─────────────────────────────────────────────
	if err := a.initEntities(); err != nil {
		return nil, fmt.Errorf("app: init entities: %w", err)
	}

	// ── 3. Vector search ─────────────────────────────────────────────────
	if err := a.initSearch(); err != nil {
		return nil, fmt.Errorf("app: init search: %w", err)
	}

	// ── 4. Ranking + temporal classifier ─────────────────────────────────
	if err := a.initRanking(); err != nil {
		return nil, fmt.Errorf("app: init ranking: %w", err)
	}

	// ── 5. Response cache ────────────────────────────────────────────────
	if err := a.initCache(); err != nil {
		return nil, fmt.Errorf("app: init cache: %w", err)
	}

	// ── 6. Query engine ──────────────────────────────────────────────────
	a.initEngine()

	// ── 7. Health + HTTP API ─────────────────────────────────────────────
	a.initHTTP()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStore connects the pgvector-backed store unless one was injected.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}

	dsn := a.cfg.Store.PostgresDSN
	if dsn == "" {
		return errors.New("store.postgres_dsn is required when no store is injected")
	}

	store, err := postgres.NewStore(ctx, dsn, a.cfg.Store.EmbeddingDimensions)
	if err != nil {
		return err
	}
	a.store = store
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	return nil
}

// initEntities loads the catalogue files and builds the name matcher and the
// entity extractor on top of them. Missing catalogue files load empty, so a
// bare deployment still starts.
func (a *App) initEntities() error {
	cat, err := entity.Load(a.cfg.Entities.Dir)
	if err != nil {
		return err
	}
	a.catalogue = cat
	a.matcher = entity.NewNameMatcher(cat.Persons)
	a.extractor = entity.NewExtractor(cat, a.matcher)

	slog.Info("app: entity catalogues loaded",
		"persons", cat.Size(knowledge.Person),
		"organizations", cat.Size(knowledge.Organization),
		"locations", cat.Size(knowledge.Location),
		"events", cat.Size(knowledge.Event),
		"titles", cat.Size(knowledge.Title),
	)
	return nil
}

// initSearch builds the embed-and-search service over the store.
func (a *App) initSearch() error {
	searcher, err := search.NewService(a.providers.Embeddings, a.store,
		search.WithEmbedCacheSize(a.cfg.Query.EmbedCacheSize),
		search.WithCandidateMultiplier(a.cfg.Query.CandidateMultiplier),
		search.WithTimeout(a.cfg.Query.VectorTimeout.Std()),
		search.WithMetrics(a.metrics),
	)
	if err != nil {
		return err
	}
	a.searcher = searcher
	return nil
}

// initRanking builds the relevance scorer and the temporal classifier.
func (a *App) initRanking() error {
	scorer, err := rank.NewScorer(a.matcher, a.cfg.Ranking)
	if err != nil {
		return err
	}
	a.scorer = scorer

	a.classifier = temporal.NewClassifier(temporal.Config{
		Temporal:   a.cfg.Temporal.TemporalKeywords,
		Status:     a.cfg.Temporal.StatusKeywords,
		Relative:   a.cfg.Temporal.RelativeKeywords,
		YearWindow: a.cfg.Temporal.YearWindow,
	})
	return nil
}

// initCache opens the response cache when enabled. A disabled cache leaves
// a.cache nil; the engine and the API treat nil as "no caching".
func (a *App) initCache() error {
	if !a.cfg.Cache.Enabled {
		slog.Info("app: response cache disabled")
		return nil
	}
	cache, err := respcache.New(a.cfg.Cache)
	if err != nil {
		return err
	}
	a.cache = cache
	return nil
}

// initEngine assembles the query engine from the subsystems built so far.
func (a *App) initEngine() {
	opts := []engine.Option{
		engine.WithMetrics(a.metrics),
		engine.WithMaxResults(a.cfg.Query.MaxResults),
		engine.WithTemperature(a.cfg.Providers.LLM.Temperature),
		engine.WithMaxTokens(a.cfg.Providers.LLM.MaxTokens),
		engine.WithLLMTimeout(a.cfg.Query.LLMTimeout.Std()),
		engine.WithCurrentInfoTimeout(a.cfg.Query.CurrentInfoTimeout.Std()),
	}
	if a.providers.CurrentInfo != nil {
		opts = append(opts, engine.WithCurrentInfo(a.providers.CurrentInfo))
	}
	if a.cache != nil {
		opts = append(opts, engine.WithCache(a.cache))
	}
	if prompt := a.cfg.Query.SystemPrompt; prompt != "" {
		opts = append(opts, engine.WithSystemPrompt(prompt))
	}

	a.engine = engine.New(a.providers.LLM, a.searcher, a.scorer, a.extractor, a.matcher, a.classifier, opts...)
	a.closers = append(a.closers, func() error {
		a.engine.Close()
		return nil
	})
}

// initHTTP builds the health handler, the API server, and the http.Server.
func (a *App) initHTTP() {
	a.checks = health.New(serviceName, a.version,
		health.NamedCheck("store", a.store.Ping),
	)
	if a.providers.CurrentInfo != nil {
		a.checks.AddOptional(health.NamedCheck("currentinfo", a.providers.CurrentInfo.TestConnection))
	}
	a.checks.SetSummary(a.healthSummary)

	apiOpts := []api.Option{
		api.WithHealth(a.checks),
		api.WithMetrics(a.metrics),
		api.WithVersion(a.version),
		api.WithTemporalRouting(a.providers.CurrentInfo != nil),
	}
	if a.cache != nil {
		apiOpts = append(apiOpts, api.WithCache(a.cache))
	}
	apiServer := api.New(a.engine, a.cfg, apiOpts...)

	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

// healthSummary produces the base message of a healthy /health response.
func (a *App) healthSummary(ctx context.Context) string {
	state := "disabled"
	if a.cache != nil {
		state = "enabled"
	}
	n, err := a.store.Count(ctx)
	if err != nil {
		slog.Warn("app: document count unavailable for health summary", "err", err)
		return "Service operational, cache: " + state
	}
	return fmt.Sprintf("Service operational with %d documents, cache: %s", n, state)
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the fully wired HTTP handler. Useful in tests to exercise
// the API without binding a socket.
func (a *App) Handler() http.Handler { return a.server.Handler }

// Catalogue returns the loaded entity catalogue.
func (a *App) Catalogue() *entity.Catalogue { return a.catalogue }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the HTTP API and sweeps the response cache until ctx is
// cancelled or a component fails. When ctx ends, in-flight requests get
// stopGrace to drain. After Run returns, call [App.Shutdown] to release the
// remaining resources.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("app: http server listening",
			"addr", a.server.Addr,
			"tls", a.cfg.Server.TLS != nil,
		)
		if err := a.listenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: http server: %w", err)
		}
		return nil
	})

	if a.cache != nil {
		g.Go(func() error {
			a.runCacheJanitor(gctx)
			return nil
		})
	}

	// Draining the server is what unblocks the serve goroutine.
	g.Go(func() error {
		<-gctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), stopGrace)
		defer cancel()
		if err := a.server.Shutdown(stopCtx); err != nil {
			slog.Warn("app: http drain incomplete, closing connections", "err", err)
			return a.server.Close()
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// listenAndServe starts the HTTP server, with TLS when configured.
func (a *App) listenAndServe() error {
	if tls := a.cfg.Server.TLS; tls != nil {
		return a.server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
	}
	return a.server.ListenAndServe()
}

// runCacheJanitor sweeps expired cache entries on the configured interval
// until ctx ends.
func (a *App) runCacheJanitor(ctx context.Context) {
	interval := a.cfg.Cache.CleanupInterval.Std()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Debug("app: cache janitor running", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.cache.Cleanup()
		}
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the HTTP server and releases all subsystems in reverse-init
// order. It respects the context deadline: if ctx expires before all closers
// finish, the remaining ones are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("app: shutting down", "closers", len(a.closers))

		if err := a.server.Shutdown(ctx); err != nil {
			slog.Warn("app: http server shutdown", "err", err)
			a.server.Close()
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("app: shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("app: closer failed", "index", i, "err", err)
			}
		}

		slog.Info("app: shutdown complete")
	})
	return shutdownErr
}
