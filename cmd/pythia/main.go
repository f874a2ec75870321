// Command pythia is the main entry point for the Pythia question answering
// server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/pythia/internal/app"
	"github.com/MrWong99/pythia/internal/config"
	"github.com/MrWong99/pythia/internal/observe"
	"github.com/MrWong99/pythia/internal/resilience"
	"github.com/MrWong99/pythia/pkg/knowledge"
	"github.com/MrWong99/pythia/pkg/provider/currentinfo"
	"github.com/MrWong99/pythia/pkg/provider/currentinfo/perplexity"
	"github.com/MrWong99/pythia/pkg/provider/embeddings"
	ollamaembed "github.com/MrWong99/pythia/pkg/provider/embeddings/ollama"
	oaembed "github.com/MrWong99/pythia/pkg/provider/embeddings/openai"
	"github.com/MrWong99/pythia/pkg/provider/llm"
	"github.com/MrWong99/pythia/pkg/provider/llm/anyllm"
	oallm "github.com/MrWong99/pythia/pkg/provider/llm/openai"
)

// version is reported by /health, /stats, and the OTel resource.
const version = "0.4.0"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "pythia: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "pythia: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.Server.LogLevel.Level(),
	}))
	slog.SetDefault(logger)

	slog.Info("pythia starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Metrics + tracing ─────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		ServiceName:    "pythia",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, providers,
		app.WithVersion(version),
		app.WithCloser(func() error {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return otelShutdown(flushCtx)
		}),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg, application, providers)

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// anyLLMBackends lists the answer-generation backends served through the
// any-llm-go bridge. The native openai-go backend is registered separately.
var anyLLMBackends = []string{
	"anthropic", "gemini", "ollama",
	"deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// registerBuiltinProviders wires all built-in provider factories into reg.
// API keys never come from the config file; each factory reads its own
// environment variable.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	// The primary backend ships on openai-go; everything else rides the
	// any-llm-go bridge. ollama and llamacpp are local servers and use BaseURL
	// instead of a key.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		return oallm.New(os.Getenv("OPENAI_API_KEY"), entry.Model, opts...)
	})
	for _, backendName := range anyLLMBackends {
		reg.RegisterLLM(backendName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(backendName, entry.Model, opts...)
		})
	}

	// ── Embeddings ────────────────────────────────────────────────────────────

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		return oaembed.New(os.Getenv("OPENAI_API_KEY"), entry.Model, opts...)
	})

	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		return ollamaembed.New(entry.BaseURL, entry.Model)
	})

	// ── Current information ───────────────────────────────────────────────────

	reg.RegisterCurrentInfo("perplexity", func(entry config.ProviderEntry) (currentinfo.Provider, error) {
		var opts []perplexity.Option
		if entry.BaseURL != "" {
			opts = append(opts, perplexity.WithBaseURL(entry.BaseURL))
		}
		return perplexity.New(os.Getenv("PERPLEXITY_API_KEY"), entry.Model, opts...)
	})
}

// buildProviders instantiates the providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to
// consume. The LLM and embeddings providers are required; the current
// information provider is skipped when PERPLEXITY_API_KEY is absent, which
// routes every question through the knowledge base.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	primary, err := reg.CreateLLM(cfg.Providers.LLM.Entry())
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", cfg.Providers.LLM.Name, err)
	}
	ps.LLM = primary
	slog.Info("provider created", "kind", "llm", "name", cfg.Providers.LLM.Name)

	if entries := cfg.Providers.LLM.Fallbacks; len(entries) > 0 {
		chain := resilience.NewLLMFallback(primary, cfg.Providers.LLM.Name, resilience.FallbackConfig{})
		for _, entry := range entries {
			backend, err := reg.CreateLLM(entry)
			if err != nil {
				return nil, fmt.Errorf("create llm fallback %q: %w", entry.Name, err)
			}
			chain.AddFallback(entry.Name, backend)
			slog.Info("provider created", "kind", "llm-fallback", "name", entry.Name)
		}
		ps.LLM = chain
	}

	ps.Embeddings, err = reg.CreateEmbeddings(cfg.Providers.Embeddings)
	if err != nil {
		return nil, fmt.Errorf("create embeddings provider %q: %w", cfg.Providers.Embeddings.Name, err)
	}
	slog.Info("provider created", "kind", "embeddings", "name", cfg.Providers.Embeddings.Name)

	if name := cfg.Providers.CurrentInfo.Name; name != "" {
		if os.Getenv("PERPLEXITY_API_KEY") == "" {
			slog.Info("no current information credentials — temporal questions will use the knowledge base")
		} else {
			p, err := reg.CreateCurrentInfo(cfg.Providers.CurrentInfo)
			if err != nil {
				return nil, fmt.Errorf("create current information provider %q: %w", name, err)
			}
			ps.CurrentInfo = p
			slog.Info("provider created", "kind", "current_info", "name", name)
		}
	}

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, application *app.App, providers *app.Providers) {
	cat := application.Catalogue()

	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          Pythia — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("LLM", cfg.Providers.LLM.Name+" / "+cfg.Providers.LLM.Model)
	printRow("Embeddings", cfg.Providers.Embeddings.Name+" / "+cfg.Providers.Embeddings.Model)
	if providers.CurrentInfo != nil {
		printRow("Current info", cfg.Providers.CurrentInfo.Name)
	} else {
		printRow("Current info", "(disabled)")
	}
	if cfg.Cache.Enabled {
		printRow("Cache", cfg.Cache.Dir)
	} else {
		printRow("Cache", "(disabled)")
	}
	printRow("Persons", fmt.Sprintf("%d", cat.Size(knowledge.Person)))
	printRow("Organizations", fmt.Sprintf("%d", cat.Size(knowledge.Organization)))
	printRow("Locations", fmt.Sprintf("%d", cat.Size(knowledge.Location)))
	printRow("Events", fmt.Sprintf("%d", cat.Size(knowledge.Event)))
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", label, value)
}
