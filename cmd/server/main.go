package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/p-n-ai/pai-tutor/internal/ai"
	"github.com/p-n-ai/pai-tutor/internal/curriculum"
	"github.com/p-n-ai/pai-tutor/internal/platform/cache"
	"github.com/p-n-ai/pai-tutor/internal/platform/config"
	"github.com/p-n-ai/pai-tutor/internal/platform/database"
	"github.com/p-n-ai/pai-tutor/internal/platform/logging"
	"github.com/p-n-ai/pai-tutor/internal/platform/metrics"
	"github.com/p-n-ai/pai-tutor/internal/server"
	"github.com/p-n-ai/pai-tutor/internal/tutor"
)

const cachePrefix = "pai-tutor:"

func main() {
	// A missing .env file is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logging.New(cfg.Log.Level, cfg.Log.Format))

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	// Graceful shutdown on SIGTERM/SIGINT.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	m := metrics.New("pai_tutor")
	checks := map[string]server.HealthChecker{}

	var db *database.DB
	if cfg.NeedsDatabase() {
		var err error
		db, err = database.New(ctx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.EnsureSchema(ctx); err != nil {
			return err
		}
		checks["database"] = db
	}

	var c *cache.Cache
	if cfg.NeedsCache() {
		var err error
		c, err = cache.New(ctx, cfg.Cache.URL, cachePrefix)
		if err != nil {
			return err
		}
		defer c.Close()
		checks["cache"] = c
	}

	repo, err := buildRepository(cfg, db, c)
	if err != nil {
		return err
	}

	router, err := buildRouter(ctx, cfg)
	if err != nil {
		return err
	}
	checks["ai"] = router

	svc := tutor.NewService(tutor.ServiceConfig{
		Repository: repo,
		Engine: tutor.NewEngine(tutor.EngineConfig{
			Model:       router,
			ModelID:     cfg.AI.Model,
			Temperature: ai.Float(cfg.AI.Temperature),
			MaxTokens:   cfg.AI.MaxTokens,
			Timeout:     cfg.ModelTimeout(),
			Budget:      buildBudget(cfg),
			Metrics:     m,
		}),
		Store:   buildSessionStore(cfg, c),
		Events:  buildEventLogger(cfg, db),
		Metrics: m,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      server.New(server.Config{Service: svc, Metrics: m, Checks: checks, Models: router}).Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.ModelTimeout() + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting",
			"addr", srv.Addr,
			"curriculum_backend", cfg.Curriculum.Backend,
			"session_store", cfg.Session.Store,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// buildRepository selects the curriculum backend and wraps it in the
// read-through cache when enabled.
func buildRepository(cfg *config.Config, db *database.DB, c *cache.Cache) (curriculum.Repository, error) {
	var (
		repo curriculum.Repository
		err  error
	)
	switch cfg.Curriculum.Backend {
	case config.BackendSupabase:
		repo, err = curriculum.NewSupabaseRepository(cfg.Supabase.URL, cfg.Supabase.Key)
	case config.BackendPostgres:
		if db == nil {
			return nil, fmt.Errorf("postgres curriculum backend needs a database")
		}
		repo, err = curriculum.NewPostgresRepository(db.Pool)
	case config.BackendYAML:
		repo, err = curriculum.LoadCatalog(cfg.Curriculum.Path)
	case config.BackendXLSX:
		repo, err = curriculum.LoadWorkbook(cfg.Curriculum.Path)
	default:
		return nil, fmt.Errorf("unknown curriculum backend %q", cfg.Curriculum.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("curriculum backend %s: %w", cfg.Curriculum.Backend, err)
	}

	if cfg.Cache.Enabled && c != nil {
		repo = curriculum.NewCachedRepository(repo, c, time.Duration(cfg.Cache.TTL)*time.Second)
	}
	return repo, nil
}

// buildRouter registers every configured provider in fallback order. Each
// provider gets its own default model; LEARN_AI_MODEL only reaches the first.
func buildRouter(ctx context.Context, cfg *config.Config) (*ai.Router, error) {
	router := ai.NewRouter()

	if key := cfg.AI.Anthropic.APIKey; key != "" {
		opts := []ai.AnthropicOption{ai.WithAnthropicMaxRetries(1)}
		if m := cfg.AI.Anthropic.Model; m != "" {
			opts = append(opts, ai.WithAnthropicModel(m))
		}
		p, err := ai.NewAnthropicProvider(key, opts...)
		if err != nil {
			return nil, err
		}
		router.Register("anthropic", p)
	}
	if key := cfg.AI.OpenAI.APIKey; key != "" {
		router.Register("openai", ai.NewOpenAIProvider(key, modelOption(cfg.AI.OpenAI.Model)...))
	}
	if key := cfg.AI.Google.APIKey; key != "" {
		var opts []ai.GoogleOption
		if m := cfg.AI.Google.Model; m != "" {
			opts = append(opts, ai.WithGoogleModel(m))
		}
		p, err := ai.NewGoogleProvider(ctx, key, opts...)
		if err != nil {
			return nil, err
		}
		router.Register("google", p)
	}
	if key := cfg.AI.DeepSeek.APIKey; key != "" {
		router.Register("deepseek", ai.NewDeepSeekProvider(key, modelOption(cfg.AI.DeepSeek.Model)...))
	}
	if key := cfg.AI.OpenRouter.APIKey; key != "" {
		router.Register("openrouter", ai.NewOpenRouterProvider(key, modelOption(cfg.AI.OpenRouter.Model)...))
	}
	if cfg.AI.Ollama.Enabled {
		router.Register("ollama", ai.NewOllamaProvider(cfg.AI.Ollama.URL, modelOption(cfg.AI.Ollama.Model)...))
	}

	if !router.HasProvider() {
		return nil, fmt.Errorf("no AI provider configured")
	}
	return router, nil
}

func modelOption(model string) []ai.OpenAIOption {
	if model == "" {
		return nil
	}
	return []ai.OpenAIOption{ai.WithDefaultModel(model)}
}

func buildBudget(cfg *config.Config) ai.BudgetChecker {
	if cfg.AI.SessionTokenBudget <= 0 {
		return nil
	}
	return ai.NewInMemoryBudget(cfg.AI.SessionTokenBudget)
}

func buildSessionStore(cfg *config.Config, c *cache.Cache) tutor.SessionStore {
	if cfg.Session.Store == config.SessionStoreRedis && c != nil {
		return tutor.NewRedisSessionStore(c, time.Duration(cfg.Session.TTLMinutes)*time.Minute)
	}
	return tutor.NewMemorySessionStore()
}

func buildEventLogger(cfg *config.Config, db *database.DB) tutor.EventLogger {
	if cfg.Events.Enabled && db != nil {
		return tutor.NewPostgresEventLogger(db.Pool)
	}
	return tutor.NopEventLogger{}
}
