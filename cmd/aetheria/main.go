// Command aetheria runs the conversational orchestration core: it wires
// configuration, persistence, the LM provider, the tool registry and the
// HTTP surface together and serves the Turn API, following the teacher's
// cmd/agentd wiring style.
package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"aetheria/internal/config"
	"aetheria/internal/httpapi"
	"aetheria/internal/llm"
	"aetheria/internal/llm/anthropic"
	"aetheria/internal/memory"
	"aetheria/internal/memory/inmemory"
	"aetheria/internal/memory/postgres"
	"aetheria/internal/observability"
	"aetheria/internal/orchestrator"
	"aetheria/internal/tools"
)

func main() {
	cfg := config.Load()

	observability.InitLogger(cfg.Observability.LogPath, cfg.Observability.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.InitOTel(ctx, cfg.Observability)
	if err != nil {
		log.Warn().Err(err).Msg("otel init failed, continuing without tracing")
	}
	if shutdownOTel != nil {
		defer func() { _ = shutdownOTel(context.Background()) }()
	}

	httpClient := observability.NewHTTPClient(nil)
	llm.ConfigureLogging(cfg.Observability.LogPayloads, cfg.Observability.LogTruncateBytes)

	lmClient := anthropic.New(cfg.Anthropic, httpClient)

	store, closeStore := buildStore(ctx, cfg)
	defer closeStore()

	registry := tools.NewRegistry()
	tools.RegisterCalculators(registry)
	geocode := tools.NewGeocodeClient(cfg.Geocode.URL, cfg.Geocode.APIKey)
	geocode.HTTP = httpClient
	tools.RegisterSupportTools(registry, store, geocode)

	loopCfg := orchestrator.Config{
		MaxToolIterations:  cfg.MaxToolIterations,
		MaxToolParallelism: cfg.MaxToolParallelism,
		HistoryLimit:       cfg.HistoryLimit,
		WindowThreshold:    cfg.WindowThreshold,
		EpisodicWindowSize: cfg.EpisodicWindowSize,
		TargetLanguage:     cfg.TargetLanguage,
		TurnTimeout:        time.Duration(cfg.TurnTimeoutSeconds) * time.Second,
		ToolTimeout:        time.Duration(cfg.ToolTimeoutSeconds) * time.Second,
		LMTimeout:          time.Duration(cfg.LMTimeoutSeconds) * time.Second,
	}
	loop := orchestrator.New(lmClient, registry, store, loopCfg, cfg.Anthropic.FastModel, cfg.Anthropic.StrongModel)

	// No session-issuing middleware is wired yet (OAuth2/OIDC login is out of
	// scope here); requests are attributed by X-User-Id until one exists.
	server := httpapi.NewServer(loop, store, false)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE responses are long-lived; bounded by Config.TurnTimeout instead.
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("aetheria listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown failed")
	}
}

// buildStore selects Postgres when DATABASE_URL/POSTGRES_DSN is set, falling
// back to the in-memory store for local development.
func buildStore(ctx context.Context, cfg config.Config) (memory.Store, func()) {
	if cfg.Database.DSN == "" {
		log.Warn().Msg("no DATABASE_URL configured, using in-memory store")
		return inmemory.New(), func() {}
	}

	pool, err := pgxpool.New(ctx, cfg.Database.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	store := postgres.New(pool, cfg.EpisodicWindowSize)
	if err := store.Init(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to initialise postgres schema")
	}
	return store, pool.Close
}
