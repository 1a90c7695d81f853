package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/vnmchuo/costwatch/config"
	"github.com/vnmchuo/costwatch/internal/apps"
	"github.com/vnmchuo/costwatch/internal/auth"
	"github.com/vnmchuo/costwatch/internal/catalog"
	"github.com/vnmchuo/costwatch/internal/costs"
	"github.com/vnmchuo/costwatch/internal/fetcher/cloudflare"
	"github.com/vnmchuo/costwatch/internal/fetcher/github"
	"github.com/vnmchuo/costwatch/internal/fetcher/vercel"
	"github.com/vnmchuo/costwatch/internal/httpapi"
	"github.com/vnmchuo/costwatch/internal/ingest"
	"github.com/vnmchuo/costwatch/internal/logging"
	"github.com/vnmchuo/costwatch/internal/postgres"
	"github.com/vnmchuo/costwatch/internal/seeder"
	"github.com/vnmchuo/costwatch/internal/telemetry"
	"github.com/vnmchuo/costwatch/pkg/ratelimit"
)

func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// 2. Init logger
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	// 3. Init telemetry
	shutdownTracer, err := telemetry.InitTracer("costwatch", cfg)
	if err != nil {
		log.Fatalf("failed to init tracer: %v", err)
	}
	defer shutdownTracer()

	// 4. Migrate and connect PostgreSQL
	ctx := context.Background()
	if err := postgres.RunMigrations(ctx, cfg.PostgresDSN); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	pool, err := postgres.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("failed to connect postgres: %v", err)
	}
	defer pool.Close()
	logger.Info("PostgreSQL connected")

	// 5. Connect Redis
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to ping redis: %v", err)
	}
	logger.Info("Redis connected")

	// 6. Init stores
	rateStore := catalog.NewPostgresStore(pool)
	costStore := costs.NewPostgresStore(pool)
	appStore := apps.NewPostgresStore(pool)
	rawStore := ingest.NewPostgresStore(pool)

	// 7. Init catalog, resolver, reconciler
	cat := catalog.New(rateStore)
	resolver := costs.NewResolver(cat, logger)
	reconciler := costs.NewReconciler(costStore, logger)

	// 8. Register provider fetchers
	vercelFetcher := vercel.New(vercel.Config{
		Token:  cfg.VercelToken,
		TeamID: cfg.VercelTeamID,
	}, appStore, logger)

	registry := ingest.NewRegistry()
	for _, f := range []ingest.Fetcher{
		vercelFetcher,
		github.New(github.Config{Token: cfg.GitHubToken, Org: cfg.GitHubOrg}, appStore, logger),
		cloudflare.New(cloudflare.Config{Token: cfg.CloudflareAPIToken, ZoneID: cfg.CloudflareZoneID}, appStore, logger),
	} {
		if err := registry.Register(f); err != nil {
			log.Fatalf("failed to register fetcher %s: %v", f.Name(), err)
		}
	}

	// 9. Init orchestrator
	tracer := otel.GetTracerProvider().Tracer("costwatch")
	orch := ingest.NewOrchestrator(registry, rateStore, resolver, reconciler, rawStore, tracer, logger)

	// 10. Init rate limiter and auth
	limiter := ratelimit.NewLimiter(rdb, cfg.IngestRateLimit)
	authMiddleware := auth.NewMiddleware(cfg.IngestToken)

	// 11. Init API handler
	handler := httpapi.NewHandler(orch, cat, rateStore, costStore, appStore, rawStore, vercelFetcher, limiter, tracer, logger)

	// 12. Seed baseline rates if RUN_SEED=true
	if os.Getenv("RUN_SEED") == "true" {
		seeder.SeedBaseline(ctx, cat)
	}

	// 13. Init Chi router
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	// Public routes
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","service":"costwatch"}`))
	})

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		handler.Routes(r)
	})

	// 14. Start server with graceful shutdown
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
