package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/99designs/gqlgen/graphql/playground"
	"github.com/couchcryptid/erp-gateway/internal/composition"
	"github.com/couchcryptid/erp-gateway/internal/config"
	"github.com/couchcryptid/erp-gateway/internal/gateway"
	"github.com/couchcryptid/erp-gateway/internal/observability"
	"github.com/couchcryptid/erp-gateway/internal/subgraph"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	registry := subgraph.NewRegistry(cfg)
	for _, d := range registry.Active() {
		logger.Info("subgraph enabled", "subgraph", d.Name, "url", d.URL)
	}

	// Startup health probing is advisory: it runs in the background and
	// never gates composition or serving traffic.
	prober := subgraph.NewProber(cfg.ProbeTimeout, cfg.ProbeInterval, logger, metrics)
	go prober.ProbeAll(ctx, registry.Active())

	holder := composition.NewHolder()
	composer := composition.NewComposer(composition.NewFetcher(cfg.ComposeRequestTimeout), logger)
	poller := composition.NewPoller(registry, composer, holder,
		cfg.PollInterval, cfg.InitialComposeDelay, logger, metrics)
	go poller.Run(ctx)

	login := gateway.NewLoginFastPath(registry, logger)
	graphqlHandler := gateway.NewGraphQL(holder, login, cfg.ComposeRequestTimeout, logger, metrics)
	shopProxy := gateway.NewShopProxy(registry, cfg.ShopProxyTimeout, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(observability.SecurityHeaders)
	r.Use(middleware.Compress(5))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-User-Id", "X-Company-Id", "Accept-Language"},
		AllowCredentials: true,
	}))

	r.Handle("/", playground.Handler("ERP Gateway", "/graphql"))
	r.With(gateway.ConcurrencyLimit(128)).Method(http.MethodPost, "/graphql", graphqlHandler)
	r.Method(http.MethodPost, "/shop/graphql", shopProxy)
	r.Get("/health", observability.HealthHandler())
	r.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", "error", err)
		}
	}()

	logger.Info("gateway ready",
		"port", cfg.Port,
		"graphql", "/graphql",
		"shop_proxy", "/shop/graphql",
		"metrics", "/metrics",
		"health", "/health")
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}
