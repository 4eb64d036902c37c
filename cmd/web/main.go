package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"hdb-insights/internal/config"
	"hdb-insights/internal/datagov"
	"hdb-insights/internal/middleware"
	"hdb-insights/internal/observability"
	"hdb-insights/internal/server"
	"hdb-insights/internal/services"
	"hdb-insights/internal/ui/templates"
)

const (
	renderTimeout = 10 * time.Second
	cacheMaxAge   = "public, max-age=300"
)

func handleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), renderTimeout)
	defer cancel()

	w.Header().Set("Cache-Control", cacheMaxAge)
	if err := templates.Dashboard().Render(ctx, w); err != nil {
		http.Error(w, "render error", http.StatusInternalServerError)
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Logger)
	slog.SetDefault(logger)

	logger.Info("starting application",
		"version", "1.0.0",
		"config", cfg,
	)

	client := datagov.NewClient(cfg.DataGov, logger)
	insights := services.NewInsights(client, cfg.DataGov, logger)

	// Warm the pipeline. A failed fetch is memoized and surfaced inline by
	// the handlers rather than stopping the server.
	warmCtx, cancel := context.WithTimeout(context.Background(), cfg.DataGov.FetchTimeout)
	defer cancel()

	start := time.Now()
	if err := insights.Load(warmCtx); err != nil {
		logger.Error("initial dataset load failed", "error", err)
	} else {
		logger.Info("dataset loaded",
			"records", insights.RowCount(),
			"duration", time.Since(start),
		)
	}

	templateHandlers := &server.TemplateHandlers{
		Dashboard: handleDashboard,
	}

	srv := server.NewServer(insights, logger, templateHandlers)

	rateLimiter := middleware.NewRateLimiter(cfg.Security)

	middlewareChain := middleware.Chain(
		middleware.Recovery(logger),
		middleware.RequestID(),
		middleware.Logger(logger),
		middleware.Tracing(),
		middleware.SecurityHeaders(),
		middleware.CORS(cfg.Security),
		middleware.TrustedProxy(cfg.Security),
		middleware.RateLimit(rateLimiter, logger),
	)

	handler := middlewareChain(srv)

	httpServer := &http.Server{
		Addr:         cfg.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	gracefulServer := server.NewGracefulServer(httpServer, logger, cfg)

	gracefulServer.RegisterShutdownHook(func(ctx context.Context) error {
		logger.Info("shutting down insights service")
		return nil
	})

	logger.Info("starting graceful server")
	if err := gracefulServer.ListenAndServe(); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}

	logger.Info("application stopped gracefully")
}
