// askbar relay and UI-state server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/ashureev/askbar/internal/api"
	"github.com/ashureev/askbar/internal/config"
	"github.com/ashureev/askbar/internal/conversation"
	"github.com/ashureev/askbar/internal/convlog"
	"github.com/ashureev/askbar/internal/domain"
	"github.com/ashureev/askbar/internal/health"
	"github.com/ashureev/askbar/internal/identity"
	"github.com/ashureev/askbar/internal/middleware"
	"github.com/ashureev/askbar/internal/pipeline"
	"github.com/ashureev/askbar/internal/provider"
	"github.com/ashureev/askbar/internal/relay"
	"github.com/ashureev/askbar/internal/selection"
	"github.com/ashureev/askbar/internal/settings"
	"github.com/ashureev/askbar/internal/store"
	"github.com/ashureev/askbar/internal/supervisor"
	"github.com/ashureev/askbar/web"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Container health checks run the same binary.
	if len(os.Args) > 1 && os.Args[1] == "healthcheck" {
		os.Exit(healthcheck(cfg))
	}

	slog.Info("Starting server", "port", cfg.Port, "grpc_port", cfg.GRPCPort, "dev", cfg.IsDevelopment(), "container", config.IsContainer())

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	settingsSvc := settings.New(repo)

	convLogger, err := convlog.New(convLogConfig(cfg), logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := convLogger.Close(); closeErr != nil {
			slog.Error("Failed to close conversation logger", "error", closeErr)
		}
	}()

	// Relay.
	activator := relay.NewLastAppActivator()
	adapter := relay.NewAdapter(relay.Deps{
		Provider: provider.New(provider.Config{
			BaseURL: cfg.Provider.BaseURL,
			Model:   cfg.Provider.Model,
		}, logger),
		Settings:  settingsSvc,
		Clipboard: relay.SystemClipboard{},
		Activator: activator,
		Fetcher:   &http.Client{Timeout: cfg.Timeout.Fetch},
	}, relay.AdapterConfig{
		DefaultAPIKey:   cfg.Provider.APIKey,
		MaxPromptTokens: cfg.MaxPromptTokens,
	}, logger)

	relayHandler := relay.NewHandler(adapter, relay.HandlerConfig{
		MaxRequestBodySize: cfg.MaxRequestBody,
		RateLimitRequests:  cfg.RateLimit.Requests,
		RateLimitWindow:    cfg.RateLimit.Window,
		AllowedOrigins:     cfg.AllowedOrigins,
	}, convLogger, logger)
	defer relayHandler.Close()

	// Conversation pipeline.
	conv := conversation.New(repo, settingsSvc, logger)
	sel := selection.NewController()
	sel.OnChange(func(s domain.SelectionContext) { activator.Remember(s.SourceApp) })

	sup := supervisor.New(supervisor.Options{
		Deadlines: supervisor.Deadlines{
			Prompt:  cfg.Timeout.Prompt,
			Crawl:   cfg.Timeout.Crawl,
			Account: cfg.Timeout.Account,
		},
		CancelOnTimeout: cfg.Timeout.CancelOnTimeout,
	}, logger)

	pipe := pipeline.New(pipeline.Deps{
		Open:         adapter.Open,
		Ancillary:    adapter,
		Conversation: conv,
		Selection:    sel,
		Supervisor:   sup,
		Settings:     settingsSvc,
	}, logger)

	originPatterns := middleware.OriginPatterns(cfg.AllowedOrigins)
	apiHandler := api.NewHandler(api.Deps{
		Pipeline:     pipe,
		Conversation: conv,
		Selection:    sel,
		Settings:     settingsSvc,
	}, cfg.MaxRequestBody, originPatterns, logger)
	hub := selection.NewHub(sel, originPatterns, logger)
	healthHandler := api.NewHealthHandler(repo, cfg.Timeout.HealthCheck)

	// Setup router.
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	healthHandler.RegisterHealth(r)
	relayHandler.RegisterRoutes(r)
	apiHandler.RegisterRoutes(r)
	r.Get("/ws/events", hub.ServeHTTP)

	// Serve the embedded state page (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// Streaming responses outlive any fixed write timeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	grpcHealth, err := health.NewServer(":"+cfg.GRPCPort, logger)
	if err != nil {
		slog.Error("Failed to start gRPC health server", "error", err)
		os.Exit(1)
	}
	go func() {
		if err := grpcHealth.Serve(); err != nil {
			slog.Error("gRPC health server failed", "error", err)
		}
	}()
	go grpcHealth.Watch(ctx, 15*time.Second, repo.Ping)

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")
	grpcHealth.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	drained := make(chan struct{})
	go func() {
		sup.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-shutdownCtx.Done():
		slog.Info("Abandoning timed-out requests still running", "count", sup.Live())
	}
	slog.Info("Server stopped successfully")
}

func convLogConfig(cfg *config.Config) convlog.Config {
	c := convlog.Config{
		Enabled:   cfg.ConversationLog.Enabled,
		Dir:       cfg.ConversationLog.Dir,
		QueueSize: cfg.ConversationLog.QueueSize,
	}
	if cfg.ConversationLog.GlobalEnabled {
		c.GlobalFile = cfg.ConversationLog.GlobalPath
	}
	return c
}

func healthcheck(cfg *config.Config) int {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	addr := net.JoinHostPort("127.0.0.1", cfg.GRPCPort)
	if err := health.Ping(ctx, addr, health.RelayService); err != nil {
		slog.Error("Health check failed", "addr", addr, "error", err)
		return 1
	}
	return 0
}
