// Package internal provides the main application initialization and runtime logic.
package internal

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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/marcom/internal/api"
	"github.com/starford/marcom/internal/catalog"
	"github.com/starford/marcom/internal/fetch"
	"github.com/starford/marcom/internal/graph"
	"github.com/starford/marcom/internal/graph/neo4j"
	"github.com/starford/marcom/internal/graph/sqlite"
	"github.com/starford/marcom/internal/inbox"
	"github.com/starford/marcom/internal/metrics"
	"github.com/starford/marcom/internal/oplog"
	"github.com/starford/marcom/internal/sse"
	"github.com/starford/marcom/internal/tagging"
)

// NewLogger builds the structured JSON logger used by every command.
func NewLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// App holds the wired catalog and its supporting services.
type App struct {
	Engine  graph.Engine
	Catalog *catalog.Service
	Metrics *metrics.Metrics
	Events  *sse.Broker
	Logger  *slog.Logger
}

// Close releases the broker and the engine.
func (a *App) Close() error {
	a.Events.Close()
	return a.Engine.Close()
}

// OpenEngine connects to the configured graph engine.
func OpenEngine(ctx context.Context, cfg GraphConfig) (graph.Engine, error) {
	switch cfg.Engine {
	case EngineNeo4j:
		return neo4j.Open(ctx, neo4j.Config{
			URI:      cfg.Neo4j.URI,
			Username: cfg.Neo4j.Username,
			Password: cfg.Neo4j.Password,
			Database: cfg.Neo4j.Database,
		})
	case EngineSQLite, "":
		return sqlite.Open(cfg.SQLite.Path)
	default:
		return nil, fmt.Errorf("unknown graph engine %q", cfg.Engine)
	}
}

// NewFetcher builds the source router: URLs always, relative paths only
// when a content root is configured.
func NewFetcher(cfg FetchConfig) (*fetch.Router, error) {
	r := &fetch.Router{
		HTTP: fetch.NewHTTP(fetch.HTTPConfig{
			Timeout:       cfg.Timeout,
			MaxBytes:      cfg.MaxBytes,
			RatePerSecond: cfg.RatePerSecond,
			Retries:       cfg.Retries,
			UserAgent:     cfg.UserAgent,
			AllowPrivate:  cfg.AllowPrivate,
		}),
	}
	if cfg.ContentRoot != "" {
		local, err := fetch.NewFS(cfg.ContentRoot, cfg.MaxBytes)
		if err != nil {
			return nil, err
		}
		r.Local = local
	}
	return r, nil
}

// Bootstrap opens the engine, prepares the schema and wires the catalog.
func Bootstrap(ctx context.Context, cfg *Config, logger *slog.Logger) (*App, error) {
	engine, err := OpenEngine(ctx, cfg.Graph)
	if err != nil {
		return nil, fmt.Errorf("open graph: %w", err)
	}

	fetcher, err := NewFetcher(cfg.Fetch)
	if err != nil {
		engine.Close()
		return nil, fmt.Errorf("init fetch: %w", err)
	}

	var opLog *oplog.Log
	if cfg.Catalog.OpLogPath != "" {
		if opLog, err = oplog.Open(cfg.Catalog.OpLogPath); err != nil {
			engine.Close()
			return nil, err
		}
	}

	m := metrics.New()
	broker := sse.NewBroker(2 * time.Second)
	svc := catalog.New(engine, fetcher, tagging.NewExtractor(tagging.NewProseRecognizer()), catalog.Options{
		Workers:      cfg.Catalog.Workers,
		LinkOnIngest: cfg.Catalog.LinkOnIngest,
		OpLog:        opLog,
		Metrics:      m,
		Events:       broker,
		Logger:       logger,
	})
	if err := svc.Setup(ctx); err != nil {
		broker.Close()
		engine.Close()
		return nil, fmt.Errorf("setup graph: %w", err)
	}

	return &App{Engine: engine, Catalog: svc, Metrics: m, Events: broker, Logger: logger}, nil
}

// Handler builds the HTTP surface: health checks, metrics and the API.
func (a *App) Handler(auth AuthConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := a.Catalog.Ping(req.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", a.Metrics.Handler())

	r.Mount("/api", api.NewRouter(a.Catalog, auth.AuthEnabled(), auth.Token, a.Events))
	return r
}

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	logger := app.logger
	if logger == nil {
		logger = NewLogger(cfg.App.LogLevel)
	}
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("graph_engine", cfg.Graph.Engine),
		slog.Bool("inbox_enabled", cfg.Inbox.Enabled),
		slog.String("log_level", cfg.App.LogLevel.String()))

	a, err := Bootstrap(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           a.Handler(cfg.Auth),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gCtx := errgroup.WithContext(runCtx)

	if cfg.Inbox.Enabled {
		g.Go(func() error {
			return inbox.Watch(gCtx, cfg.Inbox.Path, a.Catalog, logger, func(kind, name string) {
				logger.Debug("inbox event", slog.String("kind", kind), slog.String("file", name))
			})
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
			stop()
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}
