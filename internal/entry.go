// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/offbalance/internal/api"
	"github.com/starford/offbalance/internal/archive"
	"github.com/starford/offbalance/internal/chart"
	"github.com/starford/offbalance/internal/mcpserver"
	"github.com/starford/offbalance/internal/session"
	"github.com/starford/offbalance/internal/snapshot"
	"github.com/starford/offbalance/internal/source"
	"github.com/starford/offbalance/internal/sse"
)

// components are the collaborators shared by every command.
type components struct {
	logger  *slog.Logger
	db      *snapshot.DB
	fetcher *source.Fetcher
}

func (c *components) Close() {
	if c.db != nil {
		_ = c.db.Close()
	}
}

func setup(ctx context.Context, opts []Option) (*application, *components, error) {
	app := &application{logOutput: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, nil, fmt.Errorf("config is required")
	}
	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(app.logOutput, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("source_url", cfg.Source.URL),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("archive", cfg.Archive.Kind),
		slog.String("log_level", cfg.App.LogLevel.String()))

	db, err := snapshot.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("init snapshot store: %w", err)
	}

	arch, err := newArchiver(ctx, cfg.Archive)
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("init archive: %w", err)
	}

	fetcher := source.New(cfg.Source.Options(),
		source.WithStore(db),
		source.WithArchive(arch),
		source.WithLogger(logger),
	)
	return app, &components{logger: logger, db: db, fetcher: fetcher}, nil
}

func newArchiver(ctx context.Context, cfg ArchiveConfig) (archive.Archiver, error) {
	switch cfg.Kind {
	case ArchiveFS:
		return archive.NewFS(cfg.Dir)
	case ArchiveS3:
		return archive.NewS3(ctx, archive.S3Options{
			Bucket:  cfg.Bucket,
			Prefix:  cfg.Prefix,
			Region:  cfg.Region,
			Profile: cfg.Profile,
		})
	default:
		return archive.Nop{}, nil
	}
}

// Run starts the web application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, c, err := setup(ctx, opts)
	if err != nil {
		return err
	}
	defer c.Close()
	cfg, logger := app.config, c.logger

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	sessions := session.NewManager(cfg.Session.TTL, func(ev session.Event) {
		broker.Publish(sse.Event{Type: sse.TypeSessionState, Session: ev.SessionID, Data: ev})
	})

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated, no session).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := c.db.PingContext(req.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/", api.NewRouter(api.Deps{
		Sessions:    sessions,
		Fetcher:     c.fetcher,
		Snapshots:   c.db,
		Broker:      broker,
		UI:          cfg.UI.Options(),
		AuthEnabled: cfg.Auth.AuthEnabled(),
		AuthToken:   cfg.Auth.Token,
	}))

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Expire idle sessions.
	g.Go(func() error {
		sessions.Run(gCtx, cfg.Session.SweepInterval, logger)
		return nil
	})

	// Watch a local source file and tell open pages it changed.
	if path, ok := source.LocalPath(cfg.Source.URL); ok && cfg.Source.Watch {
		g.Go(func() error {
			if err := source.Watch(gCtx, path, logger, broker.PublishStale); err != nil {
				logger.Warn("source watcher stopped", slog.String("error", err.Error()))
			}
			return nil
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
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the group context so the sweeper and watcher stop
// together with the HTTP server.
var errShutdown = errors.New("shutdown")

// RunMCP serves the dataset tools over stdio.
func RunMCP(ctx context.Context, opts ...Option) error {
	_, c, err := setup(ctx, append([]Option{WithLogOutput(os.Stderr)}, opts...))
	if err != nil {
		return err
	}
	defer c.Close()

	c.logger.Info("Starting MCP server on stdio")
	return mcpserver.New(c.fetcher, c.db).ServeStdio()
}

// RenderRequest describes a one-shot chart export.
type RenderRequest struct {
	Column string
	Format chart.Format
	Out    io.Writer
}

// Render downloads the dataset once and writes a chart of req.Column.
// An empty column plots the first numeric column.
func Render(ctx context.Context, req RenderRequest, opts ...Option) error {
	_, c, err := setup(ctx, append([]Option{WithLogOutput(os.Stderr)}, opts...))
	if err != nil {
		return err
	}
	defer c.Close()

	sess := session.NewManager(0, nil).Create()
	if err := sess.Download(ctx, c.fetcher, false); err != nil {
		return fmt.Errorf("download: %w", err)
	}
	if req.Column != "" {
		if err := sess.Select(req.Column); err != nil {
			return err
		}
	}
	if err := sess.Plot(); err != nil {
		return err
	}
	series, err := sess.PlotSeries()
	if err != nil {
		return err
	}
	if err := chart.Render(req.Out, req.Format, chart.ForSeries(series)); err != nil {
		return fmt.Errorf("render %q: %w", series.Name, err)
	}
	c.logger.Info("Chart rendered", slog.String("column", series.Name), slog.Int("points", len(series.Times)))
	return nil
}
