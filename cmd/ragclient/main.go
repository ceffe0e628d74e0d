// ragclient keeps a chat session and document ingestion progress in sync with
// a RAG backend and serves the state to a local UI.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/aborealis/ragclient/internal/api"
	"github.com/aborealis/ragclient/internal/backend"
	"github.com/aborealis/ragclient/internal/chat"
	"github.com/aborealis/ragclient/internal/config"
	"github.com/aborealis/ragclient/internal/ingest"
	"github.com/aborealis/ragclient/internal/middleware"
	"github.com/aborealis/ragclient/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		slog.Error("ragclient stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("ragclient stopped successfully")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	slog.Info("Starting ragclient", "listen", cfg.ListenAddr, "api", cfg.APIURL(""))

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	var cachedID string
	if cached, err := repo.GetPassport(context.Background()); err != nil {
		slog.Warn("Failed to read cached chat passport", "error", err)
	} else if cached != nil {
		cachedID = cached.ID
		slog.Info("Resuming with cached chat passport", "passport_id", cachedID)
	}

	client := backend.New(backend.Config{
		BaseURL: cfg.APIBaseURL,
		Prefix:  cfg.APIPrefix,
		Token:   cfg.AuthToken,
		Source:  cfg.ChatSource,
		Timeout: cfg.RequestTimeout,
	}, logger)

	onUnauth := func() {
		slog.Warn("Backend rejected credentials, sign-in required")
	}

	controller := chat.NewController(chat.Options{
		WSBaseURL:          cfg.WSBaseURL,
		Issuer:             client,
		Cache:              repo,
		Transport:          chat.WebSocketFactory(cfg.WSReadLimit, logger),
		Logger:             logger,
		PassportID:         cachedID,
		OnNotAuthenticated: onUnauth,
	})
	defer controller.Close()

	reconciler := ingest.NewReconciler(ingest.Options{
		Fetcher:            client,
		Interval:           cfg.Documents.PollInterval,
		Logger:             logger,
		OnNotAuthenticated: onUnauth,
		OnStatus: func(id int64, status string) {
			slog.Info("Document ingestion finished", "job_id", id, "status", status)
		},
	})
	defer reconciler.Close()

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.CORSOrigins))
	api.NewHandler(controller, reconciler, repo, logger).RegisterRoutes(r)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		controller.Connect(gctx)
		return nil
	})

	g.Go(func() error {
		ingest.RunWatcher(gctx, client, reconciler, ingest.WatcherConfig{
			Interval: cfg.Documents.RefreshInterval,
			Limit:    cfg.Documents.PageSize,
		}, logger)
		return nil
	})

	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server forced to shutdown", "error", err)
			return err
		}
		return nil
	})

	return g.Wait()
}
