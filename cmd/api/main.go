package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"github.com/redis/go-redis/v9"

	"panicdesk/internal/auth"
	"panicdesk/internal/config"
	transporthttp "panicdesk/internal/http"
	"panicdesk/internal/platform/database"
	"panicdesk/internal/platform/logging"
	"panicdesk/internal/platform/migrate"
	"panicdesk/internal/reports"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := logging.New(cfg.LogLevel, cfg.Environment)

	sessionStore, err := buildSessionStore(cfg)
	if err != nil {
		logger.Error("failed to initialize session store", "error", err)
		os.Exit(1)
	}

	provider, err := auth.NewGoogleProvider(ctx, cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.OAuthRedirectURL)
	if err != nil {
		logger.Error("failed to initialize identity provider", "error", err)
		os.Exit(1)
	}

	var registry auth.Registry
	if cfg.RegistryEnabled() {
		registry = auth.NewRegistryClient(cfg.RegistryURL, cfg.RegistryAppID, cfg.RegistryAppToken)
	} else {
		logger.Warn("institutional registry check disabled; domain allowlist only")
	}

	manager := auth.NewManager(auth.ManagerConfig{
		Provider:      provider,
		Store:         sessionStore,
		Registry:      registry,
		ClientID:      cfg.GoogleClientID,
		AllowedDomain: cfg.AllowedDomain,
		Logger:        logger,
	})
	if err := manager.Initialize(ctx); err != nil {
		logger.Error("failed to restore session state", "error", err)
		os.Exit(1)
	}

	reportRepo, cleanup, err := buildReportRepository(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	if cleanup != nil {
		defer cleanup()
	}

	reportSvc := reports.NewService(reportRepo)
	router := transporthttp.NewRouter(cfg, manager, reportSvc, logger)

	srv := &http.Server{
		Addr:              cfg.HTTPAddress(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// No write timeout: the event stream stays open indefinitely.
		WriteTimeout:   0,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: http.DefaultMaxHeaderBytes,
	}

	go func() {
		logger.Info("panicdesk console listening", "addr", srv.Addr, "store", cfg.DataStore)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}

func buildSessionStore(cfg config.Config) (auth.Store, error) {
	switch cfg.SessionStore {
	case "memory":
		return auth.NewMemoryStore(), nil
	case "file":
		return auth.NewFileStore(cfg.SessionFile), nil
	case "redis":
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		return auth.NewRedisStore(redis.NewClient(opts)), nil
	default:
		return nil, errors.New("unknown session store " + cfg.SessionStore)
	}
}

func buildReportRepository(ctx context.Context, cfg config.Config, logger *slog.Logger) (reports.Repository, func(), error) {
	if cfg.UseInMemoryStore() {
		logger.Info("using in-memory repository")
		return reports.NewInMemoryRepository(seedLocalReports()), nil, nil
	}

	db, err := database.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		_ = db.Close()
	}

	if err := migrate.Apply(ctx, db, logger); err != nil {
		cleanup()
		return nil, nil, err
	}

	logger.Info("connected to postgres")
	return reports.NewPostgresRepository(db), cleanup, nil
}
