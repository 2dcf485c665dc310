package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/parhamf6/Echo-Frame/internal/abuse"
	"github.com/parhamf6/Echo-Frame/internal/api"
	"github.com/parhamf6/Echo-Frame/internal/api/middleware"
	"github.com/parhamf6/Echo-Frame/internal/config"
	"github.com/parhamf6/Echo-Frame/internal/handlers"
	"github.com/parhamf6/Echo-Frame/internal/moderation"
	"github.com/parhamf6/Echo-Frame/internal/playback"
	"github.com/parhamf6/Echo-Frame/internal/realtime"
	"github.com/parhamf6/Echo-Frame/internal/relay"
	"github.com/parhamf6/Echo-Frame/internal/requests"
	"github.com/parhamf6/Echo-Frame/internal/store"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize the durable store: Postgres when configured, SQLite
	// otherwise so local development needs no external database.
	var db store.DataStore
	if cfg.DatabaseURL != "" {
		pg, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		db = pg
		logger.Info().Msg("connected to PostgreSQL")
	} else {
		sq, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("sqlite open failed")
		}
		db = sq
		logger.Info().Str("path", cfg.SQLitePath).Msg("using SQLite")
	}
	defer db.Close()

	// Initialize Redis store
	redisStore, err := store.NewRedisStore(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection failed")
	}
	defer redisStore.Close()
	redisStore.SetRetention(cfg.ChatTTL, cfg.PlaybackTTL, cfg.SessionTTL, cfg.MaxMessages)
	logger.Info().Msg("connected to Redis")

	// Seed the bootstrap admin account
	if cfg.AdminPassword != "" {
		if err := seedAdmin(ctx, db, cfg.AdminUsername, cfg.AdminPassword); err != nil {
			logger.Fatal().Err(err).Msg("admin bootstrap failed")
		}
	}

	// Core services
	registry := realtime.NewRegistry(cfg.PresenceTTL, logger)
	tracker := abuse.NewTracker(redisStore, logger)

	reconciler := playback.NewReconciler(playback.Config{
		Tolerance: cfg.SyncTolerance,
		Debounce:  cfg.DebounceWindow,
		TTL:       cfg.PlaybackTTL,
	}, registry, redisStore, logger)

	queue := requests.NewQueue(reconciler, registry, cfg.RequestTTL, logger)
	mod := moderation.NewService(db, registry, tracker, cfg.DefaultBanTTL, logger)

	var issuer *relay.Issuer
	if cfg.RelayAPIKey != "" && cfg.RelayAPISecret != "" {
		issuer = relay.NewIssuer(cfg.RelayAPIKey, cfg.RelayAPISecret, cfg.RelayHost, cfg.RelayTokenTTL)
	} else {
		logger.Warn().Msg("media relay credentials missing, voice features disabled")
	}

	// Background sweeps
	go queue.Run(ctx, 5*time.Second)
	go registry.RunStaleSweep(ctx, time.Minute)
	go reconciler.RunSweep(ctx, 5*time.Minute)

	// HTTP layer
	h := handlers.NewHandler(db, redisStore, registry, reconciler, queue, mod, issuer, tracker, cfg, logger)
	auth := middleware.NewAuthMiddleware(db, redisStore, logger)
	limiter := middleware.NewRateLimiter(redisStore.Client(), logger)
	router := api.NewRouter(h, auth, limiter, logger, cfg.CORSOrigins)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Msg("starting EchoFrame server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")
	cancel()

	// Graceful shutdown with 30 second timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}

	registry.Shutdown()
	logger.Info().Msg("server stopped")
}

// seedAdmin ensures the configured admin account exists.
func seedAdmin(ctx context.Context, db store.DataStore, username, password string) error {
	existing, err := db.GetAdminByUsername(ctx, username)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	_, err = db.CreateAdmin(ctx, username, string(hash))
	return err
}
