package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"contxtd/internal/config"
	"contxtd/internal/crypto"
	"contxtd/internal/liveness"
	"contxtd/internal/metrics"
	"contxtd/internal/providers"
	"contxtd/internal/registry"
	"contxtd/internal/server"
	"contxtd/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setupLogger(cfg.Log.Level)
	log.Info().
		Str("db_driver", cfg.DB.Driver).
		Dur("probe_interval", cfg.Probe.Interval).
		Msg("starting contxtd")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := storage.Open(ctx, cfg.DB.Driver, cfg.DB.DSN, cfg.DB.AutoMigrate, "migrations")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage")
	}
	defer store.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("failed to connect redis")
	}
	defer rdb.Close()

	var keyring *crypto.Keyring
	if len(cfg.Crypto.Keys) > 0 {
		keyring, err = crypto.NewKeyring(cfg.Crypto.CurrentKeyID, cfg.Crypto.Keys)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize keyring")
		}
	} else {
		log.Warn().Msg("no master keys configured, stored API keys are not sealed")
	}

	m := metrics.Global()
	reg := registry.New(registry.Config{
		Store:  registry.NewRedisStore(rdb, keyring, cfg.Redis.KeyPrefix),
		Logger: log.Logger,
	})

	detector := liveness.New(liveness.Config{
		Registry: reg,
		Interval: cfg.Probe.Interval,
		Timeout:  cfg.Probe.Timeout,
		Logger:   log.Logger,
		Metrics:  m,
	})
	reg.SetRecheckHook(detector.CheckNow)
	detector.Start(ctx)
	defer detector.Stop()

	dispatcher := providers.NewDispatcher(providers.DispatcherConfig{
		Registry:   reg,
		HTTPClient: &http.Client{Timeout: cfg.Chat.ClientTimeout},
		Logger:     log.Logger,
		Metrics:    m,
	})

	api := server.New(server.Config{
		Registry:     reg,
		Dispatcher:   dispatcher,
		Store:        store,
		CheckNow:     detector.CheckNow,
		HistoryLimit: cfg.Chat.HistoryLimit,
		HealthPath:   cfg.HTTP.HealthPath,
		MetricsPath:  cfg.HTTP.MetricsPath,
		Logger:       log.Logger,
	})

	httpServer := &http.Server{
		Addr:              cfg.HTTP.ListenAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTP.ListenAddr).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("runtime error")
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to stop http server")
	}

	log.Info().Msg("stopped")
}

func setupLogger(level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(parseLogLevel(level))
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
