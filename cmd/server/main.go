package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ateliergems/cartcore/internal/cache"
	"github.com/ateliergems/cartcore/internal/config"
	"github.com/ateliergems/cartcore/internal/httpapi"
	"github.com/ateliergems/cartcore/internal/ledger"
	"github.com/ateliergems/cartcore/internal/postgres"
	"github.com/ateliergems/cartcore/internal/store"
	"github.com/ateliergems/cartcore/internal/syncer"
)

func main() {
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		cartStore store.Store
		ledg      ledger.Ledger
	)

	if cfg.UsePostgres() {
		db, err := postgres.Connect(&postgres.Credentials{
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			DBName:   cfg.Postgres.DBName,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to postgres")
		}
		defer db.Close()

		if err := postgres.RunMigrations(db, cfg.MigrationsDir); err != nil {
			log.Fatal().Err(err).Msg("failed to run migrations")
		}
		log.Info().Str("host", cfg.Postgres.Host).Msg("connected to postgres")

		cartStore = store.NewPostgresStore(db, cfg.GuestTTL)
		ledg = ledger.NewPostgresLedger(db)
	} else {
		log.Info().Msg("no postgres configured, using in-memory backends")
		cartStore = store.NewMemoryStore(cfg.GuestTTL)
		ledg = ledger.NewMemoryLedger(cfg.LowStockThreshold)
	}

	if cfg.UseRedis() {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       0,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Msg("redis connection failed")
		}
		log.Info().Str("addr", cfg.RedisAddr).Msg("connected to redis")

		cartStore = cache.NewCachedStore(cartStore, cache.NewRedisCache(redisClient), log)
	}

	registry := httpapi.NewRegistry(httpapi.RegistryConfig{
		Store:        cartStore,
		Ledger:       ledg,
		Log:          log,
		Pricing:      cfg.Pricing,
		MaxItems:     cfg.MaxItems,
		HistoryDepth: cfg.HistoryDepth,
		Sync: syncer.Config{
			Debounce:     cfg.SaveDebounce,
			SaveRetries:  cfg.SaveRetries,
			RetryBackoff: cfg.RetryBackoff,
		},
	})

	// In-memory inventory changes fan out to every live session directly.
	if ml, ok := ledg.(*ledger.MemoryLedger); ok {
		unwatch := ml.Watch(registry.PublishStockChange)
		defer unwatch()
	}

	// With external brokers, inventory updates arrive over Kafka instead.
	if cfg.UseKafka() {
		consumer := syncer.NewInventoryConsumer(registry, cfg.LowStockThreshold, log, cfg.KafkaBrokers...)
		defer consumer.Close()
		go consumer.Run(ctx)
		log.Info().Strs("brokers", cfg.KafkaBrokers).Msg("inventory consumer started")
	}

	sweeper := syncer.NewSweeper(cartStore, log, cfg.SweepInterval, cfg.AbandonedAfter)
	go sweeper.Run(ctx)

	handler := httpapi.NewCartHandler(registry)
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      httpapi.NewRouter(handler),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.HTTPPort).Msg("cart server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	// Flush every session's pending cart state before exiting.
	registry.CloseAll(shutdownCtx)
	log.Info().Msg("server exited")
}
