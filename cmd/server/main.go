package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/mailstream/mailstream/internal/config"
	"github.com/mailstream/mailstream/internal/database"
	"github.com/mailstream/mailstream/internal/email"
	"github.com/mailstream/mailstream/internal/fetchguard"
	"github.com/mailstream/mailstream/internal/handler"
	"github.com/mailstream/mailstream/internal/idempotency"
	"github.com/mailstream/mailstream/internal/logger"
	"github.com/mailstream/mailstream/internal/middleware"
	"github.com/mailstream/mailstream/internal/queue"
	"github.com/mailstream/mailstream/internal/render"
	"github.com/mailstream/mailstream/internal/repository"
	"github.com/mailstream/mailstream/internal/router"
	"github.com/mailstream/mailstream/internal/service"
	"github.com/mailstream/mailstream/internal/sheet"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	log.Info().Str("version", handler.Version).Msg("starting mailstream server")

	// Connect to Redis
	rdb, err := database.NewRedis(cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	defer rdb.Close()
	log.Info().Msg("connected to Redis")

	checks := map[string]handler.HealthChecker{"redis": rdb}

	// Dead letters need PostgreSQL; without it exhausted payloads are only logged
	var deadLetters queue.DeadLetterSink
	if cfg.DeadLetter.Enabled {
		db, err := database.NewPostgres(cfg.Database)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()
		log.Info().Msg("connected to PostgreSQL")

		deadLetters = repository.NewDeadLetterRepository(db)
		checks["postgres"] = db
	}

	// Idempotency store
	var store idempotency.Store
	switch cfg.Idempotency.Backend {
	case "redis":
		store = idempotency.NewRedisStore(rdb.Client)
	case "", "memory":
		store = idempotency.NewMemoryStore()
	default:
		log.Fatal().Str("backend", cfg.Idempotency.Backend).Msg("unknown idempotency backend")
	}
	guard := idempotency.NewGuard(store, cfg.Idempotency.TTL)
	log.Info().
		Str("backend", cfg.Idempotency.Backend).
		Dur("ttl", guard.TTL()).
		Msg("idempotency guard initialized")

	// Email provider
	sender, err := email.NewFromConfig(context.Background(), cfg.Email, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize email provider")
	}
	log.Info().Str("provider", cfg.Email.Provider).Msg("email provider initialized")

	// Stream
	stream := queue.NewRedisStream(rdb.Client, queue.RedisStreamOptions{
		Name:      cfg.Stream.Name,
		Group:     cfg.Stream.Group,
		Consumer:  cfg.Stream.Consumer,
		Block:     cfg.Stream.Block,
		BatchSize: cfg.Stream.BatchSize,
	})

	// Services
	deliverySvc := service.NewDeliveryService(guard, render.NewRegistry(), sender, stream, cfg.Email.DefaultFrom, log)

	fetcher := fetchguard.New(fetchguard.Options{
		Timeout:  cfg.Sheet.FetchTimeout,
		MaxBytes: cfg.Sheet.MaxBytes,
	})
	ingestor := sheet.NewIngestor(fetcher, cfg.Sheet.RemoteURLEnabled)

	// Consumer
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	var wg sync.WaitGroup
	if !cfg.Stream.Disabled {
		consumer := queue.NewConsumer(stream, deliverySvc, queue.Options{
			MaxRetries:      cfg.Stream.MaxRetries,
			ErrorBackoff:    cfg.Stream.ErrorBackoff,
			DeliveryTimeout: cfg.Stream.DeliveryTimeout,
			DeadLetters:     deadLetters,
		}, log)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := consumer.Run(ctx); err != nil {
				log.Error().Err(err).Msg("stream consumer exited")
			}
		}()
		log.Info().
			Str("stream", cfg.Stream.Name).
			Str("group", cfg.Stream.Group).
			Str("consumer", cfg.Stream.Consumer).
			Msg("stream consumer initialized")
	}

	// Initialize handlers
	h := handler.New(log, cfg, deliverySvc, ingestor, checks)

	// Initialize middleware
	mw := middleware.New(rdb, log, cfg)

	// Set up router
	r := router.New(h, mw)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server...")
	stop()

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	wg.Wait()

	log.Info().Msg("server stopped")
}
