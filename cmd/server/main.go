/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the inventory engine HTTP server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (config.toml + INV_* environment)
  2. Build the zap logger
  3. Open the SQLite store (also the catalog)
  4. Pick the level cache (Redis when enabled, in-process otherwise)
  5. Start the event bus, subscribe the log and Kafka sinks
  6. Build the authorizer and the engine
  7. Start the HTTP server and the reservation janitor

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the janitor
  2. Stop accepting new connections, wait for active requests
  3. Drain the event bus
  4. Close Kafka, Redis and the database

EXAMPLES:
  # Run with in-memory database
  INV_DATABASE_PATH=":memory:" ./server

  # Run with Redis cache and Kafka events
  INV_REDIS_ENABLED=true INV_KAFKA_ENABLED=true ./server
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/warp/inventory-engine/api"
	"github.com/warp/inventory-engine/cache"
	"github.com/warp/inventory-engine/config"
	"github.com/warp/inventory-engine/events"
	"github.com/warp/inventory-engine/inventory"
	"github.com/warp/inventory-engine/logger"
	"github.com/warp/inventory-engine/store/sqlite"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "inventory-engine: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync()

	// Store
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	// Level cache
	var levels inventory.LevelCache
	if cfg.Redis.Enabled {
		rc, err := cache.NewRedis(cache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.LevelTTL,
		}, log)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rc.Close()
		levels = rc
	} else {
		levels = cache.NewMemory(cfg.Redis.LevelTTL)
	}

	// Events
	bus := events.NewBus(log)
	bus.Subscribe("log", events.LogSubscriber(log))
	if cfg.Kafka.Enabled {
		sink := events.NewKafkaSink(events.NewKafkaWriter(events.KafkaConfig{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			BatchTimeout: cfg.Kafka.BatchTimeout,
			BatchSize:    cfg.Kafka.BatchSize,
		}), log)
		defer sink.Close()
		policy := events.DefaultRetryPolicy()
		policy.Attempts = cfg.Kafka.MaxRetries
		bus.Subscribe("kafka", events.Retrying(sink, policy, log))
	}

	engine := inventory.NewEngine(inventory.Deps{
		Store:       store,
		Catalog:     store,
		Cache:       levels,
		Authorizer:  authorizer(cfg.Security, log),
		Emitter:     bus,
		Logger:      log,
		LockTimeout: cfg.Engine.LockTimeout,
		PageSize:    cfg.Engine.HistoryPageSize,
	})

	handler := api.NewHandler(engine, store, log)
	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.HTTP.CORSAllowOrigins,
		RequestLogging: !cfg.IsProduction(),
	})

	server := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	var janitor *api.ReservationJanitor
	if cfg.Janitor.Enabled {
		janitor = api.NewReservationJanitor(engine, log)
		janitor.CheckInterval = cfg.Janitor.Interval
		janitor.TTL = cfg.Janitor.ReservationTTL
		janitor.Actor = inventory.ActorID(cfg.Janitor.Actor)
		janitor.BatchSize = cfg.Janitor.BatchSize
		janitor.Start()
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("server starting",
			zap.String("app", cfg.App.Name),
			zap.String("env", cfg.App.Env),
			zap.String("addr", server.Addr),
			zap.String("database", cfg.Database.Path),
			zap.Bool("redis", cfg.Redis.Enabled),
			zap.Bool("kafka", cfg.Kafka.Enabled),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	log.Info("shutting down server")
	if janitor != nil {
		janitor.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	if err := bus.Close(ctx); err != nil {
		log.Warn("event bus did not drain", zap.Error(err))
	}
	stats := bus.Stats()
	log.Info("server stopped",
		zap.Int64("events_published", stats.Published),
		zap.Int64("events_delivered", stats.Delivered),
		zap.Int64("events_failed", stats.Failed),
		zap.Int64("events_dropped", stats.Dropped),
	)
	return nil
}

// authorizer builds a static grant table, or allows everything when no
// grants are configured.
func authorizer(sec config.SecurityConfig, log *zap.Logger) inventory.Authorizer {
	if len(sec.Grants) == 0 {
		log.Warn("no security grants configured; every actor may perform every operation")
		return inventory.AllowAll
	}
	grants := make([]inventory.Grant, 0, len(sec.Grants))
	for _, g := range sec.Grants {
		grant := inventory.Grant{Actor: inventory.ActorID(g.Actor)}
		for _, c := range g.Capabilities {
			grant.Capabilities = append(grant.Capabilities, inventory.Capability(c))
		}
		for _, w := range g.Warehouses {
			grant.Warehouses = append(grant.Warehouses, inventory.WarehouseID(w))
		}
		grants = append(grants, grant)
	}
	return inventory.NewStaticAuthorizer(grants...)
}
