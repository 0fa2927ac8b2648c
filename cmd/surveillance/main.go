package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"github.com/Aidin1998/tradeguard/internal/alertsink"
	"github.com/Aidin1998/tradeguard/internal/config"
	"github.com/Aidin1998/tradeguard/internal/messaging"
	"github.com/Aidin1998/tradeguard/internal/metrics"
	"github.com/Aidin1998/tradeguard/internal/server"
	"github.com/Aidin1998/tradeguard/internal/surveillance"
	"github.com/Aidin1998/tradeguard/pkg/logger"
)

var version = "dev"

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to the configuration document")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Create logger
	zapLogger, err := logger.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	if err := run(cfg, zapLogger); err != nil {
		zapLogger.Error("Surveillance service failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, zapLogger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var closers []func() error
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				zapLogger.Warn("Close failed", zap.Error(err))
			}
		}
	}()

	// Alert sinks
	sinks := []alertsink.Sink{alertsink.NewLogSink(zapLogger)}
	var store *alertsink.GormStore
	if cfg.Database.Enabled {
		db, err := alertsink.OpenDatabase(cfg.Database.Driver, cfg.Database.DSN)
		if err != nil {
			return err
		}
		store, err = alertsink.NewGormStore(db)
		if err != nil {
			return err
		}
		if sqlDB, err := db.DB(); err == nil {
			closers = append(closers, sqlDB.Close)
		}
		sinks = append(sinks, store)
	}
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		closers = append(closers, client.Close)
		sinks = append(sinks, alertsink.NewRedisCache(client, alertsink.RedisCacheConfig{
			TTL:     cfg.Redis.AlertTTL,
			Recent:  cfg.Redis.RecentAlerts,
			Channel: cfg.Redis.Channel,
		}))
	}
	if cfg.Kafka.Enabled && cfg.Kafka.AlertsTopic != "" {
		publisher := messaging.NewAlertPublisher(cfg.Kafka.Brokers, cfg.Kafka.AlertsTopic, zapLogger)
		closers = append(closers, publisher.Close)
		sinks = append(sinks, publisher)
	}

	var fanoutOpts []alertsink.FanoutOption
	if cfg.Journal.Enabled {
		journal, err := alertsink.OpenJournal(cfg.Journal.Path)
		if err != nil {
			return err
		}
		closers = append(closers, journal.Close)
		fanoutOpts = append(fanoutOpts, alertsink.WithJournal(journal))
	}
	fanout := alertsink.NewFanout(zapLogger, sinks, fanoutOpts...)

	// Redeliver alerts that failed before the last shutdown
	if cfg.Journal.Enabled {
		n, err := fanout.Replay(ctx)
		if err != nil {
			zapLogger.Warn("Journal replay incomplete", zap.Int("delivered", n), zap.Error(err))
		} else if n > 0 {
			zapLogger.Info("Replayed journaled alerts", zap.Int("delivered", n))
		}
	}

	// Engine
	engineOpts := []surveillance.Option{surveillance.WithAlertHandler(fanout.Handler())}
	registry := prometheus.NewRegistry()
	if cfg.Metrics.Enabled {
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		exporter, err := metrics.NewExporter(registry)
		if err != nil {
			return err
		}
		engineOpts = append(engineOpts, surveillance.WithStatsObserver(exporter.Observe))
	}

	engine := surveillance.NewEngine(zapLogger, engineOpts...)
	if err := engine.Initialize(surveillance.ConfigFromDocument(cfg)); err != nil {
		return err
	}
	if err := engine.Start(); err != nil {
		return err
	}
	defer engine.Stop()

	var wg conc.WaitGroup
	errCh := make(chan error, 2)

	if cfg.Server.Enabled {
		var opts []server.Option
		if cfg.Metrics.Enabled {
			opts = append(opts, server.WithMetrics(cfg.Metrics.Path, registry))
		}
		if store != nil {
			opts = append(opts, server.WithAlertReader(store))
		}
		srv := server.NewServer(zapLogger, engine, opts...)
		wg.Go(func() {
			if err := srv.Run(ctx, cfg.Server.Addr, cfg.Server.ShutdownTimeout); err != nil {
				errCh <- fmt.Errorf("control api: %w", err)
			}
		})
	}

	if cfg.Kafka.Enabled {
		consumer := messaging.NewTradeConsumer(messaging.ConsumerConfig{
			Brokers:  cfg.Kafka.Brokers,
			Topic:    cfg.Kafka.TradesTopic,
			GroupID:  cfg.Kafka.GroupID,
			MinBytes: cfg.Kafka.MinBytes,
			MaxBytes: cfg.Kafka.MaxBytes,
			MaxWait:  cfg.Kafka.MaxWait,
		}, engine, zapLogger)
		closers = append(closers, consumer.Close)
		wg.Go(func() {
			if err := consumer.Run(ctx); err != nil {
				errCh <- fmt.Errorf("trade consumer: %w", err)
			}
		})
	}

	zapLogger.Info("Surveillance service started",
		zap.Int("patterns", len(engine.Patterns())),
		zap.Bool("http", cfg.Server.Enabled),
		zap.Bool("kafka", cfg.Kafka.Enabled))

	var runErr error
	select {
	case <-ctx.Done():
		zapLogger.Info("Shutting down surveillance service...")
	case runErr = <-errCh:
		stop()
	}
	wg.Wait()
	return runErr
}
