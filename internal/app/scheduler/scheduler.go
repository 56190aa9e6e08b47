// Package scheduler собирает процесс планировщика: хранилище, RabbitMQ и
// общий кеш, если он настроен.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/theriq/internal/cache"
	"github.com/magabrotheeeer/theriq/internal/config"
	"github.com/magabrotheeeer/theriq/internal/lib/sl"
	"github.com/magabrotheeeer/theriq/internal/metrics"
	"github.com/magabrotheeeer/theriq/internal/rabbitmq"
	schedulerservice "github.com/magabrotheeeer/theriq/internal/services/scheduler"
	"github.com/magabrotheeeer/theriq/internal/storage/repository"
)

// App представляет приложение планировщика.
type App struct {
	schedulerService *schedulerservice.Service
	db               *repository.Storage
	cache            cache.Store
	conn             *amqp.Connection
	ch               *amqp.Channel
	metricsServer    *http.Server
	logger           *slog.Logger
}

// WaitForDB ждёт, пока миграции будут применены.
func WaitForDB(ctx context.Context, db *repository.Storage) error {
	for range 10 {
		if err := repository.CheckDatabaseReady(ctx, db); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(3 * time.Second):
		}
	}
	return fmt.Errorf("database not ready after retries")
}

// New создает новый экземпляр приложения планировщика.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	conn, err := rabbitmq.Connect(ctx, cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("failed to connect RabbitMQ: %w", err)
	}

	ch, err := rabbitmq.SetupChannel(conn, nil)
	if err != nil {
		closeResources(nil, conn, logger)
		return nil, fmt.Errorf("failed to setup RabbitMQ channel: %w", err)
	}

	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		closeResources(ch, conn, logger)
		return nil, fmt.Errorf("failed to connect storage: %w", err)
	}

	if err := WaitForDB(ctx, db); err != nil {
		closeResources(ch, conn, logger)
		_ = db.Close()
		return nil, err
	}

	// Кеш в памяти принадлежит процессу API, отсюда его не сбросить:
	// API узнаёт о понижениях из очереди.
	var (
		store   cache.Store
		clearer schedulerservice.Cache
	)
	if cfg.Cache.Backend == cache.BackendRedis {
		store, err = cache.Open(ctx, cfg.Cache, cfg.RedisConnection)
		if err != nil {
			closeResources(ch, conn, logger)
			_ = db.Close()
			return nil, fmt.Errorf("cache not initialized: %w", err)
		}
		clearer = store
	}

	reg := prometheus.NewRegistry()
	schedulerService := schedulerservice.NewService(
		db,
		rabbitmq.NewPublisher(ch),
		clearer,
		logger,
		cfg.Scheduler.Interval,
		cfg.Scheduler.BatchSize,
		metrics.New(reg),
	)

	return &App{
		schedulerService: schedulerService,
		db:               db,
		cache:            store,
		conn:             conn,
		ch:               ch,
		metricsServer:    newMetricsServer(cfg.Scheduler.MetricsAddress, reg),
		logger:           logger,
	}, nil
}

// newMetricsServer отдаёт счётчики планировщика по /metrics. Пустой адрес
// отключает сервер.
func newMetricsServer(addr string, reg *prometheus.Registry) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func closeResources(ch *amqp.Channel, conn *amqp.Connection, logger *slog.Logger) {
	if ch != nil {
		if err := ch.Close(); err != nil {
			logger.Error("failed to close channel", sl.Err(err))
		}
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			logger.Error("failed to close connection", sl.Err(err))
		}
	}
}

// Run запускает планировщик и блокируется до отмены ctx.
func (a *App) Run(ctx context.Context) error {
	if a.metricsServer != nil {
		go func() {
			a.logger.Info("metrics server starting on", slog.String("address", a.metricsServer.Addr))
			if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("metrics server stopped", sl.Err(err))
			}
		}()
	}

	a.schedulerService.Run(ctx)

	a.logger.Info("shutting down scheduler service")
	if a.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("failed to stop metrics server", sl.Err(err))
		}
		cancel()
	}

	closeResources(a.ch, a.conn, a.logger)
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.Error("failed to close cache", sl.Err(err))
		}
	}
	if err := a.db.Close(); err != nil {
		a.logger.Error("failed to close storage", sl.Err(err))
	}
	return nil
}
