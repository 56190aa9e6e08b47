package theriq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/theriq/internal/cache"
	"github.com/magabrotheeeer/theriq/internal/config"
	"github.com/magabrotheeeer/theriq/internal/http/handlers/health"
	"github.com/magabrotheeeer/theriq/internal/lib/jwt"
	"github.com/magabrotheeeer/theriq/internal/lib/sl"
	"github.com/magabrotheeeer/theriq/internal/metrics"
	"github.com/magabrotheeeer/theriq/internal/migrations"
	"github.com/magabrotheeeer/theriq/internal/rabbitmq"
	"github.com/magabrotheeeer/theriq/internal/services/entitlement"
	"github.com/magabrotheeeer/theriq/internal/storage/breaker"
	"github.com/magabrotheeeer/theriq/internal/storage/repository"
	"github.com/magabrotheeeer/theriq/internal/tier"
)

// App HTTP API сервиса прав.
type App struct {
	server       *http.Server
	logger       *slog.Logger
	db           *repository.Storage
	cache        cache.Store
	entitlements *entitlement.Service
	conn         *amqp.Connection
	ch           *amqp.Channel
}

// New поднимает хранилище, применяет миграции, открывает кеш и собирает маршруты.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, err
	}
	if err = migrations.Run(db.DB, cfg.MigrationsPath); err != nil {
		_ = db.Close()
		return nil, err
	}

	store, err := cache.Open(ctx, cfg.Cache, cfg.RedisConnection)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("cache initialized", slog.String("backend", cfg.Cache.Backend))

	m := metrics.New(prometheus.DefaultRegisterer)
	guarded := breaker.New(db, breaker.Settings{
		MaxFailures: cfg.Breaker.MaxFailures,
		OpenTimeout: cfg.Breaker.OpenTimeout,
	}, logger)

	entitlements := entitlement.NewService(guarded, store, logger,
		entitlement.WithCatalog(tier.Default()),
		entitlement.WithMetrics(m),
		entitlement.WithConfig(entitlement.Config{
			TierTTL:            cfg.Entitlement.TierTTL,
			FeatureTTL:         cfg.Entitlement.FeatureTTL,
			SubscriptionPeriod: cfg.Entitlement.SubscriptionPeriod,
		}),
	)

	pingers := map[string]health.Pinger{"postgres": db}
	if p, ok := store.(health.Pinger); ok {
		pingers["cache"] = p
	}

	router := chi.NewRouter()
	RegisterRoutes(router, logger, Deps{
		Entitlements: entitlements,
		Clients:      db,
		Tokens:       jwt.NewJWTMaker(cfg.JWTSecretKey, 0),
		Pingers:      pingers,
		Metrics:      promhttp.Handler(),
		RateRPS:      cfg.RateLimit.RPS,
		RateBurst:    cfg.RateLimit.Burst,
	})

	srv := &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}

	app := &App{
		server:       srv,
		logger:       logger,
		db:           db,
		cache:        store,
		entitlements: entitlements,
	}

	if cfg.RabbitMQURL != "" {
		if err := app.subscribeDowngrades(ctx, cfg); err != nil {
			app.close()
			return nil, err
		}
	} else {
		logger.Warn("rabbitmq url not set, downgrade events will not invalidate the cache")
	}

	return app, nil
}

// subscribeDowngrades подписывает процесс на события понижения, чтобы
// сбрасывать кеш пользователя, даже если кеш живёт в памяти процесса.
func (a *App) subscribeDowngrades(ctx context.Context, cfg *config.Config) error {
	conn, err := rabbitmq.Connect(ctx, cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
	if err != nil {
		return fmt.Errorf("failed to connect RabbitMQ: %w", err)
	}
	a.conn = conn

	queues := rabbitmq.CacheInvalidationQueues()
	ch, err := rabbitmq.SetupChannel(conn, queues)
	if err != nil {
		return fmt.Errorf("failed to setup RabbitMQ channel: %w", err)
	}
	a.ch = ch

	for _, q := range queues {
		if err := rabbitmq.ConsumerMessage(ctx, ch, q.QueueName, a.logger, a.entitlements.HandleDowngraded); err != nil {
			return fmt.Errorf("failed to consume %s: %w", q.QueueName, err)
		}
	}
	a.logger.Info("subscribed to downgrade events")
	return nil
}

// Run запускает HTTP-сервер и останавливает его при отмене ctx.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		a.close()
		return err
	case <-ctx.Done():
		timeoutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		a.logger.Info("shutting down HTTP server gracefully")
		err := a.server.Shutdown(timeoutCtx)
		a.close()
		return err
	}
}

func (a *App) close() {
	if a.ch != nil {
		if err := a.ch.Close(); err != nil {
			a.logger.Error("failed to close channel", sl.Err(err))
		}
	}
	if a.conn != nil {
		if err := a.conn.Close(); err != nil {
			a.logger.Error("failed to close connection", sl.Err(err))
		}
	}
	if err := a.cache.Close(); err != nil {
		a.logger.Error("failed to close cache", sl.Err(err))
	}
	if err := a.db.Close(); err != nil {
		a.logger.Error("failed to close storage", sl.Err(err))
	}
}
