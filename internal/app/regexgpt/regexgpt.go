// Package regexgpt собирает API-сервер: хранилище, кэш, брокер, сервисы и маршруты.
package regexgpt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/streadway/amqp"

	"github.com/regexgpt/regexgpt/internal/cache"
	"github.com/regexgpt/regexgpt/internal/config"
	"github.com/regexgpt/regexgpt/internal/lib/jwt"
	"github.com/regexgpt/regexgpt/internal/lib/rabbitmq"
	"github.com/regexgpt/regexgpt/internal/lib/sl"
	"github.com/regexgpt/regexgpt/internal/llm"
	"github.com/regexgpt/regexgpt/internal/metrics"
	"github.com/regexgpt/regexgpt/internal/migrations"
	"github.com/regexgpt/regexgpt/internal/paymentprovider"
	"github.com/regexgpt/regexgpt/internal/services/billing"
	"github.com/regexgpt/regexgpt/internal/services/metering"
	"github.com/regexgpt/regexgpt/internal/services/regex"
	"github.com/regexgpt/regexgpt/internal/storage"
)

// App API-сервер RegexGPT.
type App struct {
	server *http.Server
	logger *slog.Logger
	db     *storage.Storage
	cache  *cache.Cache
	conn   *amqp.Connection
	ch     *amqp.Channel
}

// New инициализирует зависимости. Redis и RabbitMQ необязательны: без Redis
// план читается из базы, без RabbitMQ уведомления об оплате не публикуются.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	const op = "app.regexgpt.New"

	db, err := storage.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err = migrations.Run(db.DB, cfg.MigrationsPath); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	app := &App{logger: logger, db: db}

	var (
		planCache       metering.Cache
		planInvalidator billing.PlanCache
		eventLog        billing.EventLog
		notifier        billing.Notifier
	)
	redisCache, err := cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		logger.Warn("redis unavailable, running without plan cache", sl.Err(err))
	} else {
		app.cache = redisCache
		planCache, planInvalidator, eventLog = redisCache, redisCache, redisCache
	}

	if cfg.RabbitMQURL != "" {
		conn, err := rabbitmq.Connect(ctx, cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
		if err != nil {
			app.close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		ch, err := rabbitmq.SetupChannel(conn, rabbitmq.GetNotificationQueues())
		if err != nil {
			_ = conn.Close()
			app.close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		app.conn, app.ch = conn, ch
		notifier = rabbitmq.NewPublisher(ch)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewCollector(registry)

	provider := paymentprovider.NewClient(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret)

	meteringService := metering.NewService(db, planCache, cfg.Limits, cfg.StoreTimeout, logger, recorder)
	regexService := regex.New(meteringService, llm.New(cfg.LLM), db, cfg.StoreTimeout, logger, recorder)
	billingService := billing.New(db, billing.Deps{
		Events:   eventLog,
		Cache:    planInvalidator,
		Notifier: notifier,
		Provider: provider,
		Metrics:  recorder,
	}, billing.Options{
		ProStatuses:  cfg.Stripe.ProStatuses,
		EnforceOrder: cfg.Stripe.EnforceEventOrder,
		AppURL:       cfg.Stripe.AppURL,
		PriceID:      cfg.Stripe.PriceID,
		StoreTimeout: cfg.StoreTimeout,
	}, logger)

	router := chi.NewRouter()
	RegisterRoutes(router, logger, Services{
		Regex:    regexService,
		Metering: meteringService,
		Billing:  billingService,
		Webhooks: provider,
		Verifier: jwt.NewJWTMaker(cfg.Auth.JWTSecret, cfg.Auth.Audience, 0),
		Health:   db,
		Throttle: cfg.Throttle,
		Metrics:  registry,
	})

	app.server = &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return app, nil
}

// Run запускает сервер и останавливает его при отмене ctx.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting", slog.String("address", a.server.Addr))
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
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.Error("failed to close redis", sl.Err(err))
		}
	}
	if err := a.db.Close(); err != nil {
		a.logger.Error("failed to close database", sl.Err(err))
	}
}
