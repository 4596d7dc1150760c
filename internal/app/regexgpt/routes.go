package regexgpt

import (
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	httpSwagger "github.com/swaggo/http-swagger"

	// Регистрация swagger-спецификации.
	_ "github.com/regexgpt/regexgpt/docs"

	"github.com/regexgpt/regexgpt/internal/config"
	"github.com/regexgpt/regexgpt/internal/http/handlers/billing/checkout"
	"github.com/regexgpt/regexgpt/internal/http/handlers/billing/portal"
	"github.com/regexgpt/regexgpt/internal/http/handlers/billing/webhook"
	"github.com/regexgpt/regexgpt/internal/http/handlers/health"
	"github.com/regexgpt/regexgpt/internal/http/handlers/profile/me"
	"github.com/regexgpt/regexgpt/internal/http/handlers/regex/history"
	"github.com/regexgpt/regexgpt/internal/http/handlers/regex/transform"
	"github.com/regexgpt/regexgpt/internal/http/middlewarectx"
	"github.com/regexgpt/regexgpt/internal/lib/jwt"
	"github.com/regexgpt/regexgpt/internal/metrics"
	"github.com/regexgpt/regexgpt/internal/models"
)

// BillingService операции биллинга, нужные обработчикам.
type BillingService interface {
	checkout.Service
	portal.Service
	webhook.Service
}

// Services зависимости маршрутов.
type Services struct {
	Regex interface {
		transform.Service
		history.Service
	}
	Metering me.Service
	Billing  BillingService
	Webhooks webhook.Verifier
	Verifier jwt.Verifier
	Health   health.Pinger
	Throttle config.Throttle
	Metrics  prometheus.Gatherer
}

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, logger *slog.Logger, s Services) {
	// Глобальные middleware
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Logger,
		middleware.Recoverer,
	)

	throttle := middlewarectx.NewThrottle(s.Throttle.RPS, s.Throttle.Burst)

	r.Route("/api/v1", func(r chi.Router) {
		// generate и explain доступны без заголовка, анонимный вызов получает 401 requires_auth
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.Authenticate(s.Verifier, logger, false))
			r.Use(throttle.Middleware(logger))
			r.Post("/generate", transform.New(logger, s.Regex, models.OperationGenerate).ServeHTTP)
			r.Post("/explain", transform.New(logger, s.Regex, models.OperationExplain).ServeHTTP)
		})

		// Группа с обязательной аутентификацией
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.Authenticate(s.Verifier, logger, true))
			r.Use(throttle.Middleware(logger))
			r.Get("/history", history.New(logger, s.Regex).ServeHTTP)
			r.Get("/me", me.New(logger, s.Metering).ServeHTTP)
			r.Post("/billing/checkout", checkout.New(logger, s.Billing).ServeHTTP)
			r.Post("/billing/portal", portal.New(logger, s.Billing).ServeHTTP)
		})

		// Вебхук без аутентификации, проверяется подпись
		r.Post("/billing/webhook", webhook.New(logger, s.Webhooks, s.Billing).ServeHTTP)
	})

	r.Get("/healthz", health.New(logger, s.Health).ServeHTTP)
	if s.Metrics != nil {
		r.Handle("/metrics", metrics.Handler(s.Metrics))
	}
	r.Get("/docs/*", httpSwagger.WrapHandler)
}
