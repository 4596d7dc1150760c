// Package webhook реализует приём подписанных событий платёжного провайдера.
//
// Подпись проверяется до любой записи: без неё или с неверной подписью ответ
// 400 и хранилище не трогается. Принятое событие подтверждается 200, даже если
// для его типа ничего делать не нужно. Ошибка хранилища отвечает 500, чтобы
// провайдер повторил доставку.
package webhook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/regexgpt/regexgpt/internal/http/response"
	"github.com/regexgpt/regexgpt/internal/lib/sl"
	"github.com/regexgpt/regexgpt/internal/models"
	"github.com/regexgpt/regexgpt/internal/paymentprovider"
	"github.com/regexgpt/regexgpt/internal/services/billing"
)

const maxBodyBytes = 1 << 20

// Verifier проверяет подпись и разбирает событие.
type Verifier interface {
	ConstructEvent(payload []byte, signature string) (models.BillingEvent, error)
}

// Service применяет проверенное событие.
type Service interface {
	HandleEvent(ctx context.Context, event models.BillingEvent) (billing.Result, error)
}

// Result тело успешного ответа.
type Result struct {
	Received bool   `json:"received"`
	Result   string `json:"result"`
}

// Handler обрабатывает POST /billing/webhook.
type Handler struct {
	log      *slog.Logger
	verifier Verifier
	service  Service
}

// New создает Handler.
func New(log *slog.Logger, verifier Verifier, service Service) *Handler {
	return &Handler{
		log:      log,
		verifier: verifier,
		service:  service,
	}
}

// ServeHTTP godoc
// @Summary Вебхук платёжного провайдера
// @Tags billing
// @Accept json
// @Produce json
// @Param Stripe-Signature header string true "Подпись события"
// @Success 200 {object} response.Response{data=Result}
// @Failure 400 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /billing/webhook [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.billing.webhook"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		log.Error("failed to read webhook body", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("failed to read body"))
		return
	}

	signature := r.Header.Get(paymentprovider.SignatureHeader)
	if signature == "" {
		log.Warn("webhook without signature")
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("missing signature"))
		return
	}

	event, err := h.verifier.ConstructEvent(body, signature)
	if err != nil {
		log.Warn("webhook signature verification failed", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid signature"))
		return
	}
	log = log.With(slog.String("event_id", event.ID), slog.String("event_type", event.Type))

	res, err := h.service.HandleEvent(r.Context(), event)
	switch {
	case errors.Is(err, billing.ErrMalformedEvent):
		log.Error("malformed webhook event", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("malformed event"))
		return
	case err != nil:
		log.Error("failed to process webhook event", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("webhook handler failed"))
		return
	}

	log.Info("webhook processed", slog.String("result", string(res)))
	render.JSON(w, r, response.StatusOKWithData(Result{Received: true, Result: string(res)}))
}
