// Package checkout реализует HTTP-обработчик создания сессии оплаты pro.
package checkout

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/regexgpt/regexgpt/internal/http/middlewarectx"
	"github.com/regexgpt/regexgpt/internal/http/response"
	"github.com/regexgpt/regexgpt/internal/lib/sl"
	"github.com/regexgpt/regexgpt/internal/paymentprovider"
	"github.com/regexgpt/regexgpt/internal/services/billing"
)

// Service описывает интерфейс создания сессии оплаты.
type Service interface {
	CreateCheckout(ctx context.Context, userID, email string) (string, error)
}

// Result тело успешного ответа.
type Result struct {
	URL string `json:"url"`
}

// Handler обрабатывает POST /billing/checkout.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создает Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Оформить подписку pro
// @Description Возвращает URL страницы оплаты.
// @Tags billing
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Response{data=Result}
// @Failure 400 {object} response.ErrorResponse
// @Failure 401 {object} response.ErrorResponse
// @Failure 503 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /billing/checkout [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.billing.checkout"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	userID := middlewarectx.UserIDFromContext(r.Context())
	if userID == "" {
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, response.AuthRequired("Please sign in to upgrade"))
		return
	}

	url, err := h.service.CreateCheckout(r.Context(), userID, middlewarectx.EmailFromContext(r.Context()))
	switch {
	case errors.Is(err, billing.ErrAlreadyPro):
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("You are already subscribed to Pro"))
		return
	case errors.Is(err, paymentprovider.ErrNotConfigured):
		log.Error("payment provider not configured", sl.Err(err))
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, response.Error("Payment system not configured. Please contact support."))
		return
	case err != nil:
		log.Error("failed to create checkout session", slog.String("user_id", userID), sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("Failed to create checkout session"))
		return
	}

	log.Info("checkout session created", slog.String("user_id", userID))
	render.JSON(w, r, response.StatusOKWithData(Result{URL: url}))
}
