// Package portal реализует HTTP-обработчик портала управления подпиской.
package portal

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
	"github.com/regexgpt/regexgpt/internal/services/billing"
)

// Service описывает интерфейс создания сессии портала.
type Service interface {
	CreatePortal(ctx context.Context, userID string) (string, error)
}

// Result тело успешного ответа.
type Result struct {
	URL string `json:"url"`
}

// Handler обрабатывает POST /billing/portal.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создает Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Портал управления подпиской
// @Tags billing
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Response{data=Result}
// @Failure 400 {object} response.ErrorResponse
// @Failure 401 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /billing/portal [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.billing.portal"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	userID := middlewarectx.UserIDFromContext(r.Context())
	if userID == "" {
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, response.AuthRequired("Please sign in to manage billing"))
		return
	}

	url, err := h.service.CreatePortal(r.Context(), userID)
	switch {
	case errors.Is(err, billing.ErrNoBillingCustomer):
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("No billing account found"))
		return
	case err != nil:
		log.Error("failed to create portal session", slog.String("user_id", userID), sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("Failed to create portal session"))
		return
	}

	render.JSON(w, r, response.StatusOKWithData(Result{URL: url}))
}
