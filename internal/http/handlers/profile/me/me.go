// Package me реализует HTTP-обработчик профиля текущего пользователя.
// При первом обращении создаёт профиль на плане free.
package me

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/regexgpt/regexgpt/internal/http/middlewarectx"
	"github.com/regexgpt/regexgpt/internal/http/response"
	"github.com/regexgpt/regexgpt/internal/lib/sl"
	"github.com/regexgpt/regexgpt/internal/models"
)

// Service описывает интерфейс получения сводки по профилю.
type Service interface {
	Usage(ctx context.Context, userID, email string) (models.UsageSummary, error)
}

// Handler обрабатывает GET /me.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создает Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Профиль и использование за сегодня
// @Tags profile
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Response{data=models.UsageSummary}
// @Failure 401 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /me [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.profile.me"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	userID := middlewarectx.UserIDFromContext(r.Context())
	if userID == "" {
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, response.AuthRequired("Please sign in to continue"))
		return
	}

	summary, err := h.service.Usage(r.Context(), userID, middlewarectx.EmailFromContext(r.Context()))
	if err != nil {
		log.Error("failed to load profile", slog.String("user_id", userID), sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not load profile"))
		return
	}

	render.JSON(w, r, response.StatusOKWithData(summary))
}
