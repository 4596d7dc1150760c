// Package history реализует HTTP-обработчик истории сохранённых шаблонов (только pro).
package history

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/regexgpt/regexgpt/internal/http/middlewarectx"
	"github.com/regexgpt/regexgpt/internal/http/response"
	"github.com/regexgpt/regexgpt/internal/lib/sl"
	"github.com/regexgpt/regexgpt/internal/models"
	"github.com/regexgpt/regexgpt/internal/services/regex"
)

// Service описывает интерфейс бизнес-логики истории.
type Service interface {
	History(ctx context.Context, userID string, limit int) ([]*models.SavedPattern, error)
}

// Result тело успешного ответа.
type Result struct {
	Patterns []*models.SavedPattern `json:"patterns"`
	Count    int                    `json:"count"`
}

// Handler обрабатывает запросы истории.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создает Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
	}
}

// ServeHTTP godoc
// @Summary История шаблонов
// @Description Новые первыми. limit по умолчанию 20, максимум 100.
// @Tags regex
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Количество записей"
// @Success 200 {object} response.Response{data=Result}
// @Failure 401 {object} response.ErrorResponse
// @Failure 403 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /history [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.regex.history"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	// некорректное значение заменяется значением по умолчанию в сервисе
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	userID := middlewarectx.UserIDFromContext(r.Context())
	patterns, err := h.service.History(r.Context(), userID, limit)
	switch {
	case errors.Is(err, regex.ErrAuthRequired):
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, response.AuthRequired("Please sign in to view history"))
		return
	case errors.Is(err, regex.ErrNotPro):
		render.Status(r, http.StatusForbidden)
		render.JSON(w, r, response.QuotaError("History is available on the Pro plan", true))
		return
	case err != nil:
		log.Error("failed to list patterns", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("Failed to fetch history"))
		return
	}

	log.Debug("history listed", slog.String("user_id", userID), slog.Int("count", len(patterns)))
	render.JSON(w, r, response.StatusOKWithData(Result{
		Patterns: patterns,
		Count:    len(patterns),
	}))
}
