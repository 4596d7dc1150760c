// Package transform реализует HTTP-обработчики generate и explain.
//
// Handler декодирует тело {"input": "..."}, вызывает сервис и переводит его
// ошибки в коды ответа: 400 ввод, 401 нужен вход, 429 квота, 500 модель.
package transform

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
	"github.com/regexgpt/regexgpt/internal/models"
	"github.com/regexgpt/regexgpt/internal/services/regex"
)

const maxBodyBytes = 64 << 10

// Service описывает интерфейс бизнес-логики операций.
type Service interface {
	Handle(ctx context.Context, userID string, op models.Operation, input string) (models.TransformResult, error)
}

// Handler обрабатывает одну операцию: generate или explain.
type Handler struct {
	log     *slog.Logger
	service Service
	op      models.Operation
}

// New создает Handler для операции op.
func New(log *slog.Logger, service Service, op models.Operation) *Handler {
	return &Handler{
		log:     log,
		service: service,
		op:      op,
	}
}

// ServeHTTP godoc
// @Summary Сгенерировать или объяснить регулярное выражение
// @Description generate: описание на естественном языке -> выражение (до 500 символов).
// @Description explain: выражение -> объяснение (до 1000 символов).
// @Tags regex
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body models.TransformRequest true "Ввод"
// @Success 200 {object} response.Response{data=models.TransformResult}
// @Failure 400 {object} response.ErrorResponse
// @Failure 401 {object} response.ErrorResponse
// @Failure 429 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /generate [post]
// @Router /explain [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.regex.transform"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.String("operation", string(h.op)),
	)

	var req models.TransformRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		log.Info("failed to decode request body", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}

	userID := middlewarectx.UserIDFromContext(r.Context())
	res, err := h.service.Handle(r.Context(), userID, h.op, req.Input)
	if err != nil {
		h.renderError(w, r, log, err)
		return
	}

	log.Info("operation completed", slog.String("user_id", userID), slog.Int("remaining", res.Remaining))
	render.JSON(w, r, response.StatusOKWithData(res))
}

func (h *Handler) renderError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	var inputErr *regex.InputError
	var quotaErr *regex.QuotaError

	switch {
	case errors.As(err, &inputErr):
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error(inputErr.Message))
	case errors.Is(err, regex.ErrAuthRequired):
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, response.AuthRequired("Please sign in to use RegexGPT"))
	case errors.As(err, &quotaErr):
		render.Status(r, http.StatusTooManyRequests)
		render.JSON(w, r, response.QuotaError(quotaErr.Error(), quotaErr.Upgrade))
	default:
		log.Error("operation failed", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		if h.op == models.OperationExplain {
			render.JSON(w, r, response.Error("Failed to explain regex. Please try again."))
			return
		}
		render.JSON(w, r, response.Error("Failed to generate regex. Please try again."))
	}
}
