// Package middlewarectx содержит HTTP middleware: проверку bearer-токена и
// ограничение частоты запросов пользователя.
//
// Authenticate проверяет access-токен из заголовка Authorization и кладёт в
// контекст идентификатор и email пользователя. В режиме optional запрос без
// заголовка пропускается анонимным, решение принимает обработчик.
package middlewarectx

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/regexgpt/regexgpt/internal/http/response"
	"github.com/regexgpt/regexgpt/internal/lib/jwt"
	"github.com/regexgpt/regexgpt/internal/lib/sl"
)

// Key тип для ключей контекста HTTP-запроса.
type Key string

const (
	// UserID ключ идентификатора пользователя в контексте.
	UserID Key = "user_id"
	// Email ключ email пользователя в контексте.
	Email Key = "email"
)

// UserIDFromContext возвращает идентификатор пользователя или пустую строку.
func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(UserID).(string)
	return id
}

// EmailFromContext возвращает email пользователя или пустую строку.
func EmailFromContext(ctx context.Context) string {
	email, _ := ctx.Value(Email).(string)
	return email
}

// WithUser кладёт пользователя в контекст.
func WithUser(ctx context.Context, userID, email string) context.Context {
	ctx = context.WithValue(ctx, UserID, userID)
	return context.WithValue(ctx, Email, email)
}

// Authenticate возвращает middleware проверки bearer-токена.
// required=false пропускает запросы без заголовка Authorization.
// Присланный, но невалидный токен отклоняется в обоих режимах.
func Authenticate(verifier jwt.Verifier, log *slog.Logger, required bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const op = "middlewarectx.Authenticate"
			log := log.With(
				slog.String("op", op),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				if !required {
					next.ServeHTTP(w, r)
					return
				}
				log.Info("missing authorization header")
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, response.AuthRequired("Please sign in to continue"))
				return
			}

			tokenStr, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok || tokenStr == "" {
				log.Info("invalid authorization header")
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, response.AuthRequired("missing or invalid authorization header"))
				return
			}

			claims, err := verifier.ParseToken(tokenStr)
			if err != nil {
				log.Info("invalid or expired token", sl.Err(err))
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, response.AuthRequired("invalid or expired token"))
				return
			}
			if _, err := uuid.Parse(claims.UserID()); err != nil {
				log.Info("token subject is not a user id", sl.Err(err))
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, response.AuthRequired("invalid or expired token"))
				return
			}

			ctx := WithUser(r.Context(), claims.UserID(), claims.Email)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
