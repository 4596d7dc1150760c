// Package jwt проверяет access-токены провайдера аутентификации (HS256).
package jwt

import (
	"github.com/golang-jwt/jwt/v5"
)

// Claims данные access-токена. Идентификатор пользователя хранится в sub.
type Claims struct {
	Email                string `json:"email"`
	Role                 string `json:"role,omitempty"`
	jwt.RegisteredClaims        // sub, aud, exp, iat
}

// UserID возвращает идентификатор пользователя из sub.
func (c *Claims) UserID() string {
	return c.Subject
}
