package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMissingSubject токен без идентификатора пользователя.
var ErrMissingSubject = errors.New("token has no subject")

// Verifier разбирает и проверяет access-токен.
type Verifier interface {
	ParseToken(tokenStr string) (*Claims, error)
}

// MakerImpl проверяет и выпускает токены, подписанные общим секретом.
// Выпуск нужен для локальной разработки и тестов, в проде токены выдаёт провайдер.
type MakerImpl struct {
	secretKey string
	audience  string
	tokenTTL  time.Duration
}

// NewJWTMaker создаёт MakerImpl. Пустой audience отключает проверку aud.
func NewJWTMaker(secretKey, audience string, ttl time.Duration) *MakerImpl {
	return &MakerImpl{
		secretKey: secretKey,
		audience:  audience,
		tokenTTL:  ttl,
	}
}

// GenerateToken создаёт токен для пользователя.
func (j *MakerImpl) GenerateToken(userID, email string) (string, error) {
	now := time.Now()
	claims := Claims{
		Email: email,
		Role:  "authenticated",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.tokenTTL)),
		},
	}
	if j.audience != "" {
		claims.Audience = jwt.ClaimStrings{j.audience}
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(j.secretKey))
}

// ParseToken проверяет подпись, срок действия и аудиторию токена.
func (j *MakerImpl) ParseToken(tokenStr string) (*Claims, error) {
	const op = "jwt.ParseToken"

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if j.audience != "" {
		opts = append(opts, jwt.WithAudience(j.audience))
	}

	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(_ *jwt.Token) (any, error) {
		return []byte(j.secretKey), nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%s: invalid token", op)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrMissingSubject)
	}
	return claims, nil
}
