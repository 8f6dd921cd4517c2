// Package token разбирает JWT провайдера аутентификации.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/iurnickita/ifgmart/internal/model"
)

var ErrInvalidToken = errors.New("invalid token")

type AppMetadata struct {
	Role string `json:"role,omitempty"`
}

// Claims - утверждения токена провайдера. sub - id пользователя
type Claims struct {
	jwt.RegisteredClaims
	Email       string      `json:"email,omitempty"`
	AppMetadata AppMetadata `json:"app_metadata"`
}

// GetUser проверяет подпись (HS256) и возвращает пользователя из токена
func GetUser(tokenString string, secret string) (model.User, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return model.User{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return model.User{}, ErrInvalidToken
	}

	return model.User{
		ID:    claims.Subject,
		Email: claims.Email,
		Role:  claims.AppMetadata.Role,
	}, nil
}

// BuildJWTString выпускает токен для пользователя. Используется в тестах и для локальной разработки
func BuildJWTString(user model.User, secret string, ttl time.Duration) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
		Email:       user.Email,
		AppMetadata: AppMetadata{Role: user.Role},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	tokenString, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", err
	}
	return tokenString, nil
}
