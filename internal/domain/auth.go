package domain

import (
	"github.com/golang-jwt/jwt/v5"
)

// CustomClaims — полезная нагрузка RS256-токена. Токены выпускает внешний
// Identity-сервис; шлюз и консоль их только проверяют.
type CustomClaims struct {
	UserID string          `json:"user_id"`
	Scopes map[string]bool `json:"scopes"` // "admin": true или "quarantine": true
	jwt.RegisteredClaims
}
