package auth

import (
	"context"
	"net/http"

	"github.com/xela07ax/agentgate/internal/domain"
	"go.uber.org/zap"
)

// TokenValidator — интерфейс, который реализуют и шлюз, и консоль.
type TokenValidator interface {
	VerifyToken(tokenStr string) (*domain.CustomClaims, error)
}

// Типизированные ключи контекста: строковые ключи сталкиваются между
// пакетами.
type ctxKey int

const (
	scopesKey ctxKey = iota
	userIDKey
)

// NewMiddleware проверяет Bearer-токен и прокидывает права в контекст.
func NewMiddleware(v TokenValidator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := v.VerifyToken(authHeader)
			if err != nil {
				logger.Warn("auth failure", zap.Error(err))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), scopesKey, claims.Scopes)
			ctx = context.WithValue(ctx, userIDKey, claims.UserID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ScopesFromContext достает права токена; ok == false означает, что
// запрос не проходил через auth-middleware.
func ScopesFromContext(ctx context.Context) (map[string]bool, bool) {
	scopes, ok := ctx.Value(scopesKey).(map[string]bool)
	return scopes, ok
}

// UserIDFromContext достает идентификатор авторизованного пользователя.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}
