// Package middleware содержит HTTP middleware консоли.
package middleware

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const sessionIDKey contextKey = "sessionID"

const authCookieName = "console_session"

// SessionTTL — срок действия cookie сессии консоли.
const SessionTTL = 12 * time.Hour

// sessionClaims — содержимое cookie консоли. Subject хранит идентификатор сессии.
type sessionClaims struct {
	jwt.RegisteredClaims
}

// AuthMiddleware проверяет подписанный cookie сессии консоли.
type AuthMiddleware struct {
	secretKey []byte
	now       func() time.Time
}

// randRead читает случайные байты для ключа подписи.
var randRead = rand.Read

// NewAuthMiddleware создаёт AuthMiddleware. Пустой секрет заменяется случайным ключом;
// если его не удалось получить, возвращается ошибка.
func NewAuthMiddleware(secret string) (*AuthMiddleware, error) {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := randRead(key); err != nil {
			return nil, fmt.Errorf("generate session key: %w", err)
		}
	}

	return &AuthMiddleware{
		secretKey: key,
		now:       time.Now,
	}, nil
}

// Middleware проверяет cookie и добавляет идентификатор сессии в контекст запроса.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(authCookieName)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		sessionID, err := a.parseToken(cookie.Value)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), sessionIDKey, sessionID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SetAuthCookie выдаёт cookie для сессии консоли.
func (a *AuthMiddleware) SetAuthCookie(w http.ResponseWriter, sessionID string) error {
	now := a.now()

	token, err := a.signToken(sessionID, now)
	if err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     authCookieName,
		Value:    token,
		Path:     "/",
		Expires:  now.Add(SessionTTL),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	return nil
}

// ClearAuthCookie удаляет cookie сессии.
func (a *AuthMiddleware) ClearAuthCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     authCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (a *AuthMiddleware) signToken(sessionID string, now time.Time) (string, error) {
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sessionID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(SessionTTL)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secretKey)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return token, nil
}

func (a *AuthMiddleware) parseToken(value string) (string, error) {
	claims := &sessionClaims{}

	_, err := jwt.ParseWithClaims(value, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secretKey, nil
	}, jwt.WithTimeFunc(a.now), jwt.WithExpirationRequired())
	if err != nil {
		return "", fmt.Errorf("parse session token: %w", err)
	}

	if claims.Subject == "" {
		return "", errors.New("session token has no subject")
	}

	return claims.Subject, nil
}

// GetSessionIDFromContext извлекает идентификатор сессии из контекста запроса.
func GetSessionIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionIDKey).(string)
	return id, ok && id != ""
}
