// Package middleware содержит HTTP middleware станции.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

type contextKey string

const (
	kioskIDKey contextKey = "kioskID"
	tokenKey   contextKey = "token"
)

const (
	sessionCookieName = "kiosk_session"
	sessionCookieTTL  = 24 * time.Hour
)

// SessionMiddleware привязывает запросы киоска к сеансу по подписанному cookie.
type SessionMiddleware struct {
	secretKey []byte
	issue     func() string
}

// NewSessionMiddleware создаёт middleware сеансов. Функция issue заводит новый сеанс
// и возвращает его идентификатор. Без секрета ключ генерируется случайно.
func NewSessionMiddleware(secret string, issue func() string) *SessionMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("canteen-station-secret")
		}
	}
	if issue == nil {
		issue = uuid.NewString
	}

	return &SessionMiddleware{
		secretKey: key,
		issue:     issue,
	}
}

// Middleware читает cookie сеанса. При отсутствии или неверной подписи заводится новый сеанс.
func (m *SessionMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var kioskID string
		if cookie, err := r.Cookie(sessionCookieName); err == nil {
			kioskID, _ = m.parseCookie(cookie.Value)
		}
		if kioskID == "" {
			kioskID = m.issue()
			m.SetSessionCookie(w, kioskID)
		}

		ctx := context.WithValue(r.Context(), kioskIDKey, kioskID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SetSessionCookie устанавливает подписанный cookie для указанного сеанса.
func (m *SessionMiddleware) SetSessionCookie(w http.ResponseWriter, kioskID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    kioskID + "." + m.sign(kioskID),
		Path:     "/",
		Expires:  time.Now().Add(sessionCookieTTL),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (m *SessionMiddleware) sign(id string) string {
	mac := hmac.New(sha256.New, m.secretKey)
	mac.Write([]byte(id))
	return hex.EncodeToString(mac.Sum(nil))
}

func (m *SessionMiddleware) parseCookie(value string) (string, bool) {
	id, signature, ok := strings.Cut(value, ".")
	if !ok || id == "" {
		return "", false
	}

	if !hmac.Equal([]byte(signature), []byte(m.sign(id))) {
		return "", false
	}

	if _, err := uuid.Parse(id); err != nil {
		return "", false
	}

	return id, true
}

// GetKioskIDFromContext извлекает идентификатор сеанса киоска из контекста запроса.
func GetKioskIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(kioskIDKey).(string)
	return id, ok && id != ""
}

// BearerToken переносит токен из заголовка Authorization в контекст запроса.
// Токен не проверяется локально и передаётся сервису столовой как есть.
func BearerToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearer(r.Header.Get("Authorization"))
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}
		ctx := context.WithValue(r.Context(), tokenKey, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireToken отклоняет запросы без токена.
func RequireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetTokenFromContext(r.Context()) == "" {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetTokenFromContext возвращает токен запроса или пустую строку.
func GetTokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(tokenKey).(string)
	return token
}

func bearer(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
