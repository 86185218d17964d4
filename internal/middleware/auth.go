package middleware

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/karmaloop/automation-server-go/internal/audit"
	"github.com/karmaloop/automation-server-go/internal/util"
)

// AuthMiddleware guards the API with a single shared service token. The
// scheduler has no per-caller identity: operators and executors present the
// same SERVICE_TOKEN, and accounts are addressed by path, never by token.
type AuthMiddleware struct {
	token   string
	limiter *AuthRateLimiter
}

func NewAuthMiddleware(token string, limiter *AuthRateLimiter) *AuthMiddleware {
	return &AuthMiddleware{token: token, limiter: limiter}
}

func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.token == "" {
			// Config warns loudly about this outside production.
			next.ServeHTTP(w, r)
			return
		}

		ip := r.RemoteAddr
		if m.limiter != nil && m.limiter.Blocked(ip) {
			w.Header().Set("Retry-After", "60")
			writeJSON(w, http.StatusTooManyRequests, map[string]string{
				"error": "Too many failed authentication attempts. Please try again later.",
			})
			return
		}

		token := extractToken(r)
		if token == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "Missing authentication token",
			})
			return
		}

		if !util.ConstantTimeEqual(token, m.token) {
			if m.limiter != nil {
				m.limiter.RecordFailure(ip)
			}
			log.Warn().Str("remote", ip).Msg("auth middleware: invalid token attempt")
			audit.LogFromRequest(r, audit.Event{Type: audit.EventAuthFailure})
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "Invalid token",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// extractToken accepts the Authorization header or a token query parameter.
// The query form exists for EventSource clients, which cannot set headers.
func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}

	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}

	return ""
}
