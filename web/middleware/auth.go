package middleware

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/httprate"

	"squadstream/log"
)

// AuthMiddleware requires a bearer token. Websocket clients, which can't set headers from a
// browser, may pass it as the token query parameter instead.
func AuthMiddleware(token string, allowLocalhost bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if allowLocalhost && isLoopback(r.RemoteAddr) {
				next.ServeHTTP(w, r)
				return
			}

			provided := r.URL.Query().Get("token")
			if authHeader := r.Header.Get("Authorization"); authHeader != "" {
				scheme, value, ok := strings.Cut(authHeader, " ")
				if !ok || scheme != "Bearer" {
					http.Error(w, "Invalid authorization format", http.StatusUnauthorized)
					log.WarningLog.Printf("Auth attempt with invalid format from %s", r.RemoteAddr)
					return
				}
				provided = value
			}
			if provided == "" {
				http.Error(w, "Authorization required", http.StatusUnauthorized)
				log.WarningLog.Printf("Auth attempt with no token from %s", r.RemoteAddr)
				return
			}
			if subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
				http.Error(w, "Invalid authorization token", http.StatusUnauthorized)
				log.WarningLog.Printf("Auth attempt with invalid token from %s", r.RemoteAddr)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return false
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// RateLimit limits requests per client IP to requests per window. Websocket upgrades are
// exempt, a stream is one long request.
func RateLimit(requests int, window time.Duration) func(http.Handler) http.Handler {
	limit := httprate.Limit(requests, window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			log.WarningLog.Printf("Rate limit exceeded for %s", r.RemoteAddr)
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
		}),
	)
	return func(next http.Handler) http.Handler {
		limited := limit(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isWebSocketRequest(r) {
				next.ServeHTTP(w, r)
				return
			}
			limited.ServeHTTP(w, r)
		})
	}
}

// isWebSocketRequest checks if the request is a WebSocket upgrade request
func isWebSocketRequest(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}
