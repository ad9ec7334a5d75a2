package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/chainforge/evmindex/internal/logger"
)

// Middleware wraps an http.Handler with cross-cutting behavior.
type Middleware func(http.Handler) http.Handler

// responseWriter captures the status code a handler wrote so middleware
// running after the handler still has it to log.
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (w *responseWriter) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.statusCode = code
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(code)
}

// LoggingMiddleware logs method, path, status and duration for every request.
func LoggingMiddleware(log *logger.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			log.Infof("%s %s %d %s", r.Method, r.URL.Path, wrapped.statusCode, time.Since(start))
		})
	}
}

// RecoveryMiddleware recovers from a panicking handler and responds with a
// plain 500 instead of taking the whole server down.
func RecoveryMiddleware(log *logger.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.Errorf("panic handling %s %s: %v", r.Method, r.URL.Path, rec)
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// CORSMiddleware applies the configured allowed-origins policy and answers
// OPTIONS preflight requests directly without reaching the wrapped handler.
func CORSMiddleware(allowedOrigins []string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			allowed, responseOrigin := matchOrigin(allowedOrigins, origin)

			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", responseOrigin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Set("Access-Control-Max-Age", "86400")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// matchOrigin reports whether origin is allowed and the value the
// Access-Control-Allow-Origin header should carry. A "*" entry allows any
// origin, echoing it back when present so credentialed requests still work,
// and falling back to the literal "*" when the request carries none.
func matchOrigin(allowedOrigins []string, origin string) (bool, string) {
	for _, allowed := range allowedOrigins {
		if allowed == "*" {
			if origin == "" {
				return true, "*"
			}
			return true, origin
		}
		if strings.EqualFold(allowed, origin) && origin != "" {
			return true, origin
		}
	}
	return false, ""
}
