package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"manualqa-backend/internal/auth"
	"manualqa-backend/internal/logger"
	"manualqa-backend/pkg/httputil"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
)

// --- JWT Middleware ---

// JwtAuthMiddleware verifies the bearer token from the Authorization header.
// If valid, it injects the token subject into the request context.
func JwtAuthMiddleware(jwtSecret string, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				httputil.RespondError(w, http.StatusUnauthorized, "Authorization header required")
				return
			}

			parts := strings.Fields(authHeader)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				log.Debug("malformed authorization header", "request_id", middleware.GetReqID(r.Context()))
				httputil.RespondError(w, http.StatusUnauthorized, "Malformed Authorization header (Expected: Bearer <token>)")
				return
			}

			claims, err := auth.ParseToken(parts[1], jwtSecret)
			if err != nil {
				log.Debug("token rejected", "request_id", middleware.GetReqID(r.Context()), "error", err)
				switch {
				case errors.Is(err, jwt.ErrTokenExpired):
					httputil.RespondError(w, http.StatusUnauthorized, "Token has expired")
				case errors.Is(err, jwt.ErrTokenMalformed):
					httputil.RespondError(w, http.StatusUnauthorized, "Malformed token")
				default:
					httputil.RespondError(w, http.StatusUnauthorized, "Invalid token")
				}
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.WithSubject(r.Context(), claims.Subject)))
		})
	}
}

// --- Access Log ---

// RequestLogger logs one structured line per request after it completes.
func RequestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				kv := []interface{}{
					"method", r.Method,
					"path", r.URL.Path,
					"status", status,
					"bytes", ww.BytesWritten(),
					"latency_ms", time.Since(start).Milliseconds(),
					"request_id", middleware.GetReqID(r.Context()),
				}
				switch {
				case status >= 500:
					log.Error("http request", kv...)
				case status >= 400:
					log.Warn("http request", kv...)
				default:
					log.Info("http request", kv...)
				}
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
