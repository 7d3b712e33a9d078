package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type ctxKey int

const (
	clientIDKey ctxKey = iota
	bearerKey
)

// ClientIdentity requires the X-Client-ID header and picks up an optional bearer
// token. Handlers decide between the guest and the user cart from these two values.
func ClientIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientID := strings.TrimSpace(r.Header.Get("X-Client-ID"))
		if clientID == "" {
			respondError(w, http.StatusBadRequest, "missing_client_id", "X-Client-ID header is required")
			return
		}

		ctx := context.WithValue(r.Context(), clientIDKey, clientID)
		if auth := r.Header.Get("Authorization"); auth != "" {
			token, ok := strings.CutPrefix(auth, "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				respondError(w, http.StatusUnauthorized, "invalid_token", "Authorization must be a bearer token")
				return
			}
			ctx = context.WithValue(ctx, bearerKey, strings.TrimSpace(token))
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestLogger logs one line per request.
func RequestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			log.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}

func clientIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(clientIDKey).(string)
	return id
}

func bearerFromContext(ctx context.Context) string {
	token, _ := ctx.Value(bearerKey).(string)
	return token
}
