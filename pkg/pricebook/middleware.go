package pricebook

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const (
	RequestIDHeader = "X-Request-ID"
	IdentityHeader  = "X-Rh-Identity"
)

type contextKey string

const requestIDKey contextKey = "requestID"

// RequestIDFromContext returns the request ID set by RequestID, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// RequestID propagates the caller's X-Request-ID or assigns a new one.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(RequestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// AccessLog writes one line per completed request. Paths in skip (health
// probes, metrics scrapes) are not logged.
func AccessLog(logger *zap.Logger, skip ...string) func(http.Handler) http.Handler {
	skipped := make(map[string]struct{}, len(skip))
	for _, p := range skip {
		skipped[p] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skipped[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			logger.Info("Request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr),
				zap.String("request_id", RequestIDFromContext(r.Context())))
		})
	}
}

// Identity logs the caller identity carried in the base64 JSON
// x-rh-identity header set by the gateway. The header is informational: a
// value that cannot be decoded is logged and the request continues.
func Identity(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if raw := r.Header.Get(IdentityHeader); raw != "" {
				logIdentity(logger, r, raw)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func logIdentity(logger *zap.Logger, r *http.Request, raw string) {
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(raw))
	if err != nil {
		logger.Warn("Failed to decode x-rh-identity header",
			zap.Error(err),
			zap.String("path", r.URL.Path))
		return
	}
	if !gjson.ValidBytes(decoded) {
		logger.Warn("Failed to decode x-rh-identity header",
			zap.String("error", "not a JSON document"),
			zap.String("path", r.URL.Path))
		return
	}

	id := gjson.GetBytes(decoded, "identity")
	logger.Info("x-rh-identity",
		zap.String("account_number", id.Get("account_number").String()),
		zap.String("org_id", id.Get("org_id").String()),
		zap.String("type", id.Get("type").String()),
		zap.String("username", id.Get("user.username").String()),
		zap.String("path", r.URL.Path),
		zap.String("request_id", RequestIDFromContext(r.Context())))
}

// RequireBasicAuth rejects requests that carry no Basic credentials. The
// credentials themselves are checked by the gateway in front of the service.
func RequireBasicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, _, ok := r.BasicAuth(); !ok {
			w.Header().Set("WWW-Authenticate", "Basic")
			writeDetail(w, http.StatusUnauthorized, "Not authenticated")
			return
		}
		next.ServeHTTP(w, r)
	})
}
