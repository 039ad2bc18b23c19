package http

import (
	"bytes"
	"context"
	"crypto/rsa"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/robertarktes/seat-booking/internal/idempotency"
	"github.com/robertarktes/seat-booking/internal/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
)

type ctxKey int

const (
	loggerKey ctxKey = iota
	subjectKey
)

// Limiter counts requests per key in windows of period.
type Limiter interface {
	Allow(ctx context.Context, key string, rate int, period time.Duration) (bool, error)
}

// IdempotencyStore keeps finished responses by scoped idempotency key.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) (*idempotency.Response, error)
	Set(ctx context.Context, key string, resp idempotency.Response) error
}

var fallbackLogger = observability.NopLogger()

func loggerFrom(ctx context.Context) observability.Logger {
	if l, ok := ctx.Value(loggerKey).(observability.Logger); ok {
		return l
	}
	return fallbackLogger
}

func subjectFrom(ctx context.Context) string {
	s, _ := ctx.Value(subjectKey).(string)
	return s
}

// scopedToken namespaces a holder token by the authenticated subject, so two
// users picking the same token never share a hold.
func scopedToken(ctx context.Context, token string) string {
	if sub := subjectFrom(ctx); sub != "" {
		return sub + ":" + token
	}
	return token
}

func RequestIDMiddleware(next http.Handler) http.Handler {
	return middleware.RequestID(next)
}

func LoggerMiddleware(logger observability.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := middleware.GetReqID(r.Context())
			entry := logger.WithField("request_id", reqID)
			ctx := context.WithValue(r.Context(), loggerKey, entry)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r.WithContext(ctx))

			entry.WithFields(map[string]interface{}{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      ww.Status(),
				"duration_ms": time.Since(start).Milliseconds(),
			}).Debug("request served")
		})
	}
}

func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		tracer := otel.Tracer("http")
		ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path)
		defer span.End()

		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.url", r.URL.String()),
		)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// MetricsMiddleware counts requests by route pattern, so path parameters do
// not blow up label cardinality.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		observability.RequestsTotal.WithLabelValues(route, strconv.Itoa(status), r.Method).Inc()
	})
}

// JWTMiddleware requires an RS256 bearer token when key is set and puts its
// subject in the request context. A nil key disables authentication.
func JWTMiddleware(key *rsa.PublicKey) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if key == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || raw == "" {
				writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized", Message: "missing bearer token"})
				return
			}

			tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
				return key, nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}), jwt.WithExpirationRequired())
			if err != nil || !tok.Valid {
				loggerFrom(r.Context()).WithError(err).Debug("rejected bearer token")
				writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized", Message: "invalid token"})
				return
			}

			sub, err := tok.Claims.GetSubject()
			if err != nil || sub == "" {
				writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized", Message: "token has no subject"})
				return
			}

			ctx := context.WithValue(r.Context(), subjectKey, sub)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RateLimitMiddleware allows perMinute requests per client IP. Limiter errors
// let the request through.
func RateLimitMiddleware(rl Limiter, perMinute int) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if rl == nil || perMinute <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}
			ok, err := rl.Allow(r.Context(), "ip:"+ip, perMinute, time.Minute)
			if err != nil {
				loggerFrom(r.Context()).WithError(err).Warn("rate limiter unavailable, allowing request")
				next.ServeHTTP(w, r)
				return
			}
			if !ok {
				observability.RateLimitExceeded.Inc()
				w.Header().Set("Retry-After", "60")
				writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate_limited", Message: "rate limit exceeded"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IdempotencyMiddleware replays the stored response of a POST carrying an
// Idempotency-Key it has already served for the same caller and path.
func IdempotencyMiddleware(idemp IdempotencyStore) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if idemp == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientKey := r.Header.Get("Idempotency-Key")
			if r.Method != http.MethodPost || clientKey == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(clientKey) > 255 {
				writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_input", Message: "invalid Idempotency-Key"})
				return
			}

			logger := loggerFrom(r.Context())
			key := idempotency.Key(subjectFrom(r.Context()), r.Method, r.URL.Path, clientKey)
			existing, err := idemp.Get(r.Context(), key)
			if err != nil {
				logger.WithError(err).Warn("idempotency lookup failed")
			}
			if existing != nil {
				if existing.ContentType != "" {
					w.Header().Set("Content-Type", existing.ContentType)
				}
				w.Header().Set("Idempotent-Replayed", "true")
				w.WriteHeader(existing.Status)
				w.Write(existing.Result)
				return
			}

			var body bytes.Buffer
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			ww.Tee(&body)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			err = idemp.Set(r.Context(), key, idempotency.Response{
				Status:      status,
				ContentType: ww.Header().Get("Content-Type"),
				Result:      body.Bytes(),
			})
			if err != nil {
				logger.WithError(err).Warn("idempotency store failed")
			}
		})
	}
}
