package http

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"

	"github.com/robertarktes/event-ticketing/internal/idempotency"
	"github.com/robertarktes/event-ticketing/internal/observability"
	"github.com/robertarktes/event-ticketing/internal/scannertoken"
	"github.com/robertarktes/event-ticketing/internal/ticketing"
)

type ctxKey int

const (
	loggerKey ctxKey = iota
	actorKey
	scannerKey
)

func loggerFrom(ctx context.Context) observability.Logger {
	if l, ok := ctx.Value(loggerKey).(observability.Logger); ok {
		return l
	}
	return nopLogger
}

func actorFrom(ctx context.Context) (ticketing.Actor, bool) {
	a, ok := ctx.Value(actorKey).(ticketing.Actor)
	return a, ok
}

func scannerFrom(ctx context.Context) scannertoken.Scanner {
	s, _ := ctx.Value(scannerKey).(scannertoken.Scanner)
	return s
}

func RequestIDMiddleware(next http.Handler) http.Handler {
	return middleware.RequestID(next)
}

// LoggerMiddleware stores a request-scoped logger in the context and
// writes one access line and one request metric per request.
func LoggerMiddleware(logger observability.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := middleware.GetReqID(r.Context())
			entry := logger.WithField("request_id", reqID)
			ctx := context.WithValue(r.Context(), loggerKey, entry)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r.WithContext(ctx))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			observability.RequestsTotal.WithLabelValues(route, strconv.Itoa(status), r.Method).Inc()
			entry.WithFields(map[string]interface{}{
				"method":      r.Method,
				"route":       route,
				"status":      status,
				"duration_ms": time.Since(start).Milliseconds(),
			}).Debug("request served")
		})
	}
}

type userClaims struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Purpose string `json:"purpose,omitempty"`
	jwt.RegisteredClaims
}

// JWTMiddleware resolves a bearer login token into a ticketing.Actor.
// Requests without a token pass through anonymously; a bad token is a 401.
func JWTMiddleware(secret []byte) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}
			raw, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: "malformed authorization header"})
				return
			}
			actor, err := parseUserToken(secret, raw)
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid token"})
				return
			}
			ctx := context.WithValue(r.Context(), actorKey, actor)
			ctx = context.WithValue(ctx, loggerKey, loggerFrom(ctx).WithField("user_id", actor.ID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func parseUserToken(secret []byte, raw string) (ticketing.Actor, error) {
	var claims userClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return ticketing.Actor{}, err
	}
	// scanner tokens may share the secret but never authenticate a user
	if claims.Purpose != "" {
		return ticketing.Actor{}, errors.New("not a login token")
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return ticketing.Actor{}, errors.New("bad subject")
	}
	return ticketing.Actor{ID: id, Name: claims.Name, Email: claims.Email}, nil
}

func RequireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := actorFrom(r.Context()); !ok {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "authentication required"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ScannerMiddleware requires a scanner token in the token query parameter.
func ScannerMiddleware(tokens *scannertoken.Issuer) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sc, err := tokens.Verify(r.URL.Query().Get("token"))
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, scanResponse{Valid: false, Reason: scannerTokenReason(err)})
				return
			}
			ctx := context.WithValue(r.Context(), scannerKey, sc)
			ctx = context.WithValue(ctx, loggerKey, loggerFrom(ctx).WithField("scanner", sc.ID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func scannerTokenReason(err error) string {
	switch {
	case errors.Is(err, scannertoken.ErrMissingToken):
		return "Scanner token is required"
	case errors.Is(err, scannertoken.ErrTokenExpired):
		return "Scanner token has expired"
	case errors.Is(err, scannertoken.ErrInvalidPurpose):
		return "Token is not a scanner token"
	}
	return "Invalid scanner token"
}

type limiter interface {
	Allow(ctx context.Context, key string, rate int, period time.Duration) bool
}

// RateLimitMiddleware limits per authenticated user, or per client IP for
// anonymous callers.
func RateLimitMiddleware(rl limiter, perMinute int) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if rl == nil || perMinute <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := "ip:" + clientIP(r)
			if a, ok := actorFrom(r.Context()); ok {
				key = "user:" + strconv.FormatInt(a.ID, 10)
			}
			if !rl.Allow(r.Context(), key, perMinute, time.Minute) {
				w.Header().Set("Retry-After", "60")
				writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate limit exceeded"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type replayStore interface {
	Get(ctx context.Context, key string) (*idempotency.Response, error)
	Begin(ctx context.Context, key string) error
	Finish(ctx context.Context, key string, resp idempotency.Response) error
	Release(ctx context.Context, key string) error
}

// IdempotencyMiddleware replays the stored response for a repeated
// Idempotency-Key. Requests without the header are served normally. A
// cache outage degrades to plain, non-idempotent handling.
func IdempotencyMiddleware(idemp replayStore) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if idemp == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("Idempotency-Key")
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) < 16 || len(key) > 128 {
				badRequest(w, "invalid Idempotency-Key")
				return
			}
			scoped := r.Method + " " + r.URL.Path + " " + key
			log := loggerFrom(r.Context()).WithField("idempotency_key", key)

			stored, err := idemp.Get(r.Context(), scoped)
			if err != nil {
				log.WithError(err).Warn("idempotency lookup failed")
				next.ServeHTTP(w, r)
				return
			}
			if stored != nil {
				replay(w, stored)
				return
			}

			switch err := idemp.Begin(r.Context(), scoped); {
			case errors.Is(err, idempotency.ErrInFlight):
				writeJSON(w, http.StatusConflict, errorBody{Error: "a request with this Idempotency-Key is in progress"})
				return
			case err != nil:
				log.WithError(err).Warn("idempotency claim failed")
				next.ServeHTTP(w, r)
				return
			}

			// The first request may have finished between Get and Begin.
			stored, err = idemp.Get(r.Context(), scoped)
			if err == nil && stored != nil {
				if err := idemp.Release(context.WithoutCancel(r.Context()), scoped); err != nil {
					log.WithError(err).Warn("idempotency claim not released")
				}
				replay(w, stored)
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
			resp := idempotency.Response{Status: status, ContentType: ww.Header().Get("Content-Type"), Result: body.Bytes()}
			if err := idemp.Finish(context.WithoutCancel(r.Context()), scoped, resp); err != nil {
				log.WithError(err).Warn("idempotency record not saved")
			}
		})
	}
}

func replay(w http.ResponseWriter, stored *idempotency.Response) {
	if stored.ContentType != "" {
		w.Header().Set("Content-Type", stored.ContentType)
	}
	w.Header().Set("Idempotent-Replayed", "true")
	w.WriteHeader(stored.Status)
	w.Write(stored.Result)
}
