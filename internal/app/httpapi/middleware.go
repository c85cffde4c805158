package httpapi

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/plantree-xyz/plantree-server/internal/app/metrics"
	"github.com/plantree-xyz/plantree-server/internal/app/services/session"
	"github.com/plantree-xyz/plantree-server/pkg/logger"
)

type contextKey string

const claimsContextKey contextKey = "session-claims"

// authCookieName is the cookie checked when no Authorization header is sent.
const authCookieName = "auth_token"

// ClaimsFromContext returns the session claims attached by the auth
// middleware, or nil for unauthenticated requests.
func ClaimsFromContext(ctx context.Context) *session.Claims {
	claims, _ := ctx.Value(claimsContextKey).(*session.Claims)
	return claims
}

func corsMiddleware(allowedOrigins []string) mux.MiddlewareFunc {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		origin = strings.TrimSpace(origin)
		if origin != "" {
			allowed[origin] = struct{}{}
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" {
				if _, ok := allowed[origin]; ok {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Vary", "Origin")
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
					w.Header().Set("Access-Control-Allow-Credentials", "true")
				} else {
					if r.Method == http.MethodOptions {
						w.WriteHeader(http.StatusForbidden)
						return
					}
					http.Error(w, "CORS origin not allowed", http.StatusForbidden)
					return
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// authMiddleware validates the bearer token (or auth cookie) and attaches
// the session claims to the request context.
func authMiddleware(sessions *session.Service) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var token string
			authHeader := r.Header.Get("Authorization")
			if strings.HasPrefix(authHeader, "Bearer ") {
				token = authHeader[len("Bearer "):]
			} else if cookie, err := r.Cookie(authCookieName); err == nil && cookie.Value != "" {
				token = cookie.Value
			}

			if token == "" {
				jsonError(w, "missing authorization", http.StatusUnauthorized)
				return
			}

			claims, err := sessions.Parse(token)
			if err != nil {
				jsonError(w, "invalid token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// rateLimitMiddleware enforces a per-client token bucket keyed by remote
// address. Stale limiters are dropped once the map grows past a threshold.
func rateLimitMiddleware(rps float64, burst int) mux.MiddlewareFunc {
	var (
		mu       sync.Mutex
		limiters = make(map[string]*rate.Limiter)
	)

	limiterFor := func(key string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		if len(limiters) > 10000 {
			limiters = make(map[string]*rate.Limiter)
		}
		l, ok := limiters[key]
		if !ok {
			l = rate.NewLimiter(rate.Limit(rps), burst)
			limiters[key] = l
		}
		return l
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.RemoteAddr
			if i := strings.LastIndex(key, ":"); i > 0 {
				key = key[:i]
			}
			if !limiterFor(key).Allow() {
				jsonError(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// statusRecorder captures the response status for instrumentation.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		done := metrics.RequestStarted()
		defer done()

		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(recorder, r)

		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if template, err := route.GetPathTemplate(); err == nil {
				path = template
			}
		}
		metrics.ObserveRequest(r.Method, path, recorder.status, time.Since(start))
	})
}

func recoveryMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.WithField("panic", rec).WithField("path", r.URL.Path).Error("handler panicked")
					jsonError(w, "internal error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
