package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/jamesturk/bobsled/internal/app"
	"github.com/jamesturk/bobsled/internal/logger"
)

// requestID attaches a correlation ID to every request's context.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		ctx := logger.WithRequestID(r.Context(), id)
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// basicAuth validates credentials against the user records in storage.
func basicAuth(a *app.App) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			username, password, ok := r.BasicAuth()
			if !ok {
				w.Header().Set("WWW-Authenticate", `Basic realm="bobsled"`)
				http.Error(w, "authentication required", http.StatusUnauthorized)
				return
			}

			valid, err := a.Storage.CheckPassword(r.Context(), username, password)
			if err != nil {
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			if !valid {
				w.Header().Set("WWW-Authenticate", `Basic realm="bobsled"`)
				http.Error(w, "invalid credentials", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// rateLimit throttles requests per authenticated user. It runs after
// basicAuth, so the username has already been validated.
func rateLimit(perSecond rate.Limit, burst int) func(http.Handler) http.Handler {
	limiters := &sync.Map{} // username -> *cachedLimiter
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			username, _, _ := r.BasicAuth()
			if !userLimiter(limiters, username, perSecond, burst, 5*time.Minute).Allow() {
				w.Header().Set("Retry-After", "1")
				http.Error(w, "too many requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type cachedLimiter struct {
	limiter   *rate.Limiter
	expiresAt time.Time
}

func userLimiter(limiters *sync.Map, username string, perSecond rate.Limit, burst int, ttl time.Duration) *rate.Limiter {
	if v, ok := limiters.Load(username); ok {
		cached := v.(*cachedLimiter)
		if time.Now().Before(cached.expiresAt) {
			return cached.limiter
		}
		// expired, need to create new
	}

	limiter := rate.NewLimiter(perSecond, burst)
	limiters.Store(username, &cachedLimiter{
		limiter:   limiter,
		expiresAt: time.Now().Add(ttl),
	})
	return limiter
}
