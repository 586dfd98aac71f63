package httpmiddleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/forkful/gateway/internal/domain/auth"
	"github.com/forkful/gateway/internal/respond"
	"github.com/forkful/gateway/pkg/slidingwindow"
)

// RateLimitConfig configures the sliding window rate limiter.
type RateLimitConfig struct {
	// Max is the maximum number of requests allowed per window.
	Max int
	// Window is the duration of the trailing window.
	Window time.Duration
	// KeyFunc extracts the rate limit key from a request.
	// If nil, the client IP address is used.
	KeyFunc func(*http.Request) string
}

// RateLimit returns a middleware enforcing a per-key sliding window limit.
// When the limit is exceeded it responds with 429 Too Many Requests and the
// standard error envelope; the rejected request is never counted against the
// window. Every response carries X-RateLimit-Limit, X-RateLimit-Remaining,
// and X-RateLimit-Reset headers.
func RateLimit(cfg RateLimitConfig) Middleware {
	return rateLimitMiddleware(slidingwindow.New(cfg.Max, cfg.Window), cfg.KeyFunc)
}

// RateLimitWith is like RateLimit but shares an externally constructed
// limiter, letting several route groups draw from the same window while the
// caller owns the limiter's cleanup lifecycle.
func RateLimitWith(l *slidingwindow.Limiter, keyFunc func(*http.Request) string) Middleware {
	return rateLimitMiddleware(l, keyFunc)
}

func rateLimitMiddleware(l *slidingwindow.Limiter, keyFunc func(*http.Request) string) Middleware {
	if keyFunc == nil {
		keyFunc = ClientIP
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			remaining, resetAt, allowed := l.Allow(keyFunc(r))

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.Max()))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

			if !allowed {
				retryAfter := time.Until(resetAt)
				if retryAfter < 0 {
					retryAfter = 0
				}
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
				respond.AuthError(w, r, auth.RateLimited("Too many requests, please try again later"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP extracts the client IP from the request, checking X-Forwarded-For
// first, then X-Real-IP, then falling back to RemoteAddr.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// X-Forwarded-For may contain a comma-separated list; use the first.
		if i := strings.IndexByte(xff, ','); i > 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
