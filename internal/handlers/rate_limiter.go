package handlers

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/bazaarhub/api/internal/platform/httpx"
)

// Buckets idle longer than this are dropped; a returning caller simply
// starts from a full bucket again.
const rateLimitIdleEviction = 3 * time.Minute

// RateLimitMiddleware rejects callers that exceed their per-minute budget.
// Requests carrying an Authorization header draw from the authenticated
// bucket keyed by the credential; everyone else is keyed by the guest
// session header or, failing that, the remote address.
func RateLimitMiddleware(defaultPerMinute, authenticatedPerMinute int) func(http.Handler) http.Handler {
	anonymous := newKeyedLimiter(defaultPerMinute, nil)
	authenticated := newKeyedLimiter(authenticatedPerMinute, nil)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			limiter := anonymous
			key := clientKey(req)
			if credential := strings.TrimSpace(req.Header.Get("Authorization")); credential != "" {
				limiter = authenticated
				key = "auth:" + credential
			}
			if !limiter.Allow(key) {
				httpx.WriteError(req.Context(), w, httpx.NewError("rate_limited", "request rate limit exceeded", http.StatusTooManyRequests))
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}

func clientKey(req *http.Request) string {
	if session := strings.TrimSpace(req.Header.Get(SessionHeader)); session != "" {
		return "session:" + session
	}
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil || host == "" {
		return "addr:" + req.RemoteAddr
	}
	return "addr:" + host
}

// keyedLimiter hands each caller its own token bucket. Tokens refill
// continuously at the per-minute budget with a burst of the full budget,
// so a caller that has been quiet may spend its whole allowance at once.
type keyedLimiter struct {
	limit rate.Limit
	burst int
	clock func() time.Time

	mu      sync.Mutex
	buckets map[string]*clientBucket
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newKeyedLimiter returns nil for a non-positive budget; a nil limiter
// admits everything.
func newKeyedLimiter(perMinute int, clock func() time.Time) *keyedLimiter {
	if perMinute <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &keyedLimiter{
		limit:   rate.Every(time.Minute / time.Duration(perMinute)),
		burst:   perMinute,
		clock:   clock,
		buckets: make(map[string]*clientBucket),
	}
}

func (l *keyedLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}
	now := l.clock()

	l.mu.Lock()
	bucket, ok := l.buckets[key]
	if !ok {
		l.evictIdleLocked(now)
		bucket = &clientBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = bucket
	}
	bucket.lastSeen = now
	l.mu.Unlock()

	return bucket.limiter.AllowN(now, 1)
}

func (l *keyedLimiter) evictIdleLocked(now time.Time) {
	for key, bucket := range l.buckets {
		if now.Sub(bucket.lastSeen) > rateLimitIdleEviction {
			delete(l.buckets, key)
		}
	}
}
