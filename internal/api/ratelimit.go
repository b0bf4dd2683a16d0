package api

import (
    "fmt"
    "math"
    "net/http"
    "sync"

    "golang.org/x/time/rate"
)

// RateLimiter keeps one token bucket per tenant. A nil limiter or a zero rate
// lets every request through.
type RateLimiter struct {
    mu      sync.Mutex
    rps     rate.Limit
    burst   int
    tenants map[string]*rate.Limiter
}

func NewRateLimiter(rps float64, burst int) *RateLimiter {
    if rps <= 0 { return nil }
    if burst <= 0 { burst = int(math.Ceil(rps)) }
    return &RateLimiter{rps: rate.Limit(rps), burst: burst, tenants: map[string]*rate.Limiter{}}
}

func (l *RateLimiter) Allow(tenant string) bool {
    if l == nil { return true }
    l.mu.Lock()
    lim := l.tenants[tenant]
    if lim == nil {
        lim = rate.NewLimiter(l.rps, l.burst)
        l.tenants[tenant] = lim
    }
    l.mu.Unlock()
    return lim.Allow()
}

// Limited wraps a handler so that mutating requests spend a token.
func (s *Server) Limited(next http.HandlerFunc) http.HandlerFunc {
    return func(w http.ResponseWriter, r *http.Request) {
        if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
            next(w, r)
            return
        }
        _, tenant := s.withTenant(r)
        if !s.Limiter.Allow(tenant) {
            w.Header().Set("Retry-After", "1")
            writeProblem(w, http.StatusTooManyRequests, "Too Many Requests", fmt.Sprintf("rate limit of %g requests/s exceeded", float64(s.Limiter.rps)), r.URL.Path)
            return
        }
        next(w, r)
    }
}
