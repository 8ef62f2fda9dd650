package limiter

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/michaelbrown/assessor/internal/metrics"
	"golang.org/x/time/rate"
)

// RateLimiter applies a global rate, a per-client rate and a cap on
// concurrent gradings.
type RateLimiter struct {
	global        *rate.Limiter
	clients       sync.Map // ip -> *clientLimiter
	clientRate    rate.Limit
	clientBurst   int
	maxConcurrent int64

	mu      sync.Mutex
	current int64
}

type clientLimiter struct {
	limiter  *rate.Limiter
	mu       sync.Mutex
	lastSeen time.Time
}

func NewRateLimiter(globalRPS, clientRPS float64, clientBurst, maxConcurrent int) *RateLimiter {
	burst := int(globalRPS) * 2
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		global:        rate.NewLimiter(rate.Limit(globalRPS), burst),
		clientRate:    rate.Limit(clientRPS),
		clientBurst:   clientBurst,
		maxConcurrent: int64(maxConcurrent),
	}
}

func (rl *RateLimiter) client(ip string) *clientLimiter {
	if c, ok := rl.clients.Load(ip); ok {
		return c.(*clientLimiter)
	}
	c, _ := rl.clients.LoadOrStore(ip, &clientLimiter{limiter: rate.NewLimiter(rl.clientRate, rl.clientBurst)})
	return c.(*clientLimiter)
}

// Allow reports whether a request from ip may proceed. Every successful
// call must be paired with Done.
func (rl *RateLimiter) Allow(ip string) bool {
	if !rl.global.Allow() {
		metrics.RateLimitHits.Inc()
		return false
	}

	c := rl.client(ip)
	c.mu.Lock()
	c.lastSeen = time.Now()
	c.mu.Unlock()
	if !c.limiter.Allow() {
		metrics.RateLimitHits.Inc()
		return false
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if rl.maxConcurrent > 0 && rl.current >= rl.maxConcurrent {
		metrics.RateLimitHits.Inc()
		return false
	}
	rl.current++
	return true
}

func (rl *RateLimiter) Done() {
	rl.mu.Lock()
	if rl.current > 0 {
		rl.current--
	}
	rl.mu.Unlock()
}

// Middleware rejects requests over the limits with 429.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(clientIP(r)) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"success":false,"error":"Too many requests"}`))
			return
		}
		defer rl.Done()
		next.ServeHTTP(w, r)
	})
}

// StartCleanup drops client limiters idle for longer than idle, every
// interval, until ctx is done.
func (rl *RateLimiter) StartCleanup(ctx context.Context, interval, idle time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				rl.sweep(now, idle)
			}
		}
	}()
}

func (rl *RateLimiter) sweep(now time.Time, idle time.Duration) {
	rl.clients.Range(func(key, value any) bool {
		c := value.(*clientLimiter)
		c.mu.Lock()
		stale := now.Sub(c.lastSeen) > idle
		c.mu.Unlock()
		if stale {
			rl.clients.Delete(key)
		}
		return true
	})
}

// clientIP keys limits on the connection's address. Forwarding headers are
// ignored here; behind a trusted proxy the server rewrites RemoteAddr with
// chi's middleware.RealIP before this runs.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
