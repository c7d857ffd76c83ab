// Package ratelimit applies a per-client-IP token bucket to incoming
// requests.
package ratelimit

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

const idleTTL = 5 * time.Minute

type visitor struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

type Limiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor

	rps   float64
	burst int
	now   func() time.Time

	rejected atomic.Int64
	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewLimiter(rps float64, burst int) *Limiter {
	l := &Limiter{
		visitors: make(map[string]*visitor),
		rps:      rps,
		burst:    burst,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
	go l.cleanup()
	return l
}

// Reserve takes a token for clientIP. It returns zero when the request may
// proceed, or how long the client should wait before retrying.
func (l *Limiter) Reserve(clientIP string) time.Duration {
	l.mu.Lock()
	now := l.now()
	v, ok := l.visitors[clientIP]
	if !ok {
		v = &visitor{lim: rate.NewLimiter(rate.Limit(l.rps), l.burst)}
		l.visitors[clientIP] = v
	}
	v.lastSeen = now
	l.mu.Unlock()

	r := v.lim.ReserveN(now, 1)
	if !r.OK() {
		l.rejected.Add(1)
		return time.Second
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		l.rejected.Add(1)
		return d
	}
	return 0
}

func (l *Limiter) Allow(clientIP string) bool {
	return l.Reserve(clientIP) == 0
}

// Middleware rejects over-limit requests with 429 and a Retry-After header
// in whole seconds.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if wait := l.Reserve(clientIP(r)); wait > 0 {
			secs := int(math.Ceil(wait.Seconds()))
			w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *Limiter) Status() map[string]interface{} {
	l.mu.Lock()
	active := len(l.visitors)
	l.mu.Unlock()

	return map[string]interface{}{
		"active_ip_limiters": active,
		"total_rejected":     l.rejected.Load(),
		"ip_rps":             l.rps,
		"ip_burst":           l.burst,
	}
}

func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

func (l *Limiter) cleanup() {
	ticker := time.NewTicker(idleTTL)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.evictIdle()
		}
	}
}

func (l *Limiter) evictIdle() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for ip, v := range l.visitors {
		if now.Sub(v.lastSeen) > idleTTL {
			delete(l.visitors, ip)
		}
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
