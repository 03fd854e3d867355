package api

import (
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	clientIdleTTL = 10 * time.Minute
	maxClients    = 10000
)

// clientLimiter hands out one token bucket per client IP. Buckets idle for
// longer than the TTL are full again and get dropped; past maxClients the
// least recently seen client is dropped as well.
type clientLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	ttl       time.Duration
	max       int
	now       func() time.Time
	lastSweep time.Time
	clients   map[string]*client
}

type client struct {
	lim  *rate.Limiter
	seen time.Time
}

func newClientLimiter(perSecond float64, burst int) *clientLimiter {
	if burst < 1 {
		burst = 1
	}
	ttl := clientIdleTTL
	if perSecond > 0 {
		if refill := time.Duration(float64(burst) / perSecond * float64(time.Second)); refill > ttl {
			ttl = refill
		}
	}
	return &clientLimiter{
		limit:     rate.Limit(perSecond),
		burst:     burst,
		ttl:       ttl,
		max:       maxClients,
		now:       time.Now,
		lastSweep: time.Now(),
		clients:   make(map[string]*client),
	}
}

func (c *clientLimiter) get(ip string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if cl, ok := c.clients[ip]; ok {
		cl.seen = now
		return cl.lim
	}

	if now.Sub(c.lastSweep) >= c.ttl || len(c.clients) >= c.max {
		c.sweep(now)
	}
	if len(c.clients) >= c.max {
		c.evictOldest()
	}
	cl := &client{lim: rate.NewLimiter(c.limit, c.burst), seen: now}
	c.clients[ip] = cl
	return cl.lim
}

func (c *clientLimiter) sweep(now time.Time) {
	for ip, cl := range c.clients {
		if now.Sub(cl.seen) >= c.ttl {
			delete(c.clients, ip)
		}
	}
	c.lastSweep = now
}

func (c *clientLimiter) evictOldest() {
	var oldest string
	var seen time.Time
	for ip, cl := range c.clients {
		if oldest == "" || cl.seen.Before(seen) {
			oldest, seen = ip, cl.seen
		}
	}
	delete(c.clients, oldest)
}

// middleware rejects requests over the client's rate with 429.
func (c *clientLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !c.get(ip).Allow() {
			zap.L().Debug("api: rate limited", zap.String("client", ip), zap.String("path", r.URL.Path))
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
