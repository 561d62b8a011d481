package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lupohub/lupohub/internal/apierror"
	"golang.org/x/time/rate"
)

// IPLimiter keeps one token bucket per client IP.
type IPLimiter struct {
	mu      sync.Mutex
	clients map[string]*client
	limit   rate.Limit
	burst   int
	ttl     time.Duration
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewIPLimiter allows `burst` requests at once, refilled at `every`.
func NewIPLimiter(every time.Duration, burst int) *IPLimiter {
	return &IPLimiter{
		clients: make(map[string]*client),
		limit:   rate.Every(every),
		burst:   burst,
		ttl:     10 * time.Minute,
	}
}

// Allow consumes a token for ip.
func (l *IPLimiter) Allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	c, ok := l.clients[ip]
	if !ok {
		c = &client{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[ip] = c
	}
	c.lastSeen = now

	// Opportunistic purge of idle clients.
	if len(l.clients) > 1024 {
		for k, v := range l.clients {
			if now.Sub(v.lastSeen) > l.ttl {
				delete(l.clients, k)
			}
		}
	}
	return c.limiter.AllowN(now, 1)
}

// Middleware answers 429 once the bucket is empty.
func (l *IPLimiter) Middleware(msg string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, apierror.New(msg))
			return
		}
		c.Next()
	}
}

// LoginRateLimiter allows 20 login attempts per minute per IP.
func LoginRateLimiter() gin.HandlerFunc {
	return NewIPLimiter(3*time.Second, 20).Middleware("Demasiados intentos de login. Intente en 1 minuto.")
}
