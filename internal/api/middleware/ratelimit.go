package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	cfgpkg "github.com/taoyao-code/avl-server/internal/config"
)

// RateLimit 按客户端 IP 的令牌桶限流；RatePerSec<=0 不限流
func RateLimit(cfg cfgpkg.RateLimitConfig) gin.HandlerFunc {
	if cfg.RatePerSec <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	limiters := newIPLimiters(rate.Limit(cfg.RatePerSec), burst)
	return func(c *gin.Context) {
		if !limiters.get(c.ClientIP()).Allow() {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "too_many_requests",
			})
			return
		}
		c.Next()
	}
}

// ipLimiters 每个 IP 一个令牌桶，闲置超过 idleTTL 的桶在下次清理时移除
type ipLimiters struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	entries   map[string]*ipEntry
	lastSweep time.Time
}

type ipEntry struct {
	l    *rate.Limiter
	seen time.Time
}

const idleTTL = 10 * time.Minute

func newIPLimiters(limit rate.Limit, burst int) *ipLimiters {
	return &ipLimiters{limit: limit, burst: burst, entries: make(map[string]*ipEntry), lastSweep: time.Now()}
}

func (p *ipLimiters) get(ip string) *rate.Limiter {
	now := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	if now.Sub(p.lastSweep) > idleTTL {
		for k, e := range p.entries {
			if now.Sub(e.seen) > idleTTL {
				delete(p.entries, k)
			}
		}
		p.lastSweep = now
	}
	e, ok := p.entries[ip]
	if !ok {
		e = &ipEntry{l: rate.NewLimiter(p.limit, p.burst)}
		p.entries[ip] = e
	}
	e.seen = now
	return e.l
}
