package middleware

import (
	"meetsfu/pkg/config"
	"meetsfu/pkg/errors"
	"meetsfu/pkg/ratelimit"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// NewHTTPRateLimitMiddleware limits requests per client IP and, optionally,
// the number of requests in flight. ips decides which address a request is
// charged to.
func NewHTTPRateLimitMiddleware(cfg *config.Config, ips *ratelimit.IPResolver) gin.HandlerFunc {
	limits := cfg.RateLimiting
	if !limits.Enabled {
		return func(c *gin.Context) { c.Next() }
	}

	store := ratelimit.NewStore(rate.Limit(limits.HTTP.RequestsPerSecond), limits.HTTP.Burst, limits.IdleTimeout)

	var inflight chan struct{}
	if limits.HTTP.MaxConcurrent > 0 {
		inflight = make(chan struct{}, limits.HTTP.MaxConcurrent)
	}

	return func(c *gin.Context) {
		if inflight != nil {
			select {
			case inflight <- struct{}{}:
				defer func() { <-inflight }()
			default:
				c.Error(errors.NewServiceUnavailableError("too many concurrent requests"))
				c.Abort()
				return
			}
		}

		ip := ips.ClientIP(c.Request)
		if !store.Allow(ip) {
			c.Header("Retry-After", "1")
			c.Error(errors.NewRateLimitError().WithContext("ip", ip))
			c.Abort()
			return
		}
		c.Next()
	}
}
