package httpserver

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/PratikDhanave/event-ingestion-service/internal/apperr"
	"github.com/PratikDhanave/event-ingestion-service/internal/ratelimit"
)

// KeyFunc selects the rate-limit bucket for a request.
type KeyFunc func(c *gin.Context) string

// ClientIPKey buckets by client address, honouring trusted proxies.
func ClientIPKey(c *gin.Context) string {
	return c.ClientIP()
}

// exemptPaths are never rate limited so probes and scrapes keep working
// while clients are being throttled.
var exemptPaths = map[string]bool{
	"/health":  true,
	"/ready":   true,
	"/metrics": true,
}

// RateLimit consumes one token per request. A nil limiter disables the stage.
func RateLimit(limiter ratelimit.Consumer, key KeyFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil || exemptPaths[c.Request.URL.Path] {
			c.Next()
			return
		}

		dec := limiter.Consume(key(c))
		if !dec.Allowed {
			c.Header("Retry-After", strconv.FormatInt(ratelimit.RetryAfterSeconds(dec.RetryAfterMs), 10))
			_ = c.Error(apperr.New(apperr.CodeRateLimited, "").
				WithMetadata("retry_after_ms", dec.RetryAfterMs))
			c.Abort()
			return
		}
		c.Next()
	}
}
