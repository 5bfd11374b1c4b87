package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mr9733n/blog-site/internal/pkg/redis"
)

const rateLimitWindow = time.Minute

// RateLimit enforces a per-IP sliding window limit on API traffic. It
// runs before authentication, so every caller counts against its IP.
// Redis being unreachable lets requests through; losing rate limiting
// is better than losing the site.
func RateLimit(rdb *redis.Client, maxPerWindow int) gin.HandlerFunc {
	return func(c *gin.Context) {
		if rdb == nil || maxPerWindow <= 0 {
			c.Next()
			return
		}

		ip := ClientIP(c)
		if ip == "" {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		windowKey := time.Now().Unix() / int64(rateLimitWindow.Seconds())
		key := fmt.Sprintf("blog:rate_limit:%s:%d", ip, windowKey)

		count, err := rdb.Incr(ctx, key)
		if err != nil {
			c.Next()
			return
		}
		if count == 1 {
			_ = rdb.Expire(ctx, key, rateLimitWindow+time.Second)
		}

		if count > int64(maxPerWindow) {
			c.Header("Retry-After", "60")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"ok":      0,
				"code":    http.StatusTooManyRequests,
				"message": "Too many requests, slow down",
			})
			return
		}

		c.Next()
	}
}

// ClientIP resolves the request origin. The first X-Forwarded-For entry
// wins when the app sits behind a proxy.
func ClientIP(c *gin.Context) string {
	if fwd := c.GetHeader("X-Forwarded-For"); fwd != "" {
		if i := strings.Index(fwd, ","); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	return c.ClientIP()
}
