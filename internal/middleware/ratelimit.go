package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appErrors "github.com/charlesng35/sftpgate/pkg/errors"
	"github.com/charlesng35/sftpgate/pkg/logger"
	"github.com/charlesng35/sftpgate/pkg/response"
)

// RateLimit limits requests per (clientIP, route) within a fixed window using store.
// A nil store falls back to a process-local counter. Store failures let the request through.
func RateLimit(store RateStore, maxRequests int, window time.Duration) gin.HandlerFunc {
	if maxRequests <= 0 || window <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if store == nil {
		store = NewMemoryRateStore()
	}
	log := logger.WithModule("ratelimit")

	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		key := "rate|" + c.ClientIP() + "|" + route

		count, resetIn, err := store.Increment(c.Request.Context(), key, window)
		if err != nil {
			log.Warn("rate limit store unavailable", zap.String("key", key), zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(maxRequests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(max(0, maxRequests-count)))
		c.Header("X-RateLimit-Reset", strconv.Itoa(int(resetIn.Round(time.Second).Seconds())))

		if count > maxRequests {
			response.Error(c, appErrors.ErrRateLimit)
			c.Abort()
			return
		}

		c.Next()
	}
}
