// README: Access logging and request metrics.
package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"dispatchd/internal/logger"
	"dispatchd/internal/metrics"
)

func Logging(log logger.Logger, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		m.Request(c.Request.Method, route, status)
		log.Infof("%s %s %d %s uid=%s", c.Request.Method, route, status, time.Since(start), CallerUID(c))
	}
}
