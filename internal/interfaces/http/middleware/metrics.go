package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
)

// HTTPMetrics receives one observation per request.
type HTTPMetrics interface {
	RecordHTTPRequest(method, path string, statusCode int, d time.Duration)
	InFlight(method string) func()
}

// Metrics records request count and latency by route. A nil recorder
// disables it.
func Metrics(m HTTPMetrics) gin.HandlerFunc {
	if m == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		start := time.Now()
		done := m.InFlight(c.Request.Method)
		defer done()
		c.Next()
		m.RecordHTTPRequest(c.Request.Method, routeOf(c), c.Writer.Status(), time.Since(start))
	}
}
