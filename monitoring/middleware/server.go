package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"strconv"
	"tuiter/monitoring"
)

// ServerMiddleware records request counts, durations and in-flight requests
// labelled by route template.
func ServerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		if path == "/metrics" {
			// Skip collecting metrics from metrics endpoint itself
			c.Next()
			return
		}

		monitoring.ActiveConnections.Inc()
		timer := prometheus.NewTimer(monitoring.HttpRequestDuration.WithLabelValues(path))

		c.Next()

		timer.ObserveDuration()
		monitoring.ActiveConnections.Dec()
		monitoring.HttpRequestsTotal.WithLabelValues(path, strconv.Itoa(c.Writer.Status())).Inc()
	}
}
