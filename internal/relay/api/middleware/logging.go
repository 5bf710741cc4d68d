// Package middleware holds gin middleware shared by relay routes.
package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nthnn/oniontalk/pkg/logger"
)

// LoggingMiddleware logs one line per request. Query strings are left out
// because they carry admission tickets.
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		line := "[%s] %s - %d (%v)"
		switch {
		case status >= 500:
			logger.Errorf(line, c.Request.Method, c.Request.URL.Path, status, time.Since(start))
		case status >= 400:
			logger.Warnf(line, c.Request.Method, c.Request.URL.Path, status, time.Since(start))
		default:
			logger.Infof(line, c.Request.Method, c.Request.URL.Path, status, time.Since(start))
		}
	}
}
