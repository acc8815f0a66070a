package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"github.com/bitleak/bert/uuid"
)

// enableAccessLog control whether accesslog output
var enableAccessLog = atomic.NewBool(true)

// IsAccessLogEnabled return whether accesslog output
func IsAccessLogEnabled() bool {
	return enableAccessLog.Load()
}

// EnableAccessLog enable accesslog output
func EnableAccessLog() {
	enableAccessLog.Store(true)
}

// DisableAccessLog disable accesslog output
func DisableAccessLog() {
	enableAccessLog.Store(false)
}

// RequestIDMiddleware set request uuid into context
func RequestIDMiddleware(c *gin.Context) {
	reqID := uuid.GenUniqueID()
	c.Set("req_id", reqID)
	c.Header("X-Request-ID", reqID)
}

// AccessLogMiddleware generate accesslog and output
func AccessLogMiddleware(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Start timer
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		// Process request
		c.Next()

		if !IsAccessLogEnabled() {
			return
		}
		latency := time.Since(start)
		statusCode := c.Writer.Status()
		fields := logrus.Fields{
			"job":     c.Param("job"),
			"path":    path,
			"query":   query,
			"latency": latency,
			"ip":      c.ClientIP(),
			"method":  c.Request.Method,
			"code":    statusCode,
			"req_id":  c.GetString("req_id"),
		}

		if statusCode >= 500 {
			logger.WithFields(fields).Error()
		} else if statusCode >= 400 && statusCode != 404 {
			logger.WithFields(fields).Warn()
		} else {
			logger.WithFields(fields).Info()
		}
	}
}
