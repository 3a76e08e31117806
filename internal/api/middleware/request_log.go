package middleware

import (
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestIDHeader carries the per-request id
const RequestIDHeader = "X-Request-ID"

// RequestRecorder persists one entry per API request
type RequestRecorder interface {
	LogAPIRequest(method, path string, statusCode int, durationMs int64, clientIP, userAgent string) error
}

// RequestLogger tags each request with an id and records it once the handler returns
func RequestLogger(recorder RequestRecorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Header(RequestIDHeader, requestID)

		start := time.Now()
		c.Next()

		if recorder == nil {
			return
		}
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		if err := recorder.LogAPIRequest(c.Request.Method, path, c.Writer.Status(),
			time.Since(start).Milliseconds(), c.ClientIP(), c.Request.UserAgent()); err != nil {
			log.Printf("[API] Failed to persist request log: %v", err)
		}
	}
}
