package handlers

import (
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthHandler reports process liveness
type HealthHandler struct {
	started time.Time
}

// NewHealthHandler creates a new HealthHandler instance
func NewHealthHandler(started time.Time) *HealthHandler {
	return &HealthHandler{started: started}
}

// Health returns status, uptime and memory usage
// GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	c.JSON(200, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(h.started).Round(time.Second).Seconds(),
		"memory": gin.H{
			"alloc_bytes": mem.Alloc,
			"sys_bytes":   mem.Sys,
			"goroutines":  runtime.NumGoroutine(),
		},
	})
}
