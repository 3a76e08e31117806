package handlers

import (
	"strconv"
	"time"

	"github.com/coderelay/core/internal/services"
	"github.com/gin-gonic/gin"
)

// LogsHandler serves the persisted event log
type LogsHandler struct {
	logService *services.LogService
}

// NewLogsHandler creates a new LogsHandler instance
func NewLogsHandler(logService *services.LogService) *LogsHandler {
	return &LogsHandler{logService: logService}
}

// ListLogs returns log entries filtered by level, module and action
// GET /api/logs?level=&module=&action=&since=&page=&limit=
func (h *LogsHandler) ListLogs(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit > 500 {
		limit = 500
	}

	query := services.LogQuery{
		Level:  c.Query("level"),
		Module: c.Query("module"),
		Action: c.Query("action"),
		Page:   page,
		Limit:  limit,
	}
	if since := c.Query("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			respondValidation(c, "since must be an RFC 3339 timestamp", err.Error())
			return
		}
		query.StartTime = &t
	}

	result, err := h.logService.QueryLogs(query)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{
		"total": result.Total,
		"logs":  result.Logs,
	})
}
