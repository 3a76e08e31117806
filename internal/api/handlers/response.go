package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/coderelay/core/internal/channel"
	"github.com/coderelay/core/internal/services"
	"github.com/gin-gonic/gin"
)

func respondOK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}

func respondValidation(c *gin.Context, message string, details string) {
	body := gin.H{
		"code":    "VALIDATION_ERROR",
		"message": message,
	}
	if details != "" {
		body["details"] = details
	}
	c.JSON(http.StatusBadRequest, gin.H{
		"success": false,
		"error":   body,
	})
}

// respondError maps service errors onto HTTP status codes and error codes
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "INTERNAL_ERROR"
	message := "Internal server error"

	switch {
	case errors.Is(err, services.ErrNoMatchingMessage):
		status, code, message = http.StatusNotFound, "NOT_FOUND", "No matching verification email found"
	case errors.Is(err, services.ErrNoCodeFound):
		status, code, message = http.StatusNotFound, "NO_CODE_FOUND", "No verification code found in the latest email"
	case errors.Is(err, services.ErrChannelNotReady), errors.Is(err, channel.ErrNotConnected):
		status, code, message = http.StatusServiceUnavailable, "CHANNEL_NOT_READY", "Messaging channel is not connected"
	case errors.Is(err, services.ErrInvalidCodeFormat):
		status, code, message = http.StatusBadRequest, "VALIDATION_ERROR", "Code must be 4 to 8 digits"
	case errors.Is(err, services.ErrNoRecipients):
		status, code, message = http.StatusBadRequest, "VALIDATION_ERROR", "No recipients configured"
	default:
		log.Printf("[API] %s %s failed: %v", c.Request.Method, c.Request.URL.Path, err)
	}

	c.JSON(status, gin.H{
		"success": false,
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
}
