package handlers

import (
	"strconv"
	"time"

	"github.com/coderelay/core/internal/services"
	"github.com/gin-gonic/gin"
)

// CodeHandler handles code fetch and relay requests
type CodeHandler struct {
	codes    *services.CodeService
	delivery *services.DeliveryService
}

// NewCodeHandler creates a new CodeHandler instance
func NewCodeHandler(codes *services.CodeService, delivery *services.DeliveryService) *CodeHandler {
	return &CodeHandler{
		codes:    codes,
		delivery: delivery,
	}
}

// SendRequest is the body of POST /api/send
type SendRequest struct {
	Code string `json:"code" binding:"required"`
}

// parseLookback reads days, hours and minutes query parameters and sums them
func parseLookback(c *gin.Context, fallback time.Duration) (time.Duration, error) {
	units := []struct {
		param string
		unit  time.Duration
	}{
		{"days", 24 * time.Hour},
		{"hours", time.Hour},
		{"minutes", time.Minute},
	}

	var total time.Duration
	seen := false
	for _, u := range units {
		raw := c.Query(u.param)
		if raw == "" {
			continue
		}
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil || n < 0 {
			return 0, &lookbackError{param: u.param, value: raw}
		}
		total += time.Duration(n * float64(u.unit))
		seen = true
	}
	if !seen || total <= 0 {
		return fallback, nil
	}
	return total, nil
}

type lookbackError struct {
	param, value string
}

func (e *lookbackError) Error() string {
	return "invalid " + e.param + " value " + strconv.Quote(e.value)
}

// FetchLatestCode returns the newest verification code
// GET /api/fetch-latest-code?days=|hours=|minutes=
func (h *CodeHandler) FetchLatestCode(c *gin.Context) {
	lookback, err := parseLookback(c, h.codes.DefaultLookback())
	if err != nil {
		respondValidation(c, "Invalid lookback window", err.Error())
		return
	}

	result, err := h.codes.FetchLatestCode(c.Request.Context(), lookback)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, result)
}

// Send relays a caller-supplied code to the configured recipients
// POST /api/send
func (h *CodeHandler) Send(c *gin.Context) {
	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, "Invalid request body", err.Error())
		return
	}

	reports, err := h.delivery.SendCode(c.Request.Context(), req.Code)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"deliveries": reports})
}

// FetchAndSend fetches the newest code and relays it
// POST /api/fetch-and-send
func (h *CodeHandler) FetchAndSend(c *gin.Context) {
	lookback, err := parseLookback(c, h.codes.DefaultLookback())
	if err != nil {
		respondValidation(c, "Invalid lookback window", err.Error())
		return
	}

	// checked first so a disconnected channel does not cost a mailbox round trip
	if !h.delivery.Ready() {
		respondError(c, services.ErrChannelNotReady)
		return
	}

	result, err := h.codes.FetchLatestCode(c.Request.Context(), lookback)
	if err != nil {
		respondError(c, err)
		return
	}

	reports, err := h.delivery.SendCode(c.Request.Context(), result.Code)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{
		"code":       result,
		"deliveries": reports,
	})
}

// ListCodes returns recent resolution attempts
// GET /api/codes?limit=
func (h *CodeHandler) ListCodes(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if limit <= 0 || limit > 200 {
		limit = 20
	}
	results, err := h.codes.RecentResults(limit)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, results)
}
