package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/coderelay/core/internal/channel"
	"github.com/coderelay/core/internal/services"
	"github.com/gin-gonic/gin"
)

// ChannelHandler exposes the messaging channel
type ChannelHandler struct {
	gateway  *channel.Gateway
	delivery *services.DeliveryService
	timeout  time.Duration
}

// NewChannelHandler creates a new ChannelHandler instance
func NewChannelHandler(gateway *channel.Gateway, delivery *services.DeliveryService, timeout time.Duration) *ChannelHandler {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &ChannelHandler{
		gateway:  gateway,
		delivery: delivery,
		timeout:  timeout,
	}
}

// Status reports channel readiness, recipient configuration and any pending QR payload
// GET /api/status
func (h *ChannelHandler) Status(c *gin.Context) {
	status := h.gateway.Machine().Status()
	recipients := h.delivery.Recipients()
	respondOK(c, gin.H{
		"ready":                 status.Ready,
		"state":                 status.State,
		"device":                status.Device,
		"qr":                    status.QR,
		"changed_at":            status.Changed,
		"recipient_configured":  len(recipients) > 0,
		"recipient_count":       len(recipients),
		"last_disconnect_cause": status.Reason,
	})
}

// Pair starts pairing a companion device
// POST /api/channel/pair
func (h *ChannelHandler) Pair(c *gin.Context) {
	if h.gateway.Ready() {
		c.JSON(http.StatusConflict, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "ALREADY_CONNECTED",
				"message": "A device is already connected",
			},
		})
		return
	}

	payload, expiresAt, err := h.gateway.BeginPairing()
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{
		"qr":         payload,
		"expires_at": expiresAt,
	})
}

// QRCode renders the pending pairing payload as a PNG
// GET /api/channel/qr.png?size=
func (h *ChannelHandler) QRCode(c *gin.Context) {
	status := h.gateway.Machine().Status()
	if status.QR == "" {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "NOT_FOUND",
				"message": "No pairing in progress",
			},
		})
		return
	}

	size, _ := strconv.Atoi(c.DefaultQuery("size", "256"))
	if size < 64 || size > 1024 {
		size = 256
	}
	png, err := channel.QRCodePNG(status.QR, size)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}

// ListChats lists the groups and contacts reachable through the device
// GET /api/chats
func (h *ChannelHandler) ListChats(c *gin.Context) {
	if !h.gateway.Ready() {
		respondError(c, services.ErrChannelNotReady)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	chats, err := h.gateway.ListChats(ctx)
	if err != nil {
		respondError(c, err)
		return
	}

	groups := make([]channel.Chat, 0)
	contacts := make([]channel.Chat, 0)
	for _, chat := range chats {
		if chat.Group {
			groups = append(groups, chat)
		} else {
			contacts = append(contacts, chat)
		}
	}
	respondOK(c, gin.H{
		"groups":   groups,
		"contacts": contacts,
	})
}

// Connect is the companion device websocket endpoint
// GET /channel/connect?token=
func (h *ChannelHandler) Connect(c *gin.Context) {
	h.gateway.ServeWS(c.Writer, c.Request)
}
