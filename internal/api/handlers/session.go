package handlers

import (
	"github.com/coderelay/core/internal/functions/web"
	"github.com/gin-gonic/gin"
)

// SessionHandler manages the stored verification page session
type SessionHandler struct {
	sessions *web.SessionCache
	account  string
}

// NewSessionHandler creates a new SessionHandler. sessions may be nil when no
// page account is configured.
func NewSessionHandler(sessions *web.SessionCache, account string) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		account:  account,
	}
}

// ClearSession forgets the stored session so the next resolution logs in again
// DELETE /api/session
func (h *SessionHandler) ClearSession(c *gin.Context) {
	if h.sessions == nil || h.account == "" {
		respondValidation(c, "No page account configured", "")
		return
	}
	if err := h.sessions.Forget(c.Request.Context(), h.account); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"cleared": h.account})
}
