package handlers

import (
	"github.com/coderelay/core/internal/config"
	"github.com/gin-gonic/gin"
)

// SettingsHandler exposes the effective configuration with secrets removed
type SettingsHandler struct {
	cfg *config.Config
}

// NewSettingsHandler creates a new SettingsHandler instance
func NewSettingsHandler(cfg *config.Config) *SettingsHandler {
	return &SettingsHandler{cfg: cfg}
}

// SettingsResponse is the redacted view of the configuration
type SettingsResponse struct {
	Mailbox struct {
		Provider    string   `json:"provider"`
		Host        string   `json:"host"`
		Port        int      `json:"port"`
		Username    string   `json:"username"`
		UseSSL      bool     `json:"use_ssl"`
		Sender      string   `json:"sender"`
		Subjects    []string `json:"subjects"`
		OAuth       bool     `json:"oauth"`
		HasPassword bool     `json:"has_password"`
	} `json:"mailbox"`
	SubjectRules []config.SubjectRuleConfig `json:"subject_rules"`
	LinkMarkers  []string                   `json:"link_markers"`
	Lookback     string                     `json:"lookback"`
	Page         struct {
		AccountEmail   string `json:"account_email"`
		HasCredentials bool   `json:"has_credentials"`
		LoginURL       string `json:"login_url"`
		LandingURL     string `json:"landing_url"`
		CodeSelector   string `json:"code_selector"`
	} `json:"page"`
	Channel struct {
		Recipients      []string `json:"recipients"`
		MessageTemplate string   `json:"message_template"`
	} `json:"channel"`
	PollInterval string `json:"poll_interval"`
	Dedup        string `json:"dedup"`
}

// toSettingsResponse converts the configuration, leaving out passwords and tokens
func toSettingsResponse(cfg *config.Config) SettingsResponse {
	var resp SettingsResponse
	resp.Mailbox.Provider = cfg.Mailbox.Provider
	resp.Mailbox.Host = cfg.Mailbox.Host
	resp.Mailbox.Port = cfg.Mailbox.Port
	resp.Mailbox.Username = cfg.Mailbox.Username
	resp.Mailbox.UseSSL = cfg.Mailbox.UseSSL
	resp.Mailbox.Sender = cfg.Mailbox.Sender
	resp.Mailbox.Subjects = cfg.Mailbox.Subjects
	resp.Mailbox.OAuth = cfg.Mailbox.OAuthRefreshToken != ""
	resp.Mailbox.HasPassword = cfg.Mailbox.Password != ""

	resp.SubjectRules = cfg.Resolver.SubjectRules
	resp.LinkMarkers = cfg.Resolver.LinkMarkers
	resp.Lookback = cfg.Lookback.Std().String()

	resp.Page.AccountEmail = cfg.Page.AccountEmail
	resp.Page.HasCredentials = cfg.HasPageCredentials()
	resp.Page.LoginURL = cfg.Page.LoginURL
	resp.Page.LandingURL = cfg.Page.LandingURL
	resp.Page.CodeSelector = cfg.Page.CodeSelector

	resp.Channel.Recipients = cfg.Channel.Recipients
	resp.Channel.MessageTemplate = cfg.Channel.MessageTemplate

	resp.PollInterval = cfg.Poll.Interval.Std().String()
	resp.Dedup = "memory"
	if cfg.RedisURL != "" {
		resp.Dedup = "redis"
	}
	return resp
}

// GetSettings returns the effective configuration
// GET /api/settings
func (h *SettingsHandler) GetSettings(c *gin.Context) {
	respondOK(c, toSettingsResponse(h.cfg))
}
