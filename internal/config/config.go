package config

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig indicates required configuration is missing or malformed
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds the application configuration
type Config struct {
	DatabasePath string `json:"database_path" yaml:"database_path"` // sqlite path or postgres:// DSN
	APIPort      string `json:"api_port" yaml:"api_port"`
	LogLevel     string `json:"log_level" yaml:"log_level"`
	DataDir      string `json:"data_dir" yaml:"data_dir"`
	JWTSecret    string `json:"jwt_secret" yaml:"jwt_secret"`
	CORSOrigins  string `json:"cors_origins" yaml:"cors_origins"` // comma separated, * for all
	PublicURL    string `json:"public_url" yaml:"public_url"`     // base URL the companion device dials
	RedisURL     string `json:"redis_url" yaml:"redis_url"`       // optional, enables shared dedup

	RequestTimeout Duration `json:"request_timeout" yaml:"request_timeout"`
	Lookback       Duration `json:"lookback" yaml:"lookback"`

	Mailbox  MailboxConfig  `json:"mailbox" yaml:"mailbox"`
	Resolver ResolverConfig `json:"resolver" yaml:"resolver"`
	Page     PageConfig     `json:"page" yaml:"page"`
	Channel  ChannelConfig  `json:"channel" yaml:"channel"`
	Poll     PollConfig     `json:"poll" yaml:"poll"`
}

// MailboxConfig describes where verification emails are read from
type MailboxConfig struct {
	Provider string   `json:"provider" yaml:"provider"` // imap or gmail
	Host     string   `json:"host" yaml:"host"`
	Port     int      `json:"port" yaml:"port"`
	Username string   `json:"username" yaml:"username"`
	Password string   `json:"password" yaml:"password"`
	UseSSL   bool     `json:"use_ssl" yaml:"use_ssl"`
	Sender   string   `json:"sender" yaml:"sender"`
	Subjects []string `json:"subjects" yaml:"subjects"`

	// Google XOAUTH2 for IMAP; used instead of Password when RefreshToken is set
	OAuthClientID     string `json:"oauth_client_id" yaml:"oauth_client_id"`
	OAuthClientSecret string `json:"oauth_client_secret" yaml:"oauth_client_secret"`
	OAuthRefreshToken string `json:"oauth_refresh_token" yaml:"oauth_refresh_token"`

	// Gmail API provider
	GmailCredentialsPath string `json:"gmail_credentials_path" yaml:"gmail_credentials_path"`
	GmailTokenPath       string `json:"gmail_token_path" yaml:"gmail_token_path"`
}

// SubjectRuleConfig maps a subject matcher to a resolution strategy
type SubjectRuleConfig struct {
	Match    string `json:"match" yaml:"match"`     // case-insensitive substring
	Pattern  string `json:"pattern" yaml:"pattern"` // optional regular expression
	Strategy string `json:"strategy" yaml:"strategy"`
}

// ResolverConfig configures subject dispatch and link detection
type ResolverConfig struct {
	SubjectRules []SubjectRuleConfig `json:"subject_rules" yaml:"subject_rules"`
	LinkMarkers  []string            `json:"link_markers" yaml:"link_markers"`
}

// PageConfig configures the verification page resolver
type PageConfig struct {
	AccountEmail      string   `json:"account_email" yaml:"account_email"`
	AccountPassword   string   `json:"account_password" yaml:"account_password"`
	LoginURL          string   `json:"login_url" yaml:"login_url"`
	LandingURL        string   `json:"landing_url" yaml:"landing_url"`
	CodeSelector      string   `json:"code_selector" yaml:"code_selector"`
	ChromePath        string   `json:"chrome_path" yaml:"chrome_path"`
	UserAgent         string   `json:"user_agent" yaml:"user_agent"`
	NavigationTimeout Duration `json:"navigation_timeout" yaml:"navigation_timeout"`
	SelectorTimeout   Duration `json:"selector_timeout" yaml:"selector_timeout"`
	SessionRevalidate Duration `json:"session_revalidate" yaml:"session_revalidate"`
}

// ChannelConfig configures message delivery
type ChannelConfig struct {
	Recipients      []string `json:"recipients" yaml:"recipients"`
	MessageTemplate string   `json:"message_template" yaml:"message_template"`
	PairingTTL      Duration `json:"pairing_ttl" yaml:"pairing_ttl"`
	DeviceTokenTTL  Duration `json:"device_token_ttl" yaml:"device_token_ttl"`
	SendTimeout     Duration `json:"send_timeout" yaml:"send_timeout"`
}

// PollConfig configures the automatic fetch-and-relay loop
type PollConfig struct {
	Interval Duration `json:"interval" yaml:"interval"` // 0 disables polling
}

// Default configuration values
const (
	DefaultDatabasePath    = "data/code_relay.db"
	DefaultAPIPort         = "3000"
	DefaultLogLevel        = "INFO"
	DefaultDataDir         = "data"
	DefaultJWTSecret       = "code-relay-default-secret-change-in-production"
	DefaultCORSOrigins     = "*"
	DefaultPublicURL       = "http://localhost:3000"
	DefaultRequestTimeout  = 90 * time.Second
	DefaultLookback        = 24 * time.Hour
	DefaultIMAPHost        = "imap.gmail.com"
	DefaultIMAPPort        = 993
	DefaultLoginURL        = "https://www.netflix.com/login"
	DefaultLandingURL      = "https://www.netflix.com/browse"
	DefaultCodeSelector    = `div[data-uia="travel-verification-otp"].challenge-code`
	DefaultUserAgent       = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	DefaultNavTimeout      = 30 * time.Second
	DefaultSelectorTimeout = 10 * time.Second
	DefaultRevalidate      = 5 * time.Minute
	DefaultMessageTemplate = "🤖 Code Bot:\n\n%s"
	DefaultPairingTTL      = 5 * time.Minute
	DefaultDeviceTokenTTL  = 30 * 24 * time.Hour
	DefaultSendTimeout     = 20 * time.Second
)

// DefaultSubjectRules returns the rules used when none are configured
func DefaultSubjectRules() []SubjectRuleConfig {
	return []SubjectRuleConfig{
		{Match: "sign-in code", Strategy: "direct"},
		{Match: "temporary access code", Strategy: "link_authenticated"},
		{Match: "household", Strategy: "link_regex"},
	}
}

// Load loads configuration from environment variables and config file
// Priority: Environment variables > Config file > Default values
func Load() (*Config, error) {
	cfg := Default()

	if err := cfg.loadFromFile(); err != nil {
		return nil, err
	}

	if err := cfg.loadFromEnv(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a configuration populated with default values
func Default() *Config {
	return &Config{
		DatabasePath:   DefaultDatabasePath,
		APIPort:        DefaultAPIPort,
		LogLevel:       DefaultLogLevel,
		DataDir:        DefaultDataDir,
		JWTSecret:      DefaultJWTSecret,
		CORSOrigins:    DefaultCORSOrigins,
		PublicURL:      DefaultPublicURL,
		RequestTimeout: Duration(DefaultRequestTimeout),
		Lookback:       Duration(DefaultLookback),
		Mailbox: MailboxConfig{
			Provider: "imap",
			Host:     DefaultIMAPHost,
			Port:     DefaultIMAPPort,
			UseSSL:   true,
		},
		Resolver: ResolverConfig{
			SubjectRules: DefaultSubjectRules(),
			LinkMarkers:  []string{"verify", "code"},
		},
		Page: PageConfig{
			LoginURL:          DefaultLoginURL,
			LandingURL:        DefaultLandingURL,
			CodeSelector:      DefaultCodeSelector,
			UserAgent:         DefaultUserAgent,
			NavigationTimeout: Duration(DefaultNavTimeout),
			SelectorTimeout:   Duration(DefaultSelectorTimeout),
			SessionRevalidate: Duration(DefaultRevalidate),
		},
		Channel: ChannelConfig{
			MessageTemplate: DefaultMessageTemplate,
			PairingTTL:      Duration(DefaultPairingTTL),
			DeviceTokenTTL:  Duration(DefaultDeviceTokenTTL),
			SendTimeout:     Duration(DefaultSendTimeout),
		},
	}
}

// loadFromFile loads configuration from config.json or config.yaml
func (c *Config) loadFromFile() error {
	var configPaths []string
	if path := os.Getenv("CODE_RELAY_CONFIG"); path != "" {
		configPaths = append(configPaths, path)
	}
	configPaths = append(configPaths,
		"config.json",
		"config.yaml",
		filepath.Join(c.DataDir, "config.json"),
		filepath.Join(c.DataDir, "config.yaml"),
	)

	for _, path := range configPaths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := c.decode(path, data); err != nil {
			return fmt.Errorf("parse config file %s: %w", path, err)
		}
		return nil
	}

	return nil
}

// decode unmarshals a config file, picking the format from its extension
func (c *Config) decode(path string, data []byte) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		// ${VAR} references are expanded so secrets can stay in the environment
		return yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), c)
	default:
		return json.Unmarshal(data, c)
	}
}

// loadFromEnv loads configuration from environment variables
func (c *Config) loadFromEnv() error {
	setString := func(key string, dst *string) {
		if val := os.Getenv(key); val != "" {
			*dst = val
		}
	}
	setList := func(key string, dst *[]string) {
		if val := os.Getenv(key); val != "" {
			*dst = splitList(val)
		}
	}
	var errs []error
	setDuration := func(key string, dst *Duration) {
		if val := os.Getenv(key); val != "" {
			d, err := time.ParseDuration(val)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = Duration(d)
		}
	}

	setString("CODE_RELAY_DATABASE_PATH", &c.DatabasePath)
	setString("CODE_RELAY_API_PORT", &c.APIPort)
	setString("CODE_RELAY_LOG_LEVEL", &c.LogLevel)
	setString("CODE_RELAY_DATA_DIR", &c.DataDir)
	setString("CODE_RELAY_JWT_SECRET", &c.JWTSecret)
	setString("CODE_RELAY_CORS_ORIGINS", &c.CORSOrigins)
	setString("CODE_RELAY_PUBLIC_URL", &c.PublicURL)
	setString("CODE_RELAY_REDIS_URL", &c.RedisURL)
	setDuration("CODE_RELAY_REQUEST_TIMEOUT", &c.RequestTimeout)
	setDuration("CODE_RELAY_LOOKBACK", &c.Lookback)

	setString("CODE_RELAY_EMAIL_PROVIDER", &c.Mailbox.Provider)
	setString("CODE_RELAY_EMAIL_HOST", &c.Mailbox.Host)
	if val := os.Getenv("CODE_RELAY_EMAIL_PORT"); val != "" {
		port, err := strconv.Atoi(val)
		if err != nil {
			errs = append(errs, fmt.Errorf("CODE_RELAY_EMAIL_PORT: %w", err))
		} else {
			c.Mailbox.Port = port
		}
	}
	if val := os.Getenv("CODE_RELAY_EMAIL_SSL"); val != "" {
		c.Mailbox.UseSSL = val != "false" && val != "0"
	}
	setString("CODE_RELAY_EMAIL_USER", &c.Mailbox.Username)
	setString("CODE_RELAY_EMAIL_PASSWORD", &c.Mailbox.Password)
	setString("CODE_RELAY_EMAIL_SENDER_FILTER", &c.Mailbox.Sender)
	setList("CODE_RELAY_EMAIL_SUBJECT_FILTER", &c.Mailbox.Subjects)
	setString("CODE_RELAY_OAUTH_CLIENT_ID", &c.Mailbox.OAuthClientID)
	setString("CODE_RELAY_OAUTH_CLIENT_SECRET", &c.Mailbox.OAuthClientSecret)
	setString("CODE_RELAY_OAUTH_REFRESH_TOKEN", &c.Mailbox.OAuthRefreshToken)
	setString("CODE_RELAY_GMAIL_CREDENTIALS", &c.Mailbox.GmailCredentialsPath)
	setString("CODE_RELAY_GMAIL_TOKEN", &c.Mailbox.GmailTokenPath)

	if val := os.Getenv("CODE_RELAY_SUBJECT_RULES"); val != "" {
		rules, err := ParseSubjectRules(val)
		if err != nil {
			errs = append(errs, fmt.Errorf("CODE_RELAY_SUBJECT_RULES: %w", err))
		} else {
			c.Resolver.SubjectRules = rules
		}
	}
	setList("CODE_RELAY_LINK_MARKERS", &c.Resolver.LinkMarkers)

	setString("CODE_RELAY_PAGE_EMAIL", &c.Page.AccountEmail)
	setString("CODE_RELAY_PAGE_PASSWORD", &c.Page.AccountPassword)
	setString("CODE_RELAY_PAGE_LOGIN_URL", &c.Page.LoginURL)
	setString("CODE_RELAY_PAGE_LANDING_URL", &c.Page.LandingURL)
	setString("CODE_RELAY_PAGE_CODE_SELECTOR", &c.Page.CodeSelector)
	setString("CODE_RELAY_CHROME_PATH", &c.Page.ChromePath)
	setDuration("CODE_RELAY_PAGE_TIMEOUT", &c.Page.NavigationTimeout)

	setList("CODE_RELAY_RECIPIENTS", &c.Channel.Recipients)
	setString("CODE_RELAY_MESSAGE_TEMPLATE", &c.Channel.MessageTemplate)
	setDuration("CODE_RELAY_POLL_INTERVAL", &c.Poll.Interval)

	return errors.Join(errs...)
}

// ParseSubjectRules parses "match=strategy;match=strategy" into rule configs
func ParseSubjectRules(s string) ([]SubjectRuleConfig, error) {
	var rules []SubjectRuleConfig
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		match, strategy, ok := strings.Cut(part, "=")
		if !ok || strings.TrimSpace(match) == "" || strings.TrimSpace(strategy) == "" {
			return nil, fmt.Errorf("malformed rule %q", part)
		}
		rules = append(rules, SubjectRuleConfig{
			Match:    strings.TrimSpace(match),
			Strategy: strings.TrimSpace(strategy),
		})
	}
	return rules, nil
}

// Validate reports every missing required setting at once
func (c *Config) Validate() error {
	var missing []string

	switch c.Mailbox.Provider {
	case "gmail":
		if c.Mailbox.GmailCredentialsPath == "" {
			missing = append(missing, "mailbox.gmail_credentials_path")
		}
		if c.Mailbox.GmailTokenPath == "" {
			missing = append(missing, "mailbox.gmail_token_path")
		}
	case "imap", "":
		if c.Mailbox.Host == "" {
			missing = append(missing, "mailbox.host")
		}
		if c.Mailbox.Username == "" {
			missing = append(missing, "mailbox.username")
		}
		if c.Mailbox.Password == "" && c.Mailbox.OAuthRefreshToken == "" {
			missing = append(missing, "mailbox.password")
		}
	default:
		return fmt.Errorf("%w: unknown mailbox provider %q", ErrInvalidConfig, c.Mailbox.Provider)
	}
	if c.Mailbox.Sender == "" {
		missing = append(missing, "mailbox.sender")
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidConfig, strings.Join(missing, ", "))
	}
	return nil
}

// HasPageCredentials reports whether the page resolver may log in
func (c *Config) HasPageCredentials() bool {
	return c.Page.AccountEmail != "" && c.Page.AccountPassword != ""
}

// GetEncryptionKey returns a 32 byte key derived from JWTSecret
func (c *Config) GetEncryptionKey() []byte {
	hash := sha256.Sum256([]byte(c.JWTSecret + "-encryption"))
	return hash[:]
}

// Save saves the current configuration to a file
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
