// Package app assembles the services shared by the server and the CLI
package app

import (
	"context"
	"fmt"
	"log"

	"github.com/coderelay/core/internal/browser"
	"github.com/coderelay/core/internal/config"
	"github.com/coderelay/core/internal/functions"
	"github.com/coderelay/core/internal/functions/web"
	"github.com/coderelay/core/internal/mailbox"
	"github.com/coderelay/core/internal/services"
	"gorm.io/gorm"
)

// CodeStack is everything needed to fetch and resolve a code
type CodeStack struct {
	LogService   *services.LogService
	Fetcher      mailbox.Fetcher
	SessionStore *web.GormSessionStore
	Sessions     *web.SessionCache // nil when no page account is configured
	Codes        *services.CodeService
}

// NewFetcher creates the mailbox client selected by cfg.Mailbox.Provider
func NewFetcher(ctx context.Context, cfg *config.Config) (mailbox.Fetcher, error) {
	mc := cfg.Mailbox
	switch mc.Provider {
	case "gmail":
		f, err := mailbox.NewGmailFetcher(ctx, mc.GmailCredentialsPath, mc.GmailTokenPath)
		if err != nil {
			return nil, fmt.Errorf("gmail: %w", err)
		}
		return f, nil
	case "imap", "":
		imapCfg := mailbox.IMAPConfig{
			Host:     mc.Host,
			Port:     mc.Port,
			Username: mc.Username,
			Password: mc.Password,
			UseSSL:   mc.UseSSL,
		}
		if mc.OAuthRefreshToken != "" {
			imapCfg.TokenSource = mailbox.GoogleTokenSource(mc.OAuthClientID, mc.OAuthClientSecret, mc.OAuthRefreshToken)
		}
		return mailbox.NewIMAPFetcher(imapCfg), nil
	default:
		return nil, fmt.Errorf("%w: unknown mailbox provider %q", config.ErrInvalidConfig, mc.Provider)
	}
}

// BuildCodeStack wires mailbox, resolver and page sessions over db
func BuildCodeStack(ctx context.Context, cfg *config.Config, db *gorm.DB) (*CodeStack, error) {
	logService := services.NewLogServiceWithLevel(db, cfg.LogLevel)

	fetcher, err := NewFetcher(ctx, cfg)
	if err != nil {
		return nil, err
	}

	rc, err := functions.NewResolutionContext(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}

	chrome := browser.NewChrome(browser.Options{
		ExecPath:  cfg.Page.ChromePath,
		UserAgent: cfg.Page.UserAgent,
	})

	store := web.NewGormSessionStore(db, cfg.GetEncryptionKey())
	var sessions *web.SessionCache
	if cfg.HasPageCredentials() {
		sessions = web.NewSessionCache(store, web.SessionOptions{
			Form:       web.DefaultLoginForm(cfg.Page.LoginURL),
			LandingURL: cfg.Page.LandingURL,
			NavTimeout: cfg.Page.NavigationTimeout.Std(),
			Revalidate: cfg.Page.SessionRevalidate.Std(),
			Browser:    chrome,
		}, logService)
	} else {
		log.Println("[App] No page account configured, authenticated links will not be followed")
	}

	resolver := web.NewResolver(chrome, sessions, web.SelectorTarget{Selector: cfg.Page.CodeSelector}, web.Options{
		NavigationTimeout: cfg.Page.NavigationTimeout.Std(),
		SelectorTimeout:   cfg.Page.SelectorTimeout.Std(),
	}, logService)

	codes := services.NewCodeService(fetcher, functions.NewProcessor(resolver, logService), rc, db, logService,
		services.CodeServiceOptions{
			Sender:         cfg.Mailbox.Sender,
			Subjects:       cfg.Mailbox.Subjects,
			RequestTimeout: cfg.RequestTimeout.Std(),
		})

	return &CodeStack{
		LogService:   logService,
		Fetcher:      fetcher,
		SessionStore: store,
		Sessions:     sessions,
		Codes:        codes,
	}, nil
}
