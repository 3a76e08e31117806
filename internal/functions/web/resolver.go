package web

import (
	"context"
	"log"
	"time"

	"github.com/coderelay/core/internal/database/models"
	"github.com/coderelay/core/internal/functions"
	"github.com/coderelay/core/internal/functions/local"
)

const pageModule = models.LogModulePage

// EventLogger receives page resolution diagnostics
type EventLogger interface {
	LogInfo(module models.LogModule, action, message string, details interface{}) error
	LogWarn(module models.LogModule, action, message string, details interface{}) error
}

// Options configures a Resolver
type Options struct {
	NavigationTimeout time.Duration
	SelectorTimeout   time.Duration
}

// Resolver extracts codes from verification pages. It implements functions.PageResolver.
type Resolver struct {
	browser  Browser
	sessions *SessionCache
	target   CodeTarget
	opts     Options
	logger   EventLogger
}

// NewResolver creates a Resolver. sessions may be nil when no account is configured.
func NewResolver(browser Browser, sessions *SessionCache, target CodeTarget, opts Options, logger EventLogger) *Resolver {
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = 30 * time.Second
	}
	if opts.SelectorTimeout <= 0 {
		opts.SelectorTimeout = 10 * time.Second
	}
	return &Resolver{
		browser:  browser,
		sessions: sessions,
		target:   target,
		opts:     opts,
		logger:   logger,
	}
}

// ResolveFromURL loads url and returns Code or NotFound. Errors are logged, never returned.
func (r *Resolver) ResolveFromURL(ctx context.Context, url string, creds *functions.Credentials) functions.Outcome {
	start := time.Now()

	tab, err := r.browser.NewTab(ctx)
	if err != nil {
		r.fail("open_tab", url, err)
		return functions.NotFound()
	}
	defer func() {
		if err := tab.Close(); err != nil {
			log.Printf("[PageResolver] Failed to close tab: %v", err)
		}
	}()

	if creds != nil {
		if r.sessions == nil {
			r.fail("session", url, ErrNoCredentials)
			return functions.NotFound()
		}
		if err := r.sessions.Ensure(ctx, tab, *creds); err != nil {
			r.fail("session", url, err)
			return functions.NotFound()
		}
	}

	navCtx, cancel := context.WithTimeout(ctx, r.opts.NavigationTimeout)
	defer cancel()
	if err := tab.Navigate(navCtx, url); err != nil {
		r.fail("navigate", url, err)
		return functions.NotFound()
	}

	// a session trusted from the revalidation window may have expired server side
	if creds != nil {
		if onLogin, err := r.sessions.IsLoginPage(navCtx, tab); err == nil && onLogin {
			r.sessions.Expire(creds.Email)
			if err := r.sessions.Ensure(ctx, tab, *creds); err != nil {
				r.fail("session", url, err)
				return functions.NotFound()
			}
			retryCtx, retryCancel := context.WithTimeout(ctx, r.opts.NavigationTimeout)
			defer retryCancel()
			if err := tab.Navigate(retryCtx, url); err != nil {
				r.fail("navigate", url, err)
				return functions.NotFound()
			}
		}
	}

	if r.target != nil {
		selCtx, selCancel := context.WithTimeout(ctx, r.opts.SelectorTimeout)
		code, found, err := r.target.Extract(selCtx, tab)
		selCancel()
		if err != nil {
			log.Printf("[PageResolver] Code target lookup failed, scanning page text: %v", err)
		} else if found {
			r.succeed(url, "target", start)
			return functions.Code(code)
		}
	}

	textCtx, textCancel := context.WithTimeout(ctx, r.opts.NavigationTimeout)
	defer textCancel()
	text, err := tab.Text(textCtx)
	if err != nil {
		r.fail("read_text", url, err)
		return functions.NotFound()
	}
	if code, ok := local.FindCode(text); ok {
		r.succeed(url, "text_scan", start)
		return functions.Code(code)
	}

	log.Printf("[PageResolver] No code on %s", url)
	r.warn("not_found", "No code found on verification page", map[string]interface{}{"url": url})
	return functions.NotFound()
}

func (r *Resolver) succeed(url, via string, start time.Time) {
	log.Printf("[PageResolver] Code found via %s in %v", via, time.Since(start))
	if r.logger == nil {
		return
	}
	if err := r.logger.LogInfo(pageModule, "resolve", "Code found on verification page", map[string]interface{}{
		"url":         url,
		"via":         via,
		"duration_ms": time.Since(start).Milliseconds(),
	}); err != nil {
		log.Printf("[PageResolver] Failed to persist log: %v", err)
	}
}

func (r *Resolver) fail(step, url string, err error) {
	log.Printf("[PageResolver] %s failed for %s: %v", step, url, err)
	r.warn(step, "Verification page resolution failed", map[string]interface{}{
		"url":   url,
		"error": err.Error(),
	})
}

func (r *Resolver) warn(action, message string, details interface{}) {
	if r.logger == nil {
		return
	}
	if err := r.logger.LogWarn(pageModule, action, message, details); err != nil {
		log.Printf("[PageResolver] Failed to persist log: %v", err)
	}
}

var _ functions.PageResolver = (*Resolver)(nil)
