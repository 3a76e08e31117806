package web

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coderelay/core/internal/functions"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrLoginFailed indicates the login flow finished on a sign-in page
	ErrLoginFailed = errors.New("login failed")
	// ErrNoCredentials indicates a login was requested without credentials
	ErrNoCredentials = errors.New("no credentials configured")
)

// SessionCache owns the authenticated session of each account.
// Check-validity-then-maybe-login runs at most once at a time per account;
// concurrent callers wait for that flight and reuse its cookies.
type SessionCache struct {
	store      SessionStore
	form       LoginForm
	landingURL string
	navTimeout time.Duration
	revalidate time.Duration
	browser    Browser
	logger     EventLogger

	group singleflight.Group

	mu       sync.Mutex
	sessions map[string]*cachedSession

	logins atomic.Int64
}

type cachedSession struct {
	cookies     []Cookie
	validatedAt time.Time
}

// SessionOptions configures a SessionCache
type SessionOptions struct {
	Form       LoginForm
	LandingURL string
	NavTimeout time.Duration
	Revalidate time.Duration // how long a validated session is trusted without a probe
	Browser    Browser       // opens the tab shared logins run on; nil borrows the caller's tab
}

// NewSessionCache creates a SessionCache backed by store
func NewSessionCache(store SessionStore, opts SessionOptions, logger EventLogger) *SessionCache {
	if opts.NavTimeout <= 0 {
		opts.NavTimeout = 30 * time.Second
	}
	return &SessionCache{
		store:      store,
		form:       opts.Form,
		landingURL: opts.LandingURL,
		navTimeout: opts.NavTimeout,
		revalidate: opts.Revalidate,
		browser:    opts.Browser,
		logger:     logger,
		sessions:   make(map[string]*cachedSession),
	}
}

// Ensure leaves tab carrying a valid session for creds. Concurrent callers for
// the same account share one check-then-login flight; each caller still gives
// up on its own ctx without ending the flight for the others.
func (c *SessionCache) Ensure(ctx context.Context, tab Tab, creds functions.Credentials) error {
	if creds.Email == "" || creds.Password == "" {
		return ErrNoCredentials
	}

	if cookies, ok := c.recentlyValidated(creds.Email); ok {
		return tab.SetCookies(ctx, cookies)
	}

	ch := c.group.DoChan(creds.Email, func() (interface{}, error) {
		return c.establishShared(ctx, tab, creds)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return res.Err
		}
		// the flight ran on its own tab or another caller's
		return tab.SetCookies(ctx, res.Val.([]Cookie))
	case <-ctx.Done():
		return ctx.Err()
	}
}

// establishShared runs establish detached from the caller that started the
// flight. With a browser configured the flight gets its own tab, otherwise it
// borrows tab.
func (c *SessionCache) establishShared(ctx context.Context, tab Tab, creds functions.Credentials) ([]Cookie, error) {
	// probe plus login, each bounded by navTimeout
	flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*c.navTimeout)
	defer cancel()

	if c.browser != nil {
		own, err := c.browser.NewTab(flightCtx)
		if err != nil {
			return nil, fmt.Errorf("open session tab: %w", err)
		}
		defer func() {
			if err := own.Close(); err != nil {
				log.Printf("[PageResolver] Failed to close session tab: %v", err)
			}
		}()
		tab = own
	}
	return c.establish(flightCtx, tab, creds)
}

// Expire drops a session the site no longer honors, so the next Ensure
// probes and logs in again
func (c *SessionCache) Expire(account string) {
	log.Printf("[PageResolver] Session for %s rejected by the site", account)
	c.discard(account)
}

// IsLoginPage reports whether tab shows the sign-in form
func (c *SessionCache) IsLoginPage(ctx context.Context, tab Tab) (bool, error) {
	return c.form.IsLoginPage(ctx, tab)
}

// Logins returns how many login flows this cache has run
func (c *SessionCache) Logins() int64 {
	return c.logins.Load()
}

// Forget drops the in-memory session and the stored one
func (c *SessionCache) Forget(ctx context.Context, account string) error {
	c.mu.Lock()
	delete(c.sessions, account)
	c.mu.Unlock()
	return c.store.Delete(ctx, account)
}

// Login runs the login flow unconditionally and stores the result
func (c *SessionCache) Login(ctx context.Context, tab Tab, creds functions.Credentials) error {
	if creds.Email == "" || creds.Password == "" {
		return ErrNoCredentials
	}
	_, err, _ := c.group.Do(creds.Email, func() (interface{}, error) {
		return c.login(ctx, tab, creds)
	})
	return err
}

func (c *SessionCache) recentlyValidated(account string) ([]Cookie, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[account]
	if !ok || s.validatedAt.IsZero() || c.revalidate <= 0 {
		return nil, false
	}
	if time.Since(s.validatedAt) > c.revalidate {
		return nil, false
	}
	return s.cookies, true
}

// establish probes the known session and falls back to a full login
func (c *SessionCache) establish(ctx context.Context, tab Tab, creds functions.Credentials) ([]Cookie, error) {
	cookies, err := c.current(ctx, creds.Email)
	if err != nil {
		return nil, err
	}

	if len(cookies) > 0 {
		valid, err := c.probe(ctx, tab, cookies)
		if err != nil {
			return nil, err
		}
		if valid {
			c.remember(creds.Email, cookies)
			return cookies, nil
		}
		log.Printf("[PageResolver] Session for %s is no longer valid, logging in again", creds.Email)
		c.discard(creds.Email)
	}

	return c.login(ctx, tab, creds)
}

// current returns the in-memory session, loading the stored one on first use
func (c *SessionCache) current(ctx context.Context, account string) ([]Cookie, error) {
	c.mu.Lock()
	s, ok := c.sessions[account]
	c.mu.Unlock()
	if ok {
		return s.cookies, nil
	}

	cookies, err := c.store.Load(ctx, account)
	if errors.Is(err, ErrSessionNotFound) {
		return nil, nil
	}
	if err != nil {
		// an unreadable stored session is treated as absent
		log.Printf("[PageResolver] Failed to load stored session for %s: %v", account, err)
		return nil, nil
	}

	c.mu.Lock()
	c.sessions[account] = &cachedSession{cookies: cookies}
	c.mu.Unlock()
	return cookies, nil
}

func (c *SessionCache) probe(ctx context.Context, tab Tab, cookies []Cookie) (bool, error) {
	if err := tab.SetCookies(ctx, cookies); err != nil {
		return false, fmt.Errorf("apply session: %w", err)
	}

	navCtx, cancel := context.WithTimeout(ctx, c.navTimeout)
	defer cancel()
	if err := tab.Navigate(navCtx, c.landingURL); err != nil {
		return false, fmt.Errorf("probe session: %w", err)
	}

	onLogin, err := c.form.IsLoginPage(navCtx, tab)
	if err != nil {
		return false, fmt.Errorf("probe session: %w", err)
	}
	return !onLogin, nil
}

func (c *SessionCache) login(ctx context.Context, tab Tab, creds functions.Credentials) ([]Cookie, error) {
	c.logins.Add(1)
	log.Printf("[PageResolver] Logging in as %s", creds.Email)

	loginCtx, cancel := context.WithTimeout(ctx, c.navTimeout)
	defer cancel()

	if err := tab.Navigate(loginCtx, c.form.URL); err != nil {
		return nil, fmt.Errorf("%w: open login page: %v", ErrLoginFailed, err)
	}
	if err := tab.Type(loginCtx, c.form.IdentifierSelector, creds.Email); err != nil {
		return nil, fmt.Errorf("%w: enter identifier: %v", ErrLoginFailed, err)
	}
	if err := tab.Type(loginCtx, c.form.PasswordSelector, creds.Password); err != nil {
		return nil, fmt.Errorf("%w: enter password: %v", ErrLoginFailed, err)
	}
	if err := tab.Submit(loginCtx, c.form.SubmitSelector); err != nil {
		return nil, fmt.Errorf("%w: submit: %v", ErrLoginFailed, err)
	}

	onLogin, err := c.form.IsLoginPage(loginCtx, tab)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoginFailed, err)
	}
	if onLogin {
		return nil, fmt.Errorf("%w: still on sign-in page after submit", ErrLoginFailed)
	}

	cookies, err := tab.Cookies(loginCtx)
	if err != nil {
		return nil, fmt.Errorf("%w: read cookies: %v", ErrLoginFailed, err)
	}

	if err := c.store.Save(ctx, creds.Email, cookies); err != nil {
		// the session is still usable for this process
		log.Printf("[PageResolver] Failed to persist session for %s: %v", creds.Email, err)
	}
	c.remember(creds.Email, cookies)

	c.logInfo("login", "Logged in to verification site", map[string]interface{}{
		"account": creds.Email,
		"cookies": len(cookies),
	})
	return cookies, nil
}

func (c *SessionCache) remember(account string, cookies []Cookie) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[account] = &cachedSession{cookies: cookies, validatedAt: time.Now()}
}

// discard drops the in-memory session; the stored row is overwritten by the next login
func (c *SessionCache) discard(account string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, account)
}

func (c *SessionCache) logInfo(action, message string, details interface{}) {
	if c.logger == nil {
		return
	}
	if err := c.logger.LogInfo(pageModule, action, message, details); err != nil {
		log.Printf("[PageResolver] Failed to persist log: %v", err)
	}
}
