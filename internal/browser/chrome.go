package browser

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/coderelay/core/internal/functions/web"
)

// ErrNavigationStalled indicates a submit did not lead to a new page
var ErrNavigationStalled = errors.New("navigation did not complete")

// Options configures the headless Chrome instances
type Options struct {
	ExecPath  string // empty to let chromedp locate Chrome
	UserAgent string
	Headful   bool
}

// Chrome opens one headless Chrome process per tab so every tab has its own
// cookie jar and closing the tab always ends the process.
type Chrome struct {
	opts Options
}

// NewChrome creates a new Chrome browser
func NewChrome(opts Options) *Chrome {
	return &Chrome{opts: opts}
}

var _ web.Browser = (*Chrome)(nil)

// NewTab starts a browser process and returns its first tab
func (c *Chrome) NewTab(ctx context.Context) (web.Tab, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-gpu", true),
	)
	if c.opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(c.opts.UserAgent))
	}
	if c.opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(c.opts.ExecPath))
	}
	if c.opts.Headful {
		allocOpts = append(allocOpts, chromedp.Flag("headless", false))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	t := &tab{
		ctx: tabCtx,
		cancel: func() {
			tabCancel()
			allocCancel()
		},
	}

	// the first Run launches the process
	if err := t.run(ctx); err != nil {
		t.cancel()
		return nil, fmt.Errorf("start chrome: %w", err)
	}
	return t, nil
}

type tab struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// run executes actions on the tab, bounded by both the tab and the caller's ctx
func (t *tab) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(t.ctx)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (t *tab) Navigate(ctx context.Context, url string) error {
	return t.run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

func (t *tab) Location(ctx context.Context) (string, error) {
	var location string
	err := t.run(ctx, chromedp.Location(&location))
	return location, err
}

func (t *tab) Title(ctx context.Context) (string, error) {
	var title string
	err := t.run(ctx, chromedp.Title(&title))
	return title, err
}

func (t *tab) Text(ctx context.Context) (string, error) {
	var text string
	err := t.run(ctx, chromedp.Evaluate(`document.body ? document.body.innerText : ""`, &text))
	return text, err
}

func (t *tab) QuerySingle(ctx context.Context, selector string) (string, bool, error) {
	var text string
	err := t.run(ctx, chromedp.Text(selector, &text, chromedp.ByQuery))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", false, nil
		}
		return "", false, err
	}
	return text, true, nil
}

func (t *tab) Exists(ctx context.Context, selector string) (bool, error) {
	var nodes []*cdp.Node
	if err := t.run(ctx, chromedp.Nodes(selector, &nodes, chromedp.ByQuery, chromedp.AtLeast(0))); err != nil {
		return false, err
	}
	return len(nodes) > 0, nil
}

func (t *tab) Type(ctx context.Context, selector, value string) error {
	return t.run(ctx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	)
}

func (t *tab) Submit(ctx context.Context, selector string) error {
	before, err := t.Location(ctx)
	if err != nil {
		return err
	}
	if err := t.run(ctx, chromedp.Click(selector, chromedp.ByQuery)); err != nil {
		return err
	}

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrNavigationStalled, ctx.Err())
		case <-ticker.C:
			after, err := t.Location(ctx)
			if err != nil {
				return err
			}
			if after != before {
				return t.run(ctx, chromedp.WaitReady("body", chromedp.ByQuery))
			}
		}
	}
}

func (t *tab) Cookies(ctx context.Context) ([]web.Cookie, error) {
	var cookies []web.Cookie
	err := t.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		raw, err := network.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		for _, c := range raw {
			cookie := web.Cookie{
				Name:     c.Name,
				Value:    c.Value,
				Domain:   c.Domain,
				Path:     c.Path,
				HTTPOnly: c.HTTPOnly,
				Secure:   c.Secure,
			}
			if !c.Session && c.Expires > 0 {
				cookie.Expires = time.Unix(int64(c.Expires), 0)
			}
			cookies = append(cookies, cookie)
		}
		return nil
	}))
	return cookies, err
}

func (t *tab) SetCookies(ctx context.Context, cookies []web.Cookie) error {
	if len(cookies) == 0 {
		return nil
	}
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		param := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		}
		if !c.Expires.IsZero() {
			expires := cdp.TimeSinceEpoch(c.Expires)
			param.Expires = &expires
		}
		params = append(params, param)
	}
	return t.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return network.SetCookies(params).Do(ctx)
	}))
}

func (t *tab) Close() error {
	// Cancel asks Chrome to close the target before the process is killed
	if err := chromedp.Cancel(t.ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("[Browser] Graceful close failed: %v", err)
	}
	t.cancel()
	return nil
}
