package web

import (
	"context"
	"time"
)

// Browser opens isolated tabs. Each tab owns its own cookie jar.
type Browser interface {
	NewTab(ctx context.Context) (Tab, error)
}

// Tab is one rendered page. Every method is bounded by ctx.
type Tab interface {
	// Navigate loads url and waits for the document to settle
	Navigate(ctx context.Context, url string) error
	Location(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	// Text returns the rendered text of the whole document
	Text(ctx context.Context) (string, error)
	// QuerySingle waits for selector until ctx expires and returns its text.
	// A selector that never appears is reported as found == false, not an error.
	QuerySingle(ctx context.Context, selector string) (text string, found bool, err error)
	// Exists checks selector without waiting
	Exists(ctx context.Context, selector string) (bool, error)
	Type(ctx context.Context, selector, value string) error
	// Submit clicks selector and waits for the resulting navigation
	Submit(ctx context.Context, selector string) error
	Cookies(ctx context.Context) ([]Cookie, error)
	SetCookies(ctx context.Context, cookies []Cookie) error
	Close() error
}

// Cookie is a browser cookie as persisted in a session
type Cookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Domain   string    `json:"domain"`
	Path     string    `json:"path"`
	Expires  time.Time `json:"expires,omitempty"`
	HTTPOnly bool      `json:"http_only"`
	Secure   bool      `json:"secure"`
}
