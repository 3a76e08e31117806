package web

import (
	"context"
	"net/url"
	"strings"

	"github.com/coderelay/core/internal/functions/local"
)

// CodeTarget locates the one-time code on a verification page.
// Page markup changes are absorbed by swapping the target.
type CodeTarget interface {
	Extract(ctx context.Context, tab Tab) (code string, found bool, err error)
}

// SelectorTarget reads the code from a single element
type SelectorTarget struct {
	Selector string
}

// Extract implements CodeTarget. Element text is trimmed and must be a valid code.
func (s SelectorTarget) Extract(ctx context.Context, tab Tab) (string, bool, error) {
	if s.Selector == "" {
		return "", false, nil
	}
	text, found, err := tab.QuerySingle(ctx, s.Selector)
	if err != nil || !found {
		return "", false, err
	}
	code := strings.TrimSpace(text)
	if !local.IsValidCode(code) {
		return "", false, nil
	}
	return code, true, nil
}

// LoginForm describes the sign-in page of the verification site
type LoginForm struct {
	URL                string
	IdentifierSelector string
	PasswordSelector   string
	SubmitSelector     string
}

// DefaultLoginForm returns the form selectors for the Netflix sign-in page
func DefaultLoginForm(loginURL string) LoginForm {
	return LoginForm{
		URL:                loginURL,
		IdentifierSelector: `input[name="userLoginId"]`,
		PasswordSelector:   `input[name="password"]`,
		SubmitSelector:     `button[type="submit"]`,
	}
}

// IsLoginPage reports whether tab currently shows a sign-in wall: the identifier
// input is present, the title mentions signing in, or the URL is the login path.
func (f LoginForm) IsLoginPage(ctx context.Context, tab Tab) (bool, error) {
	if f.IdentifierSelector != "" {
		exists, err := tab.Exists(ctx, f.IdentifierSelector)
		if err != nil {
			return false, err
		}
		if exists {
			return true, nil
		}
	}

	title, err := tab.Title(ctx)
	if err != nil {
		return false, err
	}
	lowerTitle := strings.ToLower(title)
	if strings.Contains(lowerTitle, "sign in") || strings.Contains(lowerTitle, "login") || strings.Contains(lowerTitle, "log in") {
		return true, nil
	}

	location, err := tab.Location(ctx)
	if err != nil {
		return false, err
	}
	return f.isLoginURL(location), nil
}

func (f LoginForm) isLoginURL(location string) bool {
	current, err := url.Parse(location)
	if err != nil {
		return false
	}
	loginPath := "/login"
	if login, err := url.Parse(f.URL); err == nil && login.Path != "" && login.Path != "/" {
		loginPath = login.Path
	}
	return strings.Contains(strings.ToLower(current.Path), strings.ToLower(loginPath))
}
