package web

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coderelay/core/internal/database/models"
)

const (
	testLoginURL   = "https://www.example.com/login"
	testLandingURL = "https://www.example.com/browse"
	testSelector   = `div[data-uia="travel-verification-otp"].challenge-code`
)

// page is what the fake site renders for one URL
type page struct {
	title     string
	text      string
	elements  map[string]string
	needsAuth bool
}

// fakeSite is a tiny stand-in for the verification site
type fakeSite struct {
	mu         sync.Mutex
	pages      map[string]page
	email      string
	password   string
	token      string
	loginDelay time.Duration
	failNewTab bool

	submits  atomic.Int64
	tabs     atomic.Int64
	openTabs atomic.Int64
}

func newFakeSite() *fakeSite {
	s := &fakeSite{
		pages:    make(map[string]page),
		email:    "viewer@example.com",
		password: "hunter2",
		token:    "tok-1",
	}
	s.pages[testLandingURL] = page{title: "Home", text: "Continue watching", needsAuth: true}
	return s
}

func (s *fakeSite) NewTab(ctx context.Context) (Tab, error) {
	if s.failNewTab {
		return nil, errors.New("browser crashed")
	}
	s.tabs.Add(1)
	s.openTabs.Add(1)
	return &fakeTab{site: s, fields: make(map[string]string)}, nil
}

type fakeTab struct {
	site     *fakeSite
	location string
	current  page
	cookies  []Cookie
	fields   map[string]string
	closed   bool
}

func (t *fakeTab) authed() bool {
	t.site.mu.Lock()
	defer t.site.mu.Unlock()
	for _, c := range t.cookies {
		if c.Name == "session" && c.Value == t.site.token {
			return true
		}
	}
	return false
}

func loginPage() page {
	return page{
		title:    "Netflix - Sign In",
		text:     "Sign In Email or mobile number Password",
		elements: map[string]string{`input[name="userLoginId"]`: "", `input[name="password"]`: "", `button[type="submit"]`: "Sign In"},
	}
}

func (t *fakeTab) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if url == testLoginURL {
		t.location, t.current = url, loginPage()
		return nil
	}
	t.site.mu.Lock()
	p, ok := t.site.pages[url]
	t.site.mu.Unlock()
	if !ok {
		return errors.New("net::ERR_NAME_NOT_RESOLVED")
	}
	if p.needsAuth && !t.authed() {
		t.location, t.current = testLoginURL+"?nextpage="+url, loginPage()
		return nil
	}
	t.location, t.current = url, p
	return nil
}

func (t *fakeTab) Location(ctx context.Context) (string, error) { return t.location, nil }
func (t *fakeTab) Title(ctx context.Context) (string, error)    { return t.current.title, nil }
func (t *fakeTab) Text(ctx context.Context) (string, error)     { return t.current.text, nil }

func (t *fakeTab) QuerySingle(ctx context.Context, selector string) (string, bool, error) {
	text, ok := t.current.elements[selector]
	return text, ok, nil
}

func (t *fakeTab) Exists(ctx context.Context, selector string) (bool, error) {
	_, ok := t.current.elements[selector]
	return ok, nil
}

func (t *fakeTab) Type(ctx context.Context, selector, value string) error {
	if _, ok := t.current.elements[selector]; !ok {
		return errors.New("no such element " + selector)
	}
	t.fields[selector] = value
	return nil
}

func (t *fakeTab) Submit(ctx context.Context, selector string) error {
	t.site.submits.Add(1)
	if t.site.loginDelay > 0 {
		select {
		case <-time.After(t.site.loginDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if t.fields[`input[name="userLoginId"]`] == t.site.email && t.fields[`input[name="password"]`] == t.site.password {
		t.cookies = append(t.cookies, Cookie{Name: "session", Value: t.site.token, Domain: ".example.com", Path: "/"})
		t.location, t.current = testLandingURL, t.site.pages[testLandingURL]
		return nil
	}
	p := loginPage()
	p.text = "Incorrect password. " + p.text
	t.current = p
	return nil
}

func (t *fakeTab) Cookies(ctx context.Context) ([]Cookie, error) {
	return append([]Cookie(nil), t.cookies...), nil
}

func (t *fakeTab) SetCookies(ctx context.Context, cookies []Cookie) error {
	t.cookies = append(t.cookies, cookies...)
	return nil
}

func (t *fakeTab) Close() error {
	if !t.closed {
		t.closed = true
		t.site.openTabs.Add(-1)
	}
	return nil
}

// memoryLogger collects persisted log calls
type memoryLogger struct {
	mu      sync.Mutex
	entries []string
}

func (l *memoryLogger) LogInfo(module models.LogModule, action, message string, details interface{}) error {
	return l.add("INFO", action)
}

func (l *memoryLogger) LogWarn(module models.LogModule, action, message string, details interface{}) error {
	return l.add("WARN", action)
}

func (l *memoryLogger) add(level, action string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, level+":"+action)
	return nil
}

func (l *memoryLogger) has(entry string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if strings.EqualFold(e, entry) {
			return true
		}
	}
	return false
}
