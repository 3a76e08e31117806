package functions

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/coderelay/core/internal/config"
	"github.com/coderelay/core/internal/functions/local"
)

// ErrInvalidRule indicates a subject rule could not be built from configuration
var ErrInvalidRule = errors.New("invalid subject rule")

// Strategy selects how a message class is resolved
type Strategy string

const (
	// StrategyDirect scans the body for digits and never follows links
	StrategyDirect Strategy = "direct"
	// StrategyLinkAuthenticated follows a verification link with the account logged in
	StrategyLinkAuthenticated Strategy = "link_authenticated"
	// StrategyLinkRegex follows a verification link without logging in
	StrategyLinkRegex Strategy = "link_regex"
)

// ParseStrategy converts a configured strategy name
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "direct", "direct_regex", "regex":
		return StrategyDirect, nil
	case "link_authenticated", "link_auth", "authenticated":
		return StrategyLinkAuthenticated, nil
	case "link_regex", "link_fallback", "link":
		return StrategyLinkRegex, nil
	default:
		return "", fmt.Errorf("%w: unknown strategy %q", ErrInvalidRule, s)
	}
}

// FollowsLinks reports whether the strategy may visit a verification URL
func (s Strategy) FollowsLinks() bool {
	return s == StrategyLinkAuthenticated || s == StrategyLinkRegex
}

// SubjectRule maps a subject matcher to a strategy
type SubjectRule struct {
	Match    string         // lower-cased substring, empty when Pattern is set
	Pattern  *regexp.Regexp // optional, matched against the normalized subject
	Strategy Strategy
}

// Matches tests an already normalized subject
func (r SubjectRule) Matches(normalized string) bool {
	if r.Pattern != nil {
		return r.Pattern.MatchString(normalized)
	}
	return r.Match != "" && strings.Contains(normalized, r.Match)
}

// Credentials are the account used to log in to verification pages
type Credentials struct {
	Email    string
	Password string
}

// ResolutionContext is built once from configuration and shared read-only
type ResolutionContext struct {
	SubjectRules []SubjectRule
	LinkMarkers  []string
	Lookback     time.Duration
	Credentials  *Credentials
}

// NewResolutionContext builds a ResolutionContext from configuration
func NewResolutionContext(cfg *config.Config) (*ResolutionContext, error) {
	rc := &ResolutionContext{
		LinkMarkers: cfg.Resolver.LinkMarkers,
		Lookback:    cfg.Lookback.Std(),
	}
	if len(rc.LinkMarkers) == 0 {
		rc.LinkMarkers = local.DefaultLinkMarkers
	}
	if cfg.HasPageCredentials() {
		rc.Credentials = &Credentials{
			Email:    cfg.Page.AccountEmail,
			Password: cfg.Page.AccountPassword,
		}
	}

	for i, ruleCfg := range cfg.Resolver.SubjectRules {
		strategy, err := ParseStrategy(ruleCfg.Strategy)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		rule := SubjectRule{Strategy: strategy}
		switch {
		case ruleCfg.Pattern != "":
			re, err := regexp.Compile(ruleCfg.Pattern)
			if err != nil {
				return nil, fmt.Errorf("%w: rule %d: %v", ErrInvalidRule, i, err)
			}
			rule.Pattern = re
		case strings.TrimSpace(ruleCfg.Match) != "":
			rule.Match = normalizeSubject(ruleCfg.Match)
		default:
			return nil, fmt.Errorf("%w: rule %d has no matcher", ErrInvalidRule, i)
		}
		rc.SubjectRules = append(rc.SubjectRules, rule)
	}
	return rc, nil
}

// Match returns the first rule matching subject
func (rc *ResolutionContext) Match(subject string) (SubjectRule, bool) {
	normalized := normalizeSubject(subject)
	for _, rule := range rc.SubjectRules {
		if rule.Matches(normalized) {
			return rule, true
		}
	}
	return SubjectRule{}, false
}

func normalizeSubject(subject string) string {
	return strings.ToLower(strings.TrimSpace(subject))
}
