package functions

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/coderelay/core/internal/config"
	"github.com/coderelay/core/internal/mailbox"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// fakePages records calls and returns a fixed outcome
type fakePages struct {
	mu      sync.Mutex
	outcome Outcome
	calls   []string
	creds   []*Credentials
}

func (f *fakePages) ResolveFromURL(ctx context.Context, url string, creds *Credentials) Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	f.creds = append(f.creds, creds)
	return f.outcome
}

func testContext(t *testing.T) *ResolutionContext {
	t.Helper()
	cfg := config.Default()
	cfg.Page.AccountEmail = "viewer@example.com"
	cfg.Page.AccountPassword = "hunter2"
	rc, err := NewResolutionContext(cfg)
	if err != nil {
		t.Fatalf("NewResolutionContext: %v", err)
	}
	return rc
}

func message(subject, body string) mailbox.InboundMessage {
	return mailbox.InboundMessage{
		ID:         "<test@example.com>",
		Subject:    subject,
		Sender:     "info@account.netflix.com",
		Body:       body,
		ReceivedAt: time.Now(),
	}
}

func TestResolveFinal_SignInCode(t *testing.T) {
	pages := &fakePages{outcome: Code("000000")}
	p := NewProcessor(pages, nil)

	got := p.ResolveFinal(context.Background(), message("Netflix: your sign-in code", "Your code is 483920, expires soon"), testContext(t))
	if got != Code("483920") {
		t.Fatalf("got %v, want code(483920)", got)
	}
	if len(pages.calls) != 0 {
		t.Errorf("page resolver called %d times", len(pages.calls))
	}
}

func TestResolveFinal_TemporaryAccessCodeFollowsLink(t *testing.T) {
	// page resolvers trim before returning
	pages := &fakePages{outcome: Code("719204")}
	p := NewProcessor(pages, nil)
	rc := testContext(t)

	body := "Request from a new device. Get code: https://x.netflix.com/verify?nftoken=abc"
	got := p.ResolveFinal(context.Background(), message("Your Netflix temporary access code", body), rc)
	if got != Code("719204") {
		t.Fatalf("got %v, want code(719204)", got)
	}
	if len(pages.calls) != 1 || pages.calls[0] != "https://x.netflix.com/verify?nftoken=abc" {
		t.Fatalf("calls = %v", pages.calls)
	}
	if pages.creds[0] == nil || pages.creds[0].Email != "viewer@example.com" {
		t.Errorf("authenticated strategy did not pass credentials: %+v", pages.creds[0])
	}
}

func TestResolveFinal_LinkRegexResolvesUnauthenticated(t *testing.T) {
	pages := &fakePages{outcome: Code("5521")}
	p := NewProcessor(pages, nil)

	got := p.ResolveFinal(context.Background(), message("Update your Netflix Household", "Confirm: https://x.netflix.com/account/verify/1"), testContext(t))
	if got != Code("5521") {
		t.Fatalf("got %v", got)
	}
	if pages.creds[0] != nil {
		t.Errorf("link_regex passed credentials")
	}
}

func TestResolveFinal_NoInlineRetryAfterLinkFailure(t *testing.T) {
	pages := &fakePages{outcome: NotFound()}
	p := NewProcessor(pages, nil)

	body := "Code 123456 or visit https://x.netflix.com/verify?t=1"
	got := p.ResolveFinal(context.Background(), message("Household update", body), testContext(t))
	if got != NotFound() {
		t.Fatalf("got %v, want not_found", got)
	}
	if len(pages.calls) != 1 {
		t.Fatalf("expected one page visit, got %d", len(pages.calls))
	}
}

func TestResolveFinal_LinkStrategyWithoutURLScansDigits(t *testing.T) {
	pages := &fakePages{outcome: Code("999999")}
	p := NewProcessor(pages, nil)

	got := p.ResolveFinal(context.Background(), message("Your temporary access code", "Use 4821 now. Help: https://help.netflix.com/"), testContext(t))
	if got != Code("4821") {
		t.Fatalf("got %v", got)
	}
	if len(pages.calls) != 0 {
		t.Errorf("page resolver called for a body without a qualifying link")
	}
}

func TestResolveFinal_DirectNeverFollowsLinks(t *testing.T) {
	pages := &fakePages{outcome: Code("111111")}
	p := NewProcessor(pages, nil)

	got := p.ResolveFinal(context.Background(), message("Your sign-in code", "https://x.netflix.com/verify?x=1 then nothing"), testContext(t))
	if got != NotFound() {
		t.Fatalf("got %v", got)
	}
	if len(pages.calls) != 0 {
		t.Errorf("direct strategy followed a link")
	}
}

func TestResolveFinal_UnmatchedSubjectScansBody(t *testing.T) {
	p := NewProcessor(&fakePages{outcome: Code("111111")}, nil)
	got := p.ResolveFinal(context.Background(), message("Something else", "id 123 code 45678 end"), testContext(t))
	if got != Code("45678") {
		t.Fatalf("got %v", got)
	}
}

func TestResolveFinal_NilPageResolver(t *testing.T) {
	p := NewProcessor(nil, nil)
	got := p.ResolveFinal(context.Background(), message("temporary access code", "https://x.netflix.com/verify"), testContext(t))
	if got != NotFound() {
		t.Fatalf("got %v", got)
	}
}

func TestResolveFinal_RejectsMalformedPageResult(t *testing.T) {
	p := NewProcessor(&fakePages{outcome: Code("12 34")}, nil)
	got := p.ResolveFinal(context.Background(), message("temporary access code", "https://x.netflix.com/verify"), testContext(t))
	if got != NotFound() {
		t.Fatalf("got %v", got)
	}
}

func TestResolve_ReturnsPendingURL(t *testing.T) {
	p := NewProcessor(nil, nil)
	got := p.Resolve(message("temporary access code", "go to https://x.netflix.com/verify?a=b."), testContext(t))
	if got != PendingURL("https://x.netflix.com/verify?a=b") {
		t.Fatalf("got %v", got)
	}
}

func TestResolveDetailed_ReportsStrategyAndURL(t *testing.T) {
	p := NewProcessor(&fakePages{outcome: Code("719204")}, nil)
	res := p.ResolveDetailed(context.Background(), message("temporary access code", "https://x.netflix.com/verify?n=1"), testContext(t))
	if res.Strategy != StrategyLinkAuthenticated || res.SourceURL != "https://x.netflix.com/verify?n=1" {
		t.Fatalf("res = %+v", res)
	}
}

func TestSubjectRulesFirstMatchWins(t *testing.T) {
	cfg := config.Default()
	cfg.Resolver.SubjectRules = []config.SubjectRuleConfig{
		{Match: "code", Strategy: "direct"},
		{Match: "access code", Strategy: "link_authenticated"},
	}
	rc, err := NewResolutionContext(cfg)
	if err != nil {
		t.Fatal(err)
	}
	rule, ok := rc.Match("  Your ACCESS Code ")
	if !ok || rule.Strategy != StrategyDirect {
		t.Fatalf("rule = %+v, %v", rule, ok)
	}
}

func TestNewResolutionContextRejectsBadRules(t *testing.T) {
	for _, rule := range []config.SubjectRuleConfig{
		{Match: "x", Strategy: "carrier-pigeon"},
		{Pattern: "(", Strategy: "direct"},
		{Strategy: "direct"},
	} {
		cfg := config.Default()
		cfg.Resolver.SubjectRules = []config.SubjectRuleConfig{rule}
		if _, err := NewResolutionContext(cfg); err == nil {
			t.Errorf("rule %+v accepted", rule)
		}
	}
}

func TestPatternRule(t *testing.T) {
	cfg := config.Default()
	cfg.Resolver.SubjectRules = []config.SubjectRuleConfig{{Pattern: `^netflix: .*code$`, Strategy: "direct"}}
	rc, err := NewResolutionContext(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := rc.Match("Netflix: your sign-in code"); !ok {
		t.Error("pattern rule did not match")
	}
}

// Resolution is deterministic for the same message, context and page content.
func TestProperty_ResolveFinalIdempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	rc := testContext(t)
	subjects := []string{"Your sign-in code", "Your temporary access code", "Household", "Hello"}

	properties.Property("same_input_same_outcome", prop.ForAll(
		func(subjectIdx int, code int, withLink bool) bool {
			body := fmt.Sprintf("Your code is %06d.", code)
			if withLink {
				body += " https://x.netflix.com/verify?c=1"
			}
			p := NewProcessor(&fakePages{outcome: Code("246810")}, nil)
			msg := message(subjects[subjectIdx], body)
			first := p.ResolveFinal(context.Background(), msg, rc)
			second := p.ResolveFinal(context.Background(), msg, rc)
			return first == second && first.Kind != KindPendingURL
		},
		gen.IntRange(0, len(subjects)-1),
		gen.IntRange(0, 999999),
		gen.Bool(),
	))

	properties.Property("no_digits_no_link_is_not_found", prop.ForAll(
		func(subjectIdx int, words string) bool {
			p := NewProcessor(&fakePages{outcome: Code("246810")}, nil)
			return p.ResolveFinal(context.Background(), message(subjects[subjectIdx], words), rc) == NotFound()
		},
		gen.IntRange(0, len(subjects)-1),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
