package functions

import (
	"context"
	"log"

	"github.com/coderelay/core/internal/database/models"
	"github.com/coderelay/core/internal/functions/local"
	"github.com/coderelay/core/internal/mailbox"
)

// PageResolver extracts a code from a verification page.
// It only ever returns Code or NotFound.
type PageResolver interface {
	ResolveFromURL(ctx context.Context, url string, creds *Credentials) Outcome
}

// EventLogger receives resolver diagnostics
type EventLogger interface {
	LogWarn(module models.LogModule, action, message string, details interface{}) error
}

// Resolution is the final outcome plus how it was reached
type Resolution struct {
	Outcome   Outcome
	Strategy  Strategy // empty when no subject rule matched
	SourceURL string   // verification URL that was followed, if any
}

// Processor turns a fetched message into a code
type Processor struct {
	pages  PageResolver
	logger EventLogger
}

// NewProcessor creates a new Processor. pages may be nil, in which case
// messages that need a verification page resolve to NotFound.
func NewProcessor(pages PageResolver, logger EventLogger) *Processor {
	return &Processor{
		pages:  pages,
		logger: logger,
	}
}

// Resolve classifies msg and returns Code, PendingURL or NotFound without any I/O
func (p *Processor) Resolve(msg mailbox.InboundMessage, rc *ResolutionContext) Outcome {
	outcome, _ := p.classify(msg, rc)
	return outcome
}

// ResolveFinal resolves msg to Code or NotFound, visiting the verification
// page when the message only carries a link
func (p *Processor) ResolveFinal(ctx context.Context, msg mailbox.InboundMessage, rc *ResolutionContext) Outcome {
	return p.ResolveDetailed(ctx, msg, rc).Outcome
}

// ResolveDetailed is ResolveFinal with the matched strategy and followed URL
func (p *Processor) ResolveDetailed(ctx context.Context, msg mailbox.InboundMessage, rc *ResolutionContext) Resolution {
	outcome, strategy := p.classify(msg, rc)
	res := Resolution{Outcome: outcome, Strategy: strategy}
	if outcome.Kind != KindPendingURL {
		return res
	}

	res.SourceURL = outcome.Value
	if p.pages == nil {
		log.Printf("[Resolver] No page resolver configured, cannot follow %s", outcome.Value)
		p.logWarn("page_unavailable", "Verification link found but no page resolver is configured", map[string]string{
			"url": outcome.Value,
		})
		res.Outcome = NotFound()
		return res
	}

	var creds *Credentials
	if strategy == StrategyLinkAuthenticated {
		creds = rc.Credentials
	}

	// The page result is final: the inline body is not scanned again.
	final := p.pages.ResolveFromURL(ctx, outcome.Value, creds)
	if !final.IsCode() || !local.IsValidCode(final.Value) {
		p.logWarn("link_unresolved", "Verification link did not yield a code", map[string]string{
			"url":      outcome.Value,
			"strategy": string(strategy),
		})
		res.Outcome = NotFound()
		return res
	}
	res.Outcome = final
	return res
}

// classify runs subject dispatch. First matching rule wins; no fallthrough.
func (p *Processor) classify(msg mailbox.InboundMessage, rc *ResolutionContext) (Outcome, Strategy) {
	if rc == nil {
		return scanDigits(msg.Body), ""
	}

	rule, ok := rc.Match(msg.Subject)
	if !ok {
		return scanDigits(msg.Body), ""
	}

	switch rule.Strategy {
	case StrategyLinkAuthenticated, StrategyLinkRegex:
		if url, found := local.FindVerificationURL(msg.Body, rc.LinkMarkers); found {
			return PendingURL(url), rule.Strategy
		}
		return scanDigits(msg.Body), rule.Strategy
	default:
		return scanDigits(msg.Body), rule.Strategy
	}
}

func scanDigits(body string) Outcome {
	if code, ok := local.FindCode(body); ok {
		return Code(code)
	}
	return NotFound()
}

func (p *Processor) logWarn(action, message string, details interface{}) {
	if p.logger == nil {
		return
	}
	if err := p.logger.LogWarn(models.LogModuleResolver, action, message, details); err != nil {
		log.Printf("[Resolver] Failed to persist log: %v", err)
	}
}
