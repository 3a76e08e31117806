package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/coderelay/core/internal/database/models"
	"github.com/coderelay/core/internal/functions"
	"github.com/coderelay/core/internal/mailbox"
	"gorm.io/gorm"
)

// DefaultRequestTimeout bounds a whole FetchLatestCode call
const DefaultRequestTimeout = 90 * time.Second

// CodeServiceOptions configures a CodeService
type CodeServiceOptions struct {
	Sender         string
	Subjects       []string
	RequestTimeout time.Duration
}

// CodeFetchResult is a resolved verification code and the message it came from
type CodeFetchResult struct {
	Code       string    `json:"code"`
	MessageID  string    `json:"message_id"`
	Subject    string    `json:"subject"`
	Sender     string    `json:"sender"`
	ReceivedAt time.Time `json:"received_at"`
	Strategy   string    `json:"strategy,omitempty"`
	SourceURL  string    `json:"source_url,omitempty"`
}

// CodeService fetches the newest verification email and resolves its code
type CodeService struct {
	fetcher    mailbox.Fetcher
	processor  *functions.Processor
	rc         *functions.ResolutionContext
	db         *gorm.DB
	logService *LogService
	opts       CodeServiceOptions
	now        func() time.Time
}

// NewCodeService creates a CodeService. db and logService may be nil.
func NewCodeService(fetcher mailbox.Fetcher, processor *functions.Processor, rc *functions.ResolutionContext,
	db *gorm.DB, logService *LogService, opts CodeServiceOptions) *CodeService {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	return &CodeService{
		fetcher:    fetcher,
		processor:  processor,
		rc:         rc,
		db:         db,
		logService: logService,
		opts:       opts,
		now:        time.Now,
	}
}

// DefaultLookback returns the configured lookback window
func (s *CodeService) DefaultLookback() time.Duration {
	if s.rc.Lookback > 0 {
		return s.rc.Lookback
	}
	return 24 * time.Hour
}

// FetchLatestCode finds the newest matching message received within lookback
// and resolves it to a code. It returns ErrNoMatchingMessage or ErrNoCodeFound
// when there is nothing to return.
func (s *CodeService) FetchLatestCode(ctx context.Context, lookback time.Duration) (*CodeFetchResult, error) {
	if lookback <= 0 {
		lookback = s.DefaultLookback()
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
	defer cancel()

	start := s.now()
	since := start.Add(-lookback)
	details := CodeFetchDetails{LookbackS: int64(lookback / time.Second)}

	msg, err := s.fetcher.FetchLatest(ctx, mailbox.Query{
		Sender:   s.opts.Sender,
		Subjects: s.opts.Subjects,
		Since:    since,
	})
	if err != nil {
		details.DurationMs = time.Since(start).Milliseconds()
		if errors.Is(err, ErrNoMatchingMessage) {
			log.Printf("[CodeService] No matching message in the last %v", lookback)
			details.Outcome = "no_message"
			s.logFetch(details, nil)
			return nil, ErrNoMatchingMessage
		}
		details.Outcome = "error"
		s.logFetch(details, err)
		return nil, fmt.Errorf("fetch latest message: %w", err)
	}

	// SINCE is date-granular, so the window is enforced here
	if msg.ReceivedAt.Before(since) {
		log.Printf("[CodeService] Newest message %s is older than %v, ignoring", msg.ID, lookback)
		details.MessageID = msg.ID
		details.Outcome = "stale"
		details.DurationMs = time.Since(start).Milliseconds()
		s.logFetch(details, nil)
		return nil, ErrNoMatchingMessage
	}

	res := s.processor.ResolveDetailed(ctx, *msg, s.rc)
	duration := time.Since(start)

	details.MessageID = msg.ID
	details.Subject = msg.Subject
	details.Strategy = string(res.Strategy)
	details.DurationMs = duration.Milliseconds()

	record := &models.CodeResult{
		MessageID:  msg.ID,
		Subject:    msg.Subject,
		Sender:     msg.Sender,
		ReceivedAt: msg.ReceivedAt,
		Strategy:   string(res.Strategy),
		SourceURL:  res.SourceURL,
		DurationMs: duration.Milliseconds(),
	}

	if !res.Outcome.IsCode() {
		record.Outcome = models.OutcomeNotFound
		details.Outcome = models.OutcomeNotFound
		s.record(record)
		s.logFetch(details, ErrNoCodeFound)
		return nil, ErrNoCodeFound
	}

	record.Outcome = models.OutcomeCode
	record.Code = res.Outcome.Value
	details.Outcome = models.OutcomeCode
	s.record(record)
	s.logFetch(details, nil)
	log.Printf("[CodeService] Resolved code from %s in %v", msg.ID, duration)

	return &CodeFetchResult{
		Code:       res.Outcome.Value,
		MessageID:  msg.ID,
		Subject:    msg.Subject,
		Sender:     msg.Sender,
		ReceivedAt: msg.ReceivedAt,
		Strategy:   string(res.Strategy),
		SourceURL:  res.SourceURL,
	}, nil
}

// RecentResults returns the newest recorded resolutions
func (s *CodeService) RecentResults(limit int) ([]models.CodeResult, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	var results []models.CodeResult
	if err := s.db.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (s *CodeService) record(r *models.CodeResult) {
	if s.db == nil {
		return
	}
	if err := s.db.Create(r).Error; err != nil {
		log.Printf("[CodeService] Failed to record result: %v", err)
	}
}

func (s *CodeService) logFetch(details CodeFetchDetails, err error) {
	if s.logService == nil {
		return
	}
	if logErr := s.logService.LogCodeFetch(details, err); logErr != nil {
		log.Printf("[CodeService] Failed to persist log: %v", logErr)
	}
}
