package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/coderelay/core/internal/config"
	"github.com/coderelay/core/internal/database/models"
	"github.com/coderelay/core/internal/functions"
	"github.com/coderelay/core/internal/mailbox"
	"gorm.io/gorm"
)

// stubPages answers every verification page with the same outcome
type stubPages struct {
	outcome functions.Outcome
	creds   *functions.Credentials
}

func (p *stubPages) ResolveFromURL(_ context.Context, _ string, creds *functions.Credentials) functions.Outcome {
	p.creds = creds
	return p.outcome
}

func newTestCodeService(t *testing.T, fetcher mailbox.Fetcher, pages functions.PageResolver, db *gorm.DB) *CodeService {
	t.Helper()
	cfg := config.Default()
	cfg.Page.AccountEmail = "viewer@example.com"
	cfg.Page.AccountPassword = "hunter2"
	rc, err := functions.NewResolutionContext(cfg)
	if err != nil {
		t.Fatal(err)
	}
	var logService *LogService
	if db != nil {
		logService = NewLogService(db)
	}
	return NewCodeService(fetcher, functions.NewProcessor(pages, nil), rc, db, logService, CodeServiceOptions{
		Sender:   "info@account.netflix.com",
		Subjects: []string{"sign-in code", "temporary access code"},
	})
}

func TestFetchLatestCode_DirectCode(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	fetcher := &fakeFetcher{msg: &mailbox.InboundMessage{
		ID:         "m-1",
		Subject:    "Netflix: your sign-in code",
		Sender:     "info@account.netflix.com",
		Body:       "Your code is 483920, expires soon",
		ReceivedAt: time.Now().Add(-time.Minute),
	}}
	svc := newTestCodeService(t, fetcher, nil, db)

	result, err := svc.FetchLatestCode(context.Background(), 0)
	if err != nil {
		t.Fatalf("FetchLatestCode: %v", err)
	}
	if result.Code != "483920" || result.Strategy != string(functions.StrategyDirect) {
		t.Errorf("result = %+v", result)
	}

	if fetcher.last.Sender != "info@account.netflix.com" || len(fetcher.last.Subjects) != 2 {
		t.Errorf("query = %+v", fetcher.last)
	}
	if window := time.Since(fetcher.last.Since); window < 23*time.Hour || window > 25*time.Hour {
		t.Errorf("default lookback window = %v", window)
	}

	var rows []models.CodeResult
	db.Find(&rows)
	if len(rows) != 1 || rows[0].Outcome != models.OutcomeCode || rows[0].Code != "483920" {
		t.Errorf("code_results = %+v", rows)
	}

	var logRow models.Log
	if err := db.Where("action = ?", "fetch_code").First(&logRow).Error; err != nil {
		t.Fatalf("no fetch_code log: %v", err)
	}
	if logRow.Level != "INFO" {
		t.Errorf("log level = %s", logRow.Level)
	}
}

func TestFetchLatestCode_NoMessageInWindow(t *testing.T) {
	fetcher := &fakeFetcher{}
	svc := newTestCodeService(t, fetcher, nil, nil)

	_, err := svc.FetchLatestCode(context.Background(), 15*time.Minute)
	if !errors.Is(err, ErrNoMatchingMessage) {
		t.Fatalf("expected ErrNoMatchingMessage, got %v", err)
	}
	if window := time.Since(fetcher.last.Since); window < 15*time.Minute || window > 16*time.Minute {
		t.Errorf("since = %v ago, want 15m", window)
	}
}

func TestFetchLatestCode_StaleMessageIgnored(t *testing.T) {
	fetcher := &fakeFetcher{msg: &mailbox.InboundMessage{
		ID:         "old",
		Subject:    "Netflix: your sign-in code",
		Body:       "code 111111",
		ReceivedAt: time.Now().Add(-2 * time.Hour),
	}}
	svc := newTestCodeService(t, fetcher, nil, nil)

	if _, err := svc.FetchLatestCode(context.Background(), 15*time.Minute); !errors.Is(err, ErrNoMatchingMessage) {
		t.Fatalf("expected ErrNoMatchingMessage for stale message, got %v", err)
	}
}

func TestFetchLatestCode_NoCodeFound(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	fetcher := &fakeFetcher{msg: &mailbox.InboundMessage{
		ID:         "m-2",
		Subject:    "Your Netflix temporary access code",
		Body:       "Get code: https://x.netflix.com/verify?nftoken=abc",
		ReceivedAt: time.Now(),
	}}
	pages := &stubPages{outcome: functions.NotFound()}
	svc := newTestCodeService(t, fetcher, pages, db)

	if _, err := svc.FetchLatestCode(context.Background(), time.Hour); !errors.Is(err, ErrNoCodeFound) {
		t.Fatalf("expected ErrNoCodeFound, got %v", err)
	}

	var row models.CodeResult
	if err := db.First(&row).Error; err != nil {
		t.Fatal(err)
	}
	if row.Outcome != models.OutcomeNotFound || row.SourceURL != "https://x.netflix.com/verify?nftoken=abc" || row.Code != "" {
		t.Errorf("row = %+v", row)
	}

	var logRow models.Log
	db.Where("action = ?", "fetch_code").First(&logRow)
	if logRow.Level != "WARN" {
		t.Errorf("log level = %s", logRow.Level)
	}
}

func TestFetchLatestCode_AuthenticatedLink(t *testing.T) {
	fetcher := &fakeFetcher{msg: &mailbox.InboundMessage{
		ID:         "m-3",
		Subject:    "Your Netflix temporary access code",
		Body:       "Get code: https://x.netflix.com/verify?nftoken=abc",
		ReceivedAt: time.Now(),
	}}
	pages := &stubPages{outcome: functions.Code("719204")}
	svc := newTestCodeService(t, fetcher, pages, nil)

	result, err := svc.FetchLatestCode(context.Background(), time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if result.Code != "719204" || result.SourceURL == "" {
		t.Errorf("result = %+v", result)
	}
	if pages.creds == nil || pages.creds.Email != "viewer@example.com" {
		t.Errorf("credentials not passed for authenticated strategy: %+v", pages.creds)
	}
}

func TestFetchLatestCode_FetchError(t *testing.T) {
	fetcher := &fakeFetcher{err: mailbox.ErrConnectionFailed}
	svc := newTestCodeService(t, fetcher, nil, nil)

	_, err := svc.FetchLatestCode(context.Background(), time.Hour)
	if !errors.Is(err, mailbox.ErrConnectionFailed) {
		t.Fatalf("expected wrapped ErrConnectionFailed, got %v", err)
	}
	if errors.Is(err, ErrNoMatchingMessage) || errors.Is(err, ErrNoCodeFound) {
		t.Error("connection failure must not look like an empty mailbox")
	}
}

func TestRecentResults(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	for i := 0; i < 3; i++ {
		db.Create(&models.CodeResult{MessageID: "m", Outcome: models.OutcomeCode, Code: "1234"})
	}
	svc := newTestCodeService(t, &fakeFetcher{}, nil, db)
	results, err := svc.RecentResults(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Errorf("got %d results", len(results))
	}
}
