package services

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/coderelay/core/internal/database/models"
	"github.com/coderelay/core/internal/mailbox"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) (*gorm.DB, func()) {
	tmpFile, err := os.CreateTemp("", "services_test_*.db")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	tmpFile.Close()

	db, err := gorm.Open(sqlite.Open(tmpFile.Name()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		os.Remove(tmpFile.Name())
		t.Fatalf("Failed to open database: %v", err)
	}

	if err := db.AutoMigrate(&models.Log{}, &models.CodeResult{}, &models.Delivery{}); err != nil {
		os.Remove(tmpFile.Name())
		t.Fatalf("Failed to migrate: %v", err)
	}

	cleanup := func() {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
		os.Remove(tmpFile.Name())
	}

	return db, cleanup
}

// fakeFetcher returns a fixed message and records the last query
type fakeFetcher struct {
	mu    sync.Mutex
	msg   *mailbox.InboundMessage
	err   error
	last  mailbox.Query
	calls int
}

func (f *fakeFetcher) FetchLatest(_ context.Context, q mailbox.Query) (*mailbox.InboundMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = q
	if f.err != nil {
		return nil, f.err
	}
	if f.msg == nil {
		return nil, mailbox.ErrNoMatchingMessage
	}
	m := *f.msg
	return &m, nil
}

// fakeChannel records every send
type fakeChannel struct {
	ready  atomic.Bool
	mu     sync.Mutex
	sent   []string
	failTo map[string]error
}

func newFakeChannel(ready bool) *fakeChannel {
	c := &fakeChannel{failTo: map[string]error{}}
	c.ready.Store(ready)
	return c
}

func (c *fakeChannel) Ready() bool { return c.ready.Load() }

func (c *fakeChannel) Send(_ context.Context, to, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, to+"|"+text)
	return c.failTo[to]
}

func (c *fakeChannel) sends() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}
