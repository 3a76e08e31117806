package services

import (
	"errors"
	"testing"
	"time"

	"github.com/coderelay/core/internal/database/models"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestProperty_APIRequestLogLevel(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	properties.Property("api_request_level_follows_status_code", prop.ForAll(
		func(statusCode int) bool {
			db, cleanup := setupTestDB(t)
			defer cleanup()

			service := NewLogService(db)
			beforeTime := time.Now().Add(-time.Second)
			if err := service.LogAPIRequest("GET", "/api/status", statusCode, 12, "127.0.0.1", "test"); err != nil {
				return false
			}

			var log models.Log
			if err := db.Where("module = ? AND action = ?", "api", "request").First(&log).Error; err != nil {
				return false
			}

			want := "INFO"
			if statusCode >= 500 {
				want = "ERROR"
			} else if statusCode >= 400 {
				want = "WARN"
			}
			return log.Level == want &&
				log.Message == "GET /api/status" &&
				log.CreatedAt.After(beforeTime)
		},
		gen.IntRange(200, 599),
	))

	properties.TestingRun(t)
}

func TestProperty_LevelFiltering(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	levels := []models.LogLevel{models.LogLevelDebug, models.LogLevelInfo, models.LogLevelWarn, models.LogLevelError}

	properties.Property("entries_below_minimum_level_are_dropped", prop.ForAll(
		func(minIdx, entryIdx int) bool {
			db, cleanup := setupTestDB(t)
			defer cleanup()

			service := NewLogServiceWithLevel(db, string(levels[minIdx]))
			if err := service.Log(LogEntry{Level: levels[entryIdx], Module: models.LogModuleCLI, Action: "x"}); err != nil {
				return false
			}

			var count int64
			db.Model(&models.Log{}).Count(&count)
			if entryIdx >= minIdx {
				return count == 1
			}
			return count == 0
		},
		gen.IntRange(0, 3),
		gen.IntRange(0, 3),
	))

	properties.TestingRun(t)
}

func TestLogCodeFetch_LevelsAndRedaction(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	service := NewLogService(db)

	service.LogCodeFetch(CodeFetchDetails{Outcome: models.OutcomeCode, MessageID: "m"}, nil)
	service.LogCodeFetch(CodeFetchDetails{Outcome: models.OutcomeNotFound}, ErrNoCodeFound)
	service.LogCodeFetch(CodeFetchDetails{Outcome: "error"}, errors.New("imap down"))

	result, err := service.QueryLogs(LogQuery{Module: string(models.LogModuleResolver)})
	if err != nil {
		t.Fatal(err)
	}
	if result.Total != 3 {
		t.Fatalf("total = %d", result.Total)
	}
	levels := map[string]bool{}
	for _, l := range result.Logs {
		levels[l.Level] = true
	}
	if !levels["INFO"] || !levels["WARN"] || !levels["ERROR"] {
		t.Errorf("levels = %v", levels)
	}

	warnOnly, _ := service.QueryLogs(LogQuery{Level: "warn"})
	if warnOnly.Total != 1 {
		t.Errorf("warn total = %d", warnOnly.Total)
	}
}

func TestQueryLogs_Pagination(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	service := NewLogService(db)

	for i := 0; i < 7; i++ {
		service.LogInfo(models.LogModuleChannel, "connect", "Device connected", nil)
	}
	page, err := service.QueryLogs(LogQuery{Page: 2, Limit: 5})
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 7 || len(page.Logs) != 2 {
		t.Errorf("total=%d len=%d", page.Total, len(page.Logs))
	}

	removed, err := service.PurgeOlderThan(time.Now().Add(time.Minute))
	if err != nil || removed != 7 {
		t.Errorf("purge removed %d, err %v", removed, err)
	}
}
