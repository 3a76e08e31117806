package services

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/coderelay/core/internal/database/models"
	"gorm.io/gorm"
)

// LogService handles logging operations
type LogService struct {
	db       *gorm.DB
	logLevel models.LogLevel
}

// NewLogService creates a new LogService instance
func NewLogService(db *gorm.DB) *LogService {
	return &LogService{
		db:       db,
		logLevel: models.LogLevelInfo, // Default log level
	}
}

// NewLogServiceWithLevel creates a new LogService instance with specified log level
func NewLogServiceWithLevel(db *gorm.DB, level string) *LogService {
	return &LogService{
		db:       db,
		logLevel: parseLogLevel(level),
	}
}

// parseLogLevel converts a string to LogLevel
func parseLogLevel(level string) models.LogLevel {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return models.LogLevelDebug
	case "INFO":
		return models.LogLevelInfo
	case "WARN", "WARNING":
		return models.LogLevelWarn
	case "ERROR":
		return models.LogLevelError
	default:
		return models.LogLevelInfo
	}
}

// SetLogLevel sets the minimum log level
func (s *LogService) SetLogLevel(level string) {
	s.logLevel = parseLogLevel(level)
}

// GetLogLevel returns the current log level
func (s *LogService) GetLogLevel() models.LogLevel {
	return s.logLevel
}

var levelPriority = map[models.LogLevel]int{
	models.LogLevelDebug: 0,
	models.LogLevelInfo:  1,
	models.LogLevelWarn:  2,
	models.LogLevelError: 3,
}

// shouldLog checks if a log entry should be recorded based on log level
func (s *LogService) shouldLog(level models.LogLevel) bool {
	return levelPriority[level] >= levelPriority[s.logLevel]
}

// LogEntry represents a log entry to be created
type LogEntry struct {
	Level   models.LogLevel
	Module  models.LogModule
	Action  string
	Message string
	Details interface{} // Will be serialized to JSON
}

// Log creates a new log entry
func (s *LogService) Log(entry LogEntry) error {
	if !s.shouldLog(entry.Level) {
		return nil
	}

	var detailsJSON string
	if entry.Details != nil {
		bytes, err := json.Marshal(entry.Details)
		if err != nil {
			detailsJSON = "{}"
		} else {
			detailsJSON = string(bytes)
		}
	}

	log := &models.Log{
		Level:   string(entry.Level),
		Module:  string(entry.Module),
		Action:  entry.Action,
		Message: entry.Message,
		Details: detailsJSON,
	}

	return s.db.Create(log).Error
}

// LogInfo creates an INFO level log entry
func (s *LogService) LogInfo(module models.LogModule, action, message string, details interface{}) error {
	return s.Log(LogEntry{Level: models.LogLevelInfo, Module: module, Action: action, Message: message, Details: details})
}

// LogWarn creates a WARN level log entry
func (s *LogService) LogWarn(module models.LogModule, action, message string, details interface{}) error {
	return s.Log(LogEntry{Level: models.LogLevelWarn, Module: module, Action: action, Message: message, Details: details})
}

// LogError creates an ERROR level log entry
func (s *LogService) LogError(module models.LogModule, action, message string, details interface{}) error {
	return s.Log(LogEntry{Level: models.LogLevelError, Module: module, Action: action, Message: message, Details: details})
}

// LogDebug creates a DEBUG level log entry
func (s *LogService) LogDebug(module models.LogModule, action, message string, details interface{}) error {
	return s.Log(LogEntry{Level: models.LogLevelDebug, Module: module, Action: action, Message: message, Details: details})
}

// ===== API Request Logging =====

// APIRequestDetails represents details for API request logs
type APIRequestDetails struct {
	Method     string `json:"method"`
	Path       string `json:"path"`
	StatusCode int    `json:"status_code"`
	Duration   int64  `json:"duration_ms"`
	ClientIP   string `json:"client_ip"`
	UserAgent  string `json:"user_agent,omitempty"`
}

// LogAPIRequest logs an API request
func (s *LogService) LogAPIRequest(method, path string, statusCode int, durationMs int64, clientIP, userAgent string) error {
	level := models.LogLevelInfo
	if statusCode >= 400 && statusCode < 500 {
		level = models.LogLevelWarn
	} else if statusCode >= 500 {
		level = models.LogLevelError
	}

	return s.Log(LogEntry{
		Level:   level,
		Module:  models.LogModuleAPI,
		Action:  "request",
		Message: method + " " + path,
		Details: APIRequestDetails{
			Method:     method,
			Path:       path,
			StatusCode: statusCode,
			Duration:   durationMs,
			ClientIP:   clientIP,
			UserAgent:  userAgent,
		},
	})
}

// ===== Code Fetch Logging =====

// CodeFetchDetails represents details for code fetch logs
type CodeFetchDetails struct {
	MessageID  string `json:"message_id,omitempty"`
	Subject    string `json:"subject,omitempty"`
	Strategy   string `json:"strategy,omitempty"`
	Outcome    string `json:"outcome"`
	LookbackS  int64  `json:"lookback_s"`
	DurationMs int64  `json:"duration_ms"`
	ErrorMsg   string `json:"error_msg,omitempty"`
}

// LogCodeFetch logs the result of a fetch-latest-code operation. The code
// itself is never written to the log table.
func (s *LogService) LogCodeFetch(details CodeFetchDetails, err error) error {
	level := models.LogLevelInfo
	message := "Verification code resolved"

	switch {
	case details.Outcome == models.OutcomeNotFound:
		level = models.LogLevelWarn
		message = "No code found in message"
	case err != nil:
		level = models.LogLevelError
		details.ErrorMsg = err.Error()
		message = "Failed to fetch verification code"
	case details.Outcome != models.OutcomeCode:
		message = "No matching message in lookback window"
	}

	return s.Log(LogEntry{
		Level:   level,
		Module:  models.LogModuleResolver,
		Action:  "fetch_code",
		Message: message,
		Details: details,
	})
}

// ===== Delivery Logging =====

// DeliveryDetails represents details for delivery logs
type DeliveryDetails struct {
	Recipient string `json:"recipient"`
	Status    string `json:"status"`
	ErrorMsg  string `json:"error_msg,omitempty"`
}

// LogDelivery logs a delivery attempt to one recipient
func (s *LogService) LogDelivery(recipient string, err error) error {
	details := DeliveryDetails{Recipient: recipient, Status: models.DeliveryStatusSent}
	level := models.LogLevelInfo
	message := "Message delivered"

	if err != nil {
		level = models.LogLevelError
		details.Status = models.DeliveryStatusFailed
		details.ErrorMsg = err.Error()
		message = "Message delivery failed"
	}

	return s.Log(LogEntry{
		Level:   level,
		Module:  models.LogModuleDelivery,
		Action:  "send",
		Message: message,
		Details: details,
	})
}

// LogAPIKeyReset logs an API key reset event
func (s *LogService) LogAPIKeyReset(source models.LogModule) error {
	return s.LogInfo(source, "api_key_reset", "API key reset", nil)
}

// ===== Log Query Methods =====

// LogQuery represents query parameters for log retrieval
type LogQuery struct {
	Level     string
	Module    string
	Action    string
	StartTime *time.Time
	EndTime   *time.Time
	Page      int
	Limit     int
}

// LogQueryResult represents the result of a log query
type LogQueryResult struct {
	Total int64
	Logs  []models.Log
}

// QueryLogs retrieves logs based on query parameters
func (s *LogService) QueryLogs(query LogQuery) (*LogQueryResult, error) {
	db := s.db.Model(&models.Log{})

	if query.Level != "" {
		db = db.Where("level = ?", strings.ToUpper(query.Level))
	}
	if query.Module != "" {
		db = db.Where("module = ?", query.Module)
	}
	if query.Action != "" {
		db = db.Where("action = ?", query.Action)
	}
	if query.StartTime != nil {
		db = db.Where("created_at >= ?", query.StartTime)
	}
	if query.EndTime != nil {
		db = db.Where("created_at <= ?", query.EndTime)
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, err
	}

	if query.Page <= 0 {
		query.Page = 1
	}
	if query.Limit <= 0 {
		query.Limit = 50
	}

	offset := (query.Page - 1) * query.Limit

	var logs []models.Log
	if err := db.Order("created_at DESC").Order("id DESC").Offset(offset).Limit(query.Limit).Find(&logs).Error; err != nil {
		return nil, err
	}

	return &LogQueryResult{
		Total: total,
		Logs:  logs,
	}, nil
}

// GetLogByID retrieves a single log entry by ID
func (s *LogService) GetLogByID(id uint) (*models.Log, error) {
	var log models.Log
	if err := s.db.First(&log, id).Error; err != nil {
		return nil, err
	}
	return &log, nil
}

// GetRecentLogs retrieves the most recent logs
func (s *LogService) GetRecentLogs(limit int) ([]models.Log, error) {
	if limit <= 0 {
		limit = 100
	}

	var logs []models.Log
	if err := s.db.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}

// PurgeOlderThan deletes log entries older than the cutoff
func (s *LogService) PurgeOlderThan(cutoff time.Time) (int64, error) {
	result := s.db.Where("created_at < ?", cutoff).Delete(&models.Log{})
	return result.RowsAffected, result.Error
}
