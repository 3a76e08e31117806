package models

import (
	"time"
)

// CodeResult stores the outcome of one resolution attempt
type CodeResult struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	MessageID  string    `gorm:"size:255;index" json:"message_id"`
	Subject    string    `gorm:"size:500" json:"subject"`
	Sender     string    `gorm:"size:255" json:"sender"`
	ReceivedAt time.Time `gorm:"index" json:"received_at"`
	Strategy   string    `gorm:"size:50" json:"strategy"`
	Outcome    string    `gorm:"size:20;index" json:"outcome"` // code, not_found
	Code       string    `gorm:"size:8" json:"code,omitempty"`
	SourceURL  string    `gorm:"size:1000" json:"source_url,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	CreatedAt  time.Time `gorm:"index" json:"created_at"`
}

// Outcome values stored in CodeResult.Outcome
const (
	OutcomeCode     = "code"
	OutcomeNotFound = "not_found"
)
