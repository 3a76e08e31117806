package models

import (
	"time"
)

// Delivery records one attempt to relay text to a recipient
type Delivery struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Recipient string    `gorm:"size:255;index" json:"recipient"`
	Text      string    `gorm:"type:text" json:"text"`
	Status    string    `gorm:"size:20" json:"status"` // sent, failed
	Error     string    `gorm:"type:text" json:"error,omitempty"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// Delivery status values
const (
	DeliveryStatusSent   = "sent"
	DeliveryStatusFailed = "failed"
)
