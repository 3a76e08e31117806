package models

import (
	"time"
)

// BrowserSession persists the authenticated cookie set for one account
type BrowserSession struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	Account          string    `gorm:"uniqueIndex;size:255;not null" json:"account"`
	CookiesEncrypted string    `gorm:"type:text;not null" json:"-"`
	CookieCount      int       `json:"cookie_count"`
	LoggedInAt       time.Time `json:"logged_in_at"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}
