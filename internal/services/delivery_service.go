package services

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/coderelay/core/internal/database/models"
	"github.com/coderelay/core/internal/functions/local"
	"gorm.io/gorm"
)

// DefaultMessageTemplate wraps relayed codes
const DefaultMessageTemplate = "🤖 Code Bot:\n\n%s"

// Channel is the messaging connection used to deliver text
type Channel interface {
	Ready() bool
	Send(ctx context.Context, to, text string) error
}

// DeliveryOptions configures a DeliveryService
type DeliveryOptions struct {
	Recipients  []string
	Template    string
	SendTimeout time.Duration
}

// DeliveryReport is the per-recipient result of a Send call
type DeliveryReport struct {
	Recipient string `json:"recipient"`
	Sent      bool   `json:"sent"`
	Error     string `json:"error,omitempty"`
}

// DeliveryService relays text through the channel to every configured recipient
type DeliveryService struct {
	channel    Channel
	db         *gorm.DB
	logService *LogService
	opts       DeliveryOptions
}

// NewDeliveryService creates a DeliveryService. db and logService may be nil.
func NewDeliveryService(channel Channel, db *gorm.DB, logService *LogService, opts DeliveryOptions) *DeliveryService {
	if opts.Template == "" {
		opts.Template = DefaultMessageTemplate
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 20 * time.Second
	}
	var recipients []string
	for _, r := range opts.Recipients {
		if r = strings.TrimSpace(r); r != "" {
			recipients = append(recipients, r)
		}
	}
	opts.Recipients = recipients
	return &DeliveryService{
		channel:    channel,
		db:         db,
		logService: logService,
		opts:       opts,
	}
}

// Ready reports whether the channel can deliver
func (s *DeliveryService) Ready() bool {
	return s.channel != nil && s.channel.Ready()
}

// Recipients returns the configured recipients
func (s *DeliveryService) Recipients() []string {
	return append([]string(nil), s.opts.Recipients...)
}

// Send delivers text to every recipient. No attempt is made unless the channel
// is ready. It fails only when every recipient fails.
func (s *DeliveryService) Send(ctx context.Context, text string) ([]DeliveryReport, error) {
	if !s.Ready() {
		return nil, ErrChannelNotReady
	}
	if len(s.opts.Recipients) == 0 {
		return nil, ErrNoRecipients
	}

	reports := make([]DeliveryReport, 0, len(s.opts.Recipients))
	var lastErr error
	sent := 0
	for _, recipient := range s.opts.Recipients {
		sendCtx, cancel := context.WithTimeout(ctx, s.opts.SendTimeout)
		err := s.channel.Send(sendCtx, recipient, text)
		cancel()

		report := DeliveryReport{Recipient: recipient, Sent: err == nil}
		if err != nil {
			lastErr = err
			report.Error = err.Error()
			log.Printf("[Delivery] Failed to deliver to %s: %v", recipient, err)
		} else {
			sent++
			log.Printf("[Delivery] Delivered to %s", recipient)
		}
		reports = append(reports, report)
		s.record(recipient, text, err)
	}

	if sent == 0 {
		return reports, fmt.Errorf("%w: %v", ErrDeliveryFailed, lastErr)
	}
	return reports, nil
}

// SendCode validates code and relays it wrapped in the message template
func (s *DeliveryService) SendCode(ctx context.Context, code string) ([]DeliveryReport, error) {
	code = strings.TrimSpace(code)
	if !local.IsValidCode(code) {
		return nil, ErrInvalidCodeFormat
	}
	return s.Send(ctx, s.FormatCode(code))
}

// FormatCode renders code with the message template
func (s *DeliveryService) FormatCode(code string) string {
	if strings.Contains(s.opts.Template, "%s") {
		return fmt.Sprintf(s.opts.Template, code)
	}
	return s.opts.Template + code
}

func (s *DeliveryService) record(recipient, text string, sendErr error) {
	if s.db != nil {
		row := &models.Delivery{Recipient: recipient, Text: text, Status: models.DeliveryStatusSent}
		if sendErr != nil {
			row.Status = models.DeliveryStatusFailed
			row.Error = sendErr.Error()
		}
		if err := s.db.Create(row).Error; err != nil {
			log.Printf("[Delivery] Failed to record delivery: %v", err)
		}
	}
	if s.logService != nil {
		if err := s.logService.LogDelivery(recipient, sendErr); err != nil {
			log.Printf("[Delivery] Failed to persist log: %v", err)
		}
	}
}
