package services

import (
	"errors"

	"github.com/coderelay/core/internal/mailbox"
)

var (
	// ErrNoMatchingMessage indicates no message matched within the lookback window
	ErrNoMatchingMessage = mailbox.ErrNoMatchingMessage
	// ErrNoCodeFound indicates a message was found but no code could be extracted
	ErrNoCodeFound = errors.New("no code found")
	// ErrChannelNotReady indicates delivery was attempted while the channel is disconnected
	ErrChannelNotReady = errors.New("channel not ready")
	// ErrInvalidCodeFormat indicates a caller-supplied code is not 4 to 8 digits
	ErrInvalidCodeFormat = errors.New("invalid code format")
	// ErrNoRecipients indicates no delivery recipients are configured
	ErrNoRecipients = errors.New("no recipients configured")
	// ErrDeliveryFailed indicates every recipient attempt failed
	ErrDeliveryFailed = errors.New("delivery failed")
)
