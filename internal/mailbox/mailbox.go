package mailbox

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNoMatchingMessage indicates no message matched the query within the window
	ErrNoMatchingMessage = errors.New("no matching message")
	// ErrConnectionFailed indicates the mailbox could not be reached or logged into
	ErrConnectionFailed = errors.New("mailbox connection failed")
	// ErrFetchFailed indicates the search or fetch itself failed
	ErrFetchFailed = errors.New("mailbox fetch failed")
)

// InboundMessage is an immutable snapshot of one fetched email
type InboundMessage struct {
	ID         string    // Message-ID header, or a provider id when absent
	Subject    string
	Sender     string
	Body       string // plain text; HTML converted to text when no text part exists
	ReceivedAt time.Time
}

// Query selects the newest message from Sender whose subject contains any of
// Subjects, received at or after Since
type Query struct {
	Sender   string
	Subjects []string
	Since    time.Time
}

// Fetcher returns the newest message matching a query.
// It returns ErrNoMatchingMessage when nothing matches, never a nil message with nil error.
type Fetcher interface {
	FetchLatest(ctx context.Context, q Query) (*InboundMessage, error)
}
