package mailbox

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// GmailScopes are the OAuth scopes the Gmail fetcher needs
var GmailScopes = []string{
	gmail.GmailReadonlyScope,
}

// GmailFetcher reads the newest matching message through the Gmail API
type GmailFetcher struct {
	service *gmail.Service
}

var _ Fetcher = (*GmailFetcher)(nil)

// NewGmailFetcher builds a fetcher from an OAuth client credentials file and a saved token
func NewGmailFetcher(ctx context.Context, credPath, tokenPath string) (*GmailFetcher, error) {
	config, err := LoadGmailCredentials(credPath)
	if err != nil {
		return nil, err
	}
	token, err := LoadToken(tokenPath)
	if err != nil {
		return nil, fmt.Errorf("%w: no Gmail token at %s (run 'mailbox gmail-auth'): %v", ErrConnectionFailed, tokenPath, err)
	}

	service, err := gmail.NewService(ctx, option.WithTokenSource(config.TokenSource(ctx, token)))
	if err != nil {
		return nil, fmt.Errorf("%w: create Gmail service: %v", ErrConnectionFailed, err)
	}
	return &GmailFetcher{service: service}, nil
}

// FetchLatest implements Fetcher
func (f *GmailFetcher) FetchLatest(ctx context.Context, q Query) (*InboundMessage, error) {
	// Gmail returns matches newest first
	resp, err := f.service.Users.Messages.List("me").
		Q(BuildGmailQuery(q)).
		MaxResults(1).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("%w: list messages: %v", ErrFetchFailed, err)
	}
	if len(resp.Messages) == 0 {
		return nil, ErrNoMatchingMessage
	}

	full, err := f.service.Users.Messages.Get("me", resp.Messages[0].Id).
		Format("raw").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("%w: get message: %v", ErrFetchFailed, err)
	}

	raw, err := base64.URLEncoding.DecodeString(full.Raw)
	if err != nil {
		// some responses omit padding
		raw, err = base64.RawURLEncoding.DecodeString(full.Raw)
		if err != nil {
			return nil, fmt.Errorf("%w: decode raw message: %v", ErrFetchFailed, err)
		}
	}

	parsed, err := parseRaw(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: parse: %v", ErrFetchFailed, err)
	}

	msg := &InboundMessage{
		ID:         parsed.MessageID,
		Subject:    parsed.Subject,
		Sender:     parsed.From,
		Body:       parsed.Body(),
		ReceivedAt: parsed.Date,
	}
	if msg.ID == "" {
		msg.ID = "gmail:" + full.Id
	}
	// Fallback to internal timestamp if the Date header is missing
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.UnixMilli(full.InternalDate)
	}
	return msg, nil
}

// BuildGmailQuery renders a Query in Gmail search syntax
func BuildGmailQuery(q Query) string {
	var parts []string
	if q.Sender != "" {
		parts = append(parts, "from:"+q.Sender)
	}

	var subjects []string
	for _, s := range q.Subjects {
		if s = strings.TrimSpace(s); s != "" {
			subjects = append(subjects, fmt.Sprintf("%q", s))
		}
	}
	if len(subjects) > 0 {
		parts = append(parts, "subject:("+strings.Join(subjects, " OR ")+")")
	}

	if !q.Since.IsZero() {
		// after: accepts epoch seconds, unlike IMAP SINCE
		parts = append(parts, fmt.Sprintf("after:%d", q.Since.Unix()))
	}
	return strings.Join(parts, " ")
}

// LoadGmailCredentials loads the OAuth client config from a credentials file
func LoadGmailCredentials(credPath string) (*oauth2.Config, error) {
	data, err := os.ReadFile(credPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file: %w\n\nTo set up Gmail API:\n1. Go to https://console.cloud.google.com/\n2. Create a project and enable Gmail API\n3. Create OAuth 2.0 credentials (Desktop app)\n4. Download and save to: %s", err, credPath)
	}

	config, err := google.ConfigFromJSON(data, GmailScopes...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse credentials: %w", err)
	}
	return config, nil
}

// LoadToken loads a saved OAuth token
func LoadToken(tokenPath string) (*oauth2.Token, error) {
	data, err := os.ReadFile(tokenPath)
	if err != nil {
		return nil, err
	}

	token := &oauth2.Token{}
	if err := json.Unmarshal(data, token); err != nil {
		return nil, err
	}
	return token, nil
}

// SaveToken saves an OAuth token to file
func SaveToken(tokenPath string, token *oauth2.Token) error {
	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(tokenPath, data, 0600)
}
