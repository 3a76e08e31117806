package mailbox

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	id "github.com/emersion/go-imap-id"
	"golang.org/x/oauth2"
)

const (
	dialTimeout    = 10 * time.Second
	commandTimeout = 60 * time.Second
)

// IMAPConfig holds IMAP connection parameters
type IMAPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	UseSSL   bool
	// TokenSource switches authentication to XOAUTH2 when set
	TokenSource oauth2.TokenSource
}

// IMAPFetcher reads the newest matching message over IMAP
type IMAPFetcher struct {
	cfg IMAPConfig
}

// NewIMAPFetcher creates a new IMAPFetcher
func NewIMAPFetcher(cfg IMAPConfig) *IMAPFetcher {
	return &IMAPFetcher{cfg: cfg}
}

var _ Fetcher = (*IMAPFetcher)(nil)

// FetchLatest implements Fetcher
func (f *IMAPFetcher) FetchLatest(ctx context.Context, q Query) (*InboundMessage, error) {
	c, err := f.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer c.Logout()

	// a cancelled ctx tears the connection down so blocked commands return
	stop := context.AfterFunc(ctx, func() { c.Terminate() })
	defer stop()

	mbox, err := c.Select("INBOX", true)
	if err != nil {
		return nil, fmt.Errorf("%w: select INBOX: %v", ErrFetchFailed, err)
	}
	if mbox.Messages == 0 {
		return nil, ErrNoMatchingMessage
	}

	seqNums, err := c.Search(buildCriteria(q))
	if err != nil {
		return nil, fmt.Errorf("%w: search: %v", ErrFetchFailed, err)
	}
	if len(seqNums) == 0 {
		return nil, ErrNoMatchingMessage
	}

	// highest sequence number is the most recently delivered
	newest := seqNums[0]
	for _, n := range seqNums[1:] {
		if n > newest {
			newest = n
		}
	}
	log.Printf("[Mailbox] %d message(s) matched, fetching #%d", len(seqNums), newest)

	msg, err := f.fetchOne(c, newest)
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// TestConnection logs in, selects INBOX and returns its message count
func (f *IMAPFetcher) TestConnection(ctx context.Context) (uint32, error) {
	c, err := f.connect(ctx)
	if err != nil {
		return 0, err
	}
	defer c.Logout()

	mbox, err := c.Select("INBOX", true)
	if err != nil {
		return 0, fmt.Errorf("%w: select INBOX: %v", ErrFetchFailed, err)
	}
	return mbox.Messages, nil
}

// buildCriteria turns a Query into FROM + SINCE + OR-chained SUBJECT criteria
func buildCriteria(q Query) *imap.SearchCriteria {
	criteria := imap.NewSearchCriteria()
	if q.Sender != "" {
		criteria.Header.Add("From", q.Sender)
	}
	if !q.Since.IsZero() {
		// SINCE is date-granular; callers re-check the exact time after fetching
		since := q.Since.UTC()
		criteria.Since = time.Date(since.Year(), since.Month(), since.Day(), 0, 0, 0, 0, time.UTC)
	}

	var subjects []string
	for _, s := range q.Subjects {
		if s != "" {
			subjects = append(subjects, s)
		}
	}
	switch len(subjects) {
	case 0:
	case 1:
		criteria.Header.Add("Subject", subjects[0])
	default:
		criteria.Or = append(criteria.Or, [2]*imap.SearchCriteria{
			subjectCriteria(subjects[0]),
			orSubjects(subjects[1:]),
		})
	}
	return criteria
}

func subjectCriteria(subject string) *imap.SearchCriteria {
	c := imap.NewSearchCriteria()
	c.Header.Add("Subject", subject)
	return c
}

func orSubjects(subjects []string) *imap.SearchCriteria {
	if len(subjects) == 1 {
		return subjectCriteria(subjects[0])
	}
	c := imap.NewSearchCriteria()
	c.Or = [][2]*imap.SearchCriteria{{subjectCriteria(subjects[0]), orSubjects(subjects[1:])}}
	return c
}

func (f *IMAPFetcher) fetchOne(c *client.Client, seqNum uint32) (*InboundMessage, error) {
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(seqNum)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, imap.FetchEnvelope, imap.FetchInternalDate, section.FetchItem()}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqSet, items, messages)
	}()

	var fetched *imap.Message
	for m := range messages {
		if fetched == nil {
			fetched = m
		}
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("%w: fetch: %v", ErrFetchFailed, err)
	}
	if fetched == nil {
		return nil, ErrNoMatchingMessage
	}

	return toInbound(fetched, section)
}

// toInbound converts a fetched IMAP message. ReceivedAt prefers the envelope
// date and falls back to the server's internal date.
func toInbound(m *imap.Message, section *imap.BodySectionName) (*InboundMessage, error) {
	msg := &InboundMessage{}
	if m.Envelope != nil {
		msg.ID = strings.Trim(strings.TrimSpace(m.Envelope.MessageId), "<>")
		msg.Subject = m.Envelope.Subject
		msg.ReceivedAt = m.Envelope.Date
		if len(m.Envelope.From) > 0 {
			msg.Sender = m.Envelope.From[0].Address()
		}
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = m.InternalDate
	}

	literal := m.GetBody(section)
	if literal == nil {
		return nil, fmt.Errorf("%w: server returned no body", ErrFetchFailed)
	}
	raw, err := io.ReadAll(literal)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrFetchFailed, err)
	}

	parsed, err := parseRaw(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: parse: %v", ErrFetchFailed, err)
	}
	msg.Body = parsed.Body()
	if msg.Subject == "" {
		msg.Subject = parsed.Subject
	}
	if msg.Sender == "" {
		msg.Sender = parsed.From
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = parsed.Date
	}
	if msg.ID == "" {
		msg.ID = parsed.MessageID
	}
	if msg.ID == "" {
		if m.Uid != 0 {
			msg.ID = fmt.Sprintf("uid:%d", m.Uid)
		} else {
			msg.ID = fallbackID(raw)
		}
	}
	return msg, nil
}

// connect establishes an authenticated IMAP connection
func (f *IMAPFetcher) connect(ctx context.Context) (*client.Client, error) {
	addr := net.JoinHostPort(f.cfg.Host, fmt.Sprint(f.cfg.Port))
	dialer := &net.Dialer{Timeout: dialTimeout}

	var conn net.Conn
	var err error
	if f.cfg.UseSSL {
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: &tls.Config{ServerName: f.cfg.Host}}
		conn, err = tlsDialer.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	c, err := client.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	c.Timeout = commandTimeout

	// Some providers (163.com, 188.com) reject LOGIN from clients that skip ID
	if ok, _ := c.Support("ID"); ok {
		idClient := id.NewClient(c)
		if _, err := idClient.ID(id.ID{
			id.FieldName:    "Code Relay",
			id.FieldVersion: "1.0.0",
			id.FieldVendor:  "Code Relay",
		}); err != nil {
			log.Printf("[Mailbox] IMAP ID command failed: %v", err)
		}
	}

	if f.cfg.TokenSource != nil {
		token, err := f.cfg.TokenSource.Token()
		if err != nil {
			c.Logout()
			return nil, fmt.Errorf("%w: refresh OAuth token: %v", ErrConnectionFailed, err)
		}
		if err := c.Authenticate(NewXOAuth2Client(f.cfg.Username, token.AccessToken)); err != nil {
			c.Logout()
			return nil, fmt.Errorf("%w: XOAUTH2 authentication failed: %v", ErrConnectionFailed, err)
		}
		return c, nil
	}

	if err := c.Login(f.cfg.Username, f.cfg.Password); err != nil {
		c.Logout()
		return nil, fmt.Errorf("%w: login failed: %v", ErrConnectionFailed, err)
	}
	return c, nil
}
