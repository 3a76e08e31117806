package mailbox

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/mail"
	"strings"
	"time"

	"github.com/coderelay/core/internal/functions/local"
	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	gomail "github.com/emersion/go-message/mail"
)

// parsedMessage holds the fields read from a raw RFC 5322 message
type parsedMessage struct {
	MessageID string
	Subject   string
	From      string
	Date      time.Time
	Text      string
	HTML      string
}

// Body returns the plain text part, or the HTML part converted to text
func (p *parsedMessage) Body() string {
	if strings.TrimSpace(p.Text) != "" {
		return p.Text
	}
	return local.HTMLToText(p.HTML)
}

// parseRaw parses a raw message. Unknown charsets are tolerated; a message
// go-message cannot read at all is retried with net/mail.
func parseRaw(raw []byte) (*parsedMessage, error) {
	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return parsePlain(raw)
	}

	p := &parsedMessage{}
	header := gomail.Header{Header: entity.Header}
	p.MessageID, _ = header.MessageID()
	if p.MessageID == "" {
		p.MessageID = strings.Trim(strings.TrimSpace(entity.Header.Get("Message-Id")), "<>")
	}
	if subject, err := header.Subject(); err == nil {
		p.Subject = subject
	} else {
		p.Subject = entity.Header.Get("Subject")
	}
	if from, err := header.AddressList("From"); err == nil && len(from) > 0 {
		p.From = from[0].Address
	} else {
		p.From = entity.Header.Get("From")
	}
	if date, err := header.Date(); err == nil {
		p.Date = date
	}

	walkEntity(entity, p)
	return p, nil
}

// walkEntity recursively collects the first text/plain and text/html parts
func walkEntity(entity *message.Entity, p *parsedMessage) {
	mediaType, _, _ := entity.Header.ContentType()

	if strings.HasPrefix(mediaType, "multipart/") {
		mr := entity.MultipartReader()
		if mr == nil {
			return
		}
		for {
			part, err := mr.NextPart()
			if err != nil {
				break
			}
			walkEntity(part, p)
		}
		return
	}

	if disposition, _, _ := entity.Header.ContentDisposition(); disposition == "attachment" {
		return
	}

	switch {
	case (mediaType == "text/plain" || mediaType == "") && p.Text == "":
		body, _ := io.ReadAll(entity.Body)
		p.Text = string(body)
	case mediaType == "text/html" && p.HTML == "":
		body, _ := io.ReadAll(entity.Body)
		p.HTML = string(body)
	}
}

// parsePlain is the net/mail fallback for messages go-message rejects
func parsePlain(raw []byte) (*parsedMessage, error) {
	m, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	p := &parsedMessage{
		MessageID: strings.Trim(strings.TrimSpace(m.Header.Get("Message-Id")), "<>"),
		Subject:   m.Header.Get("Subject"),
	}
	if addr, err := mail.ParseAddress(m.Header.Get("From")); err == nil {
		p.From = addr.Address
	} else {
		p.From = m.Header.Get("From")
	}
	if date, err := m.Header.Date(); err == nil {
		p.Date = date
	}
	body, _ := io.ReadAll(m.Body)
	if strings.Contains(strings.ToLower(m.Header.Get("Content-Type")), "text/html") {
		p.HTML = string(body)
	} else {
		p.Text = string(body)
	}
	return p, nil
}

// fallbackID derives a stable id for messages without a Message-ID header
func fallbackID(raw []byte) string {
	sum := sha256.Sum256(raw)
	return "sha256:" + hex.EncodeToString(sum[:])
}
