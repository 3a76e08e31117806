// Command mailcheck lists the newest messages from the configured sender,
// shows which subject rule each one would be resolved with and, with -resolve,
// runs the full fetch and resolution once.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/coderelay/core/internal/app"
	"github.com/coderelay/core/internal/config"
	"github.com/coderelay/core/internal/database"
	"github.com/coderelay/core/internal/functions"
	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

func main() {
	count := flag.Int("n", 5, "number of messages to list")
	days := flag.Int("days", 7, "only messages from the last n days")
	resolve := flag.Bool("resolve", false, "fetch and resolve the latest code afterwards")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	rc, err := functions.NewResolutionContext(cfg)
	if err != nil {
		log.Fatalf("Invalid subject rules: %v", err)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Mailbox.Host, cfg.Mailbox.Port)
	log.Printf("Connecting to %s...", addr)

	var c *client.Client
	if cfg.Mailbox.UseSSL {
		c, err = client.DialTLS(addr, &tls.Config{ServerName: cfg.Mailbox.Host})
	} else {
		c, err = client.Dial(addr)
	}
	if err != nil {
		log.Fatalf("Connection failed: %v", err)
	}
	defer c.Logout()

	if err := c.Login(cfg.Mailbox.Username, cfg.Mailbox.Password); err != nil {
		log.Fatalf("Login failed: %v", err)
	}

	mbox, err := c.Select("INBOX", true)
	if err != nil {
		log.Fatalf("Select INBOX failed: %v", err)
	}
	log.Printf("INBOX holds %d messages", mbox.Messages)

	criteria := imap.NewSearchCriteria()
	if cfg.Mailbox.Sender != "" {
		criteria.Header.Add("From", cfg.Mailbox.Sender)
	}
	criteria.Since = time.Now().AddDate(0, 0, -*days)

	seqNums, err := c.Search(criteria)
	if err != nil {
		log.Fatalf("Search failed: %v", err)
	}
	if len(seqNums) == 0 {
		log.Println("No messages from the configured sender")
		return
	}

	start := len(seqNums) - *count
	if start < 0 {
		start = 0
	}
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(seqNums[start:]...)

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqSet, []imap.FetchItem{imap.FetchEnvelope}, messages)
	}()

	fmt.Println("--------------------------------------------------")
	for msg := range messages {
		if msg == nil || msg.Envelope == nil {
			continue
		}
		fmt.Printf("Subject:  %s\n", msg.Envelope.Subject)
		fmt.Printf("Date:     %s\n", msg.Envelope.Date.Local().Format(time.RFC1123))
		if rule, ok := rc.Match(msg.Envelope.Subject); ok {
			fmt.Printf("Strategy: %s\n", rule.Strategy)
		} else {
			fmt.Println("Strategy: none (digits in body)")
		}
		fmt.Println("--------------------------------------------------")
	}

	if err := <-done; err != nil {
		log.Fatalf("Fetch failed: %v", err)
	}

	if *resolve {
		resolveLatest(cfg, time.Duration(*days)*24*time.Hour)
	}
}

func resolveLatest(cfg *config.Config, lookback time.Duration) {
	db, err := database.InitializeQuiet(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	ctx := context.Background()
	stack, err := app.BuildCodeStack(ctx, cfg, db)
	if err != nil {
		log.Fatalf("Failed to set up resolution: %v", err)
	}

	start := time.Now()
	result, err := stack.Codes.FetchLatestCode(ctx, lookback)
	if err != nil {
		log.Fatalf("Resolution failed after %v: %v", time.Since(start).Round(time.Millisecond), err)
	}
	log.Printf("Code %s from %q (strategy %s) in %v", result.Code, result.Subject, result.Strategy, time.Since(start).Round(time.Millisecond))
}
