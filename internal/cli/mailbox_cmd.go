package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coderelay/core/internal/app"
	"github.com/coderelay/core/internal/mailbox"
	"github.com/spf13/cobra"
)

var mailboxCmd = &cobra.Command{
	Use:   "mailbox",
	Short: "Mailbox diagnostics and authorization",
}

var mailboxTestCmd = &cobra.Command{
	Use:   "test",
	Short: "Check that the configured mailbox is reachable",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		fetcher, err := app.NewFetcher(ctx, cfg)
		if err != nil {
			fail("%v", err)
		}

		if imapFetcher, ok := fetcher.(*mailbox.IMAPFetcher); ok {
			count, err := imapFetcher.TestConnection(ctx)
			if err != nil {
				fail("%v", err)
			}
			fmt.Printf("Connected to %s:%d, INBOX holds %d messages.\n", cfg.Mailbox.Host, cfg.Mailbox.Port, count)
			return
		}

		// other providers are checked with a real query
		_, err = fetcher.FetchLatest(ctx, mailbox.Query{
			Sender:   cfg.Mailbox.Sender,
			Subjects: cfg.Mailbox.Subjects,
			Since:    time.Now().Add(-cfg.Lookback.Std()),
		})
		if err != nil && !errors.Is(err, mailbox.ErrNoMatchingMessage) {
			fail("%v", err)
		}
		fmt.Printf("Mailbox provider %q is reachable.\n", cfg.Mailbox.Provider)
	},
}

var gmailListenAddr string

var mailboxGmailAuthCmd = &cobra.Command{
	Use:   "gmail-auth",
	Short: "Authorize Gmail API access and store the token",
	Run: func(cmd *cobra.Command, args []string) {
		if cfg.Mailbox.GmailCredentialsPath == "" || cfg.Mailbox.GmailTokenPath == "" {
			fail("mailbox.gmail_credentials_path and mailbox.gmail_token_path must be set")
		}

		oauthConfig, err := mailbox.LoadGmailCredentials(cfg.Mailbox.GmailCredentialsPath)
		if err != nil {
			fail("%v", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		token, err := mailbox.AuthorizeGmail(ctx, oauthConfig, gmailListenAddr, func(authURL string) {
			fmt.Println("Open this URL in a browser and grant access:")
			fmt.Println()
			fmt.Println(authURL)
			fmt.Println()
		})
		if err != nil {
			fail("authorization failed: %v", err)
		}

		if err := mailbox.SaveToken(cfg.Mailbox.GmailTokenPath, token); err != nil {
			fail("save token: %v", err)
		}
		fmt.Printf("Token saved to %s\n", cfg.Mailbox.GmailTokenPath)
	},
}

func init() {
	mailboxGmailAuthCmd.Flags().StringVar(&gmailListenAddr, "listen", "127.0.0.1:8085", "address for the OAuth callback")
	mailboxCmd.AddCommand(mailboxTestCmd)
	mailboxCmd.AddCommand(mailboxGmailAuthCmd)
}
