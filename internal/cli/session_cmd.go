package cli

import (
	"context"
	"fmt"
	"os"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/coderelay/core/internal/browser"
	"github.com/coderelay/core/internal/functions"
	"github.com/coderelay/core/internal/functions/web"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// sessionCmd manages the stored verification site sessions
var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Verification site session management",
	Long:  `Sign in to the verification site ahead of time, list or clear stored sessions.`,
}

var sessionHeadful bool

var sessionLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and store the session cookies",
	Run: func(cmd *cobra.Command, args []string) {
		email := cfg.Page.AccountEmail
		if email == "" {
			fail("page.account_email is not configured")
		}

		password := cfg.Page.AccountPassword
		if password == "" {
			fmt.Printf("Password for %s: ", email)
			passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
			fmt.Println()
			if err != nil {
				fail("read password: %v", err)
			}
			password = string(passwordBytes)
		}

		sessions := web.NewSessionCache(web.NewGormSessionStore(db, cfg.GetEncryptionKey()), web.SessionOptions{
			Form:       web.DefaultLoginForm(cfg.Page.LoginURL),
			LandingURL: cfg.Page.LandingURL,
			NavTimeout: cfg.Page.NavigationTimeout.Std(),
		}, logService)

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		chrome := browser.NewChrome(browser.Options{
			ExecPath:  cfg.Page.ChromePath,
			UserAgent: cfg.Page.UserAgent,
			Headful:   sessionHeadful,
		})
		tab, err := chrome.NewTab(ctx)
		if err != nil {
			fail("start browser: %v", err)
		}
		defer tab.Close()

		fmt.Printf("Signing in as %s...\n", email)
		if err := sessions.Login(ctx, tab, functions.Credentials{Email: email, Password: password}); err != nil {
			fail("login failed: %v", err)
		}
		fmt.Println("Session stored.")
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show",
	Short: "List stored sessions",
	Run: func(cmd *cobra.Command, args []string) {
		store := web.NewGormSessionStore(db, cfg.GetEncryptionKey())
		infos, err := store.List(context.Background())
		if err != nil {
			fail("list sessions: %v", err)
		}
		if len(infos) == 0 {
			fmt.Println("No stored sessions.")
			return
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ACCOUNT\tCOOKIES\tLOGGED IN")
		for _, info := range infos {
			fmt.Fprintf(w, "%s\t%d\t%s\n", info.Account, info.CookieCount, info.LoggedInAt.Local().Format("2006-01-02 15:04:05"))
		}
		w.Flush()
	},
}

var sessionClearCmd = &cobra.Command{
	Use:   "clear [account]",
	Short: "Delete the stored session",
	Long:  `Delete the stored session of account, or of the configured page account.`,
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		account := cfg.Page.AccountEmail
		if len(args) == 1 {
			account = args[0]
		}
		if account == "" {
			fail("no account given and page.account_email is not configured")
		}

		store := web.NewGormSessionStore(db, cfg.GetEncryptionKey())
		if err := store.Delete(context.Background(), account); err != nil {
			fail("clear session: %v", err)
		}
		fmt.Printf("Session for %s cleared.\n", account)
	},
}

func init() {
	sessionLoginCmd.Flags().BoolVar(&sessionHeadful, "headful", false, "show the browser window")
	sessionCmd.AddCommand(sessionLoginCmd)
	sessionCmd.AddCommand(sessionShowCmd)
	sessionCmd.AddCommand(sessionClearCmd)
}
