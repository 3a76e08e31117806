package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coderelay/core/internal/app"
	"github.com/coderelay/core/internal/services"
	"github.com/spf13/cobra"
)

var codeCmd = &cobra.Command{
	Use:   "code",
	Short: "Verification code operations",
}

var (
	fetchDays    float64
	fetchHours   float64
	fetchMinutes float64
)

var codeFetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch and print the latest verification code",
	Long: `Search the mailbox for the newest verification email inside the lookback
window and resolve its code. Nothing is sent to the channel.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		stack, err := app.BuildCodeStack(ctx, cfg, db)
		if err != nil {
			fail("%v", err)
		}

		lookback := time.Duration((fetchDays*24*60 + fetchHours*60 + fetchMinutes) * float64(time.Minute))
		if lookback < 0 {
			fail("lookback must not be negative")
		}

		result, err := stack.Codes.FetchLatestCode(ctx, lookback)
		switch {
		case errors.Is(err, services.ErrNoMatchingMessage):
			fmt.Println("No matching message in the lookback window.")
			return
		case errors.Is(err, services.ErrNoCodeFound):
			fmt.Println("The newest message did not yield a code.")
			return
		case err != nil:
			fail("%v", err)
		}

		fmt.Println(result.Code)
		fmt.Printf("  message:  %s\n", result.MessageID)
		fmt.Printf("  subject:  %s\n", result.Subject)
		fmt.Printf("  received: %s\n", result.ReceivedAt.Local().Format(time.RFC1123))
		if result.SourceURL != "" {
			fmt.Printf("  page:     %s\n", result.SourceURL)
		}
	},
}

func init() {
	codeFetchCmd.Flags().Float64Var(&fetchDays, "days", 0, "lookback in days")
	codeFetchCmd.Flags().Float64Var(&fetchHours, "hours", 0, "lookback in hours")
	codeFetchCmd.Flags().Float64Var(&fetchMinutes, "minutes", 0, "lookback in minutes")
	codeCmd.AddCommand(codeFetchCmd)
}
