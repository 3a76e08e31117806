package cli

import (
	"fmt"
	"os"

	"github.com/coderelay/core/internal/api/middleware"
	"github.com/coderelay/core/internal/config"
	"github.com/coderelay/core/internal/services"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var (
	db            *gorm.DB
	cfg           *config.Config
	apiKeyManager *middleware.APIKeyManager
	logService    *services.LogService
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "code_relay",
	Short: "Verification code relay service",
	Long: `Code Relay reads verification emails, resolves the one-time code and
relays it to a paired messaging device.

Without arguments the HTTP server is started. The commands below operate
on the same configuration and database:
  code_relay key show              # print the current API key
  code_relay key reset             # generate a new API key
  code_relay code fetch --hours 1  # fetch and print the latest code
  code_relay session login         # sign in to the verification site
  code_relay mailbox test          # check mailbox connectivity
  code_relay logs --module api     # show recent log entries`,
	SilenceUsage: true,
}

// Execute runs the CLI with the provided database and config
func Execute(database *gorm.DB, config *config.Config) {
	db = database
	cfg = config

	var err error
	apiKeyManager, err = middleware.NewAPIKeyManager(cfg.DataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot initialize API key manager: %v\n", err)
		os.Exit(1)
	}
	logService = services.NewLogServiceWithLevel(db, cfg.LogLevel)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func fail(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func init() {
	rootCmd.AddCommand(keyCmd)
	rootCmd.AddCommand(codeCmd)
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(mailboxCmd)
	rootCmd.AddCommand(logsCmd)
}
