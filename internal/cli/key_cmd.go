package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/coderelay/core/internal/database/models"
	"github.com/spf13/cobra"
)

// keyCmd represents the key command group
var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "API key management",
	Long:  `Show or reset the key required by every /api request.`,
}

var keyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current API key",
	Run: func(cmd *cobra.Command, args []string) {
		currentKey := apiKeyManager.GetCurrentKey()
		if currentKey == "" {
			fail("no API key available")
		}
		fmt.Println("Current API key:")
		fmt.Println(currentKey)
		fmt.Printf("(stored in %s)\n", apiKeyManager.KeyFilePath())
	},
}

var keyResetForce bool

var keyResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Generate a new API key",
	Long:  `Generate a new API key. The old key stops working immediately.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("Current API key:")
		fmt.Println(apiKeyManager.GetCurrentKey())
		fmt.Println()

		if !keyResetForce {
			fmt.Println("Warning: clients using the old key will be rejected.")
			fmt.Print("Reset the API key? (yes/no): ")

			reader := bufio.NewReader(os.Stdin)
			input, err := reader.ReadString('\n')
			if err != nil {
				fail("read input: %v", err)
			}
			input = strings.TrimSpace(strings.ToLower(input))
			if input != "yes" && input != "y" {
				fmt.Println("Cancelled.")
				return
			}
		}

		newKey, err := apiKeyManager.ResetKey()
		if err != nil {
			fail("reset key: %v", err)
		}
		logService.LogAPIKeyReset(models.LogModuleCLI)

		fmt.Println()
		fmt.Println("API key reset. New key:")
		fmt.Println(newKey)
	},
}

func init() {
	keyResetCmd.Flags().BoolVarP(&keyResetForce, "yes", "y", false, "skip the confirmation prompt")
	keyCmd.AddCommand(keyShowCmd)
	keyCmd.AddCommand(keyResetCmd)
}
