package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/coderelay/core/internal/services"
	"github.com/spf13/cobra"
)

var (
	logsLevel  string
	logsModule string
	logsAction string
	logsLimit  int
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show recent log entries",
	Run: func(cmd *cobra.Command, args []string) {
		result, err := logService.QueryLogs(services.LogQuery{
			Level:  logsLevel,
			Module: logsModule,
			Action: logsAction,
			Limit:  logsLimit,
		})
		if err != nil {
			fail("query logs: %v", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tLEVEL\tMODULE\tACTION\tMESSAGE")
		for _, entry := range result.Logs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				entry.CreatedAt.Local().Format("01-02 15:04:05"), entry.Level, entry.Module, entry.Action, entry.Message)
		}
		w.Flush()
		fmt.Printf("\n%d of %d entries\n", len(result.Logs), result.Total)
	},
}

func init() {
	logsCmd.Flags().StringVar(&logsLevel, "level", "", "filter by level (DEBUG, INFO, WARN, ERROR)")
	logsCmd.Flags().StringVar(&logsModule, "module", "", "filter by module")
	logsCmd.Flags().StringVar(&logsAction, "action", "", "filter by action")
	logsCmd.Flags().IntVarP(&logsLimit, "limit", "n", 50, "maximum entries to show")
}
