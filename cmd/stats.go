package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show job counts per status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}

		stats, err := appInstance.JobService.Stats(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to get job stats: %w", err)
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Metric", "Value"})
		table.SetBorder(true)
		table.SetAlignment(tablewriter.ALIGN_LEFT)
		table.AppendBulk([][]string{
			{"Total", strconv.Itoa(stats.Total)},
			{"Pending", strconv.Itoa(stats.Pending)},
			{"Processing", strconv.Itoa(stats.Processing)},
			{"Completed", strconv.Itoa(stats.Completed)},
			{"Failed", strconv.Itoa(stats.Failed)},
			{"Success rate", fmt.Sprintf("%.2f%%", stats.SuccessRate)},
		})
		table.Render()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
