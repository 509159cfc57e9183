package cmd

import (
	"fmt"
	"os"
	"time"

	"harvest/internal/clix"
	"harvest/internal/store"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List extraction jobs",
	Long:  `Lists jobs newest first, optionally filtered by status.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		pagination, err := clix.ParsePagination(cmd.Flags())
		if err != nil {
			return err
		}
		status, err := clix.ParseStatus(cmd.Flags())
		if err != nil {
			return err
		}

		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to get app from context: %w", err)
		}

		jobs, total, params, err := appInstance.JobService.ListJobs(cmd.Context(), store.ListJobsParams{
			Status: status,
			Limit:  pagination.Limit,
			Offset: pagination.Offset,
		})
		if err != nil {
			return fmt.Errorf("failed to list jobs: %w", err)
		}

		if len(jobs) == 0 {
			fmt.Println("No jobs found.")
			return nil
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Job ID", "Status", "Source", "Target", "Created At", "Completed At"})
		table.SetBorder(false)
		table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
		table.SetAlignment(tablewriter.ALIGN_LEFT)

		for _, job := range jobs {
			target := job.SourceURL
			if target == "" {
				target = job.FileName
			}
			completed := "N/A"
			if job.CompletedAt != nil {
				completed = job.CompletedAt.Format(time.RFC3339)
			}
			table.Append([]string{
				job.ID.String(),
				colorStatus(job.Status),
				string(job.Source),
				truncateCell(target, 48),
				job.CreatedAt.Format(time.RFC3339),
				completed,
			})
		}
		table.Render()

		fmt.Printf("Showing %d-%d of %d jobs.\n", params.Offset+1, params.Offset+len(jobs), total)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(jobsCmd)

	jobsCmd.Flags().IntP("limit", "l", store.DefaultListLimit, "Number of jobs to display per page (1-100)")
	jobsCmd.Flags().IntP("offset", "o", 0, "Number of jobs to skip")
	jobsCmd.Flags().String("status", "", "Filter by status: pending, processing, completed, failed")
}

func truncateCell(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
