package cmd

import (
	"fmt"
	"time"

	"harvest/internal/models"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [job_id]",
	Short: "Show the status of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid job ID provided: '%s'", args[0])
		}

		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}

		job, err := appInstance.JobService.GetJob(cmd.Context(), id)
		if err != nil {
			return fmt.Errorf("failed to get job %s: %w", id, err)
		}

		fmt.Printf("Job:       %s\n", job.ID)
		fmt.Printf("Status:    %s\n", colorStatus(job.Status))
		fmt.Printf("Source:    %s\n", job.Source)
		if job.SourceURL != "" {
			fmt.Printf("Target:    %s\n", job.SourceURL)
		}
		if job.FileName != "" {
			fmt.Printf("File:      %s\n", job.FileName)
		}
		fmt.Printf("Callback:  %s\n", valueOr(job.CallbackURL, "none"))
		fmt.Printf("Created:   %s\n", job.CreatedAt.Format(time.RFC3339))
		if job.CompletedAt != nil {
			fmt.Printf("Completed: %s (%s)\n", job.CompletedAt.Format(time.RFC3339), job.CompletedAt.Sub(job.CreatedAt).Round(time.Millisecond))
		}
		if job.Error != nil {
			fmt.Printf("Error:     %s\n", color.RedString(*job.Error))
		}
		if job.Result != nil {
			title := job.Result.Metadata.Title
			fmt.Printf("Title:     %s\n", valueOr(title, "N/A"))
			fmt.Printf("Content:   %d characters, %d tables\n", len(job.Result.Content), len(job.Result.Tables))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func colorStatus(s models.Status) string {
	switch s {
	case models.StatusCompleted:
		return color.GreenString(string(s))
	case models.StatusFailed:
		return color.RedString(string(s))
	case models.StatusProcessing:
		return color.YellowString(string(s))
	default:
		return color.CyanString(string(s))
	}
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
