package cmd

import (
	"errors"
	"fmt"

	"harvest/internal/models"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var deleteCmd = &cobra.Command{
	Use:   "delete [job_id]",
	Short: "Delete a job record",
	Long:  `Deletes a job that is not currently processing.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid job ID provided: '%s'", args[0])
		}
		log.WithField("job_id", id).Debug("deleting job")

		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}

		if err := appInstance.JobService.DeleteJob(cmd.Context(), id); err != nil {
			if errors.Is(err, models.ErrConflict) {
				return fmt.Errorf("job %s is processing and cannot be deleted", id)
			}
			return fmt.Errorf("failed to delete job %s: %w", id, err)
		}

		fmt.Printf("Successfully deleted job: %s\n", id)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}
