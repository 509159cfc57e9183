package cmd

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"harvest/internal/models"
	"harvest/internal/services"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	scrapeSource     string
	scrapeCallback   string
	scrapeConfigJSON string
	scrapeFile       string
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape [url]",
	Short: "Extract one source now and print the document",
	Long: `Creates a job and executes it in this process, bypassing the dispatch queue.
The resulting document is printed as JSON. With --callback the outcome is also
posted to the callback URL.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}

		req := services.CreateJobRequest{
			CallbackURL:      scrapeCallback,
			Source:           scrapeSource,
			CallbackOptional: true,
			AllowLocalFiles:  true,
		}
		if len(args) == 1 {
			req.URL = args[0]
		}
		if scrapeConfigJSON != "" {
			if !json.Valid([]byte(scrapeConfigJSON)) {
				return fmt.Errorf("--config-json is not valid JSON")
			}
			req.Config = json.RawMessage(scrapeConfigJSON)
		}
		if scrapeFile != "" {
			data, err := os.ReadFile(scrapeFile)
			if err != nil {
				return fmt.Errorf("read --file: %w", err)
			}
			req.FileContent = base64.StdEncoding.EncodeToString(data)
			req.FileName = filepath.Base(scrapeFile)
		}
		if req.URL == "" && req.FileContent == "" {
			return fmt.Errorf("a url argument or --file is required")
		}

		job, err := appInstance.JobService.CreateJob(cmd.Context(), req)
		if err != nil {
			return fmt.Errorf("create job: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Job %s (%s) created, extracting...\n", job.ID, job.Source)

		final, err := appInstance.JobService.Execute(cmd.Context(), job.ID)
		if err != nil {
			return fmt.Errorf("execute job %s: %w", job.ID, err)
		}

		if final.Status == models.StatusFailed {
			msg := ""
			if final.Error != nil {
				msg = *final.Error
			}
			return fmt.Errorf("%s job %s: %s", color.RedString("FAILED"), final.ID, msg)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(final.Result); err != nil {
			return fmt.Errorf("encode document: %w", err)
		}
		fmt.Fprintf(os.Stderr, "%s job %s\n", color.GreenString("COMPLETED"), final.ID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scrapeCmd)

	scrapeCmd.Flags().StringVarP(&scrapeSource, "source", "s", "", "Source kind: web, pdf, spreadsheet (or excel), social. Inferred from the url when empty")
	scrapeCmd.Flags().StringVar(&scrapeCallback, "callback", "", "Callback URL to post the outcome to")
	scrapeCmd.Flags().StringVar(&scrapeConfigJSON, "config-json", "", "Per-source options as a JSON object")
	scrapeCmd.Flags().StringVarP(&scrapeFile, "file", "f", "", "Local file to extract (pdf or spreadsheet)")
}
