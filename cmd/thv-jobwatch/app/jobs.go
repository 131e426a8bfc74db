package app

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stacklok/toolhive-jobwatch/internal/httpclient"
	"github.com/stacklok/toolhive-jobwatch/internal/jobsapi"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List recent jobs",
	RunE:  runJobs,
}

func init() {
	jobsCmd.Flags().Int("limit", 0, "Maximum number of jobs to list (defaults to polling.jobLimit)")
	jobsCmd.Flags().String("format", "", "Output format (json)")
}

func runJobs(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return err
	}
	if limit <= 0 {
		limit = cfg.GetJobLimit()
	}
	format, err := cmd.Flags().GetString("format")
	if err != nil {
		return err
	}

	client := jobsapi.NewClient(cfg.GetBaseURL(), httpclient.NewDefaultClient(cfg.GetTimeout()))
	list, err := client.ListJobs(contextOrBackground(cmd.Context()), limit)
	if err != nil {
		return fmt.Errorf("failed to list jobs: %w", err)
	}

	if format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	}
	return renderJobs(cmd.OutOrStdout(), list)
}
