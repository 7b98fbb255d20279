package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/spherical/pdf-enricher/cmd/pdf-enricher/ui"
	"github.com/spherical/pdf-enricher/internal/app"
	"github.com/spherical/pdf-enricher/internal/domain"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect stored jobs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := app.OpenStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		list, err := store.List(cmd.Context())
		if err != nil {
			return err
		}
		if len(list) == 0 {
			ui.Info("No jobs found")
			return nil
		}

		rows := make([][]string, 0, len(list))
		for _, job := range list {
			rows = append(rows, []string{
				job.ID,
				job.Filename,
				string(job.Status),
				progressText(job),
				job.CreatedAt.Local().Format("2006-01-02 15:04"),
			})
		}
		ui.Table([]string{"ID", "FILE", "STATUS", "PROGRESS", "CREATED"}, rows)
		return nil
	},
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Print one job as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := app.OpenStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		job, err := store.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(job)
	},
}

func init() {
	jobsCmd.AddCommand(jobsListCmd, jobsShowCmd)
	rootCmd.AddCommand(jobsCmd)
}

func progressText(job *domain.Job) string {
	switch {
	case job.Status == domain.StatusFailed && job.ErrorCode != "":
		return "error: " + job.ErrorCode
	case job.Status == domain.StatusCompleted && job.Result != nil:
		return strconv.Itoa(job.Result.ImageCount) + " images"
	case job.Progress != nil:
		return fmt.Sprintf("%s %d/%d", job.Progress.Phase, job.Progress.CurrentPage, job.Progress.TotalPages)
	}
	return "-"
}
