package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/dealmemo/client"
	"github.com/otherjamesbrown/dealmemo/pkg/jobs"
	"github.com/otherjamesbrown/dealmemo/pkg/workers"
)

// NewJobsCommand creates the jobs command group.
func NewJobsCommand(deps *APICommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and drive processing jobs",
		Long: `Inspect your processing jobs and drive them by hand.

Every submitted transcript becomes a job that moves from pending through
processing to completed or failed. Use get, list and events to follow a job.
retry re-submits your pending jobs; process triggers the pipeline directly
and needs the worker secret.`,
		Aliases: []string{"job"},
	}

	cmd.AddCommand(newJobsGetCommand(deps))
	cmd.AddCommand(newJobsListCommand(deps))
	cmd.AddCommand(newJobsEventsCommand(deps))
	cmd.AddCommand(newJobsRetryCommand(deps))
	cmd.AddCommand(newJobsProcessCommand(deps))
	return cmd
}

func parseJobID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid job id %q", s)
	}
	return id, nil
}

func newJobsGetCommand(deps *APICommandDeps) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "get <job-id>",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			cfg, c, err := deps.setup()
			if err != nil {
				return err
			}
			format, err := outputFormat(cfg, output)
			if err != nil {
				return err
			}
			job, err := c.GetJob(cmd.Context(), id)
			if err != nil {
				if client.IsNotFound(err) {
					return fmt.Errorf("job %s not found", id)
				}
				return err
			}
			return writeOutput(cmd.OutOrStdout(), format, job, func(w io.Writer) error {
				writeJob(w, job)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output format: text, json, yaml")
	return cmd
}

func newJobsListCommand(deps *APICommandDeps) *cobra.Command {
	var (
		output string
		status string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List your recent jobs",
		Example: `  dealmemo jobs list
  dealmemo jobs list --status failed --limit 50`,
		RunE: func(cmd *cobra.Command, args []string) error {
			st := jobs.Status(status)
			if status != "" && !st.Valid() {
				return fmt.Errorf("invalid status %q", status)
			}
			cfg, c, err := deps.setup()
			if err != nil {
				return err
			}
			format, err := outputFormat(cfg, output)
			if err != nil {
				return err
			}
			list, err := c.ListJobs(cmd.Context(), st, limit)
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), format, list, func(w io.Writer) error {
				writeJobTable(w, list)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output format: text, json, yaml")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status: pending, processing, completed, failed")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum jobs to list (1-100)")
	return cmd
}

func newJobsEventsCommand(deps *APICommandDeps) *cobra.Command {
	var (
		output string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "events <job-id>",
		Short: "Show the log history of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			cfg, c, err := deps.setup()
			if err != nil {
				return err
			}
			format, err := outputFormat(cfg, output)
			if err != nil {
				return err
			}
			events, err := c.JobEvents(cmd.Context(), id, limit)
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), format, events, func(w io.Writer) error {
				writeEvents(w, events)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output format: text, json, yaml")
	cmd.Flags().IntVarP(&limit, "limit", "n", 200, "Maximum events to show")
	return cmd
}

func newJobsRetryCommand(deps *APICommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "retry",
		Short: "Re-submit your pending jobs",
		Long: `Re-submit every pending job you own for immediate processing.

Use this when jobs sit in pending because the dispatch backend was down.
Jobs already processing are left alone.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, c, err := deps.setup()
			if err != nil {
				return err
			}
			res, err := c.RetryPending(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Re-submitted %d pending job(s)", res.Submitted)
			if res.Failed > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), ", %d failed", res.Failed)
			}
			fmt.Fprintln(cmd.OutOrStdout(), ".")
			return nil
		},
	}
}

func newJobsProcessCommand(deps *APICommandDeps) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "process [job-id]",
		Short: "Run the pipeline now (worker secret required)",
		Long: `Trigger the pipeline on the server.

With a job id, the job runs synchronously through /process/direct and the
memo id is printed. Without one, stale jobs are recovered and up to --limit
pending jobs are processed through /process/worker.

Both need the worker secret, from 'dealmemo auth login --worker-secret' or
DEALMEMO_WORKER_SECRET.`,
		Example: `  dealmemo jobs process 3f1c...
  dealmemo jobs process --limit 5`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, c, err := deps.setup()
			if err != nil {
				return err
			}
			if len(args) == 1 {
				id, err := parseJobID(args[0])
				if err != nil {
					return err
				}
				return processDirect(cmd.Context(), c, id, cmd.OutOrStdout())
			}
			report, err := c.ProcessBatch(cmd.Context(), limit)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Recovered %d stale, processed %d, failed %d.\n",
				report.RecoveredStale, report.Processed, report.Failed)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", workers.DefaultConcurrency, "Pending jobs to process (1-5)")
	return cmd
}

func processDirect(ctx context.Context, c *client.Client, id uuid.UUID, out io.Writer) error {
	resp, err := c.ProcessDirect(ctx, id)
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("job %s failed: %s", id, resp.Error)
	}
	if resp.MemoID != nil {
		fmt.Fprintf(out, "Job %s completed. Memo %s\n", id, *resp.MemoID)
	} else {
		fmt.Fprintf(out, "Job %s completed.\n", id)
	}
	return nil
}
