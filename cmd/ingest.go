package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/dealmemo/client"
	"github.com/otherjamesbrown/dealmemo/config"
	"github.com/otherjamesbrown/dealmemo/pkg/gateway"
	"github.com/otherjamesbrown/dealmemo/pkg/jobs"
)

type ingestOptions struct {
	source       string
	transcriptID string
	file         string
	title        string
	participants []string
	date         string
	wait         bool
	pollInterval time.Duration
	waitTimeout  time.Duration
	output       string
}

// NewIngestCommand creates the ingest command.
func NewIngestCommand(deps *APICommandDeps) *cobra.Command {
	opts := &ingestOptions{}
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Submit a meeting transcript",
		Long: `Submit a meeting transcript for processing.

A manual transcript is read from --file (use "-" for stdin). For Fireflies
and Fathom, pass --transcript-id and the worker pulls the transcript with the
connected integration, or pass --file to supply the text yourself.

The command prints the job id and returns. With --wait it polls the job
until it completes or fails and prints the memo summary.`,
		Example: `  dealmemo ingest --file call.txt --title "Acme seed pitch"
  cat call.txt | dealmemo ingest --file - --wait
  dealmemo ingest --source fireflies --transcript-id 01HZX... --wait`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd.Context(), deps, opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&opts.source, "source", "s", string(jobs.SourceManual), "Transcript source: manual, fireflies, fathom")
	cmd.Flags().StringVar(&opts.transcriptID, "transcript-id", "", "Provider transcript id to pull")
	cmd.Flags().StringVarP(&opts.file, "file", "f", "", `Transcript file ("-" reads stdin)`)
	cmd.Flags().StringVarP(&opts.title, "title", "t", "", "Meeting title")
	cmd.Flags().StringSliceVarP(&opts.participants, "participant", "p", nil, "Participant name (repeatable)")
	cmd.Flags().StringVar(&opts.date, "date", "", "Meeting date (YYYY-MM-DD)")
	cmd.Flags().BoolVarP(&opts.wait, "wait", "w", false, "Wait for the job to finish")
	cmd.Flags().DurationVar(&opts.pollInterval, "poll-interval", 2*time.Second, "How often --wait polls")
	cmd.Flags().DurationVar(&opts.waitTimeout, "wait-timeout", 20*time.Minute, "How long --wait waits")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Output format: text, json, yaml")
	return cmd
}

func runIngest(ctx context.Context, deps *APICommandDeps, opts *ingestOptions, stdin io.Reader, out io.Writer) error {
	req, err := opts.request(stdin)
	if err != nil {
		return err
	}

	cfg, c, err := deps.setup()
	if err != nil {
		return err
	}
	format, err := outputFormat(cfg, opts.output)
	if err != nil {
		return err
	}

	id, err := c.Ingest(ctx, req)
	if err != nil {
		return fmt.Errorf("submitting transcript: %w", err)
	}
	if !opts.wait {
		return writeOutput(out, format, map[string]uuid.UUID{"jobId": id}, func(w io.Writer) error {
			fmt.Fprintf(w, "Job %s queued.\n", id)
			fmt.Fprintf(w, "Check it with: dealmemo jobs get %s\n", id)
			return nil
		})
	}

	job, err := waitForJob(ctx, c, id, opts.pollInterval, opts.waitTimeout, format, out)
	if err != nil {
		return err
	}
	if err := writeOutput(out, format, job, func(w io.Writer) error {
		writeJob(w, job)
		return nil
	}); err != nil {
		return err
	}
	if job.Status == jobs.StatusFailed {
		return fmt.Errorf("job %s failed: %s", job.ID, job.Error)
	}
	return nil
}

// request validates the flags and reads the transcript.
func (o *ingestOptions) request(stdin io.Reader) (gateway.Request, error) {
	req := gateway.Request{
		Source:       o.source,
		TranscriptID: o.transcriptID,
		Title:        o.title,
		Participants: o.participants,
	}
	if _, err := jobs.ParseSource(o.source); err != nil {
		return req, err
	}
	if o.date != "" {
		d, err := time.Parse(time.DateOnly, o.date)
		if err != nil {
			return req, fmt.Errorf("invalid --date %q: want YYYY-MM-DD", o.date)
		}
		req.MeetingDate = &d
	}

	switch o.file {
	case "":
	case "-":
		data, err := io.ReadAll(io.LimitReader(stdin, gateway.MaxContentBytes+1))
		if err != nil {
			return req, fmt.Errorf("reading stdin: %w", err)
		}
		req.Content = string(data)
	default:
		data, err := os.ReadFile(o.file)
		if err != nil {
			return req, fmt.Errorf("reading transcript: %w", err)
		}
		req.Content = string(data)
	}

	if req.Content == "" && req.TranscriptID == "" {
		if o.source == string(jobs.SourceManual) {
			return req, fmt.Errorf("a manual transcript needs --file")
		}
		return req, fmt.Errorf("pass --transcript-id or --file")
	}
	if len(req.Content) > gateway.MaxContentBytes {
		return req, fmt.Errorf("transcript is larger than %d bytes", gateway.MaxContentBytes)
	}
	return req, nil
}

// waitForJob polls id, printing step changes in text mode.
func waitForJob(ctx context.Context, c *client.Client, id uuid.UUID, interval, timeout time.Duration, format config.OutputFormat, out io.Writer) (*jobs.Job, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	lastStep := ""
	onUpdate := func(j *jobs.Job) {
		if format == config.OutputFormatJSON || format == config.OutputFormatYAML {
			return
		}
		if j.CurrentStep != "" && j.CurrentStep != lastStep {
			lastStep = j.CurrentStep
			fmt.Fprintf(out, "  [%3d%%] %s\n", j.Progress, j.CurrentStep)
		}
	}
	job, err := c.WaitForJob(ctx, id, interval, onUpdate)
	if err != nil {
		return nil, fmt.Errorf("waiting for job %s: %w", id, err)
	}
	return job, nil
}
