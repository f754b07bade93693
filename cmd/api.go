package cmd

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/otherjamesbrown/dealmemo/client"
	"github.com/otherjamesbrown/dealmemo/config"
	"github.com/otherjamesbrown/dealmemo/pkg/jobs"
)

// APICommandDeps holds the dependencies for commands that call the API.
type APICommandDeps struct {
	LoadConfig func() (*config.CLIConfig, error)
	NewClient  func(*config.CLIConfig) (*client.Client, error)
}

// DefaultAPIDeps returns the default dependencies for production use.
func DefaultAPIDeps() *APICommandDeps {
	return &APICommandDeps{
		LoadConfig: config.LoadConfig,
		NewClient:  newAPIClient,
	}
}

func (d *APICommandDeps) setup() (*config.CLIConfig, *client.Client, error) {
	cfg, err := d.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("loading configuration: %w", err)
	}
	c, err := d.NewClient(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, c, nil
}

// outputFormat picks the flag value over the configured default.
func outputFormat(cfg *config.CLIConfig, flag string) (config.OutputFormat, error) {
	if flag == "" {
		return cfg.OutputFormat, nil
	}
	f := config.OutputFormat(flag)
	if !f.IsValid() {
		return "", fmt.Errorf("invalid output format %q", flag)
	}
	return f, nil
}

func statusColor(s jobs.Status) string {
	switch s {
	case jobs.StatusCompleted:
		return "\033[32m"
	case jobs.StatusFailed:
		return "\033[31m"
	case jobs.StatusProcessing:
		return "\033[33m"
	default:
		return ""
	}
}

func colorStatus(s jobs.Status) string {
	c := statusColor(s)
	if c == "" {
		return string(s)
	}
	return c + string(s) + "\033[0m"
}

func writeJob(w io.Writer, job *jobs.Job) {
	fmt.Fprintf(w, "Job %s\n", job.ID)
	fmt.Fprintf(w, "  Status:   %s\n", colorStatus(job.Status))
	fmt.Fprintf(w, "  Source:   %s", job.Source)
	if job.SourceID != "" {
		fmt.Fprintf(w, " (%s)", job.SourceID)
	}
	fmt.Fprintln(w)
	if job.Metadata.Title != "" {
		fmt.Fprintf(w, "  Title:    %s\n", job.Metadata.Title)
	}
	fmt.Fprintf(w, "  Progress: %d%%", job.Progress)
	if job.CurrentStep != "" {
		fmt.Fprintf(w, " (%s)", job.CurrentStep)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Attempts: %d\n", job.Attempts)
	fmt.Fprintf(w, "  Created:  %s\n", job.CreatedAt.Local().Format(time.DateTime))
	if job.Error != "" {
		fmt.Fprintf(w, "  Error:    %s\n", job.Error)
	}
	if r := job.Result; r != nil {
		fmt.Fprintln(w, "\nResult:")
		fmt.Fprintf(w, "  Memo:      %s\n", r.MemoID)
		if r.Skipped {
			fmt.Fprintln(w, "  Skipped:   already imported")
		}
		if r.Category != "" {
			fmt.Fprintf(w, "  Category:  %s\n", r.Category)
		}
		if r.CompanyName != "" {
			fmt.Fprintf(w, "  Company:   %s\n", r.CompanyName)
		}
		fmt.Fprintf(w, "  Contacts:  %d\n", r.ContactsLinked)
		fmt.Fprintf(w, "  Tasks:     %d\n", r.TasksCreated)
		fmt.Fprintf(w, "  Reminders: %d\n", r.RemindersCreated)
		if r.DocumentURL != "" {
			fmt.Fprintf(w, "  Document:  %s\n", r.DocumentURL)
		}
	}
}

func writeJobTable(w io.Writer, list []jobs.Job) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No jobs found.")
		return
	}
	fmt.Fprintln(w, "ID                                    STATUS       SOURCE     PROGRESS  CREATED              TITLE")
	fmt.Fprintln(w, "--                                    ------       ------     --------  -------              -----")
	for _, j := range list {
		title := j.Metadata.Title
		if title == "" {
			title = "-"
		}
		fmt.Fprintf(w, "%-37s %-12s %-10s %7d%%  %-20s %s\n",
			j.ID, j.Status, j.Source, j.Progress,
			j.CreatedAt.Local().Format(time.DateTime), truncate(title, 40))
	}
}

func writeEvents(w io.Writer, events []jobs.Event) {
	if len(events) == 0 {
		fmt.Fprintln(w, "No events recorded.")
		return
	}
	for _, e := range events {
		fmt.Fprintf(w, "%s  %-5s  %s", e.CreatedAt.Local().Format("15:04:05.000"), strings.ToUpper(e.Level), e.Message)
		if len(e.Fields) > 0 {
			keys := make([]string, 0, len(e.Fields))
			for k := range e.Fields {
				keys = append(keys, k)
			}
			slices.Sort(keys)
			for _, k := range keys {
				fmt.Fprintf(w, " %s=%s", k, e.Fields[k])
			}
		}
		fmt.Fprintln(w)
	}
}
