// Package cmd provides the dealmemo CLI commands.
package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"io/fs"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/dealmemo/config"
	"github.com/otherjamesbrown/dealmemo/pkg/db"
)

// DbCommandDeps holds the dependencies for database commands.
type DbCommandDeps struct {
	ConnectToDB func(context.Context) (*pgxpool.Pool, error)
	Migrations  func() fs.FS
}

// DefaultDbDeps returns the default dependencies for production use.
func DefaultDbDeps() *DbCommandDeps {
	return &DbCommandDeps{
		ConnectToDB: connectToDatabase,
		Migrations:  db.Migrations,
	}
}

// NewDbCommand creates the root db command with all subcommands.
func NewDbCommand() *cobra.Command {
	return newDbCommand(DefaultDbDeps())
}

func newDbCommand(deps *DbCommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
		Long: `Database management commands for dealmemo.

Apply schema migrations and view migration status. The db commands connect
directly to PostgreSQL using DATABASE_URL or the DB_* environment variables.

Migrations are compiled into the binary and applied in version order. Each
one runs in its own transaction and is recorded in schema_migrations.

Examples:
  # Show migration status
  dealmemo db status

  # Apply all pending migrations
  dealmemo db migrate --yes

  # Preview migrations without applying
  dealmemo db migrate --dry-run`,
		Aliases: []string{"database", "migrations"},
	}

	cmd.AddCommand(newDbMigrateCommand(deps))
	cmd.AddCommand(newDbStatusCommand(deps))
	return cmd
}

type dbMigrateOptions struct {
	dryRun bool
	target string
	yes    bool
}

func newDbMigrateCommand(deps *DbCommandDeps) *cobra.Command {
	opts := &dbMigrateOptions{}
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long: `Apply pending database migrations.

Shows pending migrations before applying them. If a migration fails its
transaction is rolled back and no further migrations are attempted.`,
		Example: `  dealmemo db migrate
  dealmemo db migrate --dry-run
  dealmemo db migrate --target 002 --yes`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDbMigrate(cmd.Context(), deps, opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Show what would be applied without executing")
	cmd.Flags().StringVarP(&opts.target, "target", "t", "", "Target version to migrate to (e.g., 002)")
	cmd.Flags().BoolVarP(&opts.yes, "yes", "y", false, "Apply without asking for confirmation")
	return cmd
}

func newDbStatusCommand(deps *DbCommandDeps) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show database migration status",
		Long: `Show the current state of database migrations.

  - Applied: migrations recorded in schema_migrations
  - Pending: migrations in the binary that have not been applied
  - Drift:   migrations recorded as applied that the binary no longer has`,
		Example: `  dealmemo db status
  dealmemo db status --output json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDbStatus(cmd.Context(), deps, config.OutputFormat(output), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output format: text, json, yaml")
	return cmd
}

func runDbMigrate(ctx context.Context, deps *DbCommandDeps, opts *dbMigrateOptions, in io.Reader, out io.Writer) error {
	pool, err := deps.ConnectToDB(ctx)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	fsys := deps.Migrations()
	status, err := db.GetMigrationStatus(ctx, pool, fsys)
	if err != nil {
		return fmt.Errorf("getting migration status: %w", err)
	}
	if len(status.Pending) == 0 {
		fmt.Fprintln(out, "No pending migrations.")
		return nil
	}

	fmt.Fprintf(out, "Pending migrations (%d):\n", len(status.Pending))
	for _, m := range status.Pending {
		fmt.Fprintf(out, "  %s - %s\n", m.Version, m.Name)
	}
	fmt.Fprintln(out)

	if opts.dryRun {
		fmt.Fprintln(out, "Dry run mode: no migrations applied.")
		return nil
	}

	if !opts.yes {
		fmt.Fprint(out, "Apply these migrations? (y/N): ")
		response, _ := bufio.NewReader(in).ReadString('\n')
		if strings.ToLower(strings.TrimSpace(response)) != "y" {
			fmt.Fprintln(out, "Migration cancelled.")
			return nil
		}
	}

	var result *db.MigrationResult
	if opts.target != "" {
		fmt.Fprintf(out, "Applying migrations up to version %s...\n", opts.target)
		result, err = db.RunMigrationsToTarget(ctx, pool, fsys, opts.target)
	} else {
		fmt.Fprintln(out, "Applying all pending migrations...")
		result, err = db.RunMigrations(ctx, pool, fsys)
	}

	if err != nil {
		fmt.Fprintf(out, "\n\033[31mMigration failed:\033[0m %v\n", err)
		if result != nil && len(result.Applied) > 0 {
			fmt.Fprintln(out, "\nSuccessfully applied before failure:")
			for _, v := range result.Applied {
				fmt.Fprintf(out, "  \033[32m✓\033[0m %s\n", v)
			}
		}
		return err
	}

	fmt.Fprintln(out)
	if len(result.Applied) > 0 {
		fmt.Fprintf(out, "\033[32mSuccessfully applied %d migration(s):\033[0m\n", len(result.Applied))
		for _, v := range result.Applied {
			fmt.Fprintf(out, "  \033[32m✓\033[0m %s\n", v)
		}
	}
	if len(result.Skipped) > 0 {
		fmt.Fprintf(out, "\nSkipped %d migration(s) (already applied):\n", len(result.Skipped))
		for _, v := range result.Skipped {
			fmt.Fprintf(out, "  - %s\n", v)
		}
	}
	fmt.Fprintln(out, "\n\033[32mMigrations completed successfully.\033[0m")
	return nil
}

func runDbStatus(ctx context.Context, deps *DbCommandDeps, format config.OutputFormat, out io.Writer) error {
	if format != "" && !format.IsValid() {
		return fmt.Errorf("invalid output format %q", format)
	}

	pool, err := deps.ConnectToDB(ctx)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	status, err := db.GetMigrationStatus(ctx, pool, deps.Migrations())
	if err != nil {
		return fmt.Errorf("getting migration status: %w", err)
	}
	return writeOutput(out, format, status, func(w io.Writer) error {
		writeMigrationStatus(w, status)
		return nil
	})
}

func writeMigrationStatus(w io.Writer, status *db.MigrationStatus) {
	printApplied := func(entries []db.MigrationStatusEntry) {
		fmt.Fprintln(w, "  VERSION    NAME                              APPLIED")
		fmt.Fprintln(w, "  -------    ----                              -------")
		for _, m := range entries {
			appliedAt := "-"
			if m.AppliedAt != nil {
				appliedAt = m.AppliedAt.Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(w, "  %-10s %-33s %s\n", truncate(m.Version, 10), truncate(m.Name, 33), appliedAt)
		}
		fmt.Fprintln(w)
	}

	if len(status.Applied) > 0 {
		fmt.Fprintf(w, "\033[32mApplied Migrations (%d):\033[0m\n", len(status.Applied))
		printApplied(status.Applied)
	}
	if len(status.Pending) > 0 {
		fmt.Fprintf(w, "\033[33mPending Migrations (%d):\033[0m\n", len(status.Pending))
		fmt.Fprintln(w, "  VERSION    NAME")
		fmt.Fprintln(w, "  -------    ----")
		for _, m := range status.Pending {
			fmt.Fprintf(w, "  %-10s %s\n", truncate(m.Version, 10), m.Name)
		}
		fmt.Fprintln(w)
	}
	if len(status.Drift) > 0 {
		fmt.Fprintf(w, "\033[31mDrift (%d) - applied but missing from this build:\033[0m\n", len(status.Drift))
		printApplied(status.Drift)
	}

	if len(status.Applied) == 0 && len(status.Pending) == 0 && len(status.Drift) == 0 {
		fmt.Fprintln(w, "No migrations found.")
		return
	}
	fmt.Fprintf(w, "Summary: %d applied, %d pending", len(status.Applied), len(status.Pending))
	if len(status.Drift) > 0 {
		fmt.Fprintf(w, ", \033[31m%d drift\033[0m", len(status.Drift))
	}
	fmt.Fprintln(w)
}
