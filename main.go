// Package main provides the dealmemo entry point.
// dealmemo turns meeting transcripts into investor memos and CRM records.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/otherjamesbrown/dealmemo/client"
	"github.com/otherjamesbrown/dealmemo/cmd"
	"github.com/otherjamesbrown/dealmemo/config"
	"github.com/otherjamesbrown/dealmemo/pkg/buildinfo"
)

// Global flags and state.
var (
	serverURL    string
	timeout      time.Duration
	outputFormat string
	debug        bool

	// cfg holds the loaded configuration.
	cfg *config.CLIConfig
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "dealmemo",
	Short: "Turn meeting transcripts into memos and CRM records",
	Long: `dealmemo turns meeting transcripts into structured investor memos.

Each transcript becomes a job. The worker classifies the meeting, writes a
memo from the matching template, links the company and contacts, creates
tasks and reminders from commitments, and files the memo in Google Drive.

COMMON WORKFLOWS:
  Submit a call:    dealmemo ingest --file call.txt --wait
  Follow a job:     dealmemo jobs get <id>  |  dealmemo jobs events <id>
  Run the service:  dealmemo db migrate  →  dealmemo serve  +  dealmemo worker
  Connect a source: dealmemo integration connect fireflies --owner <id>

Run 'dealmemo <command> --help' for subcommands, flags, and examples.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// loadConfig loads the CLI configuration once and applies the global flags.
func loadConfig() (*config.CLIConfig, error) {
	if cfg != nil {
		return cfg, nil
	}
	loaded, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	if serverURL != "" {
		loaded.ServerURL = serverURL
	}
	if timeout != 0 {
		loaded.Timeout = timeout
	}
	if outputFormat != "" {
		loaded.OutputFormat = config.OutputFormat(outputFormat)
	}
	if debug {
		loaded.Debug = true
	}
	if err := loaded.Validate(); err != nil {
		return nil, err
	}
	cfg = loaded
	return cfg, nil
}

// Version command flags.
var (
	versionAll        bool
	versionOutputJSON bool
)

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long: `Print the version, commit hash, and build time of dealmemo.

Use --all to also query the API server's version.

Examples:
  dealmemo version
  dealmemo version --all --output-json`,
	RunE: func(c *cobra.Command, args []string) error {
		out := c.OutOrStdout()
		local := buildinfo.Get(buildinfo.ServiceCLI)

		infos := []buildinfo.Info{local}
		var remoteErr error
		if versionAll {
			remote, err := fetchServerVersion(c.Context())
			if err != nil {
				remoteErr = err
			} else {
				infos = append(infos, *remote)
			}
		}

		if versionOutputJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			if err := enc.Encode(infos); err != nil {
				return err
			}
			return remoteErr
		}

		for _, info := range infos {
			fmt.Fprintf(out, "%s version %s\n", info.ServiceName, info.Version)
			fmt.Fprintf(out, "  commit:     %s\n", info.Commit)
			fmt.Fprintf(out, "  built:      %s\n", info.BuildTime)
			fmt.Fprintf(out, "  go:         %s\n", info.GoVersion)
		}
		if remoteErr != nil {
			fmt.Fprintf(out, "%s: \033[31munreachable\033[0m (%v)\n", buildinfo.ServiceAPI, remoteErr)
		}
		return nil
	},
}

func fetchServerVersion(ctx context.Context) (*buildinfo.Info, error) {
	c, err := apiClient()
	if err != nil {
		return nil, err
	}
	return c.Version(ctx)
}

// configCmd manages CLI configuration.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage CLI configuration",
	Long:  `View and modify the dealmemo CLI configuration settings.`,
}

// configShowCmd displays current configuration.
var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(c *cobra.Command, args []string) error {
		current, err := loadConfig()
		if err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}
		configPath, _ := config.ConfigPath()

		out := c.OutOrStdout()
		fmt.Fprintln(out, "Current configuration:")
		fmt.Fprintf(out, "  Config file:   %s\n", configPath)
		fmt.Fprintf(out, "  Server URL:    %s\n", current.ServerURL)
		fmt.Fprintf(out, "  Timeout:       %s\n", current.Timeout)
		fmt.Fprintf(out, "  Output format: %s\n", current.OutputFormat)
		fmt.Fprintf(out, "  Debug:         %t\n", current.Debug)
		return nil
	},
}

// configInitCmd initializes configuration.
var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration file",
	Long:  `Create a new configuration file with default values if one doesn't exist.`,
	RunE: func(c *cobra.Command, args []string) error {
		out := c.OutOrStdout()
		configPath, err := config.ConfigPath()
		if err != nil {
			return fmt.Errorf("getting config path: %w", err)
		}
		if _, err := os.Stat(configPath); err == nil {
			fmt.Fprintf(out, "Configuration file already exists: %s\n", configPath)
			fmt.Fprintln(out, "Use 'dealmemo config show' to view current settings.")
			return nil
		}

		defaultCfg := config.DefaultConfig()
		if err := config.SaveConfig(defaultCfg); err != nil {
			return fmt.Errorf("saving configuration: %w", err)
		}
		fmt.Fprintf(out, "Created configuration file: %s\n", configPath)
		fmt.Fprintln(out, "\nDefault settings:")
		fmt.Fprintf(out, "  Server URL:    %s\n", defaultCfg.ServerURL)
		fmt.Fprintf(out, "  Timeout:       %s\n", defaultCfg.Timeout)
		fmt.Fprintf(out, "  Output format: %s\n", defaultCfg.OutputFormat)
		return nil
	},
}

// configSetCmd sets a configuration value.
var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the config file.

Available keys:
  server_url     - API base URL (http or https)
  timeout        - Request timeout (e.g., 30s, 1m)
  output_format  - Default output format (text, json, yaml)
  debug          - Enable debug mode (true/false)

Examples:
  dealmemo config set server_url https://memos.example.com
  dealmemo config set output_format json`,
	Args: cobra.ExactArgs(2),
	RunE: func(c *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		current, err := config.LoadConfig()
		if err != nil {
			current = config.DefaultConfig()
		}
		if err := setConfigValue(current, key, value); err != nil {
			return err
		}
		if err := current.Validate(); err != nil {
			return err
		}
		if err := config.SaveConfig(current); err != nil {
			return fmt.Errorf("saving configuration: %w", err)
		}
		fmt.Fprintf(c.OutOrStdout(), "Set %s = %s\n", key, value)
		return nil
	},
}

func setConfigValue(c *config.CLIConfig, key, value string) error {
	switch key {
	case "server_url":
		c.ServerURL = value
	case "timeout":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid timeout value: %w", err)
		}
		c.Timeout = d
	case "output_format":
		format := config.OutputFormat(value)
		if !format.IsValid() {
			return fmt.Errorf("invalid output format: %s (must be text, json, or yaml)", value)
		}
		c.OutputFormat = format
	case "debug":
		switch value {
		case "true", "1":
			c.Debug = true
		case "false", "0":
			c.Debug = false
		default:
			return fmt.Errorf("invalid debug value: %s (must be true or false)", value)
		}
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return nil
}

// completionCmd generates shell completion scripts.
var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion scripts",
	Long: `Generate shell completion scripts for dealmemo.

Bash:
  $ source <(dealmemo completion bash)

Zsh:
  $ dealmemo completion zsh > "${fpath[1]}/_dealmemo"

Fish:
  $ dealmemo completion fish | source

PowerShell:
  PS> dealmemo completion powershell | Out-String | Invoke-Expression
`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(c *cobra.Command, args []string) error {
		out := c.OutOrStdout()
		switch args[0] {
		case "bash":
			return rootCmd.GenBashCompletion(out)
		case "zsh":
			return rootCmd.GenZshCompletion(out)
		case "fish":
			return rootCmd.GenFishCompletion(out, true)
		case "powershell":
			return rootCmd.GenPowerShellCompletionWithDesc(out)
		}
		return nil
	},
}

// Health command flags.
var (
	healthWatch         bool
	healthWatchInterval time.Duration
)

// healthCmd checks the API server.
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check API server health",
	Long: `Check the API server and its dependencies (database, Redis).

Exits non-zero when the server is unreachable or degraded.

Examples:
  dealmemo health
  dealmemo health --watch --interval 10s`,
	RunE: func(c *cobra.Command, args []string) error {
		if !healthWatch {
			return runHealthOnce(c.Context(), c.OutOrStdout())
		}
		ticker := time.NewTicker(healthWatchInterval)
		defer ticker.Stop()
		for {
			if err := runHealthOnce(c.Context(), c.OutOrStdout()); err != nil {
				fmt.Fprintf(c.ErrOrStderr(), "%v\n", err)
			}
			select {
			case <-c.Context().Done():
				return nil
			case <-ticker.C:
				fmt.Fprintln(c.OutOrStdout())
			}
		}
	},
}

func runHealthOnce(ctx context.Context, out io.Writer) error {
	current, err := loadConfig()
	if err != nil {
		return err
	}
	c, err := apiClient()
	if err != nil {
		return err
	}
	health, err := c.Health(ctx)
	if health == nil {
		return fmt.Errorf("server %s unreachable: %w", current.ServerURL, err)
	}

	switch current.OutputFormat {
	case config.OutputFormatJSON:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(health); encErr != nil {
			return encErr
		}
	case config.OutputFormatYAML:
		if encErr := yaml.NewEncoder(out).Encode(health); encErr != nil {
			return encErr
		}
	default:
		outputHealthHuman(out, current.ServerURL, health)
	}
	return err
}

func outputHealthHuman(out io.Writer, server string, health *client.Health) {
	fmt.Fprintf(out, "Server: %s\n", server)
	fmt.Fprintf(out, "Status: %s\n", statusWithColor(health.Status == "ok", health.Status))
	names := make([]string, 0, len(health.Checks))
	for name := range health.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		result := health.Checks[name]
		fmt.Fprintf(out, "  %-10s %s\n", name, statusWithColor(result == "ok", result))
	}
}

// statusWithColor adds ANSI color to status text.
func statusWithColor(healthy bool, status string) string {
	if healthy {
		return "\033[32m" + status + "\033[0m"
	}
	return "\033[31m" + status + "\033[0m"
}

// apiDeps resolves configuration through the global flags.
var apiDeps = func() *cmd.APICommandDeps {
	deps := cmd.DefaultAPIDeps()
	deps.LoadConfig = loadConfig
	return deps
}()

func apiClient() (*client.Client, error) {
	current, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return apiDeps.NewClient(current)
}

func init() {
	// Global flags.
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "API base URL (e.g., http://localhost:8080)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "request timeout (e.g., 30s, 1m)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "output-format", "", "default output format: text, json, yaml")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	versionCmd.Flags().BoolVar(&versionAll, "all", false, "Also query the API server version")
	versionCmd.Flags().BoolVar(&versionOutputJSON, "output-json", false, "Output as JSON")

	healthCmd.Flags().BoolVarP(&healthWatch, "watch", "w", false, "Continuously monitor health status")
	healthCmd.Flags().DurationVar(&healthWatchInterval, "interval", 5*time.Second, "Watch interval")

	configCmd.AddCommand(configShowCmd, configInitCmd, configSetCmd)

	rootCmd.AddGroup(
		&cobra.Group{ID: "memos", Title: "Memos & Jobs:"},
		&cobra.Group{ID: "ops", Title: "Operations:"},
		&cobra.Group{ID: "setup", Title: "Setup:"},
	)

	ingestCmd := cmd.NewIngestCommand(apiDeps)
	ingestCmd.GroupID = "memos"
	jobsCmd := cmd.NewJobsCommand(apiDeps)
	jobsCmd.GroupID = "memos"

	serveCmd := cmd.NewServeCommand()
	serveCmd.GroupID = "ops"
	workerCmd := cmd.NewWorkerCommand()
	workerCmd.GroupID = "ops"
	dbCmd := cmd.NewDbCommand()
	dbCmd.GroupID = "ops"
	integrationCmd := cmd.NewIntegrationCommand(cmd.DefaultIntegrationDeps())
	integrationCmd.GroupID = "ops"
	healthCmd.GroupID = "ops"

	authCmd := cmd.NewAuthCommand(cmd.DefaultAuthDeps())
	authCmd.GroupID = "setup"
	configCmd.GroupID = "setup"
	versionCmd.GroupID = "setup"
	completionCmd.GroupID = "setup"

	rootCmd.AddCommand(
		ingestCmd, jobsCmd,
		serveCmd, workerCmd, dbCmd, integrationCmd, healthCmd,
		authCmd, configCmd, versionCmd, completionCmd,
	)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
